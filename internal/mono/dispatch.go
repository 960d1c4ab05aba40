package mono

import (
	"go/ast"
	"strings"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/idl"
)

// dispatcher renders the generic entry point:
//
//	func sum[T int32 | float64](data []T) T {
//		switch any(*new(T)).(type) {
//		case int32:
//			return any(sum_int32(any(data).([]int32))).(T)
//		...
func dispatcher(f *idl.Func, param string, instances []Instance, concretes []ast.Expr) *bridge.Spec {
	union := make([]string, len(instances))
	for i, inst := range instances {
		union[i] = inst.Type
	}

	var b strings.Builder
	b.WriteString("func " + f.Name + "[" + param + " " + strings.Join(union, " | ") + "](")
	wrapperParams := make([]bridge.Param, 0, len(f.Params))
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		goType := bridge.ExprString(p.Type)
		b.WriteString(p.Name + " " + goType)
		wrapperParams = append(wrapperParams, bridge.Param{Name: p.Name, Type: bridge.TypeDesc{Kind: bridge.KindGeneric, Go: goType}})
	}
	b.WriteString(")")
	result := bridge.Void
	if f.Result != nil {
		result = bridge.TypeDesc{Kind: bridge.KindGeneric, Go: bridge.ExprString(f.Result)}
		b.WriteString(" " + result.Go)
	}
	b.WriteString(" {\n\tswitch any(*new(" + param + ")).(type) {\n")

	for i, inst := range instances {
		args := make([]string, len(f.Params))
		for j, p := range f.Params {
			if mentions(p.Type, param) {
				concrete := bridge.ExprString(Substitute(p.Type, param, concretes[i]))
				args[j] = "any(" + p.Name + ").(" + concrete + ")"
			} else {
				args[j] = p.Name
			}
		}
		call := inst.Name + "(" + strings.Join(args, ", ") + ")"
		b.WriteString("\tcase " + inst.Type + ":\n")
		switch {
		case f.Result == nil:
			b.WriteString("\t\t" + call + "\n\t\treturn\n")
		case mentions(f.Result, param):
			b.WriteString("\t\treturn any(" + call + ").(" + result.Go + ")\n")
		default:
			b.WriteString("\t\treturn " + call + "\n")
		}
	}
	b.WriteString("\t}\n\tpanic(\"autozig: " + f.Name + ": unsupported type argument\")\n}\n")

	return &bridge.Spec{
		Role:   bridge.RoleMono,
		Origin: f.Pos,
		Wrapper: bridge.WrapperSig{
			Name:   f.Name,
			Params: wrapperParams,
			Result: result,
		},
		Source: b.String(),
	}
}

func mentions(expr ast.Expr, param string) bool {
	found := false
	ast.Inspect(expr, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok && id.Name == param {
			found = true
		}
		return !found
	})
	return found
}
