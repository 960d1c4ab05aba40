// Package opaque generates handle types, lifecycle wrappers and methods for
// impl blocks.
package opaque

import (
	"fmt"
	"go/ast"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/idl"
	"github.com/layola13/autozig/internal/lowering"
)

// Output is what one impl block contributes to the bridge file.
type Output struct {
	// Type is the synthesized handle type; empty for plain receivers.
	Type       string
	Specs      []*bridge.Spec
	Assertions []string
}

// Generator turns impl blocks into bridge specs.
type Generator struct {
	engine *lowering.Engine
	decls  *idl.Decls
	bound  map[string]bool
}

// New creates a generator. Functions already declared in decls are never
// bound a second time for a forwarding method body.
func New(engine *lowering.Engine, decls *idl.Decls) *Generator {
	g := &Generator{engine: engine, decls: decls, bound: map[string]bool{}}
	for _, f := range decls.Funcs {
		g.bound[f.Name] = true
	}
	return g
}

// Generate handles one impl block. Per-method failures are diagnostics;
// the method is skipped.
func (g *Generator) Generate(impl *idl.Impl) (*Output, diag.List, error) {
	var (
		out   *Output
		diags diag.List
		err   error
	)
	if impl.Opaque {
		out, diags, err = g.opaque(impl)
	} else {
		out, diags, err = g.plain(impl)
	}
	if err != nil {
		return nil, diags, err
	}
	for _, iface := range impl.Interfaces {
		out.Assertions = append(out.Assertions, fmt.Sprintf("var _ %s = (*%s)(nil)", iface, impl.Type))
	}
	Logger().Debug("generated impl",
		zap.String("type", impl.Type),
		zap.Bool("opaque", impl.Opaque),
		zap.Int("specs", len(out.Specs)),
		zap.Int("diagnostics", len(diags)),
	)
	return out, diags, nil
}

func (g *Generator) opaque(impl *idl.Impl) (*Output, diag.List, error) {
	var diags diag.List
	out := &Output{Type: handleType(impl.Type)}

	var freeSymbol string
	if d := impl.Destructor; d != nil {
		specs, err := g.destructor(impl, d)
		if err != nil {
			return nil, diags, err
		}
		freeSymbol = d.NativeSymbol()
		out.Specs = append(out.Specs, specs...)
	} else {
		diags.Add(diag.Warnf(diag.PhaseGenerate, impl.Pos, "opaque type %s has no destructor; native memory is never freed", impl.Type))
	}

	if c := impl.Constructor; c != nil {
		spec, d, err := g.constructor(impl, c, freeSymbol)
		diags = append(diags, d...)
		if err != nil {
			return nil, diags, err
		}
		out.Specs = append([]*bridge.Spec{spec}, out.Specs...)
	} else {
		diags.Add(diag.Warnf(diag.PhaseGenerate, impl.Pos, "opaque type %s has no constructor", impl.Type))
	}

	for _, m := range impl.Methods {
		specs, d, err := g.engine.Lower(lowering.Input{
			Role:     bridge.RoleMethod,
			Name:     m.Name,
			Symbol:   m.NativeSymbol(),
			Receiver: receiver(impl.Type, m),
			Params:   m.Params,
			Result:   m.Result,
			Mutable:  m.Mutable,
			Async:    m.Async,
			Origin:   m.Pos,
		})
		diags = append(diags, d...)
		if err != nil {
			diags.Add(diag.FromError(err))
			continue
		}
		out.Specs = append(out.Specs, specs...)
	}
	return out, diags, nil
}

func (g *Generator) constructor(impl *idl.Impl, c *idl.Method, freeSymbol string) (*bridge.Spec, diag.List, error) {
	var diags diag.List
	if c.Async {
		diags.Add(diag.Warnf(diag.PhaseGenerate, c.Pos, "constructor %s: //autozig:async ignored", c.Name))
	}
	specs, d, err := g.engine.Lower(lowering.Input{
		Role:    bridge.RoleConstructor,
		Name:    c.Name,
		Symbol:  c.NativeSymbol(),
		Params:  c.Params,
		Result:  c.Result,
		Mutable: c.Mutable,
		Origin:  c.Pos,
	})
	diags = append(diags, d...)
	if err != nil {
		return nil, diags, err
	}
	spec := specs[0]

	free := "nil"
	if freeSymbol != "" {
		free = "func(p unsafe.Pointer) {\nC." + freeSymbol + "(p)\n}"
	}
	spec.Body = fmt.Sprintf("obj := new(%[1]s)\nrt.Bind(obj, &obj.handle, %[2]q, %[3]s, %[4]s)\nreturn obj",
		impl.Type, impl.Type, spec.Call(nil), free)
	return spec, diags, nil
}

func (g *Generator) destructor(impl *idl.Impl, d *idl.Method) ([]*bridge.Spec, error) {
	if len(d.Params) > 0 || d.Result != nil {
		return nil, diag.New(diag.PhaseGenerate, diag.KindInvalidInput).
			At(d.Pos).Symbol(d.Name).
			Detail("destructor of %s must take no parameters and return nothing", impl.Type).
			Build()
	}
	recv := receiver(impl.Type, d)
	recv.Mutable = true
	specs, _, err := g.engine.Lower(lowering.Input{
		Role:     bridge.RoleDestructor,
		Name:     d.Name,
		Symbol:   d.NativeSymbol(),
		Receiver: recv,
		Origin:   d.Pos,
	})
	if err != nil {
		return nil, err
	}
	spec := specs[0]
	spec.Body = recv.Name + ".handle.Release()"

	out := []*bridge.Spec{spec}
	if d.Name != "Close" {
		out = append(out, &bridge.Spec{
			Role:   bridge.RoleDestructor,
			Origin: d.Pos,
			Wrapper: bridge.WrapperSig{
				Name:     "Close",
				Receiver: recv,
				Result:   bridge.TypeDesc{Go: "error"},
			},
			Source: fmt.Sprintf("// Close releases the native %[2]s. Calling it again is a no-op.\nfunc (%[1]s *%[2]s) Close() error {\n\t%[1]s.handle.Release()\n\treturn nil\n}\n",
				recv.Name, impl.Type),
		})
	}
	return out, nil
}

func (g *Generator) plain(impl *idl.Impl) (*Output, diag.List, error) {
	var diags diag.List
	out := &Output{}
	if impl.Constructor != nil {
		diags.Add(diag.Warnf(diag.PhaseGenerate, impl.Constructor.Pos, "%s is not opaque; constructor %s ignored", impl.Type, impl.Constructor.Name))
	}
	if impl.Destructor != nil {
		diags.Add(diag.Warnf(diag.PhaseGenerate, impl.Destructor.Pos, "%s is not opaque; destructor %s ignored", impl.Type, impl.Destructor.Name))
	}

	for _, m := range impl.Methods {
		binding, err := g.binding(impl, m)
		if err != nil {
			diags.Add(diag.FromError(err))
			continue
		}
		out.Specs = append(out.Specs, binding...)
		out.Specs = append(out.Specs, &bridge.Spec{
			Role:   bridge.RoleMethod,
			Origin: m.Pos,
			Wrapper: bridge.WrapperSig{
				Name:     m.Name,
				Receiver: &bridge.Receiver{Name: m.Recv, Type: impl.Type, Mutable: m.PointerRecv},
			},
			Source: m.Source,
		})
	}
	return out, diags, nil
}

// binding derives the native function a copied method body forwards to.
// Argument types come from the receiver, the method parameters, fields of
// the receiver, or explicit conversions.
func (g *Generator) binding(impl *idl.Impl, m *idl.Method) ([]*bridge.Spec, error) {
	if g.bound[m.Callee] {
		return nil, nil
	}
	fail := func(format string, args ...any) error {
		return diag.New(diag.PhaseGenerate, diag.KindUnsupported).
			At(m.Pos).Symbol(impl.Type + "." + m.Name).
			Detail(format, args...).
			Build()
	}

	params := make([]idl.Param, 0, len(m.CalleeArgs))
	used := map[string]bool{}
	for i, arg := range m.CalleeArgs {
		name, typ := g.argType(impl, m, arg)
		if typ == nil {
			return nil, fail("cannot infer the native type of argument %d of %s", i+1, m.Callee)
		}
		if name == "" || used[name] || bridge.Reserved[name] {
			name = fmt.Sprintf("arg%d", i)
		}
		used[name] = true
		params = append(params, idl.Param{Name: name, Type: typ})
	}

	symbol := m.Callee
	if m.Symbol != "" {
		symbol = m.Symbol
	}
	specs, _, err := g.engine.Lower(lowering.Input{
		Role:    bridge.RoleBinding,
		Name:    m.Callee,
		Symbol:  symbol,
		Params:  params,
		Result:  m.Result,
		Mutable: m.Mutable,
		Origin:  m.Pos,
	})
	if err != nil {
		return nil, err
	}
	g.bound[m.Callee] = true
	return specs, nil
}

func (g *Generator) argType(impl *idl.Impl, m *idl.Method, arg ast.Expr) (string, ast.Expr) {
	switch a := arg.(type) {
	case *ast.ParenExpr:
		return g.argType(impl, m, a.X)
	case *ast.Ident:
		if a.Name == m.Recv && !m.PointerRecv {
			return a.Name, ast.NewIdent(impl.Type)
		}
		for _, p := range m.Params {
			if p.Name == a.Name {
				return p.Name, p.Type
			}
		}
	case *ast.StarExpr:
		if id, ok := a.X.(*ast.Ident); ok && id.Name == m.Recv && m.PointerRecv {
			return id.Name, ast.NewIdent(impl.Type)
		}
	case *ast.SelectorExpr:
		id, ok := a.X.(*ast.Ident)
		if !ok || id.Name != m.Recv {
			break
		}
		for _, td := range g.decls.Types {
			if td.Name != impl.Type {
				continue
			}
			for _, f := range td.Fields {
				if f.Name == a.Sel.Name {
					return lowerFirst(f.Name), f.Type
				}
			}
		}
	case *ast.CallExpr:
		fun, ok := a.Fun.(*ast.Ident)
		if ok && len(a.Args) == 1 && (bridge.IsBuiltinScalar(fun.Name) || g.declaredType(fun.Name)) {
			name, _ := g.argType(impl, m, a.Args[0])
			return name, ast.NewIdent(fun.Name)
		}
	}
	return "", nil
}

func (g *Generator) declaredType(name string) bool {
	for _, td := range g.decls.Types {
		if td.Name == name {
			return true
		}
	}
	return false
}

func receiver(typeName string, m *idl.Method) *bridge.Receiver {
	name := m.Recv
	if name == "" || name == "_" || bridge.Reserved[name] {
		name = defaultReceiver(typeName)
	}
	return &bridge.Receiver{Name: name, Type: typeName, Mutable: m.PointerRecv}
}

func defaultReceiver(typeName string) string {
	for _, r := range typeName {
		name := string(unicode.ToLower(r))
		if bridge.Reserved[name] {
			return "self"
		}
		return name
	}
	return "self"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func handleType(name string) string {
	return fmt.Sprintf("// %[1]s owns a native handle. It is released by Close or when the\n// %[1]s becomes unreachable.\ntype %[1]s struct {\n\thandle rt.Handle\n}\n", name)
}
