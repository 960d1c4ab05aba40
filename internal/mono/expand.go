// Package mono expands generic declarations into one concrete declaration
// per requested type argument.
package mono

import (
	"fmt"
	"go/ast"
	"go/parser"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/idl"
	"github.com/layola13/autozig/internal/lowering"
)

// Request is a generic function plus its concrete type arguments.
type Request struct {
	Func  *idl.Func
	Types []string
}

// RequestFor builds the request declared on f.
func RequestFor(f *idl.Func) Request {
	return Request{Func: f, Types: f.Monomorphize}
}

// Instance is one concrete expansion.
type Instance struct {
	// Type is the canonical spelling of the type argument.
	Type   string
	Token  string
	Name   string
	Symbol string
}

// Expansion is the result of one request.
type Expansion struct {
	Instances []Instance
	// Specs holds the lowered concrete specs in request order, pointer
	// variants following the spec they derive from.
	Specs []*bridge.Spec
	// Dispatcher is a generic Go function switching on the type argument.
	// It is nil for asynchronous functions.
	Dispatcher *bridge.Spec
}

// Expander expands requests through a lowering engine.
type Expander struct {
	engine *lowering.Engine
}

// New creates an expander.
func New(engine *lowering.Engine) *Expander {
	return &Expander{engine: engine}
}

// Expand produces exactly one instance per requested type. Duplicate,
// unparsable or colliding type arguments are hard errors.
func (x *Expander) Expand(req Request) (*Expansion, diag.List, error) {
	f := req.Func
	var diags diag.List
	if len(f.TypeParams) != 1 {
		return nil, diags, diag.New(diag.PhaseExpand, diag.KindUnsupported).
			At(f.Pos).Symbol(f.Name).
			Detail("exactly one type parameter is supported, got %d", len(f.TypeParams)).
			Build()
	}
	if len(req.Types) == 0 {
		return nil, diags, diag.New(diag.PhaseExpand, diag.KindInvalidInput).
			At(f.Pos).Symbol(f.Name).
			Detail("generic function needs //autozig:monomorphize with at least one type").
			Build()
	}
	param := f.TypeParams[0].Name

	exp := &Expansion{}
	seenType := map[string]bool{}
	seenName := map[string]string{}
	concretes := make([]ast.Expr, 0, len(req.Types))
	for _, raw := range req.Types {
		concrete, err := parser.ParseExpr(raw)
		if err != nil {
			return nil, diags, diag.New(diag.PhaseExpand, diag.KindInvalidInput).
				At(f.Pos).Symbol(f.Name).Cause(err).
				Detail("cannot parse type argument %q", raw).
				Build()
		}
		canonical := bridge.ExprString(concrete)
		if seenType[canonical] {
			return nil, diags, diag.Duplicate(diag.PhaseExpand, f.Pos, "type argument", canonical)
		}
		seenType[canonical] = true

		token := Token(canonical)
		name := f.Name + "_" + token
		if prev, ok := seenName[name]; ok {
			return nil, diags, diag.New(diag.PhaseExpand, diag.KindCollision).
				At(f.Pos).Symbol(name).
				Detail("type arguments %s and %s mangle to the same name", prev, canonical).
				Build()
		}
		seenName[name] = canonical

		symbol := name
		if f.Symbol != "" && f.Symbol != f.Name {
			symbol = f.Symbol + "_" + token
		}
		exp.Instances = append(exp.Instances, Instance{Type: canonical, Token: token, Name: name, Symbol: symbol})
		concretes = append(concretes, concrete)
	}

	for i, inst := range exp.Instances {
		concrete := concretes[i]
		in := lowering.Input{
			Role:    bridge.RoleFunc,
			Name:    inst.Name,
			Symbol:  inst.Symbol,
			Result:  Substitute(f.Result, param, concrete),
			Mutable: f.Mutable,
			Async:   f.Async,
			Origin:  f.Pos,
		}
		for _, p := range f.Params {
			in.Params = append(in.Params, idl.Param{Name: p.Name, Type: Substitute(p.Type, param, concrete)})
		}
		specs, d, err := x.engine.Lower(in)
		diags = append(diags, d...)
		if err != nil {
			return nil, diags, fmt.Errorf("monomorphize %s[%s]: %w", f.Name, inst.Type, err)
		}
		exp.Specs = append(exp.Specs, specs...)
	}

	if !anyAsync(exp.Specs) {
		exp.Dispatcher = dispatcher(f, param, exp.Instances, concretes)
	}

	Logger().Debug("expanded generic function",
		zap.String("func", f.Name),
		zap.Int("instances", len(exp.Instances)),
	)
	return exp, diags, nil
}

// Token returns the mangling token of a type spelling. Type constructors
// are spelled out, so []int32, *int32 and [4]int32 stay distinct:
// slice_int32, ptr_int32 and arr4_int32. Unparsable input falls back to
// replacing each run of non-alphanumeric characters with one underscore.
func Token(typ string) string {
	e, err := parser.ParseExpr(typ)
	if err != nil {
		return sanitize(typ)
	}
	if tok, ok := exprToken(e); ok {
		return tok
	}
	return sanitize(typ)
}

func exprToken(expr ast.Expr) (string, bool) {
	join := func(prefix string, inner ast.Expr) (string, bool) {
		tok, ok := exprToken(inner)
		return prefix + "_" + tok, ok
	}
	switch e := expr.(type) {
	case *ast.Ident:
		return sanitize(e.Name), true
	case *ast.ParenExpr:
		return exprToken(e.X)
	case *ast.SelectorExpr:
		return join(sanitize(bridge.ExprString(e.X)), e.Sel)
	case *ast.StarExpr:
		return join("ptr", e.X)
	case *ast.ArrayType:
		if e.Len == nil {
			return join("slice", e.Elt)
		}
		return join("arr"+sanitize(bridge.ExprString(e.Len)), e.Elt)
	case *ast.MapType:
		key, ok := exprToken(e.Key)
		if !ok {
			return "", false
		}
		return join("map_"+key, e.Value)
	case *ast.IndexExpr:
		base, ok := exprToken(e.X)
		if !ok {
			return "", false
		}
		return join(base, e.Index)
	}
	return "", false
}

// sanitize replaces each run of non-alphanumeric characters with one
// underscore, dropping leading and trailing runs.
func sanitize(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// Substitute returns a copy of expr with every occurrence of the type
// parameter replaced by concrete. The input is not modified.
func Substitute(expr ast.Expr, param string, concrete ast.Expr) ast.Expr {
	switch e := expr.(type) {
	case nil:
		return nil
	case *ast.Ident:
		if e.Name == param {
			return concrete
		}
		return &ast.Ident{Name: e.Name}
	case *ast.StarExpr:
		return &ast.StarExpr{X: Substitute(e.X, param, concrete)}
	case *ast.ArrayType:
		return &ast.ArrayType{Len: e.Len, Elt: Substitute(e.Elt, param, concrete)}
	case *ast.ParenExpr:
		return &ast.ParenExpr{X: Substitute(e.X, param, concrete)}
	default:
		return expr
	}
}

func anyAsync(specs []*bridge.Spec) bool {
	for _, s := range specs {
		if s.Wrapper.Async {
			return true
		}
	}
	return false
}
