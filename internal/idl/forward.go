package idl

import (
	"go/ast"

	"github.com/layola13/autozig/internal/bridge"
)

// builtinFuncs are calls that never name a foreign function.
var builtinFuncs = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true, "string": true,
}

// FindCallee returns the first foreign function a method body forwards to.
//
// Statements are searched in order. Within a statement the shapes are tried
// as call, block, if/else (condition, then, else), then let-initializer; a
// conversion to a builtin or declared type, or a builtin call, is looked
// through to its arguments.
func FindCallee(body *ast.BlockStmt, declared map[string]bool) string {
	call := FindCall(body, declared)
	if call == nil {
		return ""
	}
	return calleeSearch{declared: declared}.name(call.Fun)
}

// FindCall returns the call expression FindCallee names.
func FindCall(body *ast.BlockStmt, declared map[string]bool) *ast.CallExpr {
	if body == nil {
		return nil
	}
	s := calleeSearch{declared: declared}
	return s.stmts(body.List)
}

type calleeSearch struct {
	declared map[string]bool
}

func (c calleeSearch) stmts(stmts []ast.Stmt) *ast.CallExpr {
	for _, s := range stmts {
		if call := c.stmt(s); call != nil {
			return call
		}
	}
	return nil
}

func (c calleeSearch) stmt(s ast.Stmt) *ast.CallExpr {
	switch s := s.(type) {
	case *ast.ExprStmt:
		return c.expr(s.X)
	case *ast.ReturnStmt:
		for _, r := range s.Results {
			if call := c.expr(r); call != nil {
				return call
			}
		}
	case *ast.BlockStmt:
		return c.stmts(s.List)
	case *ast.IfStmt:
		return c.ifStmt(s)
	case *ast.AssignStmt:
		for _, r := range s.Rhs {
			if call := c.expr(r); call != nil {
				return call
			}
		}
	case *ast.DeclStmt:
		return c.decl(s)
	case *ast.DeferStmt:
		return c.expr(s.Call)
	}
	return nil
}

func (c calleeSearch) ifStmt(s *ast.IfStmt) *ast.CallExpr {
	if s.Init != nil {
		if call := c.stmt(s.Init); call != nil {
			return call
		}
	}
	if call := c.expr(s.Cond); call != nil {
		return call
	}
	if call := c.stmts(s.Body.List); call != nil {
		return call
	}
	if s.Else != nil {
		return c.stmt(s.Else)
	}
	return nil
}

func (c calleeSearch) decl(s *ast.DeclStmt) *ast.CallExpr {
	gen, ok := s.Decl.(*ast.GenDecl)
	if !ok {
		return nil
	}
	for _, spec := range gen.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		for _, v := range vs.Values {
			if call := c.expr(v); call != nil {
				return call
			}
		}
	}
	return nil
}

func (c calleeSearch) expr(e ast.Expr) *ast.CallExpr {
	switch e := e.(type) {
	case *ast.CallExpr:
		if c.name(e.Fun) != "" {
			return e
		}
		for _, a := range e.Args {
			if call := c.expr(a); call != nil {
				return call
			}
		}
	case *ast.ParenExpr:
		return c.expr(e.X)
	case *ast.UnaryExpr:
		return c.expr(e.X)
	case *ast.BinaryExpr:
		if call := c.expr(e.X); call != nil {
			return call
		}
		return c.expr(e.Y)
	case *ast.FuncLit:
		return c.stmts(e.Body.List)
	}
	return nil
}

func (c calleeSearch) name(fun ast.Expr) string {
	var name string
	switch f := fun.(type) {
	case *ast.Ident:
		name = f.Name
	case *ast.SelectorExpr:
		name = f.Sel.Name
	case *ast.IndexExpr:
		return c.name(f.X)
	default:
		return ""
	}
	if builtinFuncs[name] || bridge.IsBuiltinScalar(name) || c.declared[name] {
		return ""
	}
	return name
}
