package idl

import (
	"go/ast"

	"github.com/layola13/autozig/internal/diag"
)

// OpaqueSentinel is the field type that marks a struct as an opaque handle.
const OpaqueSentinel = "opaque"

// Decls is the typed model of one declaration block.
type Decls struct {
	Funcs []*Func
	Types []*TypeDecl
	Impls []*Impl
	// Consts holds verbatim const groups in source order.
	Consts []string
	// Opaque lists types synthesized by the lifecycle generator; their
	// declarations are never emitted directly.
	Opaque []string
}

// Empty reports whether nothing usable was declared.
func (d *Decls) Empty() bool {
	return len(d.Funcs) == 0 && len(d.Types) == 0 && len(d.Impls) == 0 && len(d.Consts) == 0 && len(d.Opaque) == 0
}

// IsOpaque reports whether name is an opaque handle type.
func (d *Decls) IsOpaque(name string) bool {
	for _, o := range d.Opaque {
		if o == name {
			return true
		}
	}
	return false
}

// Impl returns the impl block for a receiver type, if any.
func (d *Decls) Impl(typeName string) *Impl {
	for _, impl := range d.Impls {
		if impl.Type == typeName {
			return impl
		}
	}
	return nil
}

// Param is one named parameter.
type Param struct {
	Name string
	Type ast.Expr
}

// TypeParam is one generic parameter with its constraint.
type TypeParam struct {
	Name       string
	Constraint ast.Expr
}

// Func is one exported function signature.
type Func struct {
	Name         string
	Symbol       string
	TypeParams   []TypeParam
	Params       []Param
	Result       ast.Expr
	Async        bool
	Monomorphize []string
	Mutable      map[string]bool
	Pos          diag.Pos
}

// IsGeneric reports whether the function declares type parameters.
func (f *Func) IsGeneric() bool {
	return len(f.TypeParams) > 0
}

// TypeKind categorizes a type declaration.
type TypeKind int

const (
	TypeStruct TypeKind = iota
	TypeNamed
	TypeInterface
	TypeOther
)

// Field is one struct field.
type Field struct {
	Name string
	Type ast.Expr
}

// TypeDecl is a struct, enum, trait or other type declaration, captured
// verbatim for emission.
type TypeDecl struct {
	Name   string
	Kind   TypeKind
	Fields []Field
	// Underlying is the builtin type of a TypeNamed declaration.
	Underlying string
	// Methods lists the method names of a TypeInterface declaration.
	Methods []string
	// Embeds reports interface elements other than plain methods.
	Embeds bool
	Source string
	Pos    diag.Pos
}

// Impl groups the methods declared on one receiver type.
type Impl struct {
	Type        string
	Opaque      bool
	Constructor *Method
	Destructor  *Method
	Methods     []*Method
	// Interfaces lists declared interfaces the methods satisfy.
	Interfaces []string
	Pos        diag.Pos
}

// Method is one method or constructor of an impl block.
type Method struct {
	Name string
	// Recv is the receiver variable name; empty for constructors.
	Recv        string
	PointerRecv bool
	Params      []Param
	Result      ast.Expr
	// Callee is the foreign function the body forwards to.
	Callee string
	// CalleeArgs are the arguments of the forwarding call.
	CalleeArgs []ast.Expr
	Symbol     string
	// Source is the declaration as written, body included.
	Source  string
	Async   bool
	Mutable map[string]bool
	Pos     diag.Pos
}

// NativeSymbol returns the foreign function the method binds to.
func (m *Method) NativeSymbol() string {
	if m.Symbol != "" {
		return m.Symbol
	}
	if m.Callee != "" {
		return m.Callee
	}
	return m.Name
}
