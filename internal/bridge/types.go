package bridge

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"strconv"
)

// Kind is the structural category of a type at the native boundary.
type Kind int

const (
	KindVoid Kind = iota
	KindScalar
	KindStruct
	KindArray
	KindSlice
	KindString
	KindGeneric
	KindHandle
	// KindBuffer is *rt.Buffer[T]: native memory handed over to Go.
	KindBuffer
	// KindStream is *rt.Stream[T]: values pushed by a running native call.
	KindStream
)

// Runtime types recognised in declarations, spelled with the rt qualifier.
const (
	RuntimeQualifier = "rt"
	BufferType       = "Buffer"
	StreamType       = "Stream"
)

// BufferCType and BufferZigType name the record a native function returns
// to hand over memory. The Zig side declares it with the same field order:
// ptr, len, cap (element counts) and a nullable free_fn(ptr, len, cap).
const (
	BufferCType   = "autozig_buffer"
	BufferZigType = "AutozigBuffer"
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindScalar:
		return "scalar"
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	case KindSlice:
		return "slice"
	case KindString:
		return "string"
	case KindGeneric:
		return "generic"
	case KindHandle:
		return "handle"
	case KindBuffer:
		return "buffer"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// IsAggregate reports whether values of the kind are structs or fixed arrays.
func (k Kind) IsAggregate() bool {
	return k == KindStruct || k == KindArray
}

// IsReference reports whether the kind lowers to a (pointer, length) pair.
func (k Kind) IsReference() bool {
	return k == KindSlice || k == KindString
}

// TypeDesc classifies one boundary type.
type TypeDesc struct {
	Kind Kind
	// Go is the type as spelled in generated Go code.
	Go string
	// Name is the declared type name for named scalars, structs and handles.
	Name string
	// Basic is the builtin scalar for KindScalar.
	Basic string
	Elem  *TypeDesc
	Len   int
	// Mutable marks a slice whose contents the callee may write.
	Mutable bool
}

// Void is the descriptor of an absent result.
var Void = TypeDesc{Kind: KindVoid}

type scalarInfo struct {
	c   string
	zig string
}

var scalars = map[string]scalarInfo{
	"int8":    {"int8_t", "i8"},
	"int16":   {"int16_t", "i16"},
	"int32":   {"int32_t", "i32"},
	"int64":   {"int64_t", "i64"},
	"uint8":   {"uint8_t", "u8"},
	"byte":    {"uint8_t", "u8"},
	"uint16":  {"uint16_t", "u16"},
	"uint32":  {"uint32_t", "u32"},
	"uint64":  {"uint64_t", "u64"},
	"int":     {"intptr_t", "isize"},
	"uint":    {"uintptr_t", "usize"},
	"uintptr": {"uintptr_t", "usize"},
	"rune":    {"int32_t", "i32"},
	"float32": {"float", "f32"},
	"float64": {"double", "f64"},
	"bool":    {"bool", "bool"},
}

// IsBuiltinScalar reports whether name is a Go scalar with a C counterpart.
func IsBuiltinScalar(name string) bool {
	_, ok := scalars[name]
	return ok
}

// CType returns the C spelling of scalar and struct descriptors, and of the
// element type for arrays, slices and strings.
func (t TypeDesc) CType() string {
	switch t.Kind {
	case KindScalar:
		return scalars[t.Basic].c
	case KindStruct:
		return t.Name
	case KindArray, KindSlice:
		if t.Elem != nil {
			return t.Elem.CType()
		}
	case KindString:
		return "uint8_t"
	case KindBuffer:
		return BufferCType
	}
	return "void"
}

// ZigType returns the Zig spelling of the Go type.
func (t TypeDesc) ZigType() string {
	switch t.Kind {
	case KindScalar:
		return scalars[t.Basic].zig
	case KindStruct:
		return t.Name
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.Len, t.Elem.ZigType())
	case KindSlice:
		return "[]" + t.Elem.ZigType()
	case KindString:
		return "[]const u8"
	case KindHandle:
		return "*anyopaque"
	case KindBuffer:
		return BufferZigType
	}
	return "void"
}

// Env is the set of declared names visible to boundary types.
type Env struct {
	Structs  map[string]bool
	Named    map[string]string
	Opaque   map[string]bool
	Generics map[string]bool
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{
		Structs:  map[string]bool{},
		Named:    map[string]string{},
		Opaque:   map[string]bool{},
		Generics: map[string]bool{},
	}
}

// WithGenerics returns a copy of the environment with extra type parameters.
func (e *Env) WithGenerics(names ...string) *Env {
	cp := *e
	cp.Generics = make(map[string]bool, len(e.Generics)+len(names))
	for k, v := range e.Generics {
		cp.Generics[k] = v
	}
	for _, n := range names {
		cp.Generics[n] = true
	}
	return &cp
}

// Classify maps a Go type expression to its boundary descriptor. A nil
// expression is void. The decision depends on the expression's shape and on
// the shape of declared types it names, never on naming conventions.
func (e *Env) Classify(expr ast.Expr) (TypeDesc, error) {
	if expr == nil {
		return Void, nil
	}
	spelled := ExprString(expr)

	switch x := expr.(type) {
	case *ast.ParenExpr:
		return e.Classify(x.X)
	case *ast.Ident:
		return e.classifyIdent(x.Name)
	case *ast.StarExpr:
		if id, ok := x.X.(*ast.Ident); ok && e.Opaque[id.Name] {
			return TypeDesc{Kind: KindHandle, Go: spelled, Name: id.Name}, nil
		}
		if name, arg, ok := runtimeGeneric(x.X); ok {
			return e.classifyRuntime(spelled, name, arg)
		}
		return TypeDesc{}, fmt.Errorf("pointer type %s is not bridgeable; use a slice or an opaque handle", spelled)
	case *ast.IndexExpr:
		if _, _, ok := runtimeGeneric(x); ok {
			return TypeDesc{}, fmt.Errorf("%s must be used through a pointer, *%s", spelled, spelled)
		}
		return TypeDesc{}, fmt.Errorf("type %s is not bridgeable", spelled)
	case *ast.ArrayType:
		elem, err := e.Classify(x.Elt)
		if err != nil {
			return TypeDesc{}, err
		}
		if elem.Kind != KindScalar && elem.Kind != KindStruct && elem.Kind != KindGeneric {
			return TypeDesc{}, fmt.Errorf("element type %s of %s must be a scalar or struct", elem.Go, spelled)
		}
		if x.Len == nil {
			return TypeDesc{Kind: KindSlice, Go: spelled, Elem: &elem}, nil
		}
		n, err := arrayLen(x.Len)
		if err != nil {
			return TypeDesc{}, fmt.Errorf("array %s: %w", spelled, err)
		}
		return TypeDesc{Kind: KindArray, Go: spelled, Elem: &elem, Len: n}, nil
	default:
		return TypeDesc{}, fmt.Errorf("type %s is not bridgeable", spelled)
	}
}

func (e *Env) classifyIdent(name string) (TypeDesc, error) {
	switch {
	case name == "string":
		return TypeDesc{Kind: KindString, Go: name}, nil
	case e.Generics[name]:
		return TypeDesc{Kind: KindGeneric, Go: name, Name: name}, nil
	case IsBuiltinScalar(name):
		return TypeDesc{Kind: KindScalar, Go: name, Basic: name}, nil
	case e.Named[name] != "":
		return TypeDesc{Kind: KindScalar, Go: name, Name: name, Basic: e.Named[name]}, nil
	case e.Structs[name]:
		return TypeDesc{Kind: KindStruct, Go: name, Name: name}, nil
	case e.Opaque[name]:
		return TypeDesc{}, fmt.Errorf("opaque type %s must be passed as *%s", name, name)
	default:
		return TypeDesc{}, fmt.Errorf("unknown type %s", name)
	}
}

// runtimeGeneric matches rt.Buffer[T] and rt.Stream[T].
func runtimeGeneric(expr ast.Expr) (string, ast.Expr, bool) {
	idx, ok := expr.(*ast.IndexExpr)
	if !ok {
		return "", nil, false
	}
	sel, ok := idx.X.(*ast.SelectorExpr)
	if !ok {
		return "", nil, false
	}
	pkg, ok := sel.X.(*ast.Ident)
	if !ok || pkg.Name != RuntimeQualifier {
		return "", nil, false
	}
	switch sel.Sel.Name {
	case BufferType, StreamType:
		return sel.Sel.Name, idx.Index, true
	}
	return "", nil, false
}

func (e *Env) classifyRuntime(spelled, name string, arg ast.Expr) (TypeDesc, error) {
	elem, err := e.Classify(arg)
	if err != nil {
		return TypeDesc{}, fmt.Errorf("%s: %w", spelled, err)
	}
	if elem.Kind != KindScalar && elem.Kind != KindStruct && elem.Kind != KindGeneric {
		return TypeDesc{}, fmt.Errorf("element type %s of %s must be a scalar or struct", elem.Go, spelled)
	}
	kind := KindBuffer
	if name == StreamType {
		kind = KindStream
	}
	return TypeDesc{Kind: kind, Go: spelled, Elem: &elem}, nil
}

func arrayLen(expr ast.Expr) (int, error) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return 0, fmt.Errorf("length must be an integer literal")
	}
	n, err := strconv.ParseInt(lit.Value, 0, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid length %s", lit.Value)
	}
	return int(n), nil
}

// ExprString prints a type expression in gofmt style.
func ExprString(expr ast.Expr) string {
	return types.ExprString(expr)
}
