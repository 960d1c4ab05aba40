package bridge

import (
	"fmt"
	"strings"

	"github.com/layola13/autozig/internal/diag"
)

// Naming suffixes for symbols derived from a declared function.
const (
	PtrVariantSuffix = "__ptr_variant"
	ImplSuffix       = "__autozig_impl"
)

// RawResult is the Go variable holding a native call's result.
const RawResult = "ret"

// Reserved lists identifiers generated bodies rely on; parameters may not
// shadow them.
var Reserved = map[string]bool{
	"C": true, "unsafe": true, "runtime": true, "rt": true, "slices": true,
	"strings": true, "context": true, "ctx": true, "err": true, "obj": true,
	"callback": true, "stream": true, SinkParam: true,
	RawResult: true,
}

// SinkParam is the native argument carrying a stream's registration id.
const SinkParam = "sink"

// Strategy identifies how one value crosses the boundary.
type Strategy int

const (
	StrategyPassThrough Strategy = iota
	StrategyPtrLen
	StrategyAggregateRef
	StrategyHandle
	StrategyVoid
	StrategyValueReturn
	StrategyStaticSlot
	// StrategyOwnedBuffer adopts native memory with its free callback.
	StrategyOwnedBuffer
	// StrategyStream runs the call in the background, pushing values.
	StrategyStream
)

func (s Strategy) String() string {
	switch s {
	case StrategyPassThrough:
		return "pass-through"
	case StrategyPtrLen:
		return "ptr-len"
	case StrategyAggregateRef:
		return "aggregate-ref"
	case StrategyHandle:
		return "handle"
	case StrategyVoid:
		return "void"
	case StrategyValueReturn:
		return "value-return"
	case StrategyStaticSlot:
		return "static-slot"
	case StrategyOwnedBuffer:
		return "owned-buffer"
	case StrategyStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Role tells the renderer which kind of Go declaration a spec produces.
type Role int

const (
	RoleFunc Role = iota
	RolePtrVariant
	RoleConstructor
	RoleDestructor
	RoleMethod
	RoleBinding
	RoleMono
)

// Param is a named wrapper parameter.
type Param struct {
	Name string
	Type TypeDesc
}

// NativeParam is one C-level parameter.
type NativeParam struct {
	Name string
	C    string
	Zig  string
	// Deref marks aggregates passed by const pointer that a shim
	// dereferences before forwarding.
	Deref bool
}

// NativeSig is the ABI-lowered C signature.
type NativeSig struct {
	Symbol string
	Params []NativeParam
	Result string
	// ZigResult is the Zig type the native implementation returns.
	ZigResult string
}

// Prototype renders the C declaration.
func (s NativeSig) Prototype() string {
	params := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		params = append(params, joinCDecl(p.C, p.Name))
	}
	if len(params) == 0 {
		params = append(params, "void")
	}
	return joinCDecl(s.Result, s.Symbol) + "(" + strings.Join(params, ", ") + ");"
}

func joinCDecl(ctype, name string) string {
	return ctype + " " + name
}

// Receiver describes the implicit handle argument of an opaque method.
type Receiver struct {
	Name    string
	Type    string
	Mutable bool
}

// WrapperSig is the Go-facing signature.
type WrapperSig struct {
	Name     string
	Receiver *Receiver
	Params   []Param
	Result   TypeDesc
	Async    bool
}

// ParamPlan connects one wrapper parameter to its native arguments.
type ParamPlan struct {
	Param    Param
	Strategy Strategy
	// Args holds one Go expression template per native parameter;
	// %[1]s stands for the Go variable.
	Args []string
}

// ReturnPlan converts the raw native result back to the wrapper type.
type ReturnPlan struct {
	Strategy Strategy
	// Expr is a Go expression template; %[1]s stands for the raw result.
	Expr string
}

// Transform is one recorded lowering step.
type Transform struct {
	Strategy Strategy
	Target   string
}

func (t Transform) String() string {
	if t.Target == "" {
		return t.Strategy.String()
	}
	return t.Strategy.String() + "(" + t.Target + ")"
}

// ShimKind selects the foreign-side shim for a spec.
type ShimKind int

const (
	ShimNone ShimKind = iota
	// ShimRedirect renames the user function and exports a
	// lowered wrapper under its name.
	ShimRedirect
	// ShimPtrVariant exports an additional pointer-returning symbol.
	ShimPtrVariant
)

// Shim describes Zig code emitted next to the user implementation.
type Shim struct {
	Kind ShimKind
	// Original is the user's Zig function name.
	Original string
	// Target is the Zig function the shim forwards to.
	Target string
	// Slot returns the result through function-local static storage.
	Slot bool
}

// Spec is one bridged native symbol.
type Spec struct {
	Role       Role
	Origin     diag.Pos
	Native     NativeSig
	Wrapper    WrapperSig
	Params     []ParamPlan
	Return     ReturnPlan
	Transforms []Transform
	Shim       *Shim
	// Body is the rendered Go function body, filled by the generators.
	Body string
	// Source is verbatim Go emitted instead of a generated body.
	Source string
}

// Call renders the cgo call expression. rename maps wrapper parameter names
// to the Go variables holding their values.
func (s *Spec) Call(rename func(string) string) string {
	args := make([]string, 0, len(s.Native.Params))
	for _, p := range s.Params {
		v := p.Param.Name
		if rename != nil {
			v = rename(v)
		}
		for _, tmpl := range p.Args {
			args = append(args, fmt.Sprintf(tmpl, v))
		}
	}
	return "C." + s.Native.Symbol + "(" + strings.Join(args, ", ") + ")"
}

// Convert renders the conversion of a raw result variable.
func (s *Spec) Convert(raw string) string {
	if s.Return.Expr == "" {
		return raw
	}
	return fmt.Sprintf(s.Return.Expr, raw)
}

// SyncBody renders call-and-convert statements returning the wrapper result.
func (s *Spec) SyncBody(rename func(string) string) string {
	call := s.Call(rename)
	if s.Return.Strategy == StrategyVoid || s.Return.Strategy == StrategyStream {
		return call
	}
	return RawResult + " := " + call + "\nreturn " + s.Convert(RawResult)
}

// UsesUnsafe reports whether the rendered call needs package unsafe.
func (s *Spec) UsesUnsafe() bool {
	if strings.Contains(s.Return.Expr, "unsafe.") {
		return true
	}
	for _, p := range s.Params {
		for _, a := range p.Args {
			if strings.Contains(a, "unsafe.") {
				return true
			}
		}
	}
	return strings.Contains(s.Body, "unsafe.")
}
