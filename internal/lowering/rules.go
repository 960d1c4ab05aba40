package lowering

import (
	"fmt"

	"github.com/layola13/autozig/internal/bridge"
)

// ParamLowering is the outcome of lowering one wrapper parameter.
type ParamLowering struct {
	Plan   bridge.ParamPlan
	Native []bridge.NativeParam
}

// ParamRule tries to lower one wrapper parameter.
type ParamRule interface {
	Name() string
	Try(p bridge.Param) (ParamLowering, bool)
}

// DefaultParamRules returns built-in parameter rules in priority order.
func DefaultParamRules() []ParamRule {
	return []ParamRule{
		&ScalarParamRule{},
		&SliceParamRule{},
		&StringParamRule{},
		&AggregateParamRule{},
		&HandleParamRule{},
	}
}

// ScalarParamRule: scalar -> same scalar.
type ScalarParamRule struct{}

func (r *ScalarParamRule) Name() string { return "scalar" }

func (r *ScalarParamRule) Try(p bridge.Param) (ParamLowering, bool) {
	if p.Type.Kind != bridge.KindScalar {
		return ParamLowering{}, false
	}
	ctype := p.Type.CType()
	return ParamLowering{
		Plan: bridge.ParamPlan{
			Param:    p,
			Strategy: bridge.StrategyPassThrough,
			Args:     []string{"C." + ctype + "(%[1]s)"},
		},
		Native: []bridge.NativeParam{{Name: cName(p.Name), C: ctype, Zig: p.Type.ZigType()}},
	}, true
}

// SliceParamRule: []T -> (T* ptr, size_t len), const unless mutable.
type SliceParamRule struct{}

func (r *SliceParamRule) Name() string { return "slice" }

func (r *SliceParamRule) Try(p bridge.Param) (ParamLowering, bool) {
	if p.Type.Kind != bridge.KindSlice {
		return ParamLowering{}, false
	}
	elem := p.Type.CType()
	cptr, zptr := "const "+elem+"*", "[*]const "+p.Type.Elem.ZigType()
	if p.Type.Mutable {
		cptr, zptr = elem+"*", "[*]"+p.Type.Elem.ZigType()
	}
	return ptrLen(p, elem, "rt.SliceData", cptr, zptr), true
}

// StringParamRule: string -> (const uint8_t* ptr, size_t len).
type StringParamRule struct{}

func (r *StringParamRule) Name() string { return "string" }

func (r *StringParamRule) Try(p bridge.Param) (ParamLowering, bool) {
	if p.Type.Kind != bridge.KindString {
		return ParamLowering{}, false
	}
	return ptrLen(p, "uint8_t", "rt.StringData", "const uint8_t*", "[*]const u8"), true
}

// ptrLen passes the data pointer through an rt helper that never yields
// nil, since Zig many-item pointers are not optional.
func ptrLen(p bridge.Param, elem, data, cptr, zptr string) ParamLowering {
	name := cName(p.Name)
	return ParamLowering{
		Plan: bridge.ParamPlan{
			Param:    p,
			Strategy: bridge.StrategyPtrLen,
			Args: []string{
				"(*C." + elem + ")(" + data + "(%[1]s))",
				"C.size_t(len(%[1]s))",
			},
		},
		Native: []bridge.NativeParam{
			{Name: name + "_ptr", C: cptr, Zig: zptr},
			{Name: name + "_len", C: "size_t", Zig: "usize"},
		},
	}
}

// AggregateParamRule: struct or array -> const pointer, dereferenced by the
// foreign shim.
type AggregateParamRule struct{}

func (r *AggregateParamRule) Name() string { return "aggregate" }

func (r *AggregateParamRule) Try(p bridge.Param) (ParamLowering, bool) {
	var arg string
	switch p.Type.Kind {
	case bridge.KindStruct:
		arg = "(*C." + p.Type.CType() + ")(unsafe.Pointer(&%[1]s))"
	case bridge.KindArray:
		arg = "(*C." + p.Type.CType() + ")(unsafe.Pointer(&%[1]s[0]))"
	default:
		return ParamLowering{}, false
	}
	return ParamLowering{
		Plan: bridge.ParamPlan{
			Param:    p,
			Strategy: bridge.StrategyAggregateRef,
			Args:     []string{arg},
		},
		Native: []bridge.NativeParam{{
			Name:  cName(p.Name),
			C:     "const " + p.Type.CType() + "*",
			Zig:   "*const " + p.Type.ZigType(),
			Deref: true,
		}},
	}, true
}

// HandleParamRule: *T of an opaque type -> its interior pointer.
type HandleParamRule struct{}

func (r *HandleParamRule) Name() string { return "handle" }

func (r *HandleParamRule) Try(p bridge.Param) (ParamLowering, bool) {
	if p.Type.Kind != bridge.KindHandle {
		return ParamLowering{}, false
	}
	return ParamLowering{
		Plan: bridge.ParamPlan{
			Param:    p,
			Strategy: bridge.StrategyHandle,
			Args:     []string{"%[1]s.handle.Ptr()"},
		},
		Native: []bridge.NativeParam{{Name: cName(p.Name), C: "void*", Zig: "*anyopaque"}},
	}, true
}

// receiverLowering injects the handle of an opaque receiver.
func receiverLowering(recv *bridge.Receiver) ParamLowering {
	c, zig := "const void*", "*const anyopaque"
	if recv.Mutable {
		c, zig = "void*", "*anyopaque"
	}
	return ParamLowering{
		Plan: bridge.ParamPlan{
			Param:    bridge.Param{Name: recv.Name, Type: bridge.TypeDesc{Kind: bridge.KindHandle, Go: "*" + recv.Type, Name: recv.Type}},
			Strategy: bridge.StrategyHandle,
			Args:     []string{"%[1]s.handle.Ptr()"},
		},
		Native: []bridge.NativeParam{{Name: "self", C: c, Zig: zig}},
	}
}

// ReturnLowering is the outcome of lowering a result type.
type ReturnLowering struct {
	Plan bridge.ReturnPlan
	// C is the native result type.
	C string
	// Zig is the Zig type of the value the implementation produces.
	Zig string
}

// ReturnRule tries to lower one result type.
type ReturnRule interface {
	Name() string
	Try(t bridge.TypeDesc, policy StructReturn) (ReturnLowering, bool)
}

// DefaultReturnRules returns built-in result rules in priority order.
func DefaultReturnRules() []ReturnRule {
	return []ReturnRule{
		&VoidReturnRule{},
		&ScalarReturnRule{},
		&StructValueReturnRule{},
		&SlotReturnRule{},
		&BufferReturnRule{},
		&StreamReturnRule{},
	}
}

// VoidReturnRule: no result.
type VoidReturnRule struct{}

func (r *VoidReturnRule) Name() string { return "void" }

func (r *VoidReturnRule) Try(t bridge.TypeDesc, _ StructReturn) (ReturnLowering, bool) {
	if t.Kind != bridge.KindVoid {
		return ReturnLowering{}, false
	}
	return ReturnLowering{Plan: bridge.ReturnPlan{Strategy: bridge.StrategyVoid}, C: "void", Zig: "void"}, true
}

// ScalarReturnRule: scalar -> Go conversion of the C value.
type ScalarReturnRule struct{}

func (r *ScalarReturnRule) Name() string { return "scalar" }

func (r *ScalarReturnRule) Try(t bridge.TypeDesc, _ StructReturn) (ReturnLowering, bool) {
	if t.Kind != bridge.KindScalar {
		return ReturnLowering{}, false
	}
	return ReturnLowering{
		Plan: bridge.ReturnPlan{Strategy: bridge.StrategyPassThrough, Expr: t.Go + "(%[1]s)"},
		C:    t.CType(),
		Zig:  t.ZigType(),
	}, true
}

// StructValueReturnRule: struct by value, unless the policy forces a pointer.
type StructValueReturnRule struct{}

func (r *StructValueReturnRule) Name() string { return "struct-value" }

func (r *StructValueReturnRule) Try(t bridge.TypeDesc, policy StructReturn) (ReturnLowering, bool) {
	if t.Kind != bridge.KindStruct || policy == StructReturnPointer {
		return ReturnLowering{}, false
	}
	return ReturnLowering{
		Plan: bridge.ReturnPlan{
			Strategy: bridge.StrategyValueReturn,
			Expr:     "*(*" + t.Go + ")(unsafe.Pointer(&%[1]s))",
		},
		C:   t.CType(),
		Zig: t.ZigType(),
	}, true
}

// SlotReturnRule: array, or struct under the pointer policy -> const pointer
// into static storage owned by the foreign shim.
type SlotReturnRule struct{}

func (r *SlotReturnRule) Name() string { return "static-slot" }

func (r *SlotReturnRule) Try(t bridge.TypeDesc, _ StructReturn) (ReturnLowering, bool) {
	if !t.Kind.IsAggregate() {
		return ReturnLowering{}, false
	}
	return slotReturn(t), true
}

func slotReturn(t bridge.TypeDesc) ReturnLowering {
	return ReturnLowering{
		Plan: bridge.ReturnPlan{
			Strategy: bridge.StrategyStaticSlot,
			Expr:     "*(*" + t.Go + ")(unsafe.Pointer(%[1]s))",
		},
		C:   "const " + t.CType() + "*",
		Zig: t.ZigType(),
	}
}

// BufferReturnRule: *rt.Buffer[T] -> autozig_buffer record adopted by
// rt.TakeBuffer. The free callback runs once, on Release or cleanup.
type BufferReturnRule struct{}

func (r *BufferReturnRule) Name() string { return "owned-buffer" }

func (r *BufferReturnRule) Try(t bridge.TypeDesc, _ StructReturn) (ReturnLowering, bool) {
	if t.Kind != bridge.KindBuffer {
		return ReturnLowering{}, false
	}
	return ReturnLowering{
		Plan: bridge.ReturnPlan{
			Strategy: bridge.StrategyOwnedBuffer,
			Expr: "rt.TakeBuffer[" + t.Elem.Go + "](%[1]s.ptr, uintptr(%[1]s.len), uintptr(%[1]s.cap), " +
				"func() { C." + BufferFree + "(%[1]s) })",
		},
		C:   bridge.BufferCType,
		Zig: bridge.BufferZigType,
	}, true
}

// BufferFree is the preamble helper invoking a buffer's free callback.
const BufferFree = "autozig_buffer_free"

// StreamReturnRule: *rt.Stream[T] -> void; values arrive through the sink
// argument while the call runs.
type StreamReturnRule struct{}

func (r *StreamReturnRule) Name() string { return "stream" }

func (r *StreamReturnRule) Try(t bridge.TypeDesc, _ StructReturn) (ReturnLowering, bool) {
	if t.Kind != bridge.KindStream {
		return ReturnLowering{}, false
	}
	return ReturnLowering{Plan: bridge.ReturnPlan{Strategy: bridge.StrategyStream}, C: "void", Zig: "void"}, true
}

// sinkLowering appends the stream registration id as the last native
// argument.
func sinkLowering() ParamLowering {
	return ParamLowering{
		Plan: bridge.ParamPlan{
			Param:    bridge.Param{Name: bridge.SinkParam, Type: bridge.TypeDesc{Kind: bridge.KindScalar, Go: "uintptr", Basic: "uintptr"}},
			Strategy: bridge.StrategyStream,
			Args:     []string{"C.uintptr_t(%[1]s)"},
		},
		Native: []bridge.NativeParam{{Name: bridge.SinkParam, C: "uintptr_t", Zig: "usize"}},
	}
}

var cKeywords = map[string]bool{
	"auto": true, "char": true, "double": true, "enum": true, "extern": true,
	"float": true, "inline": true, "int": true, "long": true, "register": true,
	"restrict": true, "short": true, "signed": true, "sizeof": true, "static": true,
	"typedef": true, "union": true, "unsigned": true, "void": true, "volatile": true,
	"while": true, "do": true, "bool": true, "self": true,
}

// cName returns a C-safe parameter name.
func cName(name string) string {
	if cKeywords[name] {
		return name + "_"
	}
	return name
}

func unsupportedParam(p bridge.Param) error {
	return fmt.Errorf("parameter %s: type %s (%s) has no native lowering", p.Name, p.Type.Go, p.Type.Kind)
}

func unsupportedReturn(t bridge.TypeDesc) error {
	switch t.Kind {
	case bridge.KindSlice:
		return fmt.Errorf("result type %s cannot be returned across the boundary; return *rt.Buffer[%s] to take ownership of native memory", t.Go, t.Elem.Go)
	case bridge.KindString:
		return fmt.Errorf("result type string cannot be returned across the boundary; return *rt.Buffer[byte] to take ownership of native memory")
	case bridge.KindHandle:
		return fmt.Errorf("result type %s: opaque handles are returned only by constructors", t.Go)
	}
	return fmt.Errorf("result type %s (%s) has no native lowering", t.Go, t.Kind)
}
