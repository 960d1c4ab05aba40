package lowering

import (
	"fmt"
	"go/ast"
	"strings"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/idl"
)

// ReturnTypes resolves the result type a foreign function declares.
type ReturnTypes interface {
	ReturnType(name string) (string, bool)
}

// Input is one signature to lower.
type Input struct {
	Role   bridge.Role
	Name   string
	Symbol string
	// Receiver is injected as the first native argument.
	Receiver *bridge.Receiver
	Params   []idl.Param
	Result   ast.Expr
	Mutable  map[string]bool
	Async    bool
	Origin   diag.Pos
}

// FuncInput builds the input for a plain declared function.
func FuncInput(f *idl.Func) Input {
	symbol := f.Symbol
	if symbol == "" {
		symbol = f.Name
	}
	return Input{
		Role:    bridge.RoleFunc,
		Name:    f.Name,
		Symbol:  symbol,
		Params:  f.Params,
		Result:  f.Result,
		Mutable: f.Mutable,
		Async:   f.Async,
		Origin:  f.Pos,
	}
}

// Engine lowers signatures into bridge specs.
type Engine struct {
	env     *bridge.Env
	policy  StructReturn
	params  []ParamRule
	returns []ReturnRule
	foreign ReturnTypes
}

// Option configures an Engine.
type Option func(*Engine)

// WithStructReturn sets the struct result policy.
func WithStructReturn(p StructReturn) Option {
	return func(e *Engine) { e.policy = p }
}

// WithParamRules replaces the parameter rule chain.
func WithParamRules(rules ...ParamRule) Option {
	return func(e *Engine) { e.params = rules }
}

// WithReturnRules replaces the result rule chain.
func WithReturnRules(rules ...ReturnRule) Option {
	return func(e *Engine) { e.returns = rules }
}

// WithForeign sets the source of foreign result types.
func WithForeign(rt ReturnTypes) Option {
	return func(e *Engine) { e.foreign = rt }
}

// New creates an engine over the declared types of one block.
func New(env *bridge.Env, opts ...Option) *Engine {
	if env == nil {
		env = bridge.NewEnv()
	}
	e := &Engine{
		env:     env,
		params:  DefaultParamRules(),
		returns: DefaultReturnRules(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Env returns the engine's type environment.
func (e *Engine) Env() *bridge.Env { return e.env }

// Policy returns the struct result policy.
func (e *Engine) Policy() StructReturn { return e.policy }

// EnvFor collects the declared types of a block.
func EnvFor(d *idl.Decls) *bridge.Env {
	env := bridge.NewEnv()
	for _, name := range d.Opaque {
		env.Opaque[name] = true
	}
	for _, td := range d.Types {
		switch td.Kind {
		case idl.TypeStruct:
			env.Structs[td.Name] = true
		case idl.TypeNamed:
			if bridge.IsBuiltinScalar(td.Underlying) {
				env.Named[td.Name] = td.Underlying
			}
		}
	}
	return env
}

// Lower produces the spec for in, followed by a pointer-variant spec when
// the struct policy is dual and the result is a struct.
func (e *Engine) Lower(in Input) ([]*bridge.Spec, diag.List, error) {
	var diags diag.List
	fail := func(err error) ([]*bridge.Spec, diag.List, error) {
		return nil, diags, diag.New(diag.PhaseLower, diag.KindUnsupported).
			At(in.Origin).
			Symbol(in.Name).
			Cause(err).
			Build()
	}

	for name := range in.Mutable {
		if !hasParam(in.Params, name) {
			return fail(fmt.Errorf("//autozig:mut names unknown parameter %s", name))
		}
	}

	for _, p := range in.Params {
		if bridge.Reserved[p.Name] {
			return fail(fmt.Errorf("parameter name %s is reserved in generated code", p.Name))
		}
	}
	if in.Receiver != nil && bridge.Reserved[in.Receiver.Name] {
		return fail(fmt.Errorf("receiver name %s is reserved in generated code", in.Receiver.Name))
	}

	spec := &bridge.Spec{
		Role:   in.Role,
		Origin: in.Origin,
		Native: bridge.NativeSig{Symbol: in.Symbol},
		Wrapper: bridge.WrapperSig{
			Name:     in.Name,
			Receiver: in.Receiver,
			Async:    in.Async,
		},
	}

	if in.Receiver != nil {
		e.appendParam(spec, receiverLowering(in.Receiver))
	}
	for _, p := range in.Params {
		desc, err := e.env.Classify(p.Type)
		if err != nil {
			return fail(fmt.Errorf("parameter %s: %w", p.Name, err))
		}
		if in.Mutable[p.Name] {
			if desc.Kind != bridge.KindSlice {
				return fail(fmt.Errorf("//autozig:mut %s: only slices can be mutable", p.Name))
			}
			desc.Mutable = true
		}
		param := bridge.Param{Name: p.Name, Type: desc}
		low, err := e.lowerParam(param)
		if err != nil {
			return fail(err)
		}
		spec.Wrapper.Params = append(spec.Wrapper.Params, param)
		e.appendParam(spec, low)
	}

	result, err := e.env.Classify(in.Result)
	if err != nil {
		return fail(fmt.Errorf("result: %w", err))
	}
	ret, err := e.lowerReturn(in.Role, result)
	if err != nil {
		return fail(err)
	}
	if result.Kind == bridge.KindStream {
		if len(in.Mutable) > 0 {
			return fail(fmt.Errorf("stream results cannot be combined with //autozig:mut"))
		}
		e.appendParam(spec, sinkLowering())
		spec.Wrapper.Async = true
	}
	spec.Wrapper.Result = result
	spec.Return = ret.Plan
	spec.Native.Result = ret.C
	spec.Native.ZigResult = ret.Zig
	spec.Transforms = append(spec.Transforms, bridge.Transform{Strategy: ret.Plan.Strategy, Target: "result"})

	derefs := hasDeref(spec.Native.Params)
	slot := ret.Plan.Strategy == bridge.StrategyStaticSlot
	if derefs || slot {
		spec.Shim = &bridge.Shim{
			Kind:     bridge.ShimRedirect,
			Original: in.Symbol,
			Target:   in.Symbol + bridge.ImplSuffix,
			Slot:     slot,
		}
	}
	dual := result.Kind == bridge.KindStruct && e.policy == StructReturnDual
	if spec.Shim != nil || dual {
		spec.Native.ZigResult = e.foreignResult(in, ret.Zig, &diags)
	}
	spec.Body = SyncBody(spec)

	specs := []*bridge.Spec{spec}
	if dual {
		specs = append(specs, ptrVariant(spec, result))
	}

	Logger().Debug("lowered",
		zap.String("symbol", in.Symbol),
		zap.Stringer("result", ret.Plan.Strategy),
		zap.Int("native_params", len(spec.Native.Params)),
		zap.Bool("shim", spec.Shim != nil),
		zap.Bool("dual", dual),
	)
	return specs, diags, nil
}

func (e *Engine) appendParam(spec *bridge.Spec, low ParamLowering) {
	spec.Params = append(spec.Params, low.Plan)
	spec.Native.Params = append(spec.Native.Params, low.Native...)
	spec.Transforms = append(spec.Transforms, bridge.Transform{Strategy: low.Plan.Strategy, Target: low.Plan.Param.Name})
}

func (e *Engine) lowerParam(p bridge.Param) (ParamLowering, error) {
	for _, rule := range e.params {
		if low, ok := rule.Try(p); ok {
			return low, nil
		}
	}
	return ParamLowering{}, unsupportedParam(p)
}

func (e *Engine) lowerReturn(role bridge.Role, t bridge.TypeDesc) (ReturnLowering, error) {
	if role == bridge.RoleConstructor {
		if t.Kind != bridge.KindHandle {
			return ReturnLowering{}, fmt.Errorf("constructor must return *%s of an opaque type, got %s", t.Name, t.Go)
		}
		return ReturnLowering{Plan: bridge.ReturnPlan{Strategy: bridge.StrategyHandle}, C: "void*", Zig: "*anyopaque"}, nil
	}
	for _, rule := range e.returns {
		if low, ok := rule.Try(t, e.policy); ok {
			return low, nil
		}
	}
	return ReturnLowering{}, unsupportedReturn(t)
}

// foreignResult prefers the result type written in the foreign source and
// falls back to the host-derived one.
func (e *Engine) foreignResult(in Input, host string, diags *diag.List) string {
	if e.foreign == nil {
		return host
	}
	if zt, ok := e.foreign.ReturnType(in.Symbol); ok {
		return zt
	}
	diags.Add(diag.Warnf(diag.PhaseLower, in.Origin,
		"%s: result type not found in Zig source, using %s", in.Symbol, host))
	return host
}

func ptrVariant(base *bridge.Spec, result bridge.TypeDesc) *bridge.Spec {
	slot := slotReturn(result)
	target := base.Native.Symbol
	if base.Shim != nil {
		target = base.Shim.Target
	}
	v := &bridge.Spec{
		Role:   bridge.RolePtrVariant,
		Origin: base.Origin,
		Native: bridge.NativeSig{
			Symbol:    base.Native.Symbol + bridge.PtrVariantSuffix,
			Params:    base.Native.Params,
			Result:    slot.C,
			ZigResult: base.Native.ZigResult,
		},
		Wrapper: bridge.WrapperSig{
			Name:     base.Wrapper.Name + bridge.PtrVariantSuffix,
			Receiver: base.Wrapper.Receiver,
			Params:   base.Wrapper.Params,
			Result:   base.Wrapper.Result,
			Async:    base.Wrapper.Async,
		},
		Params: base.Params,
		Return: slot.Plan,
		Shim: &bridge.Shim{
			Kind:     bridge.ShimPtrVariant,
			Original: base.Native.Symbol,
			Target:   target,
			Slot:     true,
		},
	}
	v.Transforms = append(append([]bridge.Transform(nil), base.Transforms[:len(base.Transforms)-1]...),
		bridge.Transform{Strategy: bridge.StrategyStaticSlot, Target: "result"})
	v.Body = SyncBody(v)
	return v
}

// SyncBody renders the blocking wrapper body, keeping handle owners alive
// across the native call.
func SyncBody(spec *bridge.Spec) string {
	var b strings.Builder
	for _, p := range spec.Params {
		if p.Strategy == bridge.StrategyHandle {
			b.WriteString("defer runtime.KeepAlive(" + p.Param.Name + ")\n")
		}
	}
	b.WriteString(spec.SyncBody(nil))
	return b.String()
}

func hasParam(params []idl.Param, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

func hasDeref(params []bridge.NativeParam) bool {
	for _, p := range params {
		if p.Deref {
			return true
		}
	}
	return false
}
