package lowering

import (
	"go/ast"
	"go/parser"
	"strings"
	"testing"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/idl"
)

func expr(t testing.TB, src string) ast.Expr {
	t.Helper()
	if src == "" {
		return nil
	}
	e, err := parser.ParseExpr(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return e
}

func testEnv() *bridge.Env {
	env := bridge.NewEnv()
	env.Structs["Vec3"] = true
	env.Named["Status"] = "int32"
	env.Opaque["Counter"] = true
	return env
}

type fakeForeign map[string]string

func (f fakeForeign) ReturnType(name string) (string, bool) {
	t, ok := f[name]
	return t, ok
}

func lowerOne(t *testing.T, e *Engine, in Input) []*bridge.Spec {
	t.Helper()
	specs, _, err := e.Lower(in)
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	return specs
}

func TestLower_ScalarPassThrough(t *testing.T) {
	e := New(testEnv())
	specs := lowerOne(t, e, Input{
		Name:   "add",
		Symbol: "add",
		Params: []idl.Param{{Name: "a", Type: expr(t, "int32")}, {Name: "b", Type: expr(t, "Status")}},
		Result: expr(t, "int32"),
	})
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	s := specs[0]
	if got := s.Native.Prototype(); got != "int32_t add(int32_t a, int32_t b);" {
		t.Fatalf("unexpected prototype: %s", got)
	}
	if s.Shim != nil {
		t.Fatalf("scalar signature must not need a shim: %+v", s.Shim)
	}
	if !strings.Contains(s.Body, "ret := C.add(C.int32_t(a), C.int32_t(b))") {
		t.Fatalf("unexpected body: %s", s.Body)
	}
	if !strings.Contains(s.Body, "return int32(ret)") {
		t.Fatalf("unexpected body: %s", s.Body)
	}
}

func TestLower_SliceBecomesPtrLen(t *testing.T) {
	tests := []struct {
		name    string
		mutable bool
		wantPtr string
		wantZig string
	}{
		{name: "const", wantPtr: "const int32_t*", wantZig: "[*]const i32"},
		{name: "mutable", mutable: true, wantPtr: "int32_t*", wantZig: "[*]i32"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{
				Name:   "fill",
				Symbol: "fill",
				Params: []idl.Param{{Name: "data", Type: expr(t, "[]int32")}},
			}
			if tt.mutable {
				in.Mutable = map[string]bool{"data": true}
			}
			s := lowerOne(t, New(testEnv()), in)[0]
			if len(s.Native.Params) != 2 {
				t.Fatalf("expected 2 native params, got %d", len(s.Native.Params))
			}
			ptr, n := s.Native.Params[0], s.Native.Params[1]
			if ptr.Name != "data_ptr" || ptr.C != tt.wantPtr || ptr.Zig != tt.wantZig {
				t.Fatalf("unexpected pointer param: %+v", ptr)
			}
			if n.Name != "data_len" || n.C != "size_t" || n.Zig != "usize" {
				t.Fatalf("unexpected length param: %+v", n)
			}
			if !strings.Contains(s.Body, "(*C.int32_t)(rt.SliceData(data))") || !strings.Contains(s.Body, "C.size_t(len(data))") {
				t.Fatalf("unexpected body: %s", s.Body)
			}
			if s.Return.Strategy != bridge.StrategyVoid {
				t.Fatalf("expected void result, got %v", s.Return.Strategy)
			}
		})
	}
}

func TestLower_String(t *testing.T) {
	s := lowerOne(t, New(testEnv()), Input{
		Name:   "count_vowels",
		Symbol: "count_vowels",
		Params: []idl.Param{{Name: "s", Type: expr(t, "string")}},
		Result: expr(t, "uint"),
	})[0]
	if got := s.Native.Prototype(); got != "uintptr_t count_vowels(const uint8_t* s_ptr, size_t s_len);" {
		t.Fatalf("unexpected prototype: %s", got)
	}
	if !strings.Contains(s.Body, "(*C.uint8_t)(rt.StringData(s))") {
		t.Fatalf("unexpected body: %s", s.Body)
	}
}

func TestLower_MutableOnlyForSlices(t *testing.T) {
	_, _, err := New(testEnv()).Lower(Input{
		Name:    "f",
		Symbol:  "f",
		Params:  []idl.Param{{Name: "s", Type: expr(t, "string")}},
		Mutable: map[string]bool{"s": true},
	})
	if err == nil || !strings.Contains(err.Error(), "only slices") {
		t.Fatalf("expected mutability error, got %v", err)
	}

	_, _, err = New(testEnv()).Lower(Input{
		Name:    "f",
		Symbol:  "f",
		Mutable: map[string]bool{"missing": true},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown parameter") {
		t.Fatalf("expected unknown parameter error, got %v", err)
	}
}

func TestLower_ArrayReturnRedirects(t *testing.T) {
	e := New(testEnv(), WithForeign(fakeForeign{"create_range": "[5]i32"}))
	specs, diags, err := e.Lower(Input{Name: "create_range", Symbol: "create_range", Result: expr(t, "[5]int32")})
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(specs) != 1 {
		t.Fatalf("array return must not produce a dual export, got %d specs", len(specs))
	}
	s := specs[0]
	if s.Return.Strategy != bridge.StrategyStaticSlot {
		t.Fatalf("expected static slot, got %v", s.Return.Strategy)
	}
	if s.Shim == nil || s.Shim.Kind != bridge.ShimRedirect || !s.Shim.Slot {
		t.Fatalf("expected slot redirect shim, got %+v", s.Shim)
	}
	if s.Shim.Target != "create_range__autozig_impl" {
		t.Fatalf("unexpected impl name: %s", s.Shim.Target)
	}
	if got := s.Native.Prototype(); got != "const int32_t* create_range(void);" {
		t.Fatalf("unexpected prototype: %s", got)
	}
	if !strings.Contains(s.Body, "return *(*[5]int32)(unsafe.Pointer(ret))") {
		t.Fatalf("unexpected body: %s", s.Body)
	}

	table := bridge.BuildSymbolTable(specs)
	sym, ok := table.Lookup("create_range")
	if !ok || !sym.Exported || sym.Returns != bridge.ConventionPointer {
		t.Fatalf("expected exported pointer entry, got %+v", sym)
	}
	impl, ok := table.Lookup("create_range__autozig_impl")
	if !ok || impl.Exported {
		t.Fatalf("expected non-exported impl entry, got %+v", impl)
	}
}

func TestLower_StructReturnPolicies(t *testing.T) {
	in := Input{
		Name:   "create_vec3",
		Symbol: "create_vec3",
		Params: []idl.Param{{Name: "x", Type: expr(t, "float32")}, {Name: "y", Type: expr(t, "float32")}, {Name: "z", Type: expr(t, "float32")}},
		Result: expr(t, "Vec3"),
	}

	t.Run("dual", func(t *testing.T) {
		specs := lowerOne(t, New(testEnv()), in)
		if len(specs) != 2 {
			t.Fatalf("expected by-value and pointer specs, got %d", len(specs))
		}
		value, ptr := specs[0], specs[1]
		if value.Return.Strategy != bridge.StrategyValueReturn || value.Shim != nil {
			t.Fatalf("unexpected by-value spec: %v %+v", value.Return.Strategy, value.Shim)
		}
		if ptr.Native.Symbol != "create_vec3__ptr_variant" || ptr.Role != bridge.RolePtrVariant {
			t.Fatalf("unexpected variant: %s %v", ptr.Native.Symbol, ptr.Role)
		}
		if ptr.Shim == nil || ptr.Shim.Kind != bridge.ShimPtrVariant || ptr.Shim.Target != "create_vec3" {
			t.Fatalf("unexpected variant shim: %+v", ptr.Shim)
		}
		if got := ptr.Native.Prototype(); got != "const Vec3* create_vec3__ptr_variant(float x, float y, float z);" {
			t.Fatalf("unexpected prototype: %s", got)
		}

		table := bridge.BuildSymbolTable(specs)
		if s, ok := table.Lookup("create_vec3"); !ok || s.Returns != bridge.ConventionValue {
			t.Fatalf("expected by-value entry, got %+v", s)
		}
		if s, ok := table.Lookup("create_vec3__ptr_variant"); !ok || s.Returns != bridge.ConventionPointer || !s.Exported {
			t.Fatalf("expected pointer entry, got %+v", s)
		}
	})

	t.Run("pointer", func(t *testing.T) {
		specs := lowerOne(t, New(testEnv(), WithStructReturn(StructReturnPointer)), in)
		if len(specs) != 1 {
			t.Fatalf("expected 1 spec, got %d", len(specs))
		}
		if specs[0].Return.Strategy != bridge.StrategyStaticSlot || specs[0].Shim == nil {
			t.Fatalf("expected redirect, got %v", specs[0].Return.Strategy)
		}
	})

	t.Run("value", func(t *testing.T) {
		specs := lowerOne(t, New(testEnv(), WithStructReturn(StructReturnValue)), in)
		if len(specs) != 1 || specs[0].Return.Strategy != bridge.StrategyValueReturn {
			t.Fatalf("expected single by-value spec")
		}
		if !strings.Contains(specs[0].Body, "*(*Vec3)(unsafe.Pointer(&ret))") {
			t.Fatalf("unexpected body: %s", specs[0].Body)
		}
	})
}

func TestLower_AggregateParamsDeref(t *testing.T) {
	s := lowerOne(t, New(testEnv(), WithStructReturn(StructReturnValue)), Input{
		Name:   "dot",
		Symbol: "dot",
		Params: []idl.Param{{Name: "a", Type: expr(t, "Vec3")}, {Name: "m", Type: expr(t, "[4]float32")}},
		Result: expr(t, "float32"),
	})[0]
	if s.Shim == nil || s.Shim.Kind != bridge.ShimRedirect || s.Shim.Slot {
		t.Fatalf("expected non-slot redirect, got %+v", s.Shim)
	}
	if got := s.Native.Prototype(); got != "float dot(const Vec3* a, const float* m);" {
		t.Fatalf("unexpected prototype: %s", got)
	}
	if !s.Native.Params[0].Deref || s.Native.Params[1].Zig != "*const [4]f32" {
		t.Fatalf("unexpected native params: %+v", s.Native.Params)
	}
	if !strings.Contains(s.Body, "(*C.Vec3)(unsafe.Pointer(&a))") || !strings.Contains(s.Body, "(*C.float)(unsafe.Pointer(&m[0]))") {
		t.Fatalf("unexpected body: %s", s.Body)
	}
}

func TestLower_ReceiverInjection(t *testing.T) {
	tests := []struct {
		name    string
		mutable bool
		want    string
	}{
		{name: "read", want: "int64_t counter_get(const void* self);"},
		{name: "write", mutable: true, want: "int64_t counter_get(void* self);"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := lowerOne(t, New(testEnv()), Input{
				Role:     bridge.RoleMethod,
				Name:     "Get",
				Symbol:   "counter_get",
				Receiver: &bridge.Receiver{Name: "c", Type: "Counter", Mutable: tt.mutable},
				Result:   expr(t, "int64"),
			})[0]
			if got := s.Native.Prototype(); got != tt.want {
				t.Fatalf("unexpected prototype: %s", got)
			}
			if !strings.Contains(s.Body, "defer runtime.KeepAlive(c)") || !strings.Contains(s.Body, "C.counter_get(c.handle.Ptr())") {
				t.Fatalf("unexpected body: %s", s.Body)
			}
			if len(s.Wrapper.Params) != 0 {
				t.Fatalf("receiver must not be a wrapper param: %+v", s.Wrapper.Params)
			}
		})
	}
}

func TestLower_ForeignResultFallback(t *testing.T) {
	e := New(testEnv(), WithForeign(fakeForeign{}))
	specs, diags, err := e.Lower(Input{Name: "mat", Symbol: "mat", Result: expr(t, "[4]float32")})
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	if specs[0].Native.ZigResult != "[4]f32" {
		t.Fatalf("expected host-derived zig result, got %s", specs[0].Native.ZigResult)
	}
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "not found in Zig source") {
		t.Fatalf("expected soft degradation diagnostic, got %v", diags)
	}
}

func TestLower_Unsupported(t *testing.T) {
	tests := []struct {
		name   string
		param  string
		pname  string
		result string
		want   string
	}{
		{name: "raw pointer", param: "*int32", want: "not bridgeable"},
		{name: "unknown type", param: "Widget", want: "unknown type"},
		{name: "slice result", result: "[]int32", want: "*rt.Buffer[int32]"},
		{name: "string result", result: "string", want: "*rt.Buffer[byte]"},
		{name: "buffer param", param: "*rt.Buffer[int32]", want: "no native lowering"},
		{name: "reserved sink", param: "int32", pname: "sink", want: "reserved"},
		{name: "handle result", result: "*Counter", want: "only by constructors"},
		{name: "reserved name", param: "int32", pname: "ctx", want: "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Name: "f", Symbol: "f", Result: expr(t, tt.result)}
			if tt.param != "" {
				name := tt.pname
				if name == "" {
					name = "p"
				}
				in.Params = []idl.Param{{Name: name, Type: expr(t, tt.param)}}
			}
			_, _, err := New(testEnv()).Lower(in)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLower_CKeywordNames(t *testing.T) {
	s := lowerOne(t, New(testEnv()), Input{
		Name:   "f",
		Symbol: "f",
		Params: []idl.Param{{Name: "int", Type: expr(t, "int32")}},
	})[0]
	if s.Native.Params[0].Name != "int_" {
		t.Fatalf("expected sanitized name, got %s", s.Native.Params[0].Name)
	}
	if !strings.Contains(s.Body, "C.int32_t(int)") {
		t.Fatalf("wrapper must keep the Go name: %s", s.Body)
	}
}

func TestEnvFor(t *testing.T) {
	d := &idl.Decls{
		Types: []*idl.TypeDecl{
			{Name: "Vec3", Kind: idl.TypeStruct},
			{Name: "Status", Kind: idl.TypeNamed, Underlying: "int32"},
			{Name: "Alias", Kind: idl.TypeNamed, Underlying: "Vec3"},
		},
		Opaque: []string{"Counter"},
	}
	env := EnvFor(d)
	if !env.Structs["Vec3"] || env.Named["Status"] != "int32" || !env.Opaque["Counter"] {
		t.Fatalf("unexpected env: %+v", env)
	}
	if _, ok := env.Named["Alias"]; ok {
		t.Fatalf("non-scalar named types must not be scalars")
	}
}

func TestParseStructReturn(t *testing.T) {
	tests := []struct {
		in   string
		want StructReturn
		err  bool
	}{
		{in: "", want: StructReturnDual},
		{in: "dual", want: StructReturnDual},
		{in: "Pointer", want: StructReturnPointer},
		{in: "value", want: StructReturnValue},
		{in: "bogus", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStructReturn(tt.in)
			if (err != nil) != tt.err {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.err && got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func BenchmarkLower(b *testing.B) {
	e := New(testEnv())
	in := Input{
		Name:   "create_vec3",
		Symbol: "create_vec3",
		Params: []idl.Param{{Name: "a", Type: expr(b, "Vec3")}, {Name: "data", Type: expr(b, "[]float32")}},
		Result: expr(b, "Vec3"),
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := e.Lower(in); err != nil {
			b.Fatal(err)
		}
	}
}

func TestLower_OwnedBuffer(t *testing.T) {
	specs := lowerOne(t, New(testEnv()), Input{
		Name:   "generate",
		Symbol: "generate",
		Params: []idl.Param{{Name: "n", Type: expr(t, "uint")}},
		Result: expr(t, "*rt.Buffer[int32]"),
	})
	if len(specs) != 1 {
		t.Fatalf("buffer results have no pointer variant, got %d specs", len(specs))
	}
	s := specs[0]
	if got := s.Native.Prototype(); got != "autozig_buffer generate(uintptr_t n);" {
		t.Fatalf("unexpected prototype: %s", got)
	}
	if s.Return.Strategy != bridge.StrategyOwnedBuffer || s.Shim != nil {
		t.Fatalf("unexpected plan: %v shim=%v", s.Return.Strategy, s.Shim)
	}
	want := "return rt.TakeBuffer[int32](ret.ptr, uintptr(ret.len), uintptr(ret.cap), func() { C.autozig_buffer_free(ret) })"
	if !strings.Contains(s.Body, want) {
		t.Fatalf("unexpected body:\n%s", s.Body)
	}
	if s.Wrapper.Result.Go != "*rt.Buffer[int32]" {
		t.Fatalf("wrapper result = %s", s.Wrapper.Result.Go)
	}
}

func TestLower_Stream(t *testing.T) {
	s := lowerOne(t, New(testEnv()), Input{
		Name:   "ticks",
		Symbol: "ticks",
		Params: []idl.Param{{Name: "samples", Type: expr(t, "[]float32")}},
		Result: expr(t, "*rt.Stream[Vec3]"),
	})[0]
	if got := s.Native.Prototype(); got != "void ticks(const float* samples_ptr, size_t samples_len, uintptr_t sink);" {
		t.Fatalf("unexpected prototype: %s", got)
	}
	if !s.Wrapper.Async {
		t.Fatal("stream wrappers take a context")
	}
	if len(s.Wrapper.Params) != 1 {
		t.Fatalf("sink must not appear in the Go signature: %+v", s.Wrapper.Params)
	}
	if s.Return.Strategy != bridge.StrategyStream || s.Native.Result != "void" {
		t.Fatalf("unexpected result lowering: %v %s", s.Return.Strategy, s.Native.Result)
	}
	if strings.Contains(s.Body, "ret :=") {
		t.Fatalf("stream calls produce no raw result: %s", s.Body)
	}

	_, _, err := New(testEnv()).Lower(Input{
		Name:    "fill",
		Symbol:  "fill",
		Params:  []idl.Param{{Name: "out", Type: expr(t, "[]int32")}},
		Mutable: map[string]bool{"out": true},
		Result:  expr(t, "*rt.Stream[int32]"),
	})
	if err == nil || !strings.Contains(err.Error(), "//autozig:mut") {
		t.Fatalf("expected mut rejection, got %v", err)
	}
}
