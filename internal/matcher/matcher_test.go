package matcher

import (
	"strings"
	"testing"

	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/idl"
)

func mustDecls(t *testing.T, src string) *idl.Decls {
	t.Helper()
	decls, _, err := idl.New().Parse(src, idl.Origin{File: "m.go", Line: 1})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return decls
}

func TestStructMatcher_MatchStructs_CaseInsensitive(t *testing.T) {
	goTypes := []*idl.TypeDecl{
		{Name: "Vec3", Kind: idl.TypeStruct},
		{Name: "Status", Kind: idl.TypeNamed},
		{Name: "Only", Kind: idl.TypeStruct},
	}
	zig := []*foreign.Struct{{Name: "vec3"}, {Name: "Status"}, {Name: "Other"}}

	pairs := NewStructMatcher().MatchStructs(goTypes, zig)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].Go.Name != "Vec3" || pairs[0].Zig.Name != "vec3" {
		t.Fatalf("unexpected pair: %#v", pairs[0])
	}
}

func TestFieldMatcher_Match_KeepsMissing(t *testing.T) {
	g := &idl.TypeDecl{Name: "P", Kind: idl.TypeStruct, Fields: []idl.Field{{Name: "X"}, {Name: "Y"}, {Name: "W"}}}
	z := &foreign.Struct{Name: "P", Fields: []foreign.Field{{Name: "y", Type: "f32"}, {Name: "x", Type: "f32"}}}

	pairs := NewFieldMatcher().Match(g, z)
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
	if pairs[0].Zig == nil || pairs[0].Zig.Name != "x" {
		t.Fatalf("X must pair with x: %#v", pairs[0])
	}
	if pairs[2].Zig != nil {
		t.Fatalf("W has no counterpart: %#v", pairs[2])
	}
}

func TestChecker_Check(t *testing.T) {
	const goDecls = `
type Status int32

type Vec3 struct {
	X, Y, Z float32
}

type Frame struct {
	Origin Vec3
	M      [4]float32
	Tag    Status
}

type Pixel struct {
	R, G uint8
}

type Swapped struct {
	A int32
	B int64
}

type Short struct {
	A int32
	B int32
}

func f(v Vec3) float32
`
	tests := []struct {
		name string
		zig  string
		want []string
	}{
		{
			name: "matching layouts",
			zig: `
const Status = i32;
const Vec3 = extern struct { x: f32, y: f32, z: f32 };
const Frame = extern struct { origin: Vec3, m: [4]f32, tag: Status };
`,
		},
		{
			name: "named scalar by underlying type",
			zig:  `const Frame = extern struct { origin: Vec3, m: [4] f32, tag: i32 };`,
		},
		{
			name: "type mismatch",
			zig:  `const Vec3 = extern struct { x: f32, y: f64, z: f32 };`,
			want: []string{"field Y is float32 in Go (f32 in Zig terms) but f64 in Zig"},
		},
		{
			name: "packed",
			zig:  `const Pixel = packed struct { r: u8, g: u8 };`,
			want: []string{"struct Pixel: Zig declares a packed layout"},
		},
		{
			name: "order",
			zig:  `const Swapped = extern struct { b: i64, a: i32 };`,
			want: []string{"field A is at position 1", "field B is at position 2"},
		},
		{
			name: "count and missing",
			zig:  `const Short = extern struct { a: i32, c: i32, d: i32 };`,
			want: []string{"Go declares 2 fields, Zig declares 3", "field B has no Zig counterpart"},
		},
	}
	decls := mustDecls(t, goDecls)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := NewChecker().Check(decls, foreign.Parse(tt.zig))
			if len(tt.want) == 0 && len(diags) != 0 {
				t.Fatalf("unexpected diagnostics: %v", diags)
			}
			if len(diags) != len(tt.want) {
				t.Fatalf("expected %d diagnostics, got %v", len(tt.want), diags)
			}
			for i, want := range tt.want {
				if !strings.Contains(diags[i].Message, want) {
					t.Fatalf("diagnostic %d = %q, want %q", i, diags[i].Message, want)
				}
				if diags[i].Severity != diag.SeverityWarning || diags[i].Phase != diag.PhaseForeign {
					t.Fatalf("unexpected severity or phase: %v", diags[i])
				}
			}
		})
	}
}
