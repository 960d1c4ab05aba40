package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/hostpkg"
	"github.com/layola13/autozig/internal/toolchain"
)

// writeTree writes files under dir; ''' stands for a backtick.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(strings.ReplaceAll(content, "'''", "`")), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

type fakeCompiler struct {
	reqs []toolchain.Request
	err  error
}

func (c *fakeCompiler) Compile(_ context.Context, req toolchain.Request) error {
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return c.err
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return err
	}
	return os.WriteFile(req.Output, []byte("!<arch>\n"), 0o644)
}

type registrar struct {
	got []LinkDirectives
}

func (r *registrar) Register(d LinkDirectives) error {
	r.got = append(r.got, d)
	return nil
}

var geometryTree = map[string]string{
	"go.mod": "module example.com/geometry\n\ngo 1.26\n",
	"geometry.go": `package geometry

import "github.com/layola13/autozig"

var _ = autozig.Zig('''
const std = @import("std");

const Vec3 = struct { x: f32, y: f32, z: f32 };

export fn add(a: i32, b: i32) i32 {
    return a + b;
}

export fn make_vec(x: f32, y: f32, z: f32) Vec3 {
    return .{ .x = x, .y = y, .z = z };
}

export fn ramp() [4]u8 {
    return .{ 1, 2, 3, 4 };
}
---
type Vec3 struct {
	X, Y, Z float32
}

func add(a, b int32) int32

func make_vec(x, y, z float32) Vec3

func ramp() [4]uint8
''')
`,
	"ops.go": `package geometry

import "github.com/layola13/autozig"

var _ = autozig.IncludeZig("zig/ops.zig", '''
func mul(a, b int32) int32
''')

var _ = autozig.IncludeZig("zig/missing.zig", '''
func div(a, b int32) int32
''')
`,
	"zig/ops.zig": `const std = @import("std");

export fn mul(a: i32, b: i32) i32 {
    return a * b;
}
`,
	"zig/unused.zig": "export fn nothing() void {}\n",
}

func TestBuild_Geometry(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, geometryTree)
	comp := &fakeCompiler{}
	reg := &registrar{}
	opts := Options{
		Root:      root,
		Platform:  toolchain.Platform{GOOS: "linux", GOARCH: "amd64"},
		Compiler:  comp,
		Registrar: reg,
	}

	res, err := Build(context.Background(), opts)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if !res.Compiled || len(comp.reqs) != 1 {
		t.Fatalf("expected one compile, got %d (compiled=%v)", len(comp.reqs), res.Compiled)
	}
	req := comp.reqs[0]
	outDir := filepath.Join(root, DefaultOutDir)
	if req.Dir != outDir || req.Main != foreign.MainFile || req.Output != filepath.Join(outDir, "libautozig.a") {
		t.Fatalf("unexpected request: %+v", req)
	}

	main, err := os.ReadFile(filepath.Join(outDir, foreign.MainFile))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"fn ramp__autozig_impl() [4]u8",
		"export fn ramp() *const [4]u8",
		"export fn make_vec__ptr_variant(",
		"const Vec3 = extern struct",
		"export fn mul(a: i32, b: i32) i32",
	} {
		if !strings.Contains(string(main), want) {
			t.Fatalf("foreign source missing %q:\n%s", want, main)
		}
	}
	if n := strings.Count(string(main), `const std = @import("std");`); n != 1 {
		t.Fatalf("std import emitted %d times", n)
	}

	for _, tt := range []struct {
		name     string
		exported bool
		returns  bridge.Convention
	}{
		{"add", true, bridge.ConventionValue},
		{"make_vec", true, bridge.ConventionValue},
		{"make_vec__ptr_variant", true, bridge.ConventionPointer},
		{"ramp", true, bridge.ConventionPointer},
		{"ramp__autozig_impl", false, bridge.ConventionValue},
	} {
		s, ok := res.Symbols.Lookup(tt.name)
		if !ok || s.Exported != tt.exported || s.Returns != tt.returns {
			t.Fatalf("symbol %s = %+v, %v", tt.name, s, ok)
		}
	}

	if len(res.Packages) != 1 {
		t.Fatalf("expected one package, got %+v", res.Packages)
	}
	src, err := os.ReadFile(res.Packages[0].BridgeFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"package geometry",
		"#cgo LDFLAGS: -L${SRCDIR}/.autozig -lautozig",
		"func add(",
		"func make_vec__ptr_variant(",
		"func mul(",
	} {
		if !strings.Contains(string(src), want) {
			t.Fatalf("bridge missing %q:\n%s", want, src)
		}
	}
	if strings.Contains(string(src), "func div(") {
		t.Fatal("block with a missing include must be skipped")
	}

	var missing, unused bool
	for _, d := range res.Diagnostics {
		missing = missing || strings.Contains(d.Message, "zig/missing.zig")
		unused = unused || strings.Contains(d.Pos.File, "unused.zig")
	}
	if !missing || !unused {
		t.Fatalf("expected include diagnostics, got %v", res.Diagnostics)
	}
	if len(reg.got) != 1 || reg.got[0].SearchDir != outDir || reg.got[0].Library != DefaultLibrary {
		t.Fatalf("unexpected link directives: %+v", reg.got)
	}

	again, err := Build(context.Background(), opts)
	if err != nil {
		t.Fatalf("second Build error: %v", err)
	}
	if again.Compiled || len(comp.reqs) != 1 {
		t.Fatal("unchanged sources must not be recompiled")
	}
	if again.Fingerprint != res.Fingerprint {
		t.Fatalf("fingerprint changed: %s vs %s", res.Fingerprint, again.Fingerprint)
	}
	if len(reg.got) != 2 || reg.got[1] != reg.got[0] {
		t.Fatalf("link directives must be emitted again: %+v", reg.got)
	}

	if err := os.Remove(res.Artifact); err != nil {
		t.Fatal(err)
	}
	if _, err := Build(context.Background(), opts); err != nil {
		t.Fatal(err)
	}
	if len(comp.reqs) != 2 {
		t.Fatal("missing artifact must be rebuilt")
	}
}

func TestBuild_BuildZigMode(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, geometryTree)
	writeTree(t, root, map[string]string{"csrc/helper.c": "int helper(void) { return 1; }\n"})
	comp := &fakeCompiler{}

	_, err := Build(context.Background(), Options{
		Root:      root,
		OutDir:    "out",
		Mode:      foreign.ModeModularBuildZig,
		Library:   "geom",
		Compiler:  comp,
		Registrar: &registrar{},
	})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if comp.reqs[0].Mode != foreign.ModeModularBuildZig || comp.reqs[0].Library != "geom" {
		t.Fatalf("unexpected request: %+v", comp.reqs[0])
	}
	buildZig, err := os.ReadFile(filepath.Join(root, "out", foreign.BuildFile))
	if err != nil {
		t.Fatalf("build.zig not written: %v", err)
	}
	if !strings.Contains(string(buildZig), "helper.c") {
		t.Fatalf("C sources not wired:\n%s", buildZig)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "mod_0.zig")); err != nil {
		t.Fatalf("module file not written: %v", err)
	}
}

func TestBuild_CombinesHardErrors(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"go.mod": "module example.com/broken\n",
		"broken.go": `package broken

import az "github.com/layola13/autozig"

var _ = az.Zig('''
export fn sum(xs: [*]const i32, n: usize) i32 { _ = xs; _ = n; return 0; }
---
func sum[T any](xs []T) T
''')

var _ = az.Zig('''
export fn noop() void {}
---
var unused = 1
''')
`,
	})
	comp := &fakeCompiler{}
	_, err := Build(context.Background(), Options{Root: root, Compiler: comp, Registrar: &registrar{}})
	if err == nil {
		t.Fatal("expected error")
	}
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("expected two combined errors, got %v", errs)
	}
	if !errors.Is(err, &diag.Error{Phase: diag.PhaseParse, Kind: diag.KindEmpty}) {
		t.Fatalf("missing empty declarations error: %v", err)
	}
	if !errors.Is(err, &diag.Error{Phase: diag.PhaseExpand, Kind: diag.KindInvalidInput}) {
		t.Fatalf("missing monomorphize error: %v", err)
	}
	if len(comp.reqs) != 0 {
		t.Fatal("compile must not run after a hard error")
	}
}

func TestBuild_DuplicateSymbols(t *testing.T) {
	root := t.TempDir()
	block := `var _ = autozig.Zig('''
export fn add(a: i32, b: i32) i32 { return a + b; }
---
func add(a, b int32) int32
''')
`
	writeTree(t, root, map[string]string{
		"go.mod":  "module example.com/dup\n",
		"a/a.go":  "package a\n\nimport \"github.com/layola13/autozig\"\n\n" + block,
		"b/b.go":  "package b\n\nimport \"github.com/layola13/autozig\"\n\n" + block,
		"b/b2.go": "package b\n",
	})
	_, err := Build(context.Background(), Options{Root: root, Compiler: &fakeCompiler{}, Registrar: &registrar{}})
	if !errors.Is(err, &diag.Error{Phase: diag.PhaseGenerate, Kind: diag.KindDuplicate}) {
		t.Fatalf("expected duplicate symbol error, got %v", err)
	}
}

func TestBuild_HostCollision(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, geometryTree)
	writeTree(t, root, map[string]string{
		"host.go": "package geometry\n\nfunc add(a, b int32) int32 { return a + b }\n",
	})
	comp := &fakeCompiler{}
	_, err := Build(context.Background(), Options{
		Root:      root,
		Compiler:  comp,
		Registrar: &registrar{},
		Host:      hostpkg.NewWithLister(hostpkg.NewGlobLister()),
	})
	if !errors.Is(err, &diag.Error{Phase: diag.PhaseGenerate, Kind: diag.KindCollision}) {
		t.Fatalf("expected collision error, got %v", err)
	}
	if !strings.Contains(err.Error(), "host.go") {
		t.Fatalf("error must point at the host declaration: %v", err)
	}
	if len(comp.reqs) != 0 {
		t.Fatal("compile must not run after a collision")
	}
}

func TestBuild_CompileFailure(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, geometryTree)
	comp := &fakeCompiler{err: diag.Tool("zig build-lib", errors.New("exit status 1"))}

	_, err := Build(context.Background(), Options{Root: root, Compiler: comp, Registrar: &registrar{}})
	if !errors.Is(err, &diag.Error{Phase: diag.PhaseCompile, Kind: diag.KindTool}) {
		t.Fatalf("expected tool error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, DefaultOutDir, HashFile)); !os.IsNotExist(err) {
		t.Fatal("fingerprint must not be written after a failed compile")
	}
	if _, err := os.Stat(filepath.Join(root, DefaultBridgeFile)); !os.IsNotExist(err) {
		t.Fatal("bridge must not be written after a failed compile")
	}
}

func TestBuild_NoBlocks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})
	comp := &fakeCompiler{}
	res, err := Build(context.Background(), Options{Root: root, Compiler: comp})
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if len(res.Packages) != 0 || len(comp.reqs) != 0 {
		t.Fatalf("nothing to do expected, got %+v", res)
	}
}

func TestResolveInclude(t *testing.T) {
	modRoot := t.TempDir()
	host := filepath.Join(modRoot, "pkg")
	writeTree(t, modRoot, map[string]string{
		"shared/a.zig": "",
		"pkg/local.zig": "",
	})

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"shared/a.zig", filepath.Join(modRoot, "shared", "a.zig"), false},
		{"local.zig", filepath.Join(host, "local.zig"), false},
		{"shared", "", true},
		{"nope.zig", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := resolveInclude(tt.path, modRoot, host)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveInclude error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("resolveInclude = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModuleRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"go.mod":          "module example.com/nested\n",
		"a/b/placeholder": "",
	})
	dir, path := moduleRoot(filepath.Join(root, "a", "b"))
	if dir != root || path != "example.com/nested" {
		t.Fatalf("moduleRoot = %q, %q", dir, path)
	}
}

func TestLinkDir(t *testing.T) {
	if got := linkDir("/src/app/pkg", "/src/app/.autozig"); got != "../.autozig" {
		t.Fatalf("got %q", got)
	}
	if got := (LinkDirectives{SearchDir: "/out", Library: "z"}).Flags(); got != "-L/out -lz" {
		t.Fatalf("got %q", got)
	}
}
