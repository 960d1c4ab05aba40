package foreign

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
)

// Mode selects how the foreign source set is laid out.
type Mode int

const (
	// ModeMerged concatenates every block into one root file.
	ModeMerged Mode = iota
	// ModeModularImport writes one file per block and a root that imports
	// them at comptime.
	ModeModularImport
	// ModeModularBuildZig writes the modular layout plus a build.zig that
	// also compiles collected C sources.
	ModeModularBuildZig
)

func (m Mode) String() string {
	switch m {
	case ModeModularImport:
		return "modular_import"
	case ModeModularBuildZig:
		return "modular_buildzig"
	default:
		return "merged"
	}
}

// ParseMode parses a mode name. The empty string is merged.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "merged":
		return ModeMerged, nil
	case "modular_import", "modular-import":
		return ModeModularImport, nil
	case "modular_buildzig", "modular-buildzig", "buildzig":
		return ModeModularBuildZig, nil
	default:
		return ModeMerged, fmt.Errorf("unknown compilation mode %q (want merged, modular_import or modular_buildzig)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Names of emitted files.
const (
	MainFile   = "autozig.zig"
	BuildFile  = "build.zig"
	CSourceDir = "csrc"
)

// Unit is the Zig text of one embedded block together with the specs
// generated from its declarations.
type Unit struct {
	// Origin names the block for comments and logs, usually file:line.
	Origin string
	Text   string
	Specs  []*bridge.Spec
}

// File is one emitted file, relative to the output directory.
type File struct {
	Path    string
	Content []byte
}

// Set is the complete foreign source set handed to the toolchain.
type Set struct {
	Mode  Mode
	Main  string
	Files []File
}

// Emitter lays out units into a source set.
type Emitter struct {
	mode   Mode
	lib    string
	cfiles []string
	readC  func(string) ([]byte, error)
}

// EmitOption configures an Emitter.
type EmitOption func(*Emitter)

// WithCSources adds C files compiled by the build.zig mode.
func WithCSources(paths ...string) EmitOption {
	return func(e *Emitter) { e.cfiles = append(e.cfiles, paths...) }
}

// WithLibrary sets the static library name used by build.zig.
func WithLibrary(name string) EmitOption {
	return func(e *Emitter) { e.lib = name }
}

// NewEmitter creates an emitter for mode.
func NewEmitter(mode Mode, opts ...EmitOption) *Emitter {
	e := &Emitter{mode: mode, lib: "autozig", readC: os.ReadFile}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit rewrites every unit and lays the result out according to the mode.
func (e *Emitter) Emit(units []Unit) (*Set, error) {
	rewritten := make([]string, 0, len(units))
	for _, u := range units {
		text, err := Rewrite(u.Text, u.Specs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Origin, err)
		}
		rewritten = append(rewritten, text)
	}

	set := &Set{Mode: e.mode, Main: MainFile}
	switch e.mode {
	case ModeMerged:
		var b strings.Builder
		seen := false
		for i, text := range rewritten {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "// from %s\n", units[i].Origin)
			b.WriteString(DedupeStd(text, &seen))
			b.WriteString("\n")
		}
		set.Files = append(set.Files, File{Path: MainFile, Content: []byte(b.String())})
	case ModeModularImport, ModeModularBuildZig:
		var root strings.Builder
		root.WriteString("comptime {\n")
		for i, text := range rewritten {
			name := fmt.Sprintf("mod_%d.zig", i)
			content := fmt.Sprintf("// from %s\n%s\n", units[i].Origin, strings.TrimRight(text, "\n"))
			set.Files = append(set.Files, File{Path: name, Content: []byte(content)})
			fmt.Fprintf(&root, "    _ = @import(%q);\n", name)
		}
		root.WriteString("}\n")
		set.Files = append(set.Files, File{Path: MainFile, Content: []byte(root.String())})

		if e.mode == ModeModularBuildZig {
			files, err := e.cSources()
			if err != nil {
				return nil, err
			}
			set.Files = append(set.Files, files...)
			set.Files = append(set.Files, File{Path: BuildFile, Content: []byte(e.buildZig(files))})
		}
	}

	Logger().Debug("emitted foreign source set",
		zap.Stringer("mode", e.mode),
		zap.Int("units", len(units)),
		zap.Int("files", len(set.Files)),
	)
	return set, nil
}

func (e *Emitter) cSources() ([]File, error) {
	paths := append([]string(nil), e.cfiles...)
	sort.Strings(paths)
	used := map[string]int{}
	out := make([]File, 0, len(paths))
	for _, p := range paths {
		data, err := e.readC(p)
		if err != nil {
			return nil, fmt.Errorf("read C source: %w", err)
		}
		base := filepath.Base(p)
		if n := used[base]; n > 0 {
			base = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(base, ".c"), n, ".c")
		}
		used[filepath.Base(p)]++
		out = append(out, File{Path: CSourceDir + "/" + base, Content: data})
	}
	return out, nil
}

func (e *Emitter) buildZig(cfiles []File) string {
	var b strings.Builder
	b.WriteString("const std = @import(\"std\");\n\n")
	b.WriteString("pub fn build(b: *std.Build) void {\n")
	b.WriteString("    const target = b.standardTargetOptions(.{});\n")
	b.WriteString("    const optimize = b.standardOptimizeOption(.{});\n")
	b.WriteString("    const lib = b.addStaticLibrary(.{\n")
	fmt.Fprintf(&b, "        .name = %q,\n", e.lib)
	fmt.Fprintf(&b, "        .root_source_file = b.path(%q),\n", MainFile)
	b.WriteString("        .target = target,\n")
	b.WriteString("        .optimize = optimize,\n")
	b.WriteString("    });\n")
	b.WriteString("    lib.linkLibC();\n")
	b.WriteString("    lib.root_module.pic = true;\n")
	for _, f := range cfiles {
		fmt.Fprintf(&b, "    lib.addCSourceFile(.{ .file = b.path(%q), .flags = &.{\"-std=c11\"} });\n", f.Path)
	}
	b.WriteString("    b.installArtifact(lib);\n")
	b.WriteString("}\n")
	return b.String()
}

// Fingerprint hashes every file path and content of the set.
func (s *Set) Fingerprint() string {
	files := append([]File(nil), s.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	h := sha256.New()
	fmt.Fprintf(h, "mode=%s\n", s.Mode)
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00%d\x00", f.Path, len(f.Content))
		h.Write(f.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Write stores the set under dir, leaving unchanged files untouched.
// It returns the paths it wrote.
func (s *Set) Write(dir string) ([]string, error) {
	var written []string
	for _, f := range s.Files {
		path := filepath.Join(dir, filepath.FromSlash(f.Path))
		if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, f.Content) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, f.Content, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// File returns the content of the file at path.
func (s *Set) File(path string) ([]byte, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f.Content, true
		}
	}
	return nil, false
}
