package generator

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"golang.org/x/tools/imports"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/idl"
	"github.com/layola13/autozig/internal/lowering"
)

//go:embed templates/*.go.tmpl
var templateFS embed.FS

// Import paths of the runtime support packages.
const (
	RuntimeImport  = "github.com/layola13/autozig/rt"
	CallbackImport = "github.com/layola13/autozig/rt/callback"
)

// bufferPreamble declares the ownership-transfer record and the helper
// that calls its free callback, which Go cannot call directly.
var bufferPreamble = "typedef struct {\n" +
	"    void* ptr;\n" +
	"    size_t len;\n" +
	"    size_t cap;\n" +
	"    void (*free_fn)(void*, size_t, size_t);\n" +
	"} " + bridge.BufferCType + ";\n\n" +
	"static void " + lowering.BufferFree + "(" + bridge.BufferCType + " b) {\n" +
	"    if (b.free_fn != NULL) {\n" +
	"        b.free_fn(b.ptr, b.len, b.cap);\n" +
	"    }\n" +
	"}"

func usesBuffers(specs []*bridge.Spec) bool {
	for _, s := range specs {
		if s.Return.Strategy == bridge.StrategyOwnedBuffer {
			return true
		}
	}
	return false
}

// Generator renders cgo bridge files.
type Generator interface {
	Generate(cfg Config, b *Bridge) error
	Render(b *Bridge) ([]byte, error)
}

// Config is the minimum config contract required by generator.
type Config interface {
	OutputFilename() string
}

// Formatter formats generated Go code and organizes imports.
type Formatter interface {
	Format(filename string, src []byte) ([]byte, error)
}

// FileWriter writes generated code to disk.
type FileWriter interface {
	Write(filename string, data []byte) error
}

// Bridge is everything one Go package's bridge file declares.
type Bridge struct {
	Package string
	// LinkDir is the library directory relative to the package directory.
	LinkDir string
	Library string
	Types   []*idl.TypeDecl
	Consts  []string
	// Handles holds synthesized opaque handle types.
	Handles    []string
	Assertions []string
	Specs      []*bridge.Spec
}

type generatorImpl struct {
	formatter Formatter
	writer    FileWriter
	tmpl      *template.Template
}

type goimportsFormatter struct{}

type fileWriter struct{}

type templateData struct {
	Package    string
	LDFlags    []string
	Typedefs   []string
	Prototypes []string
	Imports    []string
	Decls      []string
}

// New creates a bridge generator.
func New(f Formatter, w FileWriter) Generator {
	tmpl := template.Must(template.New("").ParseFS(templateFS, "templates/*.go.tmpl"))
	return &generatorImpl{formatter: f, writer: w, tmpl: tmpl}
}

// NewGoimportsFormatter creates a formatter backed by goimports.
func NewGoimportsFormatter() Formatter {
	return &goimportsFormatter{}
}

// NewFileWriter creates a writer that leaves files with identical content
// untouched, so unchanged bridges do not trigger rebuilds.
func NewFileWriter() FileWriter {
	return &fileWriter{}
}

func (g *generatorImpl) Generate(cfg Config, b *Bridge) error {
	src, err := g.Render(b)
	if err != nil {
		return err
	}
	formatted, err := g.formatter.Format(cfg.OutputFilename(), src)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if err := g.writer.Write(cfg.OutputFilename(), formatted); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (g *generatorImpl) Render(b *Bridge) ([]byte, error) {
	if b.Package == "" {
		return nil, fmt.Errorf("bridge has no package name")
	}
	data := buildTemplateData(b)
	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, "bridge.go.tmpl", data); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *goimportsFormatter) Format(filename string, src []byte) ([]byte, error) {
	return imports.Process(filename, src, nil)
}

func (w *fileWriter) Write(filename string, data []byte) error {
	if old, err := os.ReadFile(filename); err == nil && bytes.Equal(old, data) {
		Logger().Debug("bridge unchanged", zap.String("file", filename))
		return nil
	}
	return os.WriteFile(filename, data, 0o644)
}

func buildTemplateData(b *Bridge) templateData {
	data := templateData{Package: b.Package}
	if b.Library != "" {
		dir := "${SRCDIR}"
		if b.LinkDir != "" && b.LinkDir != "." {
			dir += "/" + b.LinkDir
		}
		data.LDFlags = append(data.LDFlags, fmt.Sprintf("-L%s -l%s", dir, b.Library))
	}

	data.Typedefs = structTypedefs(b.Types)
	if usesBuffers(b.Specs) {
		data.Typedefs = append(data.Typedefs, bufferPreamble)
	}

	seen := map[string]bool{}
	for _, s := range b.Specs {
		if s.Native.Symbol == "" || seen[s.Native.Symbol] {
			continue
		}
		seen[s.Native.Symbol] = true
		data.Prototypes = append(data.Prototypes, s.Native.Prototype())
	}

	for _, t := range b.Types {
		data.Decls = append(data.Decls, strings.TrimSpace(t.Source))
	}
	for _, c := range b.Consts {
		data.Decls = append(data.Decls, strings.TrimSpace(c))
	}
	for _, h := range b.Handles {
		data.Decls = append(data.Decls, strings.TrimSpace(h))
	}
	for _, a := range b.Assertions {
		data.Decls = append(data.Decls, a)
	}
	for _, s := range b.Specs {
		data.Decls = append(data.Decls, renderSpec(s))
	}

	data.Imports = detectImports(data.Decls)
	return data
}

// renderSpec renders the Go declaration of one spec.
func renderSpec(s *bridge.Spec) string {
	if s.Source != "" {
		return strings.TrimSpace(s.Source)
	}
	var b strings.Builder
	b.WriteString(signature(s))
	b.WriteString(" {\n")
	b.WriteString(renderBody(s.Body))
	b.WriteString("}")
	return b.String()
}

func signature(s *bridge.Spec) string {
	w := s.Wrapper
	var b strings.Builder
	b.WriteString("func ")
	if w.Receiver != nil {
		fmt.Fprintf(&b, "(%s *%s) ", w.Receiver.Name, w.Receiver.Type)
	}
	b.WriteString(w.Name)
	b.WriteByte('(')
	params := make([]string, 0, len(w.Params)+1)
	if w.Async {
		params = append(params, "ctx context.Context")
	}
	for _, p := range w.Params {
		params = append(params, p.Name+" "+p.Type.Go)
	}
	b.WriteString(strings.Join(params, ", "))
	b.WriteByte(')')

	result := w.Result.Go
	if w.Result.Kind == bridge.KindVoid {
		result = ""
	}
	switch {
	case w.Async && result == "":
		b.WriteString(" error")
	case w.Async:
		b.WriteString(" (" + result + ", error)")
	case result != "":
		b.WriteString(" " + result)
	}
	return b.String()
}

// renderBody indents every non-empty body line by one tab.
func renderBody(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	var b strings.Builder
	remaining := body
	for {
		line, rest, found := strings.Cut(remaining, "\n")
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) != "" {
			b.WriteString("\t")
			b.WriteString(trimmed)
			b.WriteString("\n")
		}
		if !found {
			break
		}
		remaining = rest
	}
	return b.String()
}

var knownImports = []struct {
	qualifier string
	path      string
}{
	{"context.", "context"},
	{"runtime.", "runtime"},
	{"slices.", "slices"},
	{"strings.", "strings"},
	{"unsafe.", "unsafe"},
	{"rt.", RuntimeImport},
	{"callback.", CallbackImport},
}

// detectImports lists the packages referenced by rendered declarations.
// goimports drops any that end up unused.
func detectImports(decls []string) []string {
	var out []string
	for _, imp := range knownImports {
		for _, d := range decls {
			if mentions(d, imp.qualifier) {
				out = append(out, imp.path)
				break
			}
		}
	}
	return out
}

// mentions reports whether qualifier appears as a package selector rather
// than as the tail of a longer identifier.
func mentions(src, qualifier string) bool {
	for i := 0; ; {
		j := strings.Index(src[i:], qualifier)
		if j < 0 {
			return false
		}
		j += i
		if j == 0 || !isIdentByte(src[j-1]) && src[j-1] != '.' {
			return true
		}
		i = j + len(qualifier)
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
