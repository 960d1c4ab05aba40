package scanner

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/tools/go/ast/inspector"

	"github.com/layola13/autozig"
	"github.com/layola13/autozig/internal/diag"
)

// MarkerImportPath is the import path of the marker package.
const MarkerImportPath = "github.com/layola13/autozig"

// Form is the shape of an embedded block.
type Form int

const (
	FormInline Form = iota
	FormInclude
)

func (f Form) String() string {
	if f == FormInclude {
		return "include"
	}
	return "inline"
}

// Block is one embedded foreign-code site.
type Block struct {
	Form Form
	// Code is the foreign text of an inline block.
	Code string
	// Path is the external file reference of an include block, as written.
	Path  string
	Decls string
	// DeclLine is the host line on which the declaration text starts.
	DeclLine int
	File     string
	Dir      string
	Package  string
	Pos      diag.Pos
}

// Result is the output of one scan.
type Result struct {
	Blocks []Block
	// ZigFiles and CFiles are standalone sources found under the root.
	ZigFiles    []string
	CFiles      []string
	Files       int
	Diagnostics diag.List
}

// Scanner locates embedded blocks in a Go source tree.
type Scanner interface {
	Scan(root string) (*Result, error)
}

// Option configures a scanner.
type Option func(*scannerImpl)

// WithSkipDirs excludes additional directories, given relative to the root.
func WithSkipDirs(dirs ...string) Option {
	return func(s *scannerImpl) {
		for _, d := range dirs {
			s.skip[filepath.Clean(d)] = true
		}
	}
}

type scannerImpl struct {
	skip map[string]bool
}

// New creates a scanner.
func New(opts ...Option) Scanner {
	s := &scannerImpl{skip: map[string]bool{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan walks root. A file that fails to parse is reported and skipped; only
// an unreadable root aborts the scan.
func (s *scannerImpl) Scan(root string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, diag.Wrap(diag.PhaseScan, diag.KindIO, err, "stat source root "+root)
	}
	if !info.IsDir() {
		return nil, diag.InvalidInput(diag.PhaseScan, diag.Pos{File: root}, "source root is not a directory")
	}

	res := &Result{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			res.Diagnostics.Add(diag.Warnf(diag.PhaseScan, diag.Pos{File: path}, "%v", walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && s.skipDir(root, path, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}

		switch filepath.Ext(path) {
		case ".go":
			if strings.HasSuffix(path, "_test.go") {
				return nil
			}
			s.scanFile(path, res)
		case ".zig":
			res.ZigFiles = append(res.ZigFiles, path)
		case ".c":
			res.CFiles = append(res.CFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, diag.Wrap(diag.PhaseScan, diag.KindIO, err, "walk "+root)
	}

	Logger().Debug("scan complete",
		zap.String("root", root),
		zap.Int("files", res.Files),
		zap.Int("blocks", len(res.Blocks)),
		zap.Int("diagnostics", len(res.Diagnostics)),
	)
	return res, nil
}

func (s *scannerImpl) skipDir(root, path, name string) bool {
	if name == "vendor" || name == "testdata" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	rel, err := filepath.Rel(root, path)
	return err == nil && s.skip[rel]
}

func (s *scannerImpl) scanFile(path string, res *Result) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		Logger().Warn("skipping unparsable file", zap.String("file", path), zap.Error(err))
		res.Diagnostics.Add(diag.Warnf(diag.PhaseScan, diag.Pos{File: path}, "parse failed, file skipped: %v", err))
		return
	}
	res.Files++
	if ast.IsGenerated(file) {
		return
	}

	local, dot := markerImportName(file)
	if local == "" && !dot {
		return
	}

	v := &visitor{
		fset:  fset,
		file:  path,
		pkg:   file.Name.Name,
		local: local,
		dot:   dot,
		res:   res,
	}
	insp := inspector.New([]*ast.File{file})
	insp.Preorder([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node) {
		v.visitCall(n.(*ast.CallExpr))
	})
}

// markerImportName returns the local name the file binds the marker package
// to, or dot when it is dot-imported.
func markerImportName(file *ast.File) (local string, dot bool) {
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil || p != MarkerImportPath {
			continue
		}
		if imp.Name == nil {
			return "autozig", false
		}
		switch imp.Name.Name {
		case ".":
			return "", true
		case "_":
			return "", false
		default:
			return imp.Name.Name, false
		}
	}
	return "", false
}

type visitor struct {
	fset  *token.FileSet
	file  string
	pkg   string
	local string
	dot   bool
	res   *Result
}

func (v *visitor) marker(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.SelectorExpr:
		if id, ok := f.X.(*ast.Ident); ok && v.local != "" && id.Name == v.local {
			return f.Sel.Name
		}
	case *ast.Ident:
		if v.dot {
			return f.Name
		}
	}
	return ""
}

func (v *visitor) visitCall(call *ast.CallExpr) {
	name := v.marker(call.Fun)
	if name != "Zig" && name != "IncludeZig" {
		return
	}
	pos := diag.FromToken(v.fset.Position(call.Pos()))
	block := Block{
		File:    v.file,
		Dir:     filepath.Dir(v.file),
		Package: v.pkg,
		Pos:     pos,
	}

	switch name {
	case "Zig":
		if len(call.Args) != 1 {
			v.res.Diagnostics.Add(diag.Errorf(diag.PhaseScan, pos, "autozig.Zig takes exactly one argument"))
			return
		}
		src, line, err := v.literal(call.Args[0])
		if err != nil {
			v.res.Diagnostics.Add(diag.Errorf(diag.PhaseScan, pos, "autozig.Zig: %v", err))
			return
		}
		code, decls := autozig.Split(src)
		block.Form = FormInline
		block.Code = code
		block.Decls = decls
		block.DeclLine = line + strings.Count(code, "\n") + 1
	case "IncludeZig":
		if len(call.Args) != 2 {
			v.res.Diagnostics.Add(diag.Errorf(diag.PhaseScan, pos, "autozig.IncludeZig takes a path and declaration text"))
			return
		}
		path, _, err := v.literal(call.Args[0])
		if err != nil {
			v.res.Diagnostics.Add(diag.Errorf(diag.PhaseScan, pos, "autozig.IncludeZig path: %v", err))
			return
		}
		decls, line, err := v.literal(call.Args[1])
		if err != nil {
			v.res.Diagnostics.Add(diag.Errorf(diag.PhaseScan, pos, "autozig.IncludeZig declarations: %v", err))
			return
		}
		block.Form = FormInclude
		block.Path = strings.TrimSpace(path)
		block.Decls = decls
		block.DeclLine = line
	}
	v.res.Blocks = append(v.res.Blocks, block)
}

// literal evaluates a string literal or a concatenation of literals and
// returns its value with the line it starts on.
func (v *visitor) literal(expr ast.Expr) (string, int, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind != token.STRING {
			return "", 0, fmt.Errorf("argument must be a string literal")
		}
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return "", 0, fmt.Errorf("unquote: %w", err)
		}
		return s, v.fset.Position(e.Pos()).Line, nil
	case *ast.ParenExpr:
		return v.literal(e.X)
	case *ast.BinaryExpr:
		if e.Op != token.ADD {
			break
		}
		left, line, err := v.literal(e.X)
		if err != nil {
			return "", 0, err
		}
		right, _, err := v.literal(e.Y)
		if err != nil {
			return "", 0, err
		}
		return left + right, line, nil
	}
	return "", 0, fmt.Errorf("argument must be a string literal")
}
