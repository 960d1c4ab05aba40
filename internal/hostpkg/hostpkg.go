// Package hostpkg reads the top-level declarations of the Go package a
// bridge file is generated into.
package hostpkg

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	"github.com/layola13/autozig/internal/diag"
)

// Package holds the names a package declares outside generated files.
type Package struct {
	Dir  string
	Name string
	// Types, Funcs and Values map a name to where it is declared. Methods
	// are keyed "Type.Method".
	Types   map[string]diag.Pos
	Funcs   map[string]diag.Pos
	Methods map[string]diag.Pos
	Values  map[string]diag.Pos
}

// Lister lists the Go files of the package in dir.
type Lister interface {
	List(dir string) ([]string, error)
}

// Loader reads host packages.
type Loader interface {
	Load(dir string, skip ...string) (*Package, error)
}

type loaderImpl struct {
	lister Lister
}

type packagesLister struct{}

type globLister struct{}

// New returns a loader that lists files with go/packages, honoring build
// constraints, and falls back to every .go file in the directory when the
// go command cannot answer.
func New() Loader {
	return &loaderImpl{lister: fallbackLister{primary: packagesLister{}, fallback: globLister{}}}
}

// NewWithLister returns a loader over a custom lister.
func NewWithLister(l Lister) Loader {
	return &loaderImpl{lister: l}
}

// NewGlobLister lists every non-test .go file in a directory.
func NewGlobLister() Lister {
	return globLister{}
}

// Load parses the package in dir. Files named in skip, test files and files
// carrying a generated-code header are ignored.
func (l *loaderImpl) Load(dir string, skip ...string) (*Package, error) {
	files, err := l.lister.List(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	skipped := map[string]bool{}
	for _, s := range skip {
		skipped[filepath.Base(s)] = true
	}

	pkg := &Package{
		Dir:     dir,
		Types:   map[string]diag.Pos{},
		Funcs:   map[string]diag.Pos{},
		Methods: map[string]diag.Pos{},
		Values:  map[string]diag.Pos{},
	}
	fset := token.NewFileSet()
	for _, path := range files {
		if skipped[filepath.Base(path)] || strings.HasSuffix(path, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			Logger().Debug("host file skipped", zap.String("file", path), zap.Error(err))
			continue
		}
		if ast.IsGenerated(file) {
			continue
		}
		if pkg.Name == "" {
			pkg.Name = file.Name.Name
		}
		pkg.collect(fset, file)
	}
	return pkg, nil
}

func (p *Package) collect(fset *token.FileSet, file *ast.File) {
	pos := func(n ast.Node) diag.Pos { return diag.FromToken(fset.Position(n.Pos())) }
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil || len(d.Recv.List) == 0 {
				if d.Name.Name != "init" && d.Name.Name != "_" {
					p.Funcs[d.Name.Name] = pos(d)
				}
				continue
			}
			if recv := receiverType(d.Recv.List[0].Type); recv != "" {
				p.Methods[recv+"."+d.Name.Name] = pos(d)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					p.Types[s.Name.Name] = pos(s)
				case *ast.ValueSpec:
					for _, n := range s.Names {
						if n.Name != "_" {
							p.Values[n.Name] = pos(n)
						}
					}
				}
			}
		}
	}
}

// Declared reports where name is declared at package level, if anywhere.
func (p *Package) Declared(name string) (diag.Pos, bool) {
	for _, m := range []map[string]diag.Pos{p.Types, p.Funcs, p.Values} {
		if pos, ok := m[name]; ok {
			return pos, true
		}
	}
	return diag.Pos{}, false
}

// Names returns every package-level name in sorted order.
func (p *Package) Names() []string {
	var out []string
	for _, m := range []map[string]diag.Pos{p.Types, p.Funcs, p.Values} {
		for n := range m {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

func (packagesLister) List(dir string) ([]string, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles,
		Dir:  dir,
	}
	pkgs, err := packages.Load(cfg, ".")
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no package in %s", dir)
	}
	if len(pkgs[0].Errors) > 0 {
		return nil, pkgs[0].Errors[0]
	}
	return pkgs[0].GoFiles, nil
}

func (globLister) List(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.go"))
}

type fallbackLister struct {
	primary  Lister
	fallback Lister
}

func (l fallbackLister) List(dir string) ([]string, error) {
	files, err := l.primary.List(dir)
	if err == nil {
		return files, nil
	}
	Logger().Debug("go/packages unavailable, listing directory", zap.String("dir", dir), zap.Error(err))
	return l.fallback.List(dir)
}
