package idl

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/scanner"
	"go/token"
	"strings"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/diag"
)

// Origin locates declaration text inside its host file.
type Origin struct {
	File string
	Line int
}

// Parser turns declaration text into the typed model.
type Parser interface {
	Parse(text string, origin Origin) (*Decls, diag.List, error)
}

type parserImpl struct{}

// New returns the default declaration parser.
func New() Parser {
	return &parserImpl{}
}

// Parse parses one block's declarations. Items that fail to parse are
// reported as diagnostics and skipped. A block with declarations but none
// usable is a hard error.
func (p *parserImpl) Parse(text string, origin Origin) (*Decls, diag.List, error) {
	decls := &Decls{}
	var diags diag.List
	if strings.TrimSpace(text) == "" {
		return decls, nil, nil
	}

	fset := token.NewFileSet()
	line := origin.Line
	if line < 1 {
		line = 1
	}
	src := fmt.Sprintf("package autozigdecl\n//line %s:%d\n%s", lineFile(origin.File), line, text)
	file, err := parser.ParseFile(fset, origin.File, src, parser.ParseComments|parser.AllErrors|parser.SkipObjectResolution)
	if file == nil {
		return nil, nil, diag.New(diag.PhaseParse, diag.KindSyntax).
			At(diag.Pos{File: origin.File, Line: line}).
			Cause(err).
			Detail("declaration text").
			Build()
	}
	var list scanner.ErrorList
	if errors.As(err, &list) {
		for _, e := range list {
			diags.Add(diag.Errorf(diag.PhaseParse, diag.FromToken(e.Pos), "%s", e.Msg))
		}
	} else if err != nil {
		diags.Add(diag.Errorf(diag.PhaseParse, diag.Pos{File: origin.File, Line: line}, "%v", err))
	}

	c := &collector{fset: fset, decls: decls, diags: &diags, declared: map[string]bool{}}
	c.collectOpaque(file)
	c.collectImpls(file)
	c.collectRest(file)
	c.linkInterfaces()

	if decls.Empty() && (len(file.Decls) > 0 || len(diags) > 0) {
		return nil, diags, diag.EmptyDeclarations(diag.Pos{File: origin.File, Line: line})
	}

	Logger().Debug("parsed declarations",
		zap.String("file", origin.File),
		zap.Int("funcs", len(decls.Funcs)),
		zap.Int("types", len(decls.Types)),
		zap.Int("impls", len(decls.Impls)),
		zap.Int("diagnostics", len(diags)),
	)
	return decls, diags, nil
}

// lineFile escapes a path for use in a //line directive.
func lineFile(name string) string {
	if name == "" {
		return "decls"
	}
	return name
}

type collector struct {
	fset     *token.FileSet
	decls    *Decls
	diags    *diag.List
	declared map[string]bool
}

func (c *collector) pos(p token.Pos) diag.Pos {
	return diag.FromToken(c.fset.Position(p))
}

func (c *collector) print(node any) string {
	var buf bytes.Buffer
	cfg := printer.Config{Mode: printer.UseSpaces | printer.TabIndent, Tabwidth: 8}
	if err := cfg.Fprint(&buf, c.fset, node); err != nil {
		return ""
	}
	return buf.String()
}

func typeSpecs(file *ast.File) []*ast.TypeSpec {
	var out []*ast.TypeSpec
	for _, d := range file.Decls {
		gen, ok := d.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, s := range gen.Specs {
			out = append(out, s.(*ast.TypeSpec))
		}
	}
	return out
}

// isOpaqueShape matches a struct with one embedded field of the sentinel type.
func isOpaqueShape(spec *ast.TypeSpec) bool {
	st, ok := spec.Type.(*ast.StructType)
	if !ok || spec.TypeParams != nil || st.Fields == nil || len(st.Fields.List) != 1 {
		return false
	}
	f := st.Fields.List[0]
	if len(f.Names) != 0 {
		return false
	}
	id, ok := f.Type.(*ast.Ident)
	return ok && id.Name == OpaqueSentinel
}

func (c *collector) collectOpaque(file *ast.File) {
	for _, spec := range typeSpecs(file) {
		c.declared[spec.Name.Name] = true
		if isOpaqueShape(spec) {
			c.decls.Opaque = append(c.decls.Opaque, spec.Name.Name)
		}
	}
}

func (c *collector) collectImpls(file *ast.File) {
	for _, d := range file.Decls {
		fd, ok := d.(*ast.FuncDecl)
		if !ok {
			continue
		}
		dirs := parseDirectives(fd.Doc)
		switch {
		case fd.Recv != nil:
			c.reportUnknown(fd, dirs)
			c.addMethod(fd, dirs)
		case dirs.constructor:
			c.reportUnknown(fd, dirs)
			c.addConstructor(fd, dirs)
		}
	}
}

func (c *collector) implFor(typeName string, pos diag.Pos) *Impl {
	if impl := c.decls.Impl(typeName); impl != nil {
		return impl
	}
	impl := &Impl{Type: typeName, Opaque: c.decls.IsOpaque(typeName), Pos: pos}
	c.decls.Impls = append(c.decls.Impls, impl)
	return impl
}

func receiverType(fd *ast.FuncDecl) (name string, pointer bool, ok bool) {
	if fd.Recv == nil || len(fd.Recv.List) != 1 {
		return "", false, false
	}
	expr := fd.Recv.List[0].Type
	if star, isStar := expr.(*ast.StarExpr); isStar {
		pointer = true
		expr = star.X
	}
	id, isIdent := expr.(*ast.Ident)
	if !isIdent {
		return "", false, false
	}
	return id.Name, pointer, true
}

func (c *collector) addMethod(fd *ast.FuncDecl, dirs directives) {
	pos := c.pos(fd.Pos())
	typeName, pointer, ok := receiverType(fd)
	if !ok {
		c.diags.Add(diag.Errorf(diag.PhaseParse, pos, "method %s: unsupported receiver", fd.Name.Name))
		return
	}
	m, err := c.method(fd, dirs)
	if err != nil {
		c.diags.Add(diag.FromError(err))
		return
	}
	m.PointerRecv = pointer
	if names := fd.Recv.List[0].Names; len(names) > 0 {
		m.Recv = names[0].Name
	}

	impl := c.implFor(typeName, pos)
	switch {
	case dirs.destructor && impl.Destructor != nil:
		c.diags.Add(diag.Errorf(diag.PhaseParse, pos, "type %s: second destructor %s ignored", typeName, m.Name))
	case dirs.destructor:
		impl.Destructor = m
	case !impl.Opaque && fd.Body == nil:
		c.diags.Add(diag.Errorf(diag.PhaseParse, pos, "method %s.%s: a forwarding body is required", typeName, m.Name))
	case !impl.Opaque && m.Callee == "":
		c.diags.Add(diag.Errorf(diag.PhaseParse, pos, "method %s.%s: body does not call a foreign function", typeName, m.Name))
	default:
		impl.Methods = append(impl.Methods, m)
	}
}

func (c *collector) addConstructor(fd *ast.FuncDecl, dirs directives) {
	pos := c.pos(fd.Pos())
	typeName := constructedType(fd)
	if typeName == "" {
		c.diags.Add(diag.Errorf(diag.PhaseParse, pos, "constructor %s must return *T for a declared type T", fd.Name.Name))
		return
	}
	m, err := c.method(fd, dirs)
	if err != nil {
		c.diags.Add(diag.FromError(err))
		return
	}
	impl := c.implFor(typeName, pos)
	if impl.Constructor != nil {
		c.diags.Add(diag.Errorf(diag.PhaseParse, pos, "type %s: second constructor %s ignored", typeName, m.Name))
		return
	}
	impl.Constructor = m
}

func constructedType(fd *ast.FuncDecl) string {
	res := fd.Type.Results
	if res == nil || len(res.List) != 1 || len(res.List[0].Names) > 1 {
		return ""
	}
	star, ok := res.List[0].Type.(*ast.StarExpr)
	if !ok {
		return ""
	}
	if id, ok := star.X.(*ast.Ident); ok {
		return id.Name
	}
	return ""
}

func (c *collector) method(fd *ast.FuncDecl, dirs directives) (*Method, error) {
	pos := c.pos(fd.Pos())
	params, err := c.params(fd.Type.Params, fd.Name.Name, pos)
	if err != nil {
		return nil, err
	}
	result, err := c.result(fd.Type.Results, fd.Name.Name, pos)
	if err != nil {
		return nil, err
	}
	m := &Method{
		Name:    fd.Name.Name,
		Params:  params,
		Result:  result,
		Symbol:  dirs.symbol,
		Async:   dirs.async,
		Mutable: dirs.mutable,
		Pos:     pos,
	}
	if fd.Body != nil {
		if call := FindCall(fd.Body, c.declared); call != nil {
			m.Callee = calleeSearch{declared: c.declared}.name(call.Fun)
			m.CalleeArgs = call.Args
		}
		doc := fd.Doc
		fd.Doc = nil
		m.Source = c.print(fd)
		fd.Doc = doc
	}
	return m, nil
}

func (c *collector) params(fields *ast.FieldList, fn string, pos diag.Pos) ([]Param, error) {
	var out []Param
	if fields == nil {
		return out, nil
	}
	for i, f := range fields.List {
		if _, variadic := f.Type.(*ast.Ellipsis); variadic {
			return nil, diag.Unsupported(diag.PhaseParse, pos, fmt.Sprintf("%s: variadic parameters", fn))
		}
		if len(f.Names) == 0 {
			out = append(out, Param{Name: fmt.Sprintf("p%d", i), Type: f.Type})
			continue
		}
		for _, n := range f.Names {
			name := n.Name
			if name == "_" {
				name = fmt.Sprintf("p%d", len(out))
			}
			out = append(out, Param{Name: name, Type: f.Type})
		}
	}
	return out, nil
}

func (c *collector) result(fields *ast.FieldList, fn string, pos diag.Pos) (ast.Expr, error) {
	if fields == nil || len(fields.List) == 0 {
		return nil, nil
	}
	if len(fields.List) > 1 || len(fields.List[0].Names) > 1 {
		return nil, diag.Unsupported(diag.PhaseParse, pos, fmt.Sprintf("%s: multiple results", fn))
	}
	return fields.List[0].Type, nil
}

func (c *collector) reportUnknown(fd *ast.FuncDecl, dirs directives) {
	for _, name := range dirs.unknown {
		c.diags.Add(diag.Warnf(diag.PhaseParse, c.pos(fd.Pos()), "%s: unknown directive //autozig:%s", fd.Name.Name, name))
	}
}

func (c *collector) collectRest(file *ast.File) {
	for _, d := range file.Decls {
		switch d := d.(type) {
		case *ast.BadDecl:
			// already reported by the parser
		case *ast.FuncDecl:
			dirs := parseDirectives(d.Doc)
			if d.Recv != nil || dirs.constructor {
				continue
			}
			c.reportUnknown(d, dirs)
			if err := c.addFunc(d, dirs); err != nil {
				c.diags.Add(diag.FromError(err))
			}
		case *ast.GenDecl:
			c.addGen(d)
		}
	}
}

func (c *collector) addFunc(fd *ast.FuncDecl, dirs directives) error {
	pos := c.pos(fd.Pos())
	name := fd.Name.Name
	if fd.Body != nil {
		return diag.InvalidInput(diag.PhaseParse, pos, fmt.Sprintf("function %s: declarations must not have a body", name))
	}
	if dirs.destructor {
		return diag.InvalidInput(diag.PhaseParse, pos, fmt.Sprintf("function %s: destructor must be a method", name))
	}
	params, err := c.params(fd.Type.Params, name, pos)
	if err != nil {
		return err
	}
	result, err := c.result(fd.Type.Results, name, pos)
	if err != nil {
		return err
	}
	fn := &Func{
		Name:         name,
		Symbol:       dirs.symbol,
		Params:       params,
		Result:       result,
		Async:        dirs.async,
		Monomorphize: dirs.monomorphize,
		Mutable:      dirs.mutable,
		Pos:          pos,
	}
	if fn.Symbol == "" {
		fn.Symbol = name
	}
	if fd.Type.TypeParams != nil {
		for _, f := range fd.Type.TypeParams.List {
			for _, n := range f.Names {
				fn.TypeParams = append(fn.TypeParams, TypeParam{Name: n.Name, Constraint: f.Type})
			}
		}
	}
	if len(fn.Monomorphize) > 0 && !fn.IsGeneric() {
		return diag.InvalidInput(diag.PhaseParse, pos, fmt.Sprintf("function %s: monomorphize requires a type parameter", name))
	}
	for _, existing := range c.decls.Funcs {
		if existing.Name == name {
			return diag.Duplicate(diag.PhaseParse, pos, "function", name)
		}
	}
	c.decls.Funcs = append(c.decls.Funcs, fn)
	return nil
}

func (c *collector) addGen(gen *ast.GenDecl) {
	pos := c.pos(gen.Pos())
	switch gen.Tok {
	case token.TYPE:
		for _, s := range gen.Specs {
			spec := s.(*ast.TypeSpec)
			if isOpaqueShape(spec) {
				continue
			}
			c.decls.Types = append(c.decls.Types, c.typeDecl(spec))
		}
	case token.CONST:
		c.decls.Consts = append(c.decls.Consts, c.print(gen))
	case token.IMPORT:
		c.diags.Add(diag.Warnf(diag.PhaseParse, pos, "imports are not allowed in declaration text"))
	default:
		c.diags.Add(diag.Errorf(diag.PhaseParse, pos, "%s declarations are not supported", gen.Tok))
	}
}

func (c *collector) typeDecl(spec *ast.TypeSpec) *TypeDecl {
	td := &TypeDecl{
		Name:   spec.Name.Name,
		Kind:   TypeOther,
		Source: "type " + c.print(spec),
		Pos:    c.pos(spec.Pos()),
	}
	switch t := spec.Type.(type) {
	case *ast.StructType:
		td.Kind = TypeStruct
		for _, f := range t.Fields.List {
			if len(f.Names) == 0 {
				td.Fields = append(td.Fields, Field{Name: exprName(f.Type), Type: f.Type})
				continue
			}
			for _, n := range f.Names {
				td.Fields = append(td.Fields, Field{Name: n.Name, Type: f.Type})
			}
		}
	case *ast.Ident:
		if spec.Assign == 0 {
			td.Kind = TypeNamed
			td.Underlying = t.Name
		}
	case *ast.InterfaceType:
		td.Kind = TypeInterface
		for _, m := range t.Methods.List {
			if len(m.Names) == 0 {
				td.Embeds = true
				continue
			}
			for _, n := range m.Names {
				td.Methods = append(td.Methods, n.Name)
			}
		}
	}
	return td
}

func exprName(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.StarExpr:
		return exprName(e.X)
	case *ast.SelectorExpr:
		return e.Sel.Name
	}
	return ""
}

// linkInterfaces records which declared interfaces each impl satisfies.
func (c *collector) linkInterfaces() {
	for _, impl := range c.decls.Impls {
		if impl.Opaque {
			continue
		}
		have := map[string]bool{}
		for _, m := range impl.Methods {
			have[m.Name] = true
		}
		for _, td := range c.decls.Types {
			if td.Kind != TypeInterface || td.Embeds || len(td.Methods) == 0 {
				continue
			}
			satisfied := true
			for _, name := range td.Methods {
				if !have[name] {
					satisfied = false
					break
				}
			}
			if satisfied {
				impl.Interfaces = append(impl.Interfaces, td.Name)
			}
		}
	}
}
