// Package matcher pairs Go struct declarations with their Zig counterparts
// and reports layout differences.
package matcher

import (
	"strings"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/idl"
)

// StructPair is a Go/Zig struct pair.
type StructPair struct {
	Go  *idl.TypeDecl
	Zig *foreign.Struct
}

// FieldPair is a Go/Zig field pair. Zig is nil when the Go field has no
// counterpart.
type FieldPair struct {
	Index int
	Go    idl.Field
	Zig   *foreign.Field
}

// StructMatcher matches Go and Zig structs.
type StructMatcher interface {
	MatchStructs(goTypes []*idl.TypeDecl, zigStructs []*foreign.Struct) []StructPair
}

// FieldMatcher matches fields in a struct pair.
type FieldMatcher interface {
	Match(goStruct *idl.TypeDecl, zigStruct *foreign.Struct) []FieldPair
}

type structMatcherImpl struct{}

type fieldMatcherImpl struct{}

// NewStructMatcher returns default struct matcher.
func NewStructMatcher() StructMatcher {
	return &structMatcherImpl{}
}

// NewFieldMatcher returns default field matcher.
func NewFieldMatcher() FieldMatcher {
	return &fieldMatcherImpl{}
}

func (m *structMatcherImpl) MatchStructs(goTypes []*idl.TypeDecl, zigStructs []*foreign.Struct) []StructPair {
	zigMap := make(map[string]*foreign.Struct, len(zigStructs))
	for _, z := range zigStructs {
		zigMap[strings.ToLower(z.Name)] = z
	}

	pairs := make([]StructPair, 0, len(goTypes))
	for _, g := range goTypes {
		if g.Kind != idl.TypeStruct {
			continue
		}
		if z, ok := zigMap[strings.ToLower(g.Name)]; ok {
			pairs = append(pairs, StructPair{Go: g, Zig: z})
		}
	}
	return pairs
}

func (m *fieldMatcherImpl) Match(goStruct *idl.TypeDecl, zigStruct *foreign.Struct) []FieldPair {
	zigMap := make(map[string]int, len(zigStruct.Fields))
	for i, f := range zigStruct.Fields {
		zigMap[strings.ToLower(f.Name)] = i
	}

	pairs := make([]FieldPair, 0, len(goStruct.Fields))
	for i, gf := range goStruct.Fields {
		p := FieldPair{Index: i, Go: gf}
		if j, ok := zigMap[strings.ToLower(gf.Name)]; ok {
			p.Zig = &zigStruct.Fields[j]
		}
		pairs = append(pairs, p)
	}
	return pairs
}

// Checker compares the layouts of matched structs.
type Checker struct {
	structs StructMatcher
	fields  FieldMatcher
}

// NewChecker creates a checker with the default matchers.
func NewChecker() *Checker {
	return &Checker{structs: NewStructMatcher(), fields: NewFieldMatcher()}
}

// Check reports every difference between the Go declarations and the Zig
// source as a warning. Structs declared on one side only are ignored.
func (c *Checker) Check(decls *idl.Decls, src *foreign.Source) diag.List {
	env := bridge.NewEnv()
	for _, td := range decls.Types {
		switch td.Kind {
		case idl.TypeStruct:
			env.Structs[td.Name] = true
		case idl.TypeNamed:
			if bridge.IsBuiltinScalar(td.Underlying) {
				env.Named[td.Name] = td.Underlying
			}
		}
	}

	var diags diag.List
	for _, pair := range c.structs.MatchStructs(decls.Types, src.Structs) {
		g, z := pair.Go, pair.Zig
		if z.Layout == "packed" {
			diags.Add(diag.Warnf(diag.PhaseForeign, g.Pos, "struct %s: Zig declares a packed layout, C expects natural alignment", g.Name))
		}
		if len(g.Fields) != len(z.Fields) {
			diags.Add(diag.Warnf(diag.PhaseForeign, g.Pos, "struct %s: Go declares %d fields, Zig declares %d", g.Name, len(g.Fields), len(z.Fields)))
		}
		for _, fp := range c.fields.Match(g, z) {
			if fp.Zig == nil {
				diags.Add(diag.Warnf(diag.PhaseForeign, g.Pos, "struct %s: field %s has no Zig counterpart", g.Name, fp.Go.Name))
				continue
			}
			if fp.Index < len(z.Fields) && !strings.EqualFold(z.Fields[fp.Index].Name, fp.Go.Name) {
				diags.Add(diag.Warnf(diag.PhaseForeign, g.Pos, "struct %s: field %s is at position %d in Go but not in Zig", g.Name, fp.Go.Name, fp.Index+1))
			}
			desc, err := env.Classify(fp.Go.Type)
			if err != nil {
				diags.Add(diag.Warnf(diag.PhaseForeign, g.Pos, "struct %s: field %s: %v", g.Name, fp.Go.Name, err))
				continue
			}
			if !compatible(desc, fp.Zig.Type) {
				diags.Add(diag.Warnf(diag.PhaseForeign, g.Pos, "struct %s: field %s is %s in Go (%s in Zig terms) but %s in Zig",
					g.Name, fp.Go.Name, desc.Go, desc.ZigType(), fp.Zig.Type))
			}
		}
	}
	return diags
}

// compatible reports whether a Zig field type has the layout of desc. Named
// scalars match either their own name or their underlying type.
func compatible(desc bridge.TypeDesc, zigType string) bool {
	zt := strings.Join(strings.Fields(zigType), "")
	if zt == strings.ReplaceAll(desc.ZigType(), " ", "") {
		return true
	}
	return desc.Kind == bridge.KindScalar && desc.Name != "" && zt == desc.Name
}
