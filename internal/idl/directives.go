package idl

import (
	"go/ast"
	"strings"
)

const directivePrefix = "//autozig:"

// directives holds the //autozig: lines attached to one declaration.
type directives struct {
	async        bool
	constructor  bool
	destructor   bool
	symbol       string
	monomorphize []string
	mutable      map[string]bool
	unknown      []string
}

func parseDirectives(doc *ast.CommentGroup) directives {
	var d directives
	if doc == nil {
		return d
	}
	for _, c := range doc.List {
		text, ok := strings.CutPrefix(c.Text, directivePrefix)
		if !ok {
			continue
		}
		name, args, _ := strings.Cut(strings.TrimSpace(text), " ")
		switch name {
		case "async":
			d.async = true
		case "constructor":
			d.constructor = true
		case "destructor":
			d.destructor = true
		case "symbol":
			d.symbol = strings.TrimSpace(args)
		case "monomorphize":
			d.monomorphize = append(d.monomorphize, splitTypeList(args)...)
		case "mut":
			if d.mutable == nil {
				d.mutable = map[string]bool{}
			}
			for _, p := range strings.FieldsFunc(args, isListSep) {
				d.mutable[p] = true
			}
		default:
			d.unknown = append(d.unknown, name)
		}
	}
	return d
}

// splitTypeList splits a comma or space separated list, keeping bracketed
// and parenthesized groups such as [4]int32 or map[K]V intact.
func splitTypeList(raw string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, r := range raw {
		switch {
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case depth == 0 && isListSep(r):
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}

func isListSep(r rune) bool {
	return r == ',' || r == ' ' || r == '\t'
}
