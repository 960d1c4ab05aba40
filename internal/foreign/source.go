// Package foreign reads and rewrites the Zig side of a bridge: exported
// function signatures, struct layouts, ABI shims and the emitted source set.
package foreign

import (
	"strings"
	"unicode"
)

// Param is one parameter of a Zig function.
type Param struct {
	Name string
	Type string
}

// Func is a top-level Zig function declaration.
type Func struct {
	Name     string
	Params   []Param
	Result   string
	Exported bool
	Pub      bool
	// Offset is the byte offset of the declaration keyword in the source.
	Offset int
}

// Field is one struct field.
type Field struct {
	Name string
	Type string
}

// Struct is a named Zig struct declaration.
type Struct struct {
	Name   string
	Layout string // "", "extern" or "packed"
	Fields []Field
}

// Source is a parsed Zig text. Only the declarations the bridge needs are
// recognised; everything else is carried through untouched.
type Source struct {
	Text    string
	Funcs   []*Func
	Structs []*Struct

	// code is Text with comments and literals blanked, same length.
	code string
}

// Parse scans Zig text for function and struct declarations.
func Parse(text string) *Source {
	s := &Source{Text: text, code: mask(text)}
	s.funcs()
	s.structs()
	Logger().Debug("parsed zig source")
	return s
}

// Func returns the function declared with name.
func (s *Source) Func(name string) (*Func, bool) {
	for _, f := range s.Funcs {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// ReturnType returns the result type an exported function declares.
func (s *Source) ReturnType(name string) (string, bool) {
	f, ok := s.Func(name)
	if !ok || !f.Exported || f.Result == "" {
		return "", false
	}
	return f.Result, true
}

// Struct returns the struct declared with name.
func (s *Source) Struct(name string) (*Struct, bool) {
	for _, st := range s.Structs {
		if st.Name == name {
			return st, true
		}
	}
	return nil, false
}

func (s *Source) funcs() {
	code := s.code
	for i := 0; i < len(code); {
		j := indexWord(code, "fn", i)
		if j < 0 {
			return
		}
		i = j + 2
		if depthAt(code, j) != 0 {
			continue
		}

		start := j
		exported, pub := false, false
		prev, at := prevWord(code, start)
		if prev == "export" {
			exported, start = true, at
			prev, at = prevWord(code, start)
		}
		if prev == "pub" {
			pub, start = true, at
		}

		k := skipSpace(code, j+2)
		name, k := ident(code, k)
		if name == "" {
			continue
		}
		k = skipSpace(code, k)
		if k >= len(code) || code[k] != '(' {
			continue
		}
		end := matching(code, k)
		if end < 0 {
			return
		}
		body := strings.IndexAny(code[end:], "{;")
		if body < 0 {
			return
		}
		f := &Func{
			Name:     name,
			Params:   params(code[k+1 : end]),
			Result:   resultType(code[end+1 : end+body]),
			Exported: exported,
			Pub:      pub,
			Offset:   start,
		}
		s.Funcs = append(s.Funcs, f)
		i = end + body
	}
}

func (s *Source) structs() {
	code := s.code
	for i := 0; i < len(code); {
		j := indexWord(code, "struct", i)
		if j < 0 {
			return
		}
		i = j + len("struct")

		layout := ""
		before, at := prevWord(code, j)
		if before == "extern" || before == "packed" {
			layout = before
			at = strings.LastIndexFunc(code[:at], func(r rune) bool { return !unicode.IsSpace(r) })
		} else {
			at = strings.LastIndexFunc(code[:j], func(r rune) bool { return !unicode.IsSpace(r) })
		}
		if at < 0 || code[at] != '=' || (at > 0 && strings.ContainsRune("=!<>", rune(code[at-1]))) {
			continue
		}
		name, nameAt := prevWord(code, at)
		if name == "" {
			continue
		}
		if kw, _ := prevWord(code, nameAt); kw != "const" {
			continue
		}

		open := skipSpace(code, i)
		if open >= len(code) || code[open] != '{' {
			continue
		}
		end := matching(code, open)
		if end < 0 {
			return
		}
		s.Structs = append(s.Structs, &Struct{
			Name:   name,
			Layout: layout,
			Fields: fields(code[open+1 : end]),
		})
		i = end
	}
}

// params splits a parameter list at top-level commas.
func params(list string) []Param {
	var out []Param
	for _, part := range splitTop(list, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok {
			out = append(out, Param{Type: part})
			continue
		}
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "comptime "))
		name = strings.TrimSpace(strings.TrimPrefix(name, "noalias "))
		out = append(out, Param{Name: name, Type: strings.TrimSpace(typ)})
	}
	return out
}

// resultType drops calling-convention and alignment annotations.
func resultType(text string) string {
	text = strings.TrimSpace(text)
	for _, attr := range []string{"callconv", "align", "linksection"} {
		for {
			i := indexWord(text, attr, 0)
			if i < 0 {
				break
			}
			open := skipSpace(text, i+len(attr))
			if open >= len(text) || text[open] != '(' {
				break
			}
			end := matching(text, open)
			if end < 0 {
				break
			}
			text = strings.TrimSpace(text[:i] + text[end+1:])
		}
	}
	return text
}

// fields reads name: type entries of a masked struct body, skipping
// nested declarations.
func fields(body string) []Field {
	var out []Field
	depth := 0
	start := 0
	flush := func(end int) {
		entry := strings.TrimSpace(body[start:end])
		start = end + 1
		if entry == "" {
			return
		}
		if isDecl(entry) {
			return
		}
		name, typ, ok := strings.Cut(entry, ":")
		if !ok {
			return
		}
		if def, _, found := cutTop(typ, '='); found {
			typ = def
		}
		out = append(out, Field{Name: strings.TrimSpace(name), Type: strings.TrimSpace(typ)})
	}
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '(', '[', '{':
			depth++
		case ')', ']':
			depth--
		case '}':
			depth--
			if depth == 0 && isDecl(body[start:i]) {
				start = i + 1
			}
		case ';':
			if depth == 0 {
				start = i + 1
			}
		case ',':
			if depth == 0 {
				flush(i)
			}
		}
	}
	flush(len(body))
	return out
}

func isDecl(entry string) bool {
	first, _ := ident(strings.TrimSpace(entry), 0)
	switch first {
	case "pub", "fn", "const", "var", "comptime", "test", "usingnamespace":
		return true
	}
	return false
}

// mask blanks comments, string and character literals so that searches
// only see code. Offsets are preserved.
func mask(text string) string {
	b := []byte(text)
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '/',
			b[i] == '\\' && i+1 < len(b) && b[i+1] == '\\':
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case b[i] == '"' || b[i] == '\'':
			quote := b[i]
			for i++; i < len(b) && b[i] != quote && b[i] != '\n'; i++ {
				if b[i] == '\\' && i+1 < len(b) {
					b[i] = ' '
					i++
				}
				b[i] = ' '
			}
		}
	}
	return string(b)
}

func isIdent(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// indexWord finds word at a word boundary at or after from.
func indexWord(s, word string, from int) int {
	for from <= len(s) {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(word)
		if (i == 0 || !isIdent(s[i-1]) && s[i-1] != '@' && s[i-1] != '.') && (end == len(s) || !isIdent(s[end])) {
			return i
		}
		from = end
	}
	return -1
}

// prevWord returns the identifier ending right before pos, skipping
// whitespace, and its start offset.
func prevWord(s string, pos int) (string, int) {
	end := pos
	for end > 0 && unicode.IsSpace(rune(s[end-1])) {
		end--
	}
	start := end
	for start > 0 && isIdent(s[start-1]) {
		start--
	}
	return s[start:end], start
}

func ident(s string, i int) (string, int) {
	j := i
	for j < len(s) && isIdent(s[j]) {
		j++
	}
	if j == i || s[i] >= '0' && s[i] <= '9' {
		return "", i
	}
	return s[i:j], j
}

func skipSpace(s string, i int) int {
	for i < len(s) && unicode.IsSpace(rune(s[i])) {
		i++
	}
	return i
}

// matching returns the offset of the bracket closing the one at open.
func matching(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// depthAt reports the brace nesting depth at pos.
func depthAt(s string, pos int) int {
	depth := 0
	for i := 0; i < pos; i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}

func splitTop(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	m := mask(s)
	for i := 0; i < len(m); i++ {
		switch m[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func cutTop(s string, sep byte) (string, string, bool) {
	parts := splitTop(s, sep)
	if len(parts) < 2 {
		return s, "", false
	}
	return parts[0], strings.Join(parts[1:], string(sep)), true
}
