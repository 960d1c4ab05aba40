package foreign

import (
	"fmt"
	"strings"
)

// RenameExport turns `export fn name(` into `fn newName(`, keeping any pub
// qualifier. The renamed function is only reachable through its shim.
func RenameExport(text, name, newName string) (string, error) {
	src := Parse(text)
	f, ok := src.Func(name)
	if !ok || !f.Exported {
		return text, fmt.Errorf("export fn %s not found", name)
	}
	nameAt := indexWord(src.code, name, f.Offset)
	if nameAt < 0 {
		return text, fmt.Errorf("export fn %s not found", name)
	}
	head := "fn "
	if f.Pub {
		head = "pub fn "
	}
	return text[:f.Offset] + head + newName + text[nameAt+len(name):], nil
}

// ExternStructs rewrites named `= struct` declarations to `= extern struct`
// so their layout follows the C ABI. extern and packed structs are kept.
func ExternStructs(text string) string {
	code := mask(text)
	var b strings.Builder
	last := 0
	for i := 0; ; {
		j := indexWord(code, "struct", i)
		if j < 0 {
			break
		}
		i = j + len("struct")
		k := strings.LastIndexFunc(code[:j], func(r rune) bool { return r != ' ' && r != '\t' && r != '\n' && r != '\r' })
		if k < 0 || code[k] != '=' || k > 0 && strings.ContainsRune("=!<>", rune(code[k-1])) {
			continue
		}
		b.WriteString(text[last:j])
		b.WriteString("extern ")
		last = j
	}
	b.WriteString(text[last:])
	return b.String()
}

// StdImport reports whether line is the std import.
func StdImport(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "const std") && strings.Contains(t, `@import("std")`)
}

// DedupeStd drops std import lines once seen is set, and sets it on the
// first one kept.
func DedupeStd(text string, seen *bool) string {
	var b strings.Builder
	for line := range strings.SplitSeq(text, "\n") {
		if StdImport(line) {
			if *seen {
				continue
			}
			*seen = true
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}
