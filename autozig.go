// Package autozig embeds Zig source in Go packages.
//
// A block pairs Zig code with the Go declarations it exports:
//
//	var _ = autozig.Zig(`
//	export fn add(a: i32, b: i32) i32 { return a + b; }
//	---
//	func add(a, b int32) int32
//	`)
//
// The autozig command scans the module for these calls, compiles the Zig
// code into one static library and writes a cgo bridge file per package.
// The marker functions themselves do nothing at run time.
package autozig

import "strings"

// Separator divides Zig code from the Go declarations in an inline block.
const Separator = "---"

// Block is the value returned by the marker functions.
type Block struct {
	Source string
	Path   string
	Decls  string
}

// Zig marks an inline block. The argument must be a string literal.
func Zig(src string) Block {
	code, decls := Split(src)
	return Block{Source: code, Decls: decls}
}

// IncludeZig marks a reference to an external Zig file. Both arguments must
// be string literals; path is resolved against the module root.
func IncludeZig(path, decls string) Block {
	return Block{Path: path, Decls: decls}
}

// Split divides inline block text on the first separator line. Without one
// the whole text is Zig code.
func Split(src string) (code, decls string) {
	offset := 0
	for offset <= len(src) {
		line, _, found := strings.Cut(src[offset:], "\n")
		if strings.TrimSpace(line) == Separator {
			rest := ""
			if found {
				rest = src[offset+len(line)+1:]
			}
			return src[:offset], rest
		}
		if !found {
			break
		}
		offset += len(line) + 1
	}
	if code, decls, found := strings.Cut(src, Separator); found {
		return code, decls
	}
	return src, ""
}
