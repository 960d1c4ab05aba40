package bridge

import (
	"sort"
	"strings"
)

// Convention is how a symbol hands back its result.
type Convention int

const (
	ConventionValue Convention = iota
	ConventionPointer
)

func (c Convention) String() string {
	if c == ConventionPointer {
		return "pointer"
	}
	return "value"
}

// Symbol is one entry of the native symbol table.
type Symbol struct {
	Name     string
	Exported bool
	Returns  Convention
	// Origin is the declared function the symbol derives from.
	Origin string
}

// SymbolTable lists every native symbol a build produces.
type SymbolTable []Symbol

// BuildSymbolTable derives the table from bridge specs and their shims.
func BuildSymbolTable(specs []*Spec) SymbolTable {
	seen := map[string]int{}
	var table SymbolTable
	add := func(s Symbol) {
		if i, ok := seen[s.Name]; ok {
			table[i] = s
			return
		}
		seen[s.Name] = len(table)
		table = append(table, s)
	}

	for _, spec := range specs {
		if spec.Native.Symbol == "" {
			continue
		}
		conv := ConventionValue
		if spec.Return.Strategy == StrategyStaticSlot {
			conv = ConventionPointer
		}
		origin := spec.Native.Symbol
		if spec.Shim != nil && spec.Shim.Original != "" {
			origin = spec.Shim.Original
		}
		add(Symbol{Name: spec.Native.Symbol, Exported: true, Returns: conv, Origin: origin})

		if spec.Shim != nil && spec.Shim.Kind == ShimRedirect {
			add(Symbol{Name: spec.Shim.Target, Exported: false, Returns: ConventionValue, Origin: spec.Shim.Original})
		}
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].Name < table[j].Name })
	return table
}

// Lookup returns the entry with the given name.
func (t SymbolTable) Lookup(name string) (Symbol, bool) {
	for _, s := range t {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Exported returns the names of exported symbols.
func (t SymbolTable) Exported() []string {
	out := make([]string, 0, len(t))
	for _, s := range t {
		if s.Exported {
			out = append(out, s.Name)
		}
	}
	return out
}

// SignatureParam is one parameter of a wrapper signature.
type SignatureParam struct {
	Name string
	Type string
}

// Signature is the stable description of one Go wrapper, consumed by
// client binding emitters.
type Signature struct {
	Name     string
	Receiver string
	Params   []SignatureParam
	Result   string
	Async    bool
	Symbol   string
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString("func ")
	if s.Receiver != "" {
		b.WriteString("(*" + s.Receiver + ") ")
	}
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name + " " + p.Type)
	}
	b.WriteByte(')')
	if s.Result != "" {
		b.WriteString(" " + s.Result)
	}
	return b.String()
}

// WrapperSignatures lists the Go-facing signatures of specs in order.
func WrapperSignatures(specs []*Spec) []Signature {
	out := make([]Signature, 0, len(specs))
	for _, spec := range specs {
		w := spec.Wrapper
		if w.Name == "" {
			continue
		}
		sig := Signature{Name: w.Name, Async: w.Async, Symbol: spec.Native.Symbol}
		if w.Receiver != nil {
			sig.Receiver = w.Receiver.Type
		}
		if w.Async {
			sig.Params = append(sig.Params, SignatureParam{Name: "ctx", Type: "context.Context"})
		}
		for _, p := range w.Params {
			sig.Params = append(sig.Params, SignatureParam{Name: p.Name, Type: p.Type.Go})
		}
		sig.Result = w.Result.Go
		if w.Async {
			if sig.Result == "" {
				sig.Result = "error"
			} else {
				sig.Result = "(" + sig.Result + ", error)"
			}
		}
		out = append(out, sig)
	}
	return out
}
