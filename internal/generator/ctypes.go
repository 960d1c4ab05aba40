package generator

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/idl"
)

// structTypedefs renders C typedefs mirroring the declared structs, each
// after the structs it embeds by value. Structs with fields that have no C
// layout stay Go-only.
func structTypedefs(types []*idl.TypeDecl) []string {
	env := bridge.NewEnv()
	byName := map[string]*idl.TypeDecl{}
	for _, td := range types {
		switch td.Kind {
		case idl.TypeStruct:
			env.Structs[td.Name] = true
			byName[td.Name] = td
		case idl.TypeNamed:
			if bridge.IsBuiltinScalar(td.Underlying) {
				env.Named[td.Name] = td.Underlying
			}
		}
	}

	rendered := map[string]string{}
	deps := map[string][]string{}
	for _, td := range types {
		if td.Kind != idl.TypeStruct {
			continue
		}
		text, d, err := typedef(env, td)
		if err != nil {
			Logger().Warn("struct has no C layout", zap.String("struct", td.Name), zap.Error(err))
			continue
		}
		rendered[td.Name] = text
		deps[td.Name] = d
	}

	var out []string
	done := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if done[name] {
			return
		}
		done[name] = true
		for _, d := range deps[name] {
			visit(d)
		}
		if text, ok := rendered[name]; ok {
			out = append(out, text)
		}
	}
	for _, td := range types {
		if _, ok := byName[td.Name]; ok {
			visit(td.Name)
		}
	}
	return out
}

func typedef(env *bridge.Env, td *idl.TypeDecl) (string, []string, error) {
	var b strings.Builder
	var deps []string
	b.WriteString("typedef struct {\n")
	for _, f := range td.Fields {
		if f.Name == "" || f.Name == "_" {
			return "", nil, fmt.Errorf("field of type %s has no name", bridge.ExprString(f.Type))
		}
		desc, err := env.Classify(f.Type)
		if err != nil {
			return "", nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		switch desc.Kind {
		case bridge.KindScalar:
			fmt.Fprintf(&b, "    %s %s;\n", desc.CType(), f.Name)
		case bridge.KindStruct:
			deps = append(deps, desc.Name)
			fmt.Fprintf(&b, "    %s %s;\n", desc.CType(), f.Name)
		case bridge.KindArray:
			if desc.Elem.Kind == bridge.KindStruct {
				deps = append(deps, desc.Elem.Name)
			}
			fmt.Fprintf(&b, "    %s %s[%d];\n", desc.CType(), f.Name, desc.Len)
		default:
			return "", nil, fmt.Errorf("field %s: %s values have no C layout", f.Name, desc.Kind)
		}
	}
	fmt.Fprintf(&b, "} %s;", td.Name)
	return b.String(), deps, nil
}
