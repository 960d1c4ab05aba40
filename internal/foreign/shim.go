package foreign

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
)

// RenderShim renders the exported Zig function for a spec carrying a
// shim. impl is the user's declaration of the shim's original function and
// may be nil; when its arity matches, its parameter names and unlowered
// types are reused.
func RenderShim(spec *bridge.Spec, impl *Func) (string, error) {
	shim := spec.Shim
	if shim == nil || shim.Kind == bridge.ShimNone {
		return "", fmt.Errorf("%s has no shim", spec.Native.Symbol)
	}

	exported := spec.Native.Symbol
	if shim.Kind == bridge.ShimRedirect {
		exported = shim.Original
	}
	result := spec.Native.ZigResult
	if result == "" {
		result = "void"
	}

	native := spec.Native.Params
	reuse := impl != nil && len(impl.Params) == len(native)
	params := make([]string, 0, len(native))
	args := make([]string, 0, len(native))
	for i, p := range native {
		name, typ := p.Name, p.Zig
		if reuse {
			if impl.Params[i].Name != "" && impl.Params[i].Name != "_" {
				name = impl.Params[i].Name
			}
			if !p.Deref && impl.Params[i].Type != "" {
				typ = impl.Params[i].Type
			}
		}
		params = append(params, name+": "+typ)
		if p.Deref {
			args = append(args, name+".*")
		} else {
			args = append(args, name)
		}
	}
	call := shim.Target + "(" + strings.Join(args, ", ") + ")"

	var b strings.Builder
	if shim.Slot {
		fmt.Fprintf(&b, "export fn %s(%s) *const %s {\n", exported, strings.Join(params, ", "), result)
		fmt.Fprintf(&b, "    const slot = struct {\n        var value: %s = undefined;\n    };\n", result)
		fmt.Fprintf(&b, "    slot.value = %s;\n", call)
		b.WriteString("    return &slot.value;\n}\n")
	} else {
		fmt.Fprintf(&b, "export fn %s(%s) %s {\n", exported, strings.Join(params, ", "), result)
		if result == "void" {
			fmt.Fprintf(&b, "    %s;\n}\n", call)
		} else {
			fmt.Fprintf(&b, "    return %s;\n}\n", call)
		}
	}
	return b.String(), nil
}

// Rewrite applies the shims of specs to one block's Zig text: redirected
// functions are renamed, shims appended and structs made extern.
func Rewrite(text string, specs []*bridge.Spec) (string, error) {
	src := Parse(text)
	var shims []string
	for _, spec := range specs {
		if spec.Shim == nil || spec.Shim.Kind == bridge.ShimNone {
			continue
		}
		impl, _ := src.Func(spec.Shim.Original)
		if spec.Shim.Kind == bridge.ShimRedirect {
			renamed, err := RenameExport(text, spec.Shim.Original, spec.Shim.Target)
			if err != nil {
				return "", diag.New(diag.PhaseForeign, diag.KindNotFound).
					At(spec.Origin).
					Symbol(spec.Shim.Original).
					Detail("cannot redirect: no export fn %s in the Zig source", spec.Shim.Original).
					Build()
			}
			text = renamed
		}
		shim, err := RenderShim(spec, impl)
		if err != nil {
			return "", diag.Wrap(diag.PhaseForeign, diag.KindInvalidInput, err, "render shim")
		}
		shims = append(shims, shim)
		Logger().Debug("rendered shim",
			zap.String("symbol", spec.Native.Symbol),
			zap.String("target", spec.Shim.Target),
			zap.Bool("slot", spec.Shim.Slot),
		)
	}

	text = ExternStructs(text)
	if len(shims) > 0 {
		text = strings.TrimRight(text, "\n") + "\n\n// autozig shims\n" + strings.Join(shims, "\n")
	}
	return text, nil
}
