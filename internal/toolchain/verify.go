package toolchain

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/tetratelabs/wazero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/diag"
)

// Verifier checks that an artifact exports every bridged symbol.
type Verifier interface {
	Verify(ctx context.Context, artifact string, symbols []string) error
}

// WasmVerifier compiles WebAssembly artifacts with wazero and inspects
// their function exports. Nothing is instantiated.
type WasmVerifier struct{}

// NewWasmVerifier creates a verifier.
func NewWasmVerifier() *WasmVerifier {
	return &WasmVerifier{}
}

// Verify reads artifact and checks its exports.
func (v *WasmVerifier) Verify(ctx context.Context, artifact string, symbols []string) error {
	bin, err := os.ReadFile(artifact)
	if err != nil {
		return diag.Wrap(diag.PhaseLink, diag.KindIO, err, "read artifact")
	}
	return v.VerifyBytes(ctx, artifact, bin, symbols)
}

// VerifyBytes checks the exports of an in-memory module. Every missing
// symbol is reported.
func (v *WasmVerifier) VerifyBytes(ctx context.Context, name string, bin []byte, symbols []string) (err error) {
	r := wazero.NewRuntime(ctx)
	defer func() {
		err = multierr.Append(err, r.Close(ctx))
	}()

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return diag.Wrap(diag.PhaseLink, diag.KindInvalidInput, err, fmt.Sprintf("compile %s", name))
	}
	exports := compiled.ExportedFunctions()

	var missing error
	for _, s := range symbols {
		if _, ok := exports[s]; !ok {
			missing = multierr.Append(missing, diag.MissingExport(name, s))
		}
	}
	if missing == nil {
		names := make([]string, 0, len(exports))
		for n := range exports {
			names = append(names, n)
		}
		sort.Strings(names)
		Logger().Debug("verified exports", zap.String("artifact", name), zap.Strings("exports", names))
	}
	return missing
}

// NopVerifier accepts every artifact. Native static libraries are not
// inspected; missing symbols surface when cgo links.
type NopVerifier struct{}

// Verify implements Verifier.
func (NopVerifier) Verify(context.Context, string, []string) error { return nil }
