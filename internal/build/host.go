package build

import (
	"go.uber.org/multierr"

	"github.com/layola13/autozig/internal/diag"
)

// checkHost rejects bridge declarations whose names the package already
// declares in its own files. The previous bridge file is not consulted.
func (b *builder) checkHost(part *lowered) error {
	host, err := b.host.Load(part.dir, b.opts.BridgeFile)
	if err != nil {
		Logger().Debug("host package not inspected")
		return nil
	}

	var errs error
	collide := func(name string, pos diag.Pos, prev diag.Pos) {
		errs = multierr.Append(errs, diag.New(diag.PhaseGenerate, diag.KindCollision).
			At(pos).Symbol(name).
			Detail("bridge declares %s, already declared at %s", name, prev).
			Build())
	}
	for _, td := range part.bridge.Types {
		if prev, ok := host.Declared(td.Name); ok {
			collide(td.Name, td.Pos, prev)
		}
	}
	for _, name := range part.handles {
		if prev, ok := host.Declared(name); ok {
			collide(name, diag.Pos{}, prev)
		}
	}
	for _, s := range part.bridge.Specs {
		w := s.Wrapper
		if w.Receiver != nil {
			key := w.Receiver.Type + "." + w.Name
			if prev, ok := host.Methods[key]; ok {
				collide(key, s.Origin, prev)
			}
			continue
		}
		if prev, ok := host.Declared(w.Name); ok {
			collide(w.Name, s.Origin, prev)
		}
	}
	return errs
}
