package build

import (
	"fmt"

	"go.uber.org/zap"
)

// LinkDirectives tell the host build where the compiled foreign library
// lives.
type LinkDirectives struct {
	SearchDir string
	Library   string
	// Artifact is the library file itself.
	Artifact string
}

// Flags renders the directives as linker flags.
func (d LinkDirectives) Flags() string {
	return fmt.Sprintf("-L%s -l%s", d.SearchDir, d.Library)
}

// Registrar receives the link directives of a successful build.
type Registrar interface {
	Register(d LinkDirectives) error
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(LinkDirectives) error

// Register calls f.
func (f RegistrarFunc) Register(d LinkDirectives) error { return f(d) }

// LogRegistrar logs the directives. The generated bridge files already
// carry them as #cgo LDFLAGS.
type LogRegistrar struct{}

// Register logs d.
func (LogRegistrar) Register(d LinkDirectives) error {
	Logger().Info("link directives",
		zap.String("search_dir", d.SearchDir),
		zap.String("library", d.Library),
		zap.String("artifact", d.Artifact),
	)
	return nil
}
