package cli

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/layola13/autozig/internal/asyncgen"
	"github.com/layola13/autozig/internal/build"
	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/generator"
	"github.com/layola13/autozig/internal/hostpkg"
	"github.com/layola13/autozig/internal/idl"
	"github.com/layola13/autozig/internal/lowering"
	"github.com/layola13/autozig/internal/mono"
	"github.com/layola13/autozig/internal/opaque"
	"github.com/layola13/autozig/internal/scanner"
	"github.com/layola13/autozig/internal/toolchain"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the cli package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the logger of the cli package and of every pipeline
// package.
func SetLogger(l *zap.Logger) {
	logger = l
	for _, pkg := range []struct {
		name string
		set  func(*zap.Logger)
	}{
		{"scanner", scanner.SetLogger},
		{"idl", idl.SetLogger},
		{"lowering", lowering.SetLogger},
		{"mono", mono.SetLogger},
		{"asyncgen", asyncgen.SetLogger},
		{"opaque", opaque.SetLogger},
		{"foreign", foreign.SetLogger},
		{"generator", generator.SetLogger},
		{"hostpkg", hostpkg.SetLogger},
		{"toolchain", toolchain.SetLogger},
		{"build", build.SetLogger},
	} {
		pkg.set(l.Named(pkg.name))
	}
}

// NewLogger builds a console logger for the command line. Verbose lowers the
// level to debug.
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		cfg.DisableCaller = true
	}
	return cfg.Build()
}
