package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/build"
	"github.com/layola13/autozig/internal/diag"
)

// BuildFunc runs one build.
type BuildFunc func(ctx context.Context, opts build.Options) (*build.Result, error)

// Runner runs a build for a parsed config.
type Runner interface {
	Run(ctx context.Context, cfg *Config) (*build.Result, error)
}

type runnerImpl struct {
	build BuildFunc
}

// NewRunner creates a runner backed by fn. A nil fn runs build.Build.
func NewRunner(fn BuildFunc) Runner {
	if fn == nil {
		fn = build.Build
	}
	return &runnerImpl{build: fn}
}

// Run executes a single build cycle. Diagnostics are logged; the build fails
// only on a hard error.
func (r *runnerImpl) Run(ctx context.Context, cfg *Config) (*build.Result, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	res, err := r.build(ctx, opts)
	if res != nil {
		logDiagnostics(res.Diagnostics)
	}
	if err != nil {
		return res, fmt.Errorf("build: %w", err)
	}
	return res, nil
}

func logDiagnostics(list diag.List) {
	log := Logger()
	for _, d := range list {
		fields := []zap.Field{
			zap.String("pos", d.Pos.String()),
			zap.String("phase", string(d.Phase)),
		}
		switch d.Severity {
		case diag.SeverityError:
			log.Error(d.Message, fields...)
		case diag.SeverityWarning:
			log.Warn(d.Message, fields...)
		default:
			log.Debug(d.Message, fields...)
		}
	}
}
