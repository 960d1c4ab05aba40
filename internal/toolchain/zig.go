// Package toolchain invokes the Zig compiler and checks the artifacts it
// produces.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/foreign"
)

// Request describes one compilation.
type Request struct {
	// Dir holds the emitted source set.
	Dir string
	// Main is the root source file, relative to Dir.
	Main     string
	Platform Platform
	// Output is the artifact path.
	Output  string
	Library string
	Mode    foreign.Mode
}

// Compiler turns a foreign source set into a linkable artifact.
type Compiler interface {
	Compile(ctx context.Context, req Request) error
}

// Runner executes a command in dir and returns its combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Zig is the Compiler backed by the zig executable.
type Zig struct {
	path     string
	optimize string
	run      Runner
}

// ZigOption configures Zig.
type ZigOption func(*Zig)

// WithZigPath sets the zig executable. The default is "zig" from PATH.
func WithZigPath(path string) ZigOption {
	return func(z *Zig) {
		if path != "" {
			z.path = path
		}
	}
}

// WithOptimize sets the optimization mode, e.g. ReleaseSafe or Debug.
func WithOptimize(mode string) ZigOption {
	return func(z *Zig) {
		if mode != "" {
			z.optimize = mode
		}
	}
}

// WithRunner replaces command execution.
func WithRunner(r Runner) ZigOption {
	return func(z *Zig) { z.run = r }
}

// NewZig creates a zig compiler wrapper.
func NewZig(opts ...ZigOption) *Zig {
	z := &Zig{path: "zig", optimize: "ReleaseFast", run: execRunner}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// Version returns the output of `zig version`.
func (z *Zig) Version(ctx context.Context) (string, error) {
	out, err := z.run(ctx, "", z.path, "version")
	if err != nil {
		return "", diag.Tool("zig version", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Args returns the zig command line for req.
func (z *Zig) Args(req Request) []string {
	target := ZigTarget(req.Platform)
	if req.Mode == foreign.ModeModularBuildZig {
		return []string{
			"build",
			"--prefix", z.prefix(req),
			"-Dtarget=" + target,
			"-Doptimize=" + z.optimize,
		}
	}
	main := filepath.Join(req.Dir, req.Main)
	if req.Platform.IsWasm() {
		return []string{
			"build-exe", main,
			"-fno-entry", "-rdynamic",
			"-femit-bin=" + req.Output,
			"-target", target,
			"-O", z.optimize,
		}
	}
	return []string{
		"build-lib", main,
		"-static",
		"-femit-bin=" + req.Output,
		"-target", target,
		"-fPIC",
		"-lc",
		"-O", z.optimize,
	}
}

func (z *Zig) prefix(req Request) string {
	return filepath.Join(req.Dir, "zig-out")
}

// Compile runs zig for req. With the build.zig layout the installed
// library is moved to req.Output.
func (z *Zig) Compile(ctx context.Context, req Request) error {
	args := z.Args(req)
	Logger().Info("compiling zig",
		zap.String("target", ZigTarget(req.Platform)),
		zap.Stringer("mode", req.Mode),
		zap.String("output", req.Output),
	)
	Logger().Debug("zig command", zap.String("path", z.path), zap.Strings("args", args))

	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return diag.Wrap(diag.PhaseCompile, diag.KindIO, err, "create output directory")
	}
	dir := ""
	if req.Mode == foreign.ModeModularBuildZig {
		dir = req.Dir
	}
	out, err := z.run(ctx, dir, z.path, args...)
	if err != nil {
		return diag.Tool("zig "+args[0], fmt.Errorf("%w\n%s", err, bytes.TrimSpace(out)))
	}

	if req.Mode == foreign.ModeModularBuildZig {
		installed := filepath.Join(z.prefix(req), "lib", LibraryFile(req.Platform, req.Library))
		if err := os.Rename(installed, req.Output); err != nil {
			return diag.Wrap(diag.PhaseCompile, diag.KindIO, err, "move installed library")
		}
	}
	if _, err := os.Stat(req.Output); err != nil {
		return diag.Tool("zig "+args[0], fmt.Errorf("no artifact at %s: %w", req.Output, err))
	}
	return nil
}

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if errors.Is(err, exec.ErrNotFound) {
		return out, fmt.Errorf("%s not found; install zig or pass --zig", name)
	}
	return out, err
}
