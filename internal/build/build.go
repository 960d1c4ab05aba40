// Package build runs the whole pipeline: it scans a Go tree for embedded Zig,
// generates the bridge specs, emits and compiles the Zig source set, and
// writes one cgo bridge file per package.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/generator"
	"github.com/layola13/autozig/internal/hostpkg"
	"github.com/layola13/autozig/internal/idl"
	"github.com/layola13/autozig/internal/lowering"
	"github.com/layola13/autozig/internal/scanner"
	"github.com/layola13/autozig/internal/toolchain"
)

const (
	// DefaultOutDir is the output directory relative to the source root.
	DefaultOutDir = ".autozig"
	// DefaultBridgeFile is the name of the generated file in each package.
	DefaultBridgeFile = "autozig_bridge.go"
	// DefaultLibrary is the name of the compiled static library.
	DefaultLibrary = "autozig"
	// HashFile holds the fingerprint of the last compiled source set.
	HashFile = ".autozig_hash"
)

// Options configures one build.
type Options struct {
	Root         string
	OutDir       string
	Mode         foreign.Mode
	Platform     toolchain.Platform
	StructReturn lowering.StructReturn
	BridgeFile   string
	Library      string

	Compiler  toolchain.Compiler
	Verifier  toolchain.Verifier
	Registrar Registrar
	Generator generator.Generator
	// Host reads the existing declarations of each package.
	Host hostpkg.Loader
}

// Package reports the bridge written for one Go package.
type Package struct {
	Dir        string
	Name       string
	BridgeFile string
	Specs      int
}

// Result summarizes a build.
type Result struct {
	Packages    []Package
	Signatures  []bridge.Signature
	Symbols     bridge.SymbolTable
	Diagnostics diag.List
	// Sources lists the foreign files rewritten by this build.
	Sources     []string
	Fingerprint string
	Artifact    string
	// Compiled is false when the fingerprint matched and the artifact
	// already existed.
	Compiled bool
	Link     LinkDirectives
}

type builder struct {
	opts     Options
	parser   idl.Parser
	host     hostpkg.Loader
	modRoot  string
	included map[string]bool
}

// Build runs one build. Recoverable findings are returned in
// Result.Diagnostics; hard failures from several blocks are combined into
// the returned error.
func Build(ctx context.Context, opts Options) (*Result, error) {
	opts, err := withDefaults(opts)
	if err != nil {
		return nil, err
	}
	b := &builder{opts: opts, parser: idl.New(), host: opts.Host, included: map[string]bool{}}
	b.modRoot, _ = moduleRoot(opts.Root)
	return b.run(ctx)
}

func withDefaults(opts Options) (Options, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return opts, diag.Wrap(diag.PhaseScan, diag.KindIO, err, "resolve source root")
	}
	opts.Root = root
	if opts.OutDir == "" {
		opts.OutDir = filepath.Join(root, DefaultOutDir)
	} else if !filepath.IsAbs(opts.OutDir) {
		opts.OutDir = filepath.Join(root, opts.OutDir)
	}
	if opts.Platform == (toolchain.Platform{}) {
		opts.Platform = toolchain.Host()
	}
	if opts.BridgeFile == "" {
		opts.BridgeFile = DefaultBridgeFile
	}
	if opts.Library == "" {
		opts.Library = DefaultLibrary
	}
	if opts.Compiler == nil {
		opts.Compiler = toolchain.NewZig()
	}
	if opts.Verifier == nil {
		if opts.Platform.IsWasm() {
			opts.Verifier = toolchain.NewWasmVerifier()
		} else {
			opts.Verifier = toolchain.NopVerifier{}
		}
	}
	if opts.Registrar == nil {
		opts.Registrar = LogRegistrar{}
	}
	if opts.Host == nil {
		opts.Host = hostpkg.New()
	}
	if opts.Generator == nil {
		opts.Generator = generator.New(generator.NewGoimportsFormatter(), generator.NewFileWriter())
	}
	return opts, nil
}

func (b *builder) run(ctx context.Context) (*Result, error) {
	res := &Result{}
	opts := b.opts

	var scanOpts []scanner.Option
	if rel, err := filepath.Rel(opts.Root, opts.OutDir); err == nil && !strings.HasPrefix(rel, "..") {
		scanOpts = append(scanOpts, scanner.WithSkipDirs(rel))
	}
	scan, err := scanner.New(scanOpts...).Scan(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	res.Diagnostics.Add(scan.Diagnostics...)
	if len(scan.Blocks) == 0 {
		Logger().Info("no embedded zig found", zap.String("root", opts.Root))
		return res, nil
	}

	pkgs, err := groupPackages(scan.Blocks)
	if err != nil {
		return res, err
	}
	var (
		parts []*lowered
		units []foreign.Unit
		errs  error
	)
	for _, p := range pkgs {
		blocks, err := b.load(p, &res.Diagnostics)
		errs = multierr.Append(errs, err)
		if len(blocks) == 0 {
			continue
		}
		part, err := b.lower(p, blocks, &res.Diagnostics)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := b.checkHost(part); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		part.bridge.LinkDir = linkDir(p.Dir, opts.OutDir)
		parts = append(parts, part)
		units = append(units, part.units...)
	}
	errs = multierr.Append(errs, checkSymbols(parts))
	if errs != nil {
		return res, errs
	}
	b.reportStandalone(scan.ZigFiles, &res.Diagnostics)

	var all []*bridge.Spec
	for _, part := range parts {
		all = append(all, part.bridge.Specs...)
	}
	res.Symbols = bridge.BuildSymbolTable(all)
	res.Signatures = bridge.WrapperSignatures(all)

	if err := b.compile(ctx, units, scan.CFiles, res); err != nil {
		return res, err
	}

	for _, part := range parts {
		file := filepath.Join(part.dir, opts.BridgeFile)
		if err := opts.Generator.Generate(outputFile(file), part.bridge); err != nil {
			return res, fmt.Errorf("generate %s: %w", file, err)
		}
		res.Packages = append(res.Packages, Package{
			Dir:        part.dir,
			Name:       part.bridge.Package,
			BridgeFile: file,
			Specs:      len(part.bridge.Specs),
		})
	}

	res.Link = LinkDirectives{SearchDir: opts.OutDir, Library: opts.Library, Artifact: res.Artifact}
	if err := opts.Registrar.Register(res.Link); err != nil {
		return res, fmt.Errorf("register link directives: %w", err)
	}
	return res, nil
}

// compile emits the foreign source set and compiles it unless the previous
// build produced the same fingerprint and its artifact still exists.
func (b *builder) compile(ctx context.Context, units []foreign.Unit, cfiles []string, res *Result) error {
	opts := b.opts
	var emitOpts []foreign.EmitOption
	emitOpts = append(emitOpts, foreign.WithLibrary(opts.Library))
	if opts.Mode == foreign.ModeModularBuildZig {
		emitOpts = append(emitOpts, foreign.WithCSources(cfiles...))
	}
	set, err := foreign.NewEmitter(opts.Mode, emitOpts...).Emit(units)
	if err != nil {
		return err
	}
	written, err := set.Write(opts.OutDir)
	if err != nil {
		return diag.Wrap(diag.PhaseForeign, diag.KindIO, err, "write foreign sources")
	}
	res.Sources = written

	res.Fingerprint = fingerprint(set, opts)
	res.Artifact = filepath.Join(opts.OutDir, toolchain.LibraryFile(opts.Platform, opts.Library))
	hashPath := filepath.Join(opts.OutDir, HashFile)
	if unchanged(hashPath, res.Fingerprint) && exists(res.Artifact) == nil {
		Logger().Info("foreign sources unchanged, compile skipped",
			zap.String("fingerprint", res.Fingerprint),
			zap.String("artifact", res.Artifact),
		)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := toolchain.Request{
		Dir:      opts.OutDir,
		Main:     set.Main,
		Platform: opts.Platform,
		Output:   res.Artifact,
		Library:  opts.Library,
		Mode:     opts.Mode,
	}
	Logger().Info("compiling foreign sources",
		zap.Stringer("mode", opts.Mode),
		zap.Stringer("platform", opts.Platform),
		zap.String("output", res.Artifact),
	)
	if err := opts.Compiler.Compile(ctx, req); err != nil {
		return err
	}
	if err := opts.Verifier.Verify(ctx, res.Artifact, res.Symbols.Exported()); err != nil {
		return err
	}
	res.Compiled = true
	if err := os.WriteFile(hashPath, []byte(res.Fingerprint+"\n"), 0o644); err != nil {
		return diag.Wrap(diag.PhaseCompile, diag.KindIO, err, "write fingerprint")
	}
	return nil
}

// fingerprint covers the source set and everything else that changes the
// artifact.
func fingerprint(set *foreign.Set, opts Options) string {
	return fmt.Sprintf("%s %s %s", set.Fingerprint(), opts.Platform, opts.Library)
}

func unchanged(hashPath, fp string) bool {
	old, err := os.ReadFile(hashPath)
	return err == nil && string(bytes.TrimSpace(old)) == fp
}

// reportStandalone notes .zig files under the root that no block includes.
func (b *builder) reportStandalone(files []string, diags *diag.List) {
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil || b.included[abs] {
			continue
		}
		diags.Add(diag.Infof(diag.PhaseScan, diag.Pos{File: f}, "zig file is not included by any block"))
	}
}

// linkDir is the library directory relative to a package, in slash form for
// #cgo directives.
func linkDir(pkgDir, outDir string) string {
	rel, err := filepath.Rel(pkgDir, outDir)
	if err != nil {
		return filepath.ToSlash(outDir)
	}
	return filepath.ToSlash(rel)
}

type outputFile string

func (f outputFile) OutputFilename() string { return string(f) }
