package build

import (
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/layola13/autozig/internal/asyncgen"
	"github.com/layola13/autozig/internal/bridge"
	"github.com/layola13/autozig/internal/diag"
	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/generator"
	"github.com/layola13/autozig/internal/idl"
	"github.com/layola13/autozig/internal/lowering"
	"github.com/layola13/autozig/internal/matcher"
	"github.com/layola13/autozig/internal/mono"
	"github.com/layola13/autozig/internal/opaque"
	"github.com/layola13/autozig/internal/scanner"
)

// pkg collects the blocks of one Go package directory.
type pkg struct {
	Dir    string
	Name   string
	Blocks []scanner.Block
}

// parsedBlock is a block whose foreign text and declarations are loaded.
type parsedBlock struct {
	block  scanner.Block
	origin string
	text   string
	src    *foreign.Source
	decls  *idl.Decls
}

// lowered is what one package contributes to the build.
type lowered struct {
	dir    string
	bridge *generator.Bridge
	units  []foreign.Unit
	// handles names the synthesized opaque handle types.
	handles []string
}

// groupPackages groups blocks by directory in first-seen order. Blocks of one
// directory must agree on the package name.
func groupPackages(blocks []scanner.Block) ([]*pkg, error) {
	var (
		out  []*pkg
		errs error
	)
	byDir := map[string]*pkg{}
	for _, b := range blocks {
		p, ok := byDir[b.Dir]
		if !ok {
			p = &pkg{Dir: b.Dir, Name: b.Package}
			byDir[b.Dir] = p
			out = append(out, p)
		}
		if p.Name != b.Package {
			errs = multierr.Append(errs, diag.New(diag.PhaseGenerate, diag.KindInvalidInput).
				At(b.Pos).
				Detail("package %s in %s, other blocks in the directory use package %s", b.Package, b.Dir, p.Name).
				Build())
			continue
		}
		p.Blocks = append(p.Blocks, b)
	}
	return out, errs
}

// load reads the foreign text of every block and parses its declarations.
// Unresolvable includes are diagnostics; the block is skipped.
func (b *builder) load(p *pkg, diags *diag.List) ([]*parsedBlock, error) {
	var (
		out  []*parsedBlock
		errs error
	)
	for _, blk := range p.Blocks {
		pb := &parsedBlock{block: blk, origin: blk.Pos.String(), text: blk.Code}
		if blk.Form == scanner.FormInclude {
			path, err := resolveInclude(blk.Path, b.modRoot, blk.Dir)
			if err != nil {
				diags.Add(diag.Warnf(diag.PhaseScan, blk.Pos, "included file %s not found, block skipped: %v", blk.Path, err))
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				diags.Add(diag.Warnf(diag.PhaseScan, blk.Pos, "included file %s unreadable, block skipped: %v", path, err))
				continue
			}
			pb.text = string(data)
			pb.origin = path
			b.included[path] = true
		}
		pb.src = foreign.Parse(pb.text)

		decls, d, err := b.parser.Parse(blk.Decls, idl.Origin{File: blk.File, Line: blk.DeclLine})
		diags.Add(d...)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		pb.decls = decls
		out = append(out, pb)
	}
	return out, errs
}

// lower generates the specs of one package. Declared types are visible
// across all blocks of the package; foreign result types are looked up in
// the block's own Zig text.
func (b *builder) lower(p *pkg, blocks []*parsedBlock, diags *diag.List) (*lowered, error) {
	all := &idl.Decls{}
	for _, pb := range blocks {
		all.Types = append(all.Types, pb.decls.Types...)
		all.Opaque = append(all.Opaque, pb.decls.Opaque...)
	}
	env := lowering.EnvFor(all)

	out := &lowered{dir: p.Dir, handles: all.Opaque, bridge: &generator.Bridge{
		Package: p.Name,
		Library: b.opts.Library,
	}}
	var errs error
	for _, pb := range blocks {
		engine := lowering.New(env,
			lowering.WithStructReturn(b.opts.StructReturn),
			lowering.WithForeign(pb.src),
		)
		specs, err := b.lowerBlock(engine, pb, out.bridge, diags)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := asyncgen.Apply(specs); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		diags.Add(matcher.NewChecker().Check(all, pb.src)...)

		out.bridge.Types = append(out.bridge.Types, pb.decls.Types...)
		out.bridge.Consts = append(out.bridge.Consts, pb.decls.Consts...)
		out.bridge.Specs = append(out.bridge.Specs, specs...)
		out.units = append(out.units, foreign.Unit{Origin: pb.origin, Text: pb.text, Specs: specs})
	}
	if errs != nil {
		return nil, errs
	}

	Logger().Debug("lowered package",
		zap.String("dir", p.Dir),
		zap.String("package", p.Name),
		zap.Int("blocks", len(blocks)),
		zap.Int("specs", len(out.bridge.Specs)),
	)
	return out, nil
}

func (b *builder) lowerBlock(engine *lowering.Engine, pb *parsedBlock, br *generator.Bridge, diags *diag.List) ([]*bridge.Spec, error) {
	var (
		specs []*bridge.Spec
		errs  error
	)
	for _, f := range pb.decls.Funcs {
		if f.IsGeneric() {
			exp, d, err := mono.New(engine).Expand(mono.RequestFor(f))
			diags.Add(d...)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			specs = append(specs, exp.Specs...)
			if exp.Dispatcher != nil {
				specs = append(specs, exp.Dispatcher)
			}
			continue
		}
		s, d, err := engine.Lower(lowering.FuncInput(f))
		diags.Add(d...)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		specs = append(specs, s...)
	}

	gen := opaque.New(engine, pb.decls)
	for _, impl := range pb.decls.Impls {
		o, d, err := gen.Generate(impl)
		diags.Add(d...)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if o.Type != "" {
			br.Handles = append(br.Handles, o.Type)
		}
		br.Assertions = append(br.Assertions, o.Assertions...)
		specs = append(specs, o.Specs...)
	}
	return specs, errs
}

// checkSymbols rejects native symbols declared more than once. Every
// package links against the same library, so a symbol exported twice
// cannot be told apart.
func checkSymbols(parts []*lowered) error {
	seen := map[string]diag.Pos{}
	var errs error
	for _, part := range parts {
		for _, s := range part.bridge.Specs {
			sym := s.Native.Symbol
			if sym == "" {
				continue
			}
			if prev, ok := seen[sym]; ok {
				errs = multierr.Append(errs, diag.New(diag.PhaseGenerate, diag.KindDuplicate).
					At(s.Origin).Symbol(sym).
					Detail("native symbol already declared at %s", prev).
					Build())
				continue
			}
			seen[sym] = s.Origin
		}
	}
	return errs
}
