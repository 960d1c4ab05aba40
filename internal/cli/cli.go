package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/lowering"
)

// ParseArgs parses command line arguments into Config. Values from the
// config file apply first; flags given on the command line override them.
func ParseArgs(args []string) (*Config, error) {
	flags := &Config{}
	var mode, structReturn string

	fs := pflag.NewFlagSet("autozig", pflag.ContinueOnError)
	fs.StringVarP(&flags.Src, "src", "s", ".", "source root to scan")
	fs.StringVarP(&flags.OutDir, "out-dir", "o", "", "output directory for zig sources and the library")
	fs.StringVarP(&mode, "mode", "m", "merged", "compilation mode: merged, modular_import, modular_buildzig")
	fs.StringVarP(&flags.Target, "target", "t", "", "target platform as goos/goarch (default host)")
	fs.StringVar(&structReturn, "struct-return", "dual", "struct result policy: dual, pointer, value")
	fs.StringVar(&flags.BridgeFile, "bridge-file", "", "generated file name in each package")
	fs.StringVarP(&flags.Library, "lib", "l", "", "static library name")
	fs.StringVar(&flags.Zig, "zig", "", "zig executable")
	fs.StringVar(&flags.Optimize, "optimize", "", "zig optimize mode")
	fs.StringVarP(&flags.ConfigPath, "config", "c", "", "config file (default <src>/"+ConfigFile+")")
	fs.BoolVar(&flags.Verbose, "verbose", false, "debug logging")
	fs.BoolVarP(&flags.ShowVersion, "version", "v", false, "show version")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.ShowVersion {
		return flags, nil
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := &Config{}
	path, required := flags.ConfigPath, true
	if path == "" {
		path, required = filepath.Join(flags.Src, ConfigFile), false
	}
	if err := loadFile(path, required, cfg); err != nil {
		return nil, err
	}

	override := func(name string, dst *string, v string) {
		if fs.Changed(name) || *dst == "" {
			*dst = v
		}
	}
	override("src", &cfg.Src, flags.Src)
	override("out-dir", &cfg.OutDir, flags.OutDir)
	override("target", &cfg.Target, flags.Target)
	override("bridge-file", &cfg.BridgeFile, flags.BridgeFile)
	override("lib", &cfg.Library, flags.Library)
	override("zig", &cfg.Zig, flags.Zig)
	override("optimize", &cfg.Optimize, flags.Optimize)

	if fs.Changed("mode") {
		m, err := foreign.ParseMode(mode)
		if err != nil {
			return nil, fmt.Errorf("--mode: %w", err)
		}
		cfg.Mode = m
	}
	if fs.Changed("struct-return") {
		p, err := lowering.ParseStructReturn(structReturn)
		if err != nil {
			return nil, fmt.Errorf("--struct-return: %w", err)
		}
		cfg.StructReturn = p
	}
	cfg.ConfigPath = flags.ConfigPath
	cfg.Verbose = flags.Verbose

	if strings.TrimSpace(cfg.Src) == "" {
		return nil, fmt.Errorf("--src is required")
	}
	return cfg, nil
}
