package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/layola13/autozig/internal/build"
	"github.com/layola13/autozig/internal/foreign"
	"github.com/layola13/autozig/internal/lowering"
	"github.com/layola13/autozig/internal/toolchain"
)

// ConfigFile is looked up in the source root when --config is not given.
const ConfigFile = "autozig.yaml"

// Config stores the options of a single build.
type Config struct {
	Src          string                `yaml:"src"`
	OutDir       string                `yaml:"out_dir"`
	Mode         foreign.Mode          `yaml:"mode"`
	Target       string                `yaml:"target"`
	StructReturn lowering.StructReturn `yaml:"struct_return"`
	BridgeFile   string                `yaml:"bridge_file"`
	Library      string                `yaml:"lib"`
	Zig          string                `yaml:"zig"`
	Optimize     string                `yaml:"optimize"`

	ConfigPath  string `yaml:"-"`
	Verbose     bool   `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// Options converts the config into build options.
func (c *Config) Options() (build.Options, error) {
	platform, err := toolchain.ParsePlatform(c.Target)
	if err != nil {
		return build.Options{}, err
	}
	var zigOpts []toolchain.ZigOption
	if c.Zig != "" {
		zigOpts = append(zigOpts, toolchain.WithZigPath(c.Zig))
	}
	if c.Optimize != "" {
		zigOpts = append(zigOpts, toolchain.WithOptimize(c.Optimize))
	}
	return build.Options{
		Root:         c.Src,
		OutDir:       c.OutDir,
		Mode:         c.Mode,
		Platform:     platform,
		StructReturn: c.StructReturn,
		BridgeFile:   c.BridgeFile,
		Library:      c.Library,
		Compiler:     toolchain.NewZig(zigOpts...),
	}, nil
}

// loadFile decodes a YAML config file into cfg. A missing file is not an
// error unless required.
func loadFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for _, p := range []*string{&cfg.Src, &cfg.OutDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return nil
}
