package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	BackendVulkan   = "vulkan"
	BackendSoftware = "software"

	CompilerGLSLC = "glslc"
	CompilerNaga  = "naga"

	// VariantMulti chains a histogram and a scatter dispatch per digit
	// over as many work groups as the input needs. VariantSingle sorts
	// each digit inside one work group.
	VariantMulti  = "multi"
	VariantSingle = "single"
)

// SortConfig drives the testbed sort run.
type SortConfig struct {
	Elements   uint32 `toml:"elements" yaml:"elements"`
	KeyBits    uint32 `toml:"key_bits" yaml:"key_bits"`
	Variant    string `toml:"variant" yaml:"variant"`
	BlockSize  uint32 `toml:"block_size" yaml:"block_size"`
	Seed       uint64 `toml:"seed" yaml:"seed"`
	Iterations int    `toml:"iterations" yaml:"iterations"`
}

// Config is the process-wide configuration, loaded once at startup and
// passed by reference to the components that need it.
type Config struct {
	Backend           string `toml:"backend" yaml:"backend"`
	FramesInFlight    uint32 `toml:"frames_in_flight" yaml:"frames_in_flight"`
	ResourceDirectory string `toml:"resource_directory" yaml:"resource_directory"`
	ShaderDirectory   string `toml:"shader_directory" yaml:"shader_directory"`
	Compiler          string `toml:"compiler" yaml:"compiler"`
	CompilerPath      string `toml:"compiler_path" yaml:"compiler_path"`
	WatchKernels      bool   `toml:"watch_kernels" yaml:"watch_kernels"`
	Validation        bool   `toml:"validation" yaml:"validation"`
	Workers           int    `toml:"workers" yaml:"workers"`
	LogLevel          string `toml:"log_level" yaml:"log_level"`

	Sort SortConfig `toml:"sort" yaml:"sort"`
}

// DefaultConfig places compiled kernels next to the running executable.
func DefaultConfig() Config {
	resources := "resources"
	if exe, err := os.Executable(); err == nil {
		resources = filepath.Join(filepath.Dir(exe), "resources")
	}
	return Config{
		Backend:           BackendVulkan,
		FramesInFlight:    2,
		ResourceDirectory: resources,
		ShaderDirectory:   filepath.Join("assets", "shaders"),
		Compiler:          CompilerGLSLC,
		CompilerPath:      "glslc",
		LogLevel:          "info",
		Sort: SortConfig{
			Elements:   1 << 20,
			KeyBits:    32,
			Variant:    VariantMulti,
			BlockSize:  32,
			Seed:       1,
			Iterations: 1,
		},
	}
}

// LoadConfig reads a TOML or YAML file on top of DefaultConfig. The
// format is chosen by extension.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendVulkan, BackendSoftware:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	switch c.Compiler {
	case CompilerGLSLC, CompilerNaga:
	default:
		return fmt.Errorf("%w: unknown compiler %q", ErrInvalidConfig, c.Compiler)
	}
	if c.FramesInFlight == 0 {
		return fmt.Errorf("%w: frames_in_flight must be at least 1", ErrInvalidConfig)
	}
	if c.Sort.KeyBits != 32 && c.Sort.KeyBits != 64 {
		return fmt.Errorf("%w: key_bits must be 32 or 64, got %d", ErrInvalidConfig, c.Sort.KeyBits)
	}
	switch c.Sort.Variant {
	case VariantMulti, VariantSingle:
	case "":
		c.Sort.Variant = VariantMulti
	default:
		return fmt.Errorf("%w: unknown sort variant %q", ErrInvalidConfig, c.Sort.Variant)
	}
	if c.Sort.BlockSize == 0 {
		return fmt.Errorf("%w: block_size must be positive", ErrInvalidConfig)
	}
	if c.Sort.Iterations < 1 {
		c.Sort.Iterations = 1
	}
	return nil
}
