package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.FramesInFlight != 2 || cfg.Sort.Elements != 1<<20 || cfg.Sort.BlockSize != 32 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if filepath.Base(cfg.ResourceDirectory) != "resources" {
		t.Fatalf("resource directory %s", cfg.ResourceDirectory)
	}
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "radix.toml", `
backend = "software"
frames_in_flight = 3
compiler = "naga"

[sort]
elements = 4096
key_bits = 64
variant = "single"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendSoftware || cfg.FramesInFlight != 3 || cfg.Compiler != CompilerNaga {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.Sort.Elements != 4096 || cfg.Sort.KeyBits != 64 || cfg.Sort.Variant != VariantSingle {
		t.Fatalf("sort %+v", cfg.Sort)
	}
	// Untouched keys keep their defaults.
	if cfg.Sort.BlockSize != 32 || cfg.LogLevel != "info" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "radix.yaml", `
backend: vulkan
validation: true
resource_directory: /tmp/res
sort:
  block_size: 16
  iterations: 4
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Validation || cfg.ResourceDirectory != "/tmp/res" {
		t.Fatalf("got %+v", cfg)
	}
	if cfg.Sort.BlockSize != 16 || cfg.Sort.Iterations != 4 || cfg.Sort.KeyBits != 32 || cfg.Sort.Variant != VariantMulti {
		t.Fatalf("sort %+v", cfg.Sort)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"format", "radix.json", `{}`},
		{"syntax", "radix.toml", `backend = `},
		{"backend", "radix.toml", `backend = "metal"`},
		{"compiler", "radix.yml", `compiler: dxc`},
		{"frames", "radix.toml", `frames_in_flight = 0`},
		{"key bits", "radix.toml", "[sort]\nkey_bits = 16"},
		{"variant", "radix.yaml", "sort:\n  variant: bitonic"},
		{"block size", "radix.yaml", "sort:\n  block_size: 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateClampsIterations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sort.Iterations = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Sort.Iterations != 1 {
		t.Fatalf("iterations %d", cfg.Sort.Iterations)
	}
}

func TestSetLogLevel(t *testing.T) {
	if !SetLogLevel("DEBUG") {
		t.Fatal("debug rejected")
	}
	if SetLogLevel("loud") {
		t.Fatal("unknown level accepted")
	}
	SetLogLevel("info")
}
