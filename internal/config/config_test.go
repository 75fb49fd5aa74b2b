package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/celldive/zarrpipe/internal/data/zarr"
)

func TestLoad_FullFile(t *testing.T) {
	content := `
input:
  dir: /data/slides
  regions: [R001, R003]
output:
  dir: /data/zarr
  prefix: run7
  overwrite: true
pyramid:
  levels: 4
  factor: 3
chunks:
  size: 256
compression:
  mode: fast
  level: 2
metadata:
  magnification: 40
  pixel_size_um: 0.325
workers:
  regions: 3
ledger:
  path: /data/runs.db
server:
  port: 9000
`
	cfg := loadFromString(t, content)

	if cfg.Input.Dir != "/data/slides" || len(cfg.Input.Regions) != 2 {
		t.Errorf("unexpected input %+v", cfg.Input)
	}
	if cfg.Output.Prefix != "run7" || !cfg.Output.Overwrite {
		t.Errorf("unexpected output %+v", cfg.Output)
	}
	if cfg.Pyramid.Levels != 4 || cfg.Pyramid.Factor != 3 {
		t.Errorf("unexpected pyramid %+v", cfg.Pyramid)
	}
	if cfg.Magnification() != 40 {
		t.Errorf("expected magnification 40, got %v", cfg.Magnification())
	}
	if cfg.Metadata.PixelSizeUM != 0.325 {
		t.Errorf("unexpected pixel size %v", cfg.Metadata.PixelSizeUM)
	}
	mode, err := cfg.CompressionMode()
	if err != nil || mode != zarr.CompressionFast {
		t.Errorf("unexpected compression %v, %v", mode, err)
	}
	if s := cfg.ChunkSizing(); s.Edge != 256 || s.Budget != 32<<20 {
		t.Errorf("unexpected chunk sizing %+v", s)
	}
	if cfg.Workers.Regions != 3 || cfg.Workers.Chunks != 4 {
		t.Errorf("unexpected workers %+v", cfg.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
output:
  dir: /out
`
	cfg := loadFromString(t, content)

	if cfg.Pyramid.Levels != 5 || cfg.Pyramid.Factor != 2 {
		t.Errorf("expected default pyramid, got %+v", cfg.Pyramid)
	}
	if cfg.Compression.Mode != "balanced" || cfg.Compression.Level != 5 {
		t.Errorf("expected default compression, got %+v", cfg.Compression)
	}
	if cfg.Magnification() != 20 {
		t.Errorf("expected default magnification 20, got %v", cfg.Magnification())
	}
	if len(cfg.Input.Extensions) != 2 {
		t.Errorf("expected default extensions, got %v", cfg.Input.Extensions)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoad_ZeroMagnificationKept(t *testing.T) {
	cfg := loadFromString(t, "metadata:\n  magnification: 0\n")
	if cfg.Metadata.Magnification == nil || cfg.Magnification() != 0 {
		t.Fatalf("explicit zero magnification was replaced: %v", cfg.Metadata.Magnification)
	}
}

func TestLoad_PresetThenOverrides(t *testing.T) {
	content := `
preset: small
compression:
  level: 6
`
	cfg := loadFromString(t, content)

	if cfg.Compression.Mode != "zstd" {
		t.Errorf("expected preset compression zstd, got %q", cfg.Compression.Mode)
	}
	if cfg.Compression.Level != 6 {
		t.Errorf("expected file level 6 to win over preset, got %d", cfg.Compression.Level)
	}
	if cfg.Chunks.Size != 512 || cfg.Workers.Chunks != 4 {
		t.Errorf("preset not applied: chunks %d, workers %d", cfg.Chunks.Size, cfg.Workers.Chunks)
	}
}

func TestLoad_UnknownPreset(t *testing.T) {
	path := writeConfig(t, "preset: turbo\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "turbo") {
		t.Fatalf("expected unknown preset error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyPreset(t *testing.T) {
	for _, name := range PresetNames() {
		cfg := DefaultConfig()
		if err := cfg.ApplyPreset(strings.ToUpper(name)); err != nil {
			t.Fatalf("ApplyPreset(%q) failed: %v", name, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %q is invalid: %v", name, err)
		}
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyPreset("qupath"); err != nil {
		t.Fatal(err)
	}
	if cfg.Pyramid.Levels != 6 || cfg.Compression.Level != 3 || cfg.Workers.Chunks != 8 {
		t.Errorf("unexpected qupath values: %+v %+v %+v", cfg.Pyramid, cfg.Compression, cfg.Workers)
	}
}

func TestValidate(t *testing.T) {
	neg := -1.0
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"depth", func(c *Config) { c.Pyramid.Levels = 0 }, "pyramid.levels"},
		{"factor", func(c *Config) { c.Pyramid.Factor = 1 }, "pyramid.factor"},
		{"codec", func(c *Config) { c.Compression.Mode = "brotli" }, "brotli"},
		{"strength", func(c *Config) { c.Compression.Level = 10 }, "compression.level"},
		{"magnification", func(c *Config) { c.Metadata.Magnification = &neg }, "magnification"},
		{"workers", func(c *Config) { c.Workers.Reads = 0 }, "workers"},
		{"bucket", func(c *Config) { c.Publish.Enabled = true }, "publish.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
