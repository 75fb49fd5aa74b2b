package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConvertConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	yaml := "preset: small\noutput:\n  dir: /data/zarr\n  prefix: fromfile\ncompression:\n  level: 4\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	f := convertFlags{configPath: path, prefix: "fromflag", chunkSize: 256, magnification: 0}
	changed := map[string]bool{"config": true, "prefix": true, "chunk-size": true, "magnification": true}
	cfg, err := loadConvertConfig(f, changed)
	if err != nil {
		t.Fatalf("loadConvertConfig failed: %v", err)
	}

	if cfg.Output.Dir != "/data/zarr" {
		t.Errorf("file value lost: %q", cfg.Output.Dir)
	}
	if cfg.Output.Prefix != "fromflag" || cfg.Chunks.Size != 256 {
		t.Errorf("flags not applied: prefix %q chunk %d", cfg.Output.Prefix, cfg.Chunks.Size)
	}
	if cfg.Compression.Mode != "zstd" || cfg.Compression.Level != 4 {
		t.Errorf("expected preset codec with file level, got %s/%d", cfg.Compression.Mode, cfg.Compression.Level)
	}
	if cfg.Magnification() != 0 || cfg.Metadata.Magnification == nil {
		t.Errorf("explicit zero magnification should be kept")
	}
}

func TestLoadConvertConfigPresetFlag(t *testing.T) {
	f := convertFlags{preset: "fast", levels: 3}
	cfg, err := loadConvertConfig(f, map[string]bool{"preset": true, "pyramid-levels": true})
	if err != nil {
		t.Fatalf("loadConvertConfig failed: %v", err)
	}
	if cfg.Compression.Mode != "lz4" || cfg.Workers.Chunks != 16 || cfg.Chunks.Size != 1024 {
		t.Errorf("preset not applied: %+v", cfg)
	}
	if cfg.Pyramid.Levels != 3 {
		t.Errorf("flag should override preset levels, got %d", cfg.Pyramid.Levels)
	}

	if _, err := loadConvertConfig(convertFlags{preset: "huge"}, map[string]bool{"preset": true}); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}

func TestUnsetFlagsKeepDefaults(t *testing.T) {
	cfg, err := loadConvertConfig(convertFlags{}, map[string]bool{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pyramid.Levels != 5 || cfg.Magnification() != 20 || cfg.Output.Dir != "./zarr" {
		t.Fatalf("defaults changed by unset flags: %+v", cfg)
	}
}

func TestConvertCommandDryRun(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "zarr")
	if err := os.WriteFile(filepath.Join(in, "S1_R000_1.0.1_DAPI_FINAL.ome.tif"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	root := newRootCommand()
	root.SetArgs([]string{"convert", in, "--output", out, "--dry-run"})
	// An empty file cannot be probed; planning reports a warning only.
	if err := root.Execute(); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("dry run created output")
	}
}

func TestConvertCommandRequiresInput(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"convert"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected argument error")
	}
}
