// Package config handles configuration loading for zarrpipe.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/celldive/zarrpipe/internal/data/zarr"
)

// Config represents the converter and server configuration.
type Config struct {
	Preset      string            `yaml:"preset"`
	Input       InputConfig       `yaml:"input"`
	Output      OutputConfig      `yaml:"output"`
	Pyramid     PyramidConfig     `yaml:"pyramid"`
	Chunks      ChunkConfig       `yaml:"chunks"`
	Compression CompressionConfig `yaml:"compression"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Workers     WorkersConfig     `yaml:"workers"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Publish     PublishConfig     `yaml:"publish"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// InputConfig selects the source files.
type InputConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
	Regions    []string `yaml:"regions"`
}

// OutputConfig controls where stores are written.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Prefix    string `yaml:"prefix"`
	Overwrite bool   `yaml:"overwrite"`
	Preview   bool   `yaml:"preview"`
	DryRun    bool   `yaml:"dry_run"`
}

// PyramidConfig sets pyramid depth and downsampling factor.
type PyramidConfig struct {
	Levels int `yaml:"levels"`
	Factor int `yaml:"factor"`
}

// ChunkConfig sets the planar chunk edge. Size 0 selects automatically.
type ChunkConfig struct {
	Size     int `yaml:"size"`
	BudgetMB int `yaml:"budget_mb"`
	MinEdge  int `yaml:"min_edge"`
}

// CompressionConfig selects the chunk codec.
type CompressionConfig struct {
	Mode  string `yaml:"mode"`
	Level int    `yaml:"level"`
}

// MetadataConfig contains OME metadata settings.
type MetadataConfig struct {
	// Magnification of the objective; 0 omits objective metadata.
	Magnification *float64 `yaml:"magnification"`
	PixelSizeUM   float64  `yaml:"pixel_size_um"`
}

// WorkersConfig bounds concurrency.
type WorkersConfig struct {
	Regions int `yaml:"regions"`
	Chunks  int `yaml:"chunks"`
	Reads   int `yaml:"reads"`
}

// LedgerConfig points at the sqlite run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// PublishConfig uploads finished stores to S3 or a compatible service.
type PublishConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	Concurrency     int    `yaml:"concurrency"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int         `yaml:"port"`
	CORSOrigins []string    `yaml:"cors_origins"`
	Cache       CacheConfig `yaml:"cache"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ChunkSizeMB     int `yaml:"chunk_size_mb"`
	ChunkTTLMinutes int `yaml:"chunk_ttl_minutes"`
	CatalogEntries  int `yaml:"catalog_entries"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Preset bundles tuning values for a common target.
type Preset struct {
	Workers     int
	Compression string
	Level       int
	ChunkSize   int
	Levels      int
}

// Presets are the named tuning bundles accepted by --preset.
var Presets = map[string]Preset{
	"qupath":  {Workers: 8, Compression: "blosc", Level: 3, ChunkSize: 512, Levels: 6},
	"fast":    {Workers: 16, Compression: "lz4", Level: 1, ChunkSize: 1024, Levels: 5},
	"small":   {Workers: 4, Compression: "zstd", Level: 9, ChunkSize: 512, Levels: 5},
	"network": {Workers: 4, Compression: "blosc", Level: 7, ChunkSize: 1024, Levels: 5},
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads configuration from a YAML file. A preset named in the file is
// applied first; values set in the file take precedence over it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := DefaultConfig()
	if head.Preset != "" {
		if err := cfg.ApplyPreset(head.Preset); err != nil {
			return nil, err
		}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for values explicitly zeroed or left empty
	applyDefaults(cfg)

	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	mag := 20.0
	return &Config{
		Input: InputConfig{
			Extensions: []string{".ome.tif", ".ome.tiff"},
		},
		Output: OutputConfig{
			Dir: "./zarr",
		},
		Pyramid: PyramidConfig{
			Levels: 5,
			Factor: 2,
		},
		Chunks: ChunkConfig{
			BudgetMB: 32,
			MinEdge:  64,
		},
		Compression: CompressionConfig{
			Mode:  "balanced",
			Level: 5,
		},
		Metadata: MetadataConfig{
			Magnification: &mag,
		},
		Workers: WorkersConfig{
			Regions: 2,
			Chunks:  4,
			Reads:   4,
		},
		Publish: PublishConfig{
			Region:      "us-east-1",
			Concurrency: 8,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Cache: CacheConfig{
				ChunkSizeMB:     512,
				ChunkTTLMinutes: 10,
				CatalogEntries:  256,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if len(cfg.Input.Extensions) == 0 {
		cfg.Input.Extensions = defaults.Input.Extensions
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = defaults.Output.Dir
	}
	if cfg.Pyramid.Levels == 0 {
		cfg.Pyramid.Levels = defaults.Pyramid.Levels
	}
	if cfg.Pyramid.Factor == 0 {
		cfg.Pyramid.Factor = defaults.Pyramid.Factor
	}
	if cfg.Chunks.BudgetMB == 0 {
		cfg.Chunks.BudgetMB = defaults.Chunks.BudgetMB
	}
	if cfg.Chunks.MinEdge == 0 {
		cfg.Chunks.MinEdge = defaults.Chunks.MinEdge
	}
	if cfg.Compression.Mode == "" {
		cfg.Compression.Mode = defaults.Compression.Mode
	}
	if cfg.Compression.Level == 0 {
		cfg.Compression.Level = defaults.Compression.Level
	}
	if cfg.Metadata.Magnification == nil {
		cfg.Metadata.Magnification = defaults.Metadata.Magnification
	}
	if cfg.Workers.Regions == 0 {
		cfg.Workers.Regions = defaults.Workers.Regions
	}
	if cfg.Workers.Chunks == 0 {
		cfg.Workers.Chunks = defaults.Workers.Chunks
	}
	if cfg.Workers.Reads == 0 {
		cfg.Workers.Reads = defaults.Workers.Reads
	}
	if cfg.Publish.Region == "" {
		cfg.Publish.Region = defaults.Publish.Region
	}
	if cfg.Publish.Concurrency == 0 {
		cfg.Publish.Concurrency = defaults.Publish.Concurrency
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Cache.ChunkSizeMB == 0 {
		cfg.Server.Cache.ChunkSizeMB = defaults.Server.Cache.ChunkSizeMB
	}
	if cfg.Server.Cache.ChunkTTLMinutes == 0 {
		cfg.Server.Cache.ChunkTTLMinutes = defaults.Server.Cache.ChunkTTLMinutes
	}
	if cfg.Server.Cache.CatalogEntries == 0 {
		cfg.Server.Cache.CatalogEntries = defaults.Server.Cache.CatalogEntries
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// ApplyPreset overwrites the tuning values covered by the named preset.
func (c *Config) ApplyPreset(name string) error {
	p, ok := Presets[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown preset %q (valid: %s)", name, strings.Join(PresetNames(), ", "))
	}
	c.Preset = strings.ToLower(name)
	c.Workers.Chunks = p.Workers
	c.Compression.Mode = p.Compression
	c.Compression.Level = p.Level
	c.Chunks.Size = p.ChunkSize
	c.Pyramid.Levels = p.Levels
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Pyramid.Levels < 1 {
		errs = append(errs, fmt.Errorf("pyramid.levels must be at least 1, got %d", c.Pyramid.Levels))
	}
	if c.Pyramid.Factor < 2 {
		errs = append(errs, fmt.Errorf("pyramid.factor must be at least 2, got %d", c.Pyramid.Factor))
	}
	if c.Chunks.Size < 0 {
		errs = append(errs, fmt.Errorf("chunks.size must not be negative, got %d", c.Chunks.Size))
	}
	if _, err := zarr.ParseCompression(c.Compression.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Compression.Level < 1 || c.Compression.Level > 9 {
		errs = append(errs, fmt.Errorf("compression.level must be in 1..9, got %d", c.Compression.Level))
	}
	if m := c.Magnification(); m < 0 {
		errs = append(errs, fmt.Errorf("metadata.magnification must not be negative, got %v", m))
	}
	if c.Metadata.PixelSizeUM < 0 {
		errs = append(errs, fmt.Errorf("metadata.pixel_size_um must not be negative, got %v", c.Metadata.PixelSizeUM))
	}
	if c.Workers.Regions < 1 || c.Workers.Chunks < 1 || c.Workers.Reads < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %+v", c.Workers))
	}
	if c.Publish.Enabled && c.Publish.Bucket == "" {
		errs = append(errs, errors.New("publish.bucket is required when publishing is enabled"))
	}
	return errors.Join(errs...)
}

// Magnification returns the configured objective magnification.
func (c *Config) Magnification() float64 {
	if c.Metadata.Magnification == nil {
		return 0
	}
	return *c.Metadata.Magnification
}

// CompressionMode parses the configured codec name.
func (c *Config) CompressionMode() (zarr.Compression, error) {
	return zarr.ParseCompression(c.Compression.Mode)
}

// ChunkSizing converts the chunk settings for the store writer.
func (c *Config) ChunkSizing() zarr.ChunkSizing {
	return zarr.ChunkSizing{
		Edge:    c.Chunks.Size,
		Budget:  c.Chunks.BudgetMB << 20,
		MinEdge: c.Chunks.MinEdge,
	}
}
