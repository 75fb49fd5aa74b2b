package pipeline

import (
	"fmt"

	"github.com/celldive/zarrpipe/internal/config"
	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/omezarr"
	"github.com/celldive/zarrpipe/internal/pyramid"
)

// Options configures one conversion run.
type Options struct {
	InputDir      string
	Extensions    []string
	Regions       []domain.RegionID // allow-list; empty converts every region
	Store         omezarr.Options
	Pyramid       pyramid.Options
	Workers       int // regions converted concurrently
	ReadWorkers   int // channel decodes per region
	Magnification float64
	PixelSizeUM   float64 // used when the source carries no physical size
	Preview       bool
	DryRun        bool
}

// FromConfig converts validated configuration into run options.
func FromConfig(cfg *config.Config) (Options, error) {
	mode, err := cfg.CompressionMode()
	if err != nil {
		return Options{}, err
	}
	regions := make([]domain.RegionID, 0, len(cfg.Input.Regions))
	for _, r := range cfg.Input.Regions {
		id, err := domain.NewRegionID(r)
		if err != nil {
			return Options{}, fmt.Errorf("invalid region %q: %w", r, err)
		}
		regions = append(regions, id)
	}
	return Options{
		InputDir:   cfg.Input.Dir,
		Extensions: cfg.Input.Extensions,
		Regions:    regions,
		Store: omezarr.Options{
			OutputDir:    cfg.Output.Dir,
			Prefix:       cfg.Output.Prefix,
			Overwrite:    cfg.Output.Overwrite,
			Compression:  mode,
			Strength:     cfg.Compression.Level,
			Chunks:       cfg.ChunkSizing(),
			ChunkWorkers: cfg.Workers.Chunks,
		},
		Pyramid: pyramid.Options{
			Levels: cfg.Pyramid.Levels,
			Factor: cfg.Pyramid.Factor,
		},
		Workers:       cfg.Workers.Regions,
		ReadWorkers:   cfg.Workers.Reads,
		Magnification: cfg.Magnification(),
		PixelSizeUM:   cfg.Metadata.PixelSizeUM,
		Preview:       cfg.Output.Preview,
		DryRun:        cfg.Output.DryRun,
	}, nil
}
