package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/celldive/zarrpipe/internal/config"
	"github.com/celldive/zarrpipe/internal/ledger"
	"github.com/celldive/zarrpipe/internal/logging"
	"github.com/celldive/zarrpipe/internal/pipeline"
	"github.com/celldive/zarrpipe/internal/publish"
	"github.com/celldive/zarrpipe/internal/raster"
)

var convertExample = strings.TrimSpace(`
  zarrpipe convert ./export --output ./zarr --preset qupath
  zarrpipe convert ./export --regions R001,R004 --dry-run
  zarrpipe convert ./export --config pipeline.yaml --compression max --compression-level 9
`)

// convertFlags holds flag values. Only flags the user set are applied over
// the configuration file.
type convertFlags struct {
	configPath       string
	output           string
	prefix           string
	regions          []string
	preset           string
	levels           int
	factor           int
	magnification    float64
	pixelSize        float64
	chunkSize        int
	compression      string
	compressionLevel int
	workers          int
	chunkWorkers     int
	overwrite        bool
	preview          bool
	dryRun           bool
	ledgerPath       string
	publishBucket    string
	verbose          bool
	jsonLogs         bool
}

func newConvertCommand() *cobra.Command {
	var f convertFlags
	cmd := &cobra.Command{
		Use:     "convert <input-dir>",
		Short:   "Convert every region in an export directory into an OME-Zarr store",
		Example: convertExample,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(fl *pflag.Flag) { changed[fl.Name] = true })

			cfg, err := loadConvertConfig(f, changed)
			if err != nil {
				return err
			}
			cfg.Input.Dir = args[0]
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConvert(ctx, cfg, log)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "path to a YAML configuration file")
	fl.StringVarP(&f.output, "output", "o", "", "directory receiving the stores (default ./zarr)")
	fl.StringVar(&f.prefix, "prefix", "", "store name prefix, producing <prefix>_<region>.zarr")
	fl.StringSliceVar(&f.regions, "regions", nil, "convert only these regions, e.g. R001,R004")
	fl.StringVar(&f.preset, "preset", "", "tuning preset: "+strings.Join(config.PresetNames(), ", "))
	fl.IntVar(&f.levels, "pyramid-levels", 0, "number of pyramid levels, including full resolution")
	fl.IntVar(&f.factor, "factor", 0, "downsampling factor between levels")
	fl.Float64Var(&f.magnification, "magnification", 0, "objective magnification; 0 omits objective metadata")
	fl.Float64Var(&f.pixelSize, "pixel-size", 0, "pixel size in micrometers when the source has none")
	fl.IntVar(&f.chunkSize, "chunk-size", 0, "planar chunk edge in pixels; 0 sizes chunks automatically")
	fl.StringVar(&f.compression, "compression", "", "chunk codec: none, fast, balanced, max (or lz4, zstd, blosc)")
	fl.IntVar(&f.compressionLevel, "compression-level", 0, "codec strength, 1-9 (zstd encodes in speed buckets: 1-2, 3-5, 6-9, max)")
	fl.IntVar(&f.workers, "workers", 0, "regions converted concurrently")
	fl.IntVar(&f.chunkWorkers, "chunk-workers", 0, "chunks encoded concurrently per region")
	fl.BoolVar(&f.overwrite, "overwrite", false, "replace existing stores")
	fl.BoolVar(&f.preview, "preview", false, "write a preview.png into each store")
	fl.BoolVar(&f.dryRun, "dry-run", false, "report planned stores without writing")
	fl.StringVar(&f.ledgerPath, "ledger", "", "sqlite file recording runs")
	fl.StringVar(&f.publishBucket, "publish-bucket", "", "upload finished stores to this S3 bucket")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fl.BoolVar(&f.jsonLogs, "json-logs", false, "log as JSON lines")
	return cmd
}

// loadConvertConfig layers defaults, the file, the preset flag and then
// explicitly set flags.
func loadConvertConfig(f convertFlags, changed map[string]bool) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if changed["preset"] {
		if err := cfg.ApplyPreset(f.preset); err != nil {
			return nil, err
		}
	}

	if changed["output"] {
		cfg.Output.Dir = f.output
	}
	if changed["prefix"] {
		cfg.Output.Prefix = f.prefix
	}
	if changed["regions"] {
		cfg.Input.Regions = f.regions
	}
	if changed["pyramid-levels"] {
		cfg.Pyramid.Levels = f.levels
	}
	if changed["factor"] {
		cfg.Pyramid.Factor = f.factor
	}
	if changed["magnification"] {
		m := f.magnification
		cfg.Metadata.Magnification = &m
	}
	if changed["pixel-size"] {
		cfg.Metadata.PixelSizeUM = f.pixelSize
	}
	if changed["chunk-size"] {
		cfg.Chunks.Size = f.chunkSize
	}
	if changed["compression"] {
		cfg.Compression.Mode = f.compression
	}
	if changed["compression-level"] {
		cfg.Compression.Level = f.compressionLevel
	}
	if changed["workers"] {
		cfg.Workers.Regions = f.workers
	}
	if changed["chunk-workers"] {
		cfg.Workers.Chunks = f.chunkWorkers
	}
	if changed["overwrite"] {
		cfg.Output.Overwrite = f.overwrite
	}
	if changed["preview"] {
		cfg.Output.Preview = f.preview
	}
	if changed["dry-run"] {
		cfg.Output.DryRun = f.dryRun
	}
	if changed["ledger"] {
		cfg.Ledger.Path = f.ledgerPath
	}
	if changed["publish-bucket"] {
		cfg.Publish.Enabled = f.publishBucket != ""
		cfg.Publish.Bucket = f.publishBucket
	}
	if changed["verbose"] && f.verbose {
		cfg.Log.Level = "debug"
	}
	if changed["json-logs"] {
		cfg.Log.JSON = f.jsonLogs
	}
	return cfg, nil
}

func runConvert(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	opts, err := pipeline.FromConfig(cfg)
	if err != nil {
		return err
	}

	var extra []pipeline.Option
	if cfg.Ledger.Path != "" && !opts.DryRun {
		runs, err := ledger.NewStore(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer runs.Close()
		if n, err := runs.MarkRunningAsFailed("interrupted before completion"); err != nil {
			log.Warn().Err(err).Msg("failed to recover stale runs")
		} else if n > 0 {
			log.Warn().Int64("runs", n).Msg("marked stale runs as failed")
		}
		extra = append(extra, pipeline.WithLedger(runs), pipeline.WithRunParams(ledger.RunParams{
			InputDir:      opts.InputDir,
			OutputDir:     opts.Store.OutputDir,
			Prefix:        opts.Store.Prefix,
			Regions:       cfg.Input.Regions,
			Preset:        cfg.Preset,
			Levels:        opts.Pyramid.Levels,
			Factor:        opts.Pyramid.Factor,
			Compression:   cfg.Compression.Mode,
			Strength:      cfg.Compression.Level,
			ChunkSize:     cfg.Chunks.Size,
			Magnification: opts.Magnification,
		}))
	}

	if cfg.Publish.Enabled && !opts.DryRun {
		pub, err := publish.New(ctx, publish.Config{
			Bucket:          cfg.Publish.Bucket,
			Prefix:          cfg.Publish.Prefix,
			Region:          cfg.Publish.Region,
			Endpoint:        cfg.Publish.Endpoint,
			AccessKeyID:     cfg.Publish.AccessKeyID,
			SecretAccessKey: cfg.Publish.SecretAccessKey,
			PathStyle:       cfg.Publish.UsePathStyle,
			Concurrency:     cfg.Publish.Concurrency,
		}, logging.Component(log, "publish"))
		if err != nil {
			return err
		}
		extra = append(extra, pipeline.WithPublisher(pub))
	}

	p, err := pipeline.New(opts, raster.NewTIFFReader(), log, extra...)
	if err != nil {
		return err
	}

	log.Info().
		Str("input", opts.InputDir).
		Str("output", opts.Store.OutputDir).
		Str("preset", cfg.Preset).
		Str("compression", cfg.Compression.Mode).
		Int("levels", opts.Pyramid.Levels).
		Bool("dry_run", opts.DryRun).
		Msg("starting conversion")

	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}

	for _, r := range summary.Regions {
		if r.Status != pipeline.StatusPlanned {
			continue
		}
		log.Info().
			Str("region", string(r.Region)).
			Str("store", r.Path).
			Strs("channels", r.Channels).
			Strs("colors", r.Colors).
			Strs("warnings", r.Warnings).
			Msg("planned")
	}
	log.Info().
		Int("succeeded", summary.Count(pipeline.StatusSucceeded)).
		Int("failed", summary.Count(pipeline.StatusFailed)).
		Int("canceled", summary.Count(pipeline.StatusCanceled)).
		Int("planned", summary.Count(pipeline.StatusPlanned)).
		Dur("took", summary.Duration).
		Msg("conversion finished")

	if summary.Failed() {
		return errRegionsFailed
	}
	return nil
}
