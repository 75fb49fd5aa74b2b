package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/ome"
	"github.com/celldive/zarrpipe/internal/omezarr"
	"github.com/celldive/zarrpipe/internal/pyramid"
	"github.com/celldive/zarrpipe/internal/raster"
	"github.com/celldive/zarrpipe/internal/render"
)

// defaultPixelSizeUM is used when neither the source nor the config gives a
// physical pixel size.
const defaultPixelSizeUM = 1.0

func (p *Pipeline) newResult(region domain.Region) RegionResult {
	res := RegionResult{
		Region:   region.ID,
		Store:    omezarr.StoreName(p.opts.Store.Prefix, region.ID),
		Channels: region.Labels(),
	}
	res.Colors = make([]string, len(region.Channels))
	for i, ch := range storeChannels(region) {
		res.Colors[i] = ch.Color().Hex()
	}
	return res
}

func storeChannels(region domain.Region) []omezarr.Channel {
	chs := make([]omezarr.Channel, len(region.Channels))
	for i, c := range region.Channels {
		chs[i] = omezarr.Channel{Label: c.Label(), Index: c.DiscoveryIndex}
	}
	return chs
}

// plan reports what convert would produce without reading pixels or writing.
func (p *Pipeline) plan(ctx context.Context, region domain.Region) RegionResult {
	res := p.newResult(region)
	if err := ctx.Err(); err != nil {
		res.fail(domain.Scope(region.ID, "plan", err))
		return res
	}
	res.Status = StatusPlanned
	res.Path = p.writer.StorePath(region.ID)
	res.Levels = p.opts.Pyramid.Levels
	if prober, ok := p.reader.(raster.Prober); ok {
		if info, err := prober.Probe(region.Channels[0].SourcePath); err == nil {
			res.Shapes = pyramid.Shapes(info.Width, info.Height, p.opts.Pyramid.Levels, p.opts.Pyramid.Factor)
		} else {
			res.Warnings = append(res.Warnings, err.Error())
		}
	}
	if _, err := os.Stat(res.Path); err == nil && !p.opts.Store.Overwrite {
		res.Warnings = append(res.Warnings, "store exists and overwrite is off")
	}
	return res
}

// convert builds, writes and commits one region store. Any failure discards
// the staging directory, so nothing that looks complete is left behind.
func (p *Pipeline) convert(ctx context.Context, region domain.Region) (res RegionResult) {
	start := time.Now()
	res = p.newResult(region)
	log := p.log.With().Str("region", string(region.ID)).Logger()
	defer func() {
		res.Duration = time.Since(start)
		if res.err != nil {
			log.Error().Err(res.err).Str("kind", res.Kind).Msg("region failed")
			return
		}
		log.Info().Int("levels", res.Levels).Int64("bytes", res.Bytes).Dur("took", res.Duration).Msg("region converted")
	}()

	if err := ctx.Err(); err != nil {
		res.fail(domain.Scope(region.ID, "start", err))
		return res
	}

	base, err := pyramid.Stack(ctx, p.reader, region.Paths(), pyramid.StackOptions{ReadWorkers: p.opts.ReadWorkers})
	if err != nil {
		res.fail(domain.Scope(region.ID, "stack", err))
		return res
	}
	width, height, dtype := base.Width, base.Height, base.DType
	log.Debug().Int("width", width).Int("height", height).Str("dtype", dtype.ZarrString()).Msg("level 0 stacked")

	basis, sources := p.resolveMetadata(region, ome.Dims{Width: width, Height: height, Channels: base.Channels, Type: dtype.OMEType()}, &res)
	res.Template = basis.IsTemplate()
	px, py := p.pixelSize(basis)

	channels := storeChannels(region)
	var previewChannels []render.Channel
	if p.preview != nil {
		previewChannels = make([]render.Channel, len(channels))
		for i, ch := range channels {
			lo, hi := base.ChannelRange(i)
			previewChannels[i] = render.Channel{Label: ch.Label, Color: ch.Color(), Lo: lo, Hi: hi}
		}
	}

	session, err := p.writer.Begin(region.ID, channels)
	if err != nil {
		res.fail(domain.Scope(region.ID, "begin", err))
		return res
	}
	committed := false
	defer func() {
		if !committed {
			if err := session.Abort(); err != nil {
				log.Warn().Err(err).Msg("failed to remove staging directory")
			}
		}
	}()

	last := p.opts.Pyramid.Levels - 1
	err = p.builder.Run(ctx, base, func(ctx context.Context, level *pyramid.Level) error {
		stats, err := session.WriteLevel(ctx, level)
		if err != nil {
			return err
		}
		res.Shapes = append(res.Shapes, pyramid.Shape{Width: level.Width, Height: level.Height})
		res.Bytes += stats.Bytes
		log.Debug().Int("level", level.Index).Int("chunks", stats.Count).Int64("bytes", stats.Bytes).Msg("level written")
		if level.Index == last && p.preview != nil {
			return p.writePreview(session.Dir(), level, previewChannels)
		}
		return nil
	})
	if err != nil {
		res.fail(domain.Scope(region.ID, "pyramid", err))
		return res
	}
	res.Levels = len(session.Levels())

	if _, err := session.WriteAttrs(px, py, p.opts.Pyramid.Factor); err != nil {
		res.fail(domain.Scope(region.ID, "attrs", err))
		return res
	}

	doc, err := ome.Synthesize(ome.Request{
		ImageName:     "Region_" + string(region.ID),
		Basis:         basis,
		Channels:      sources,
		Width:         width,
		Height:        height,
		PixelType:     dtype.OMEType(),
		PhysicalSizeX: px,
		PhysicalSizeY: py,
		Magnification: p.opts.Magnification,
	})
	if err != nil {
		res.fail(domain.SchemaError(region.ID, "metadata", err))
		return res
	}
	if _, err := ome.WriteCompanion(session.Dir(), doc); err != nil {
		res.fail(domain.Scope(region.ID, "metadata", err))
		return res
	}

	if err := ctx.Err(); err != nil {
		res.fail(domain.Scope(region.ID, "commit", err))
		return res
	}
	if _, err := session.Commit(); err != nil {
		res.fail(domain.Scope(region.ID, "commit", err))
		return res
	}
	committed = true
	res.Status = StatusSucceeded
	res.Path = session.FinalPath()

	if p.publisher != nil {
		pub, err := p.publisher.Publish(ctx, res.Path)
		if err != nil {
			res.Warnings = append(res.Warnings, "publish: "+err.Error())
			log.Warn().Err(err).Msg("publish failed; local store kept")
		} else {
			res.Published = pub.URI
		}
	}
	return res
}

// resolveMetadata picks the document basis from the first channel's embedded
// OME-XML and parses each channel's own document for acquisition settings.
// Unusable metadata only produces warnings.
func (p *Pipeline) resolveMetadata(region domain.Region, dims ome.Dims, res *RegionResult) (ome.Basis, []ome.ChannelSource) {
	sources := make([]ome.ChannelSource, len(region.Channels))
	for i, ch := range region.Channels {
		sources[i] = ome.ChannelSource{Label: ch.Label(), Index: ch.DiscoveryIndex}
	}
	describer, ok := p.reader.(raster.Describer)
	if !ok {
		return ome.Minimal(dims), sources
	}

	docs := make([][]byte, len(region.Channels))
	for i, ch := range region.Channels {
		doc, err := describer.Describe(ch.SourcePath)
		if err != nil {
			res.Warnings = append(res.Warnings, "describe "+filepath.Base(ch.SourcePath)+": "+err.Error())
			continue
		}
		docs[i] = doc
		if len(doc) == 0 {
			continue
		}
		if parsed, err := ome.Parse(doc); err == nil {
			sources[i].Source = parsed
		}
	}

	basis, err := ome.ResolveBasis(docs[0], dims)
	if err != nil {
		serr := domain.SchemaError(region.ID, "metadata", err)
		res.Warnings = append(res.Warnings, serr.Error())
		p.log.Warn().Str("region", string(region.ID)).Err(serr).Msg("source metadata unusable; using minimal document")
	}
	return basis, sources
}

// pixelSize prefers the source's physical size, then the configured one.
func (p *Pipeline) pixelSize(basis ome.Basis) (float64, float64) {
	if x, y, ok := basis.PhysicalSize(); ok {
		return x, y
	}
	if p.opts.PixelSizeUM > 0 {
		return p.opts.PixelSizeUM, p.opts.PixelSizeUM
	}
	return defaultPixelSizeUM, defaultPixelSizeUM
}

func (p *Pipeline) writePreview(dir string, level *pyramid.Level, channels []render.Channel) error {
	data, err := p.preview.Render(level, channels)
	if err != nil {
		return domain.IOError("", "preview", err)
	}
	if err := os.WriteFile(filepath.Join(dir, render.PreviewFile), data, 0o644); err != nil {
		return domain.IOError("", "preview", err)
	}
	return nil
}

func sortResults(results []RegionResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Region < results[j].Region })
}
