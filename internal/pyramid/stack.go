package pyramid

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/raster"
)

// StackOptions controls level 0 assembly.
type StackOptions struct {
	// ReadWorkers bounds concurrent plane decodes. Zero means one per channel.
	ReadWorkers int
}

// Stack decodes every channel and assembles them, in order, into level 0.
// All channels must share width, height and dtype; a mismatch is reported
// before any output is produced. When the reader can probe headers, shapes
// are checked before any pixels are decoded.
func Stack(ctx context.Context, reader raster.Reader, paths []string, opts StackOptions) (*Level, error) {
	if len(paths) == 0 {
		return nil, domain.ValidationError("", "stack", errors.New("no channels to stack"))
	}

	var level *Level
	if prober, ok := reader.(raster.Prober); ok {
		infos := make([]raster.Info, len(paths))
		for i, p := range paths {
			info, err := prober.Probe(p)
			if err != nil {
				return nil, classifyRead(err)
			}
			infos[i] = info
		}
		if err := checkUniform(paths, infos); err != nil {
			return nil, err
		}
		level = NewLevel(0, 1, len(paths), infos[0].Width, infos[0].Height, infos[0].DType)
	}

	planes := make([]*raster.Plane, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if opts.ReadWorkers > 0 {
		g.SetLimit(opts.ReadWorkers)
	}
	for i, p := range paths {
		g.Go(func() error {
			plane, err := reader.ReadPlane(gctx, p)
			if err != nil {
				return classifyRead(err)
			}
			if err := plane.Validate(); err != nil {
				return domain.ValidationError("", "stack", fmt.Errorf("%s: %w", p, err))
			}
			if level != nil {
				if plane.Info() != level.info() {
					return mismatch(paths[0], p, level.info(), plane.Info())
				}
				copy(level.Plane(i), plane.Data)
				return nil
			}
			planes[i] = plane
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if level != nil {
		return level, nil
	}

	infos := make([]raster.Info, len(planes))
	for i, p := range planes {
		infos[i] = p.Info()
	}
	if err := checkUniform(paths, infos); err != nil {
		return nil, err
	}
	level = NewLevel(0, 1, len(planes), infos[0].Width, infos[0].Height, infos[0].DType)
	for i, p := range planes {
		copy(level.Plane(i), p.Data)
		planes[i] = nil
	}
	return level, nil
}

func (l *Level) info() raster.Info {
	return raster.Info{DType: l.DType, Width: l.Width, Height: l.Height}
}

func checkUniform(paths []string, infos []raster.Info) error {
	for i := 1; i < len(infos); i++ {
		if infos[i] != infos[0] {
			return mismatch(paths[0], paths[i], infos[0], infos[i])
		}
	}
	if !infos[0].DType.Valid() {
		return domain.ValidationError("", "stack", domain.ErrUnsupportedPixelType)
	}
	return nil
}

func mismatch(refPath, path string, ref, got raster.Info) error {
	return domain.ValidationError("", "stack", fmt.Errorf("%w: %s is %dx%d %s, %s is %dx%d %s",
		domain.ErrDimensionMismatch,
		refPath, ref.Width, ref.Height, ref.DType,
		path, got.Width, got.Height, got.DType))
}

func classifyRead(err error) error {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, domain.ErrUnsupportedPixelType), errors.Is(err, domain.ErrUnsupportedFormat):
		return domain.ValidationError("", "read", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return domain.IOError("", "read", err)
	}
}
