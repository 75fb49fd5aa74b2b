package omezarr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/celldive/zarrpipe/internal/data/zarr"
	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/pyramid"
	"github.com/celldive/zarrpipe/internal/raster"
)

// StoreExt is the directory suffix of a region store.
const StoreExt = ".zarr"

// Options configures store layout and encoding.
type Options struct {
	OutputDir    string
	Prefix       string
	Overwrite    bool
	Compression  zarr.Compression
	Strength     int
	Chunks       zarr.ChunkSizing
	ChunkWorkers int
}

// Writer creates region stores under OutputDir.
type Writer struct {
	opts  Options
	codec zarr.Codec
}

// NewWriter validates opts and prepares the chunk codec.
func NewWriter(opts Options) (*Writer, error) {
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	codec, err := zarr.NewCodec(opts.Compression, opts.Strength)
	if err != nil {
		return nil, err
	}
	if opts.ChunkWorkers <= 0 {
		opts.ChunkWorkers = 1
	}
	return &Writer{opts: opts, codec: codec}, nil
}

// StoreName returns "<prefix>_<region>.zarr", or "<region>.zarr" without a prefix.
func StoreName(prefix string, region domain.RegionID) string {
	if prefix == "" {
		return string(region) + StoreExt
	}
	return prefix + "_" + string(region) + StoreExt
}

// StorePath returns the final location of a region store.
func (w *Writer) StorePath(region domain.RegionID) string {
	return filepath.Join(w.opts.OutputDir, StoreName(w.opts.Prefix, region))
}

// LevelStats summarizes one written level.
type LevelStats struct {
	Path   string `json:"path"`
	Shape  []int  `json:"shape"`
	Chunks []int  `json:"chunks"`
	Count  int    `json:"chunk_count"`
	Bytes  int64  `json:"bytes"`
	Factor int    `json:"factor"`
}

// Session is one region store under construction in a staging directory.
// Nothing is visible at the final path until Commit succeeds.
type Session struct {
	w        *Writer
	region   domain.RegionID
	name     string
	final    string
	staging  string
	channels []Channel
	levels   []LevelStats
	ranges   [][2]float64
	dtype    raster.DType
	done     bool
}

// Begin creates the staging directory for region.
func (w *Writer) Begin(region domain.RegionID, channels []Channel) (*Session, error) {
	final := w.StorePath(region)
	if !w.opts.Overwrite {
		if _, err := os.Stat(final); err == nil {
			return nil, domain.IOError(region, "begin", fmt.Errorf("%w: %s", domain.ErrStoreExists, final))
		}
	}
	if err := os.MkdirAll(w.opts.OutputDir, 0o755); err != nil {
		return nil, domain.IOError(region, "begin", fmt.Errorf("failed to create output directory: %w", err))
	}
	name := StoreName(w.opts.Prefix, region)
	staging, err := os.MkdirTemp(w.opts.OutputDir, ".staging-"+name+"-")
	if err != nil {
		return nil, domain.IOError(region, "begin", fmt.Errorf("failed to create staging directory: %w", err))
	}
	return &Session{
		w:        w,
		region:   region,
		name:     name,
		final:    final,
		staging:  staging,
		channels: append([]Channel(nil), channels...),
	}, nil
}

// Dir is the staging directory; companion files are written here.
func (s *Session) Dir() string { return s.staging }

// FinalPath is where the store appears after Commit.
func (s *Session) FinalPath() string { return s.final }

// Name is the store directory name.
func (s *Session) Name() string { return s.name }

// Levels returns the stats of the levels written so far.
func (s *Session) Levels() []LevelStats { return s.levels }

// WriteLevel writes one pyramid level as array "<index>". Levels must arrive
// in order starting at 0.
func (s *Session) WriteLevel(ctx context.Context, level *pyramid.Level) (LevelStats, error) {
	if level.Index != len(s.levels) {
		return LevelStats{}, fmt.Errorf("level %d written out of order, expected %d", level.Index, len(s.levels))
	}
	if level.Channels != len(s.channels) {
		return LevelStats{}, domain.ValidationError(s.region, "write", fmt.Errorf("level has %d channels, store has %d", level.Channels, len(s.channels)))
	}

	sample := level.DType.Size()
	chunks := s.w.opts.Chunks.Chunks(level.Channels, level.Height, level.Width, sample)
	shape := []int{level.Channels, level.Height, level.Width}
	path := strconv.Itoa(level.Index)
	aw, err := zarr.CreateArray(filepath.Join(s.staging, path), zarr.NewArrayMeta(shape, chunks, level.DType, nil), s.w.codec)
	if err != nil {
		return LevelStats{}, err
	}

	meta := aw.Meta()
	grid := meta.Grid()
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.w.opts.ChunkWorkers)
	for cy := 0; cy < grid[1]; cy++ {
		for cx := 0; cx < grid[2]; cx++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				n, err := aw.WriteChunk([]int{0, cy, cx}, extractChunk(level, chunks, cy, cx))
				if err != nil {
					return err
				}
				written.Add(int64(n))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return LevelStats{}, err
	}

	if level.Index == 0 {
		s.ranges = make([][2]float64, level.Channels)
		for c := range s.ranges {
			lo, hi := level.ChannelRange(c)
			s.ranges[c] = [2]float64{lo, hi}
		}
		s.dtype = level.DType
	}
	stats := LevelStats{
		Path:   path,
		Shape:  shape,
		Chunks: chunks,
		Count:  grid[1] * grid[2],
		Bytes:  written.Load(),
		Factor: level.Factor,
	}
	s.levels = append(s.levels, stats)
	return stats, nil
}

// extractChunk copies the [C, ch, cw] block at (cy, cx), padding with zeros
// past the level edge.
func extractChunk(level *pyramid.Level, chunks []int, cy, cx int) []byte {
	b := level.DType.Size()
	ch, cw := chunks[1], chunks[2]
	buf := make([]byte, level.Channels*ch*cw*b)
	y0, x0 := cy*ch, cx*cw
	eh, ew := min(ch, level.Height-y0), min(cw, level.Width-x0)
	for c := 0; c < level.Channels; c++ {
		plane := level.Plane(c)
		for y := 0; y < eh; y++ {
			src := ((y0+y)*level.Width + x0) * b
			dst := ((c*ch + y) * cw) * b
			copy(buf[dst:dst+ew*b], plane[src:src+ew*b])
		}
	}
	return buf
}

// WriteAttrs writes the root group with multiscale and omero annotations.
// It must follow the last WriteLevel.
func (s *Session) WriteAttrs(pixelX, pixelY float64, factor int) (Attrs, error) {
	if len(s.levels) == 0 {
		return Attrs{}, errors.New("no levels written")
	}
	factors := make([]int, len(s.levels))
	for i, l := range s.levels {
		factors[i] = l.Factor
	}
	name := s.name[:len(s.name)-len(StoreExt)]
	attrs := BuildAttrs(name, s.channels, factors, pixelX, pixelY, factor, s.ranges, s.dtype)
	if err := zarr.WriteGroup(s.staging, attrs); err != nil {
		return Attrs{}, err
	}
	return attrs, nil
}

// Commit verifies the staged store, writes the completion marker last and
// moves the store to its final path.
func (s *Session) Commit() (*Marker, error) {
	if s.done {
		return nil, errors.New("session already finished")
	}
	if err := VerifyConsistency(s.staging); err != nil {
		return nil, domain.ValidationError(s.region, "commit", err)
	}
	marker, err := writeMarker(s.staging, s.name, s.region, s.channels, s.levels)
	if err != nil {
		return nil, domain.IOError(s.region, "commit", err)
	}
	if err := s.promote(); err != nil {
		return nil, domain.IOError(s.region, "commit", err)
	}
	s.done = true
	return marker, nil
}

func (s *Session) promote() error {
	_, err := os.Stat(s.final)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return os.Rename(s.staging, s.final)
	case err != nil:
		return err
	case !s.w.opts.Overwrite:
		return fmt.Errorf("%w: %s", domain.ErrStoreExists, s.final)
	}

	old, err := os.MkdirTemp(s.w.opts.OutputDir, ".replaced-"+s.name+"-")
	if err != nil {
		return err
	}
	retired := filepath.Join(old, s.name)
	if err := os.Rename(s.final, retired); err != nil {
		os.Remove(old)
		return err
	}
	if err := os.Rename(s.staging, s.final); err != nil {
		// Put the previous store back.
		if rerr := os.Rename(retired, s.final); rerr != nil {
			return errors.Join(err, rerr)
		}
		os.RemoveAll(old)
		return err
	}
	return os.RemoveAll(old)
}

// Abort discards the staging directory. It is a no-op after Commit.
func (s *Session) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return os.RemoveAll(s.staging)
}
