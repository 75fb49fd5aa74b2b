// Package service provides the store catalog behind the HTTP server.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/celldive/zarrpipe/internal/cache"
	"github.com/celldive/zarrpipe/internal/data/zarr"
	"github.com/celldive/zarrpipe/internal/ledger"
	"github.com/celldive/zarrpipe/internal/ome"
	"github.com/celldive/zarrpipe/internal/omezarr"
	"github.com/celldive/zarrpipe/internal/render"
)

var (
	// ErrStoreNotFound is returned for unknown or incomplete stores.
	ErrStoreNotFound = errors.New("store not found")
	// ErrFileNotFound is returned for a missing file inside a complete store.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidPath is returned for names that would leave the store.
	ErrInvalidPath = errors.New("invalid path")
)

// CatalogConfig contains catalog configuration.
type CatalogConfig struct {
	Root   string
	Cache  *cache.Manager
	Ledger *ledger.Store
	Logger zerolog.Logger
}

// Catalog lists and serves the completed stores under one output directory.
type Catalog struct {
	root   string
	cache  *cache.Manager
	ledger *ledger.Store
	log    zerolog.Logger
}

// StoreSummary is one entry of the store listing.
type StoreSummary struct {
	Name      string    `json:"name"`
	Region    string    `json:"region"`
	Channels  []string  `json:"channels"`
	Levels    int       `json:"levels"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
	Published string    `json:"published,omitempty"`
	Preview   bool      `json:"preview"`
}

// ChannelDetail describes one channel of a store.
type ChannelDetail struct {
	Index              int            `json:"index"`
	Label              string         `json:"label"`
	Color              string         `json:"color"`
	Window             omezarr.Window `json:"window"`
	Fluor              string         `json:"fluor,omitempty"`
	EmissionWavelength *float64       `json:"emission_wavelength,omitempty"`
}

// StoreDetail is the full description of a store.
type StoreDetail struct {
	StoreSummary
	Image         string               `json:"image"`
	PixelSizeUM   float64              `json:"pixel_size_um"`
	Magnification float64              `json:"magnification,omitempty"`
	Pyramid       []omezarr.LevelStats `json:"pyramid"`
	Arrays        []ArrayDetail        `json:"arrays"`
	ChannelInfo   []ChannelDetail      `json:"channel_info"`
}

// ArrayDetail is the on-disk layout of one pyramid level.
type ArrayDetail struct {
	Path       string `json:"path"`
	Shape      []int  `json:"shape"`
	Chunks     []int  `json:"chunks"`
	DType      string `json:"dtype"`
	Compressor string `json:"compressor"`
	Level      *int   `json:"level,omitempty"`
}

// NewCatalog creates a catalog over cfg.Root.
func NewCatalog(cfg CatalogConfig) *Catalog {
	return &Catalog{
		root:   cfg.Root,
		cache:  cfg.Cache,
		ledger: cfg.Ledger,
		log:    cfg.Logger,
	}
}

// Root returns the directory the catalog serves.
func (c *Catalog) Root() string { return c.root }

// Stores lists every complete store, sorted by name. Staging directories and
// stores without a completion marker are skipped.
func (c *Catalog) Stores() ([]StoreSummary, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []StoreSummary{}, nil
		}
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	stores := make([]StoreSummary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || validName(e.Name()) != nil {
			continue
		}
		m, err := omezarr.ReadMarker(filepath.Join(c.root, e.Name()))
		if err != nil {
			if !errors.Is(err, omezarr.ErrIncomplete) {
				c.log.Warn().Err(err).Str("store", e.Name()).Msg("unreadable completion marker")
			}
			continue
		}
		stores = append(stores, c.summarize(e.Name(), m))
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })
	return stores, nil
}

// StoresJSON returns the encoded store listing. Results are cached until the
// output directory changes.
func (c *Catalog) StoresJSON() ([]byte, error) {
	version := "0"
	if info, err := os.Stat(c.root); err == nil {
		version = strconv.FormatInt(info.ModTime().UnixNano(), 10)
	}
	return c.cachedJSON(cache.CatalogKey("stores", "", version), func() (any, error) {
		stores, err := c.Stores()
		if err != nil {
			return nil, err
		}
		return map[string]any{"stores": stores}, nil
	})
}

// Store describes one complete store.
func (c *Catalog) Store(name string) (*StoreDetail, error) {
	dir, m, err := c.open(name)
	if err != nil {
		return nil, err
	}

	r, err := zarr.NewReader(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer r.Close()

	var attrs omezarr.Attrs
	if err := r.Attrs(&attrs); err != nil {
		return nil, fmt.Errorf("failed to read attrs of %s: %w", name, err)
	}
	arrays, err := describeArrays(r, m.Levels)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	doc, err := ome.ReadCompanion(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read companion of %s: %w", name, err)
	}

	detail := &StoreDetail{
		StoreSummary:  c.summarize(name, m),
		Pyramid:       m.Levels,
		Arrays:        arrays,
		Magnification: doc.Magnification(),
	}
	if len(attrs.Multiscales) > 0 && len(attrs.Multiscales[0].Datasets) > 0 {
		ts := attrs.Multiscales[0].Datasets[0].CoordinateTransformations
		if len(ts) > 0 && len(ts[0].Scale) == 3 {
			detail.PixelSizeUM = ts[0].Scale[2]
		}
	}
	var acquired []ome.Channel
	if len(doc.Images) > 0 {
		detail.Image = doc.Images[0].Name
		acquired = doc.Images[0].Pixels.Channels
	}
	for i, ch := range attrs.Omero.Channels {
		cd := ChannelDetail{
			Index:  i,
			Label:  ch.Label,
			Color:  ch.Color,
			Window: ch.Window,
		}
		if i < len(acquired) {
			cd.Fluor = acquired[i].Fluor
			cd.EmissionWavelength = acquired[i].EmissionWavelength
		}
		detail.ChannelInfo = append(detail.ChannelInfo, cd)
	}
	return detail, nil
}

// describeArrays opens every level listed in the marker and decodes the origin
// chunk of the coarsest one.
func describeArrays(r *zarr.Reader, levels []omezarr.LevelStats) ([]ArrayDetail, error) {
	out := make([]ArrayDetail, 0, len(levels))
	var last *zarr.Array
	for _, l := range levels {
		a, err := r.Array(l.Path)
		if err != nil {
			return nil, fmt.Errorf("level %s: %w", l.Path, err)
		}
		d := ArrayDetail{
			Path:       l.Path,
			Shape:      a.Meta.Shape,
			Chunks:     a.Meta.Chunks,
			DType:      a.Meta.DType,
			Compressor: "none",
		}
		if c := a.Meta.Compressor; c != nil {
			d.Compressor = c.ID
			d.Level = c.Level
		}
		out = append(out, d)
		last = a
	}
	if last != nil {
		if _, err := last.ReadChunk(make([]int, len(last.Meta.Shape))); err != nil {
			return nil, fmt.Errorf("level %s is unreadable: %w", levels[len(levels)-1].Path, err)
		}
	}
	return out, nil
}

// StoreJSON returns the encoded description of a store, cached per store
// version.
func (c *Catalog) StoreJSON(name string) ([]byte, error) {
	_, m, err := c.open(name)
	if err != nil {
		return nil, err
	}
	return c.cachedJSON(cache.CatalogKey("store", name, version(m)), func() (any, error) {
		return c.Store(name)
	})
}

// File returns a file from inside a complete store. rel uses forward
// slashes, as in Zarr chunk keys.
func (c *Catalog) File(name, rel string) ([]byte, error) {
	if !fs.ValidPath(rel) || rel == "." {
		return nil, ErrInvalidPath
	}
	dir, m, err := c.open(name)
	if err != nil {
		return nil, err
	}

	key := cache.ChunkKey(name, version(m), rel)
	if c.cache != nil {
		if data, ok := c.cache.GetChunk(key); ok {
			return data, nil
		}
	}

	f, err := os.OpenInRoot(dir, filepath.FromSlash(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	defer f.Close()
	if info, err := f.Stat(); err != nil || info.IsDir() {
		return nil, ErrFileNotFound
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", name, rel, err)
	}

	if c.cache != nil {
		if err := c.cache.SetChunk(key, data); err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("chunk not cached")
		}
	}
	return data, nil
}

// Preview returns the preview PNG of a store.
func (c *Catalog) Preview(name string) ([]byte, error) {
	return c.File(name, render.PreviewFile)
}

// Runs returns recent runs from the ledger.
func (c *Catalog) Runs(limit int) ([]*ledger.Run, error) {
	if c.ledger == nil {
		return nil, ledger.ErrNoLedger
	}
	return c.ledger.ListRuns(limit)
}

// Run returns one run and its region outcomes. The run is nil when unknown.
func (c *Catalog) Run(id string) (*ledger.Run, []*ledger.RegionResult, error) {
	if c.ledger == nil {
		return nil, nil, ledger.ErrNoLedger
	}
	run, err := c.ledger.GetRun(id)
	if err != nil || run == nil {
		return nil, nil, err
	}
	regions, err := c.ledger.ListRegions(id)
	if err != nil {
		return nil, nil, err
	}
	return run, regions, nil
}

func (c *Catalog) open(name string) (string, *omezarr.Marker, error) {
	if err := validName(name); err != nil {
		return "", nil, err
	}
	dir := filepath.Join(c.root, name)
	m, err := omezarr.ReadMarker(dir)
	if err != nil {
		if errors.Is(err, omezarr.ErrIncomplete) {
			return "", nil, ErrStoreNotFound
		}
		return "", nil, err
	}
	return dir, m, nil
}

func (c *Catalog) summarize(name string, m *omezarr.Marker) StoreSummary {
	s := StoreSummary{
		Name:      name,
		Region:    m.Region,
		Channels:  m.Channels,
		Levels:    len(m.Levels),
		CreatedAt: m.CreatedAt,
	}
	for _, l := range m.Levels {
		s.Bytes += l.Bytes
	}
	if _, err := os.Stat(filepath.Join(c.root, name, render.PreviewFile)); err == nil {
		s.Preview = true
	}
	if c.ledger != nil {
		latest, err := c.ledger.LatestForStore(name)
		if err != nil {
			c.log.Warn().Err(err).Str("store", name).Msg("ledger lookup failed")
		} else if latest != nil {
			s.Published = latest.Published
		}
	}
	return s
}

func (c *Catalog) cachedJSON(key string, build func() (any, error)) ([]byte, error) {
	if c.cache != nil {
		if data, ok := c.cache.GetCatalog(key); ok {
			return data, nil
		}
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.SetCatalog(key, data)
	}
	return data, nil
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || filepath.Base(name) != name ||
		strings.ContainsAny(name, `/\`) || !strings.HasSuffix(name, omezarr.StoreExt) {
		return ErrInvalidPath
	}
	return nil
}

func version(m *omezarr.Marker) string {
	return strconv.FormatInt(m.CreatedAt.UnixNano(), 10)
}
