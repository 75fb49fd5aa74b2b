package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/celldive/zarrpipe/internal/cache"
	"github.com/celldive/zarrpipe/internal/data/zarr"
	"github.com/celldive/zarrpipe/internal/ledger"
	"github.com/celldive/zarrpipe/internal/omezarr"
	"github.com/celldive/zarrpipe/internal/pipeline"
	"github.com/celldive/zarrpipe/internal/pyramid"
	"github.com/celldive/zarrpipe/internal/raster"
)

type fixture struct {
	out     string
	ledger  *ledger.Store
	summary *pipeline.Summary
}

// convertFixture converts two regions of synthetic 16-bit planes into out.
func convertFixture(t *testing.T) fixture {
	t.Helper()
	in, out := t.TempDir(), t.TempDir()

	reader := raster.NewMemoryReader()
	names := []string{
		"S1_R000_1.0.1_DAPI_FINAL.ome.tif",
		"S1_R000_1.0.2_Cy3_iba1_FINAL.ome.tif",
		"S1_R001_1.0.1_DAPI_FINAL.ome.tif",
	}
	for c, name := range names {
		path := filepath.Join(in, name)
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		p := raster.NewPlane(raster.Uint16, 16, 12)
		for i := 0; i < 16*12; i++ {
			binary.LittleEndian.PutUint16(p.Data[i*2:], uint16(c*100+i))
		}
		reader.Add(path, p, nil)
	}

	store, err := ledger.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	opts := pipeline.Options{
		InputDir: in,
		Store: omezarr.Options{
			OutputDir:    out,
			Compression:  zarr.CompressionBalanced,
			Strength:     3,
			Chunks:       zarr.ChunkSizing{Edge: 8},
			ChunkWorkers: 2,
		},
		Pyramid:       pyramid.Options{Levels: 3, Factor: 2},
		Workers:       2,
		Magnification: 20,
		PixelSizeUM:   0.5,
		Preview:       true,
	}
	p, err := pipeline.New(opts, reader, zerolog.Nop(), pipeline.WithLedger(store))
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	summary, err := p.Run(context.Background())
	if err != nil || summary.Failed() {
		t.Fatalf("conversion failed: %v %+v", err, summary)
	}
	return fixture{out: out, ledger: store, summary: summary}
}

func newTestCatalog(t *testing.T, fx fixture) *Catalog {
	t.Helper()
	cm, err := cache.NewManager(cache.Config{
		ChunkCacheSizeMB: 8,
		ChunkTTL:         time.Minute,
		CatalogEntries:   16,
	})
	if err != nil {
		t.Fatalf("failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cm.Close() })
	return NewCatalog(CatalogConfig{Root: fx.out, Cache: cm, Ledger: fx.ledger, Logger: zerolog.Nop()})
}

func TestStoresSkipsIncomplete(t *testing.T) {
	fx := convertFixture(t)
	if err := os.MkdirAll(filepath.Join(fx.out, "R009.zarr"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(fx.out, ".staging-R010.zarr-123"), 0o755); err != nil {
		t.Fatal(err)
	}

	stores, err := newTestCatalog(t, fx).Stores()
	if err != nil {
		t.Fatalf("Stores failed: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("expected 2 stores, got %+v", stores)
	}
	first := stores[0]
	if first.Name != "R000.zarr" || first.Region != "R000" || first.Levels != 3 || !first.Preview {
		t.Fatalf("unexpected summary %+v", first)
	}
	if len(first.Channels) != 2 || first.Channels[1] != "Cy3_iba1" {
		t.Fatalf("unexpected channels %v", first.Channels)
	}
	if first.Bytes <= 0 {
		t.Fatalf("expected stored bytes, got %d", first.Bytes)
	}
}

func TestStoreDetail(t *testing.T) {
	fx := convertFixture(t)
	detail, err := newTestCatalog(t, fx).Store("R000.zarr")
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if detail.Image != "Region_R000" || detail.PixelSizeUM != 0.5 || detail.Magnification != 20 {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if len(detail.Pyramid) != 3 || detail.Pyramid[0].Shape[2] != 16 {
		t.Fatalf("unexpected pyramid %+v", detail.Pyramid)
	}
	if len(detail.ChannelInfo) != 2 || detail.ChannelInfo[0].Color != "FFFFFF" || detail.ChannelInfo[1].Color != "FFB000" {
		t.Fatalf("unexpected channels %+v", detail.ChannelInfo)
	}
	if len(detail.Arrays) != 3 {
		t.Fatalf("unexpected arrays %+v", detail.Arrays)
	}
	for i, a := range detail.Arrays {
		if a.Path != strconv.Itoa(i) || a.DType != "<u2" || a.Compressor != "zstd" || a.Level == nil || *a.Level != 3 {
			t.Fatalf("unexpected array %d: %+v", i, a)
		}
	}
	if s := detail.Arrays[2].Shape; len(s) != 3 || s[0] != 2 || s[1] != 3 || s[2] != 4 {
		t.Fatalf("unexpected coarsest shape %v", s)
	}
}

func TestStoreDetailRejectsUnreadableLevel(t *testing.T) {
	fx := convertFixture(t)
	dir := filepath.Join(fx.out, "R000.zarr", "2", "0", "0")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0"), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := newTestCatalog(t, fx).Store("R000.zarr"); err == nil {
		t.Fatalf("expected error for a corrupt chunk")
	}
	if _, err := newTestCatalog(t, fx).Store("R001.zarr"); err != nil {
		t.Fatalf("other stores should still load: %v", err)
	}
}

func TestStoreJSONCached(t *testing.T) {
	fx := convertFixture(t)
	c := newTestCatalog(t, fx)

	first, err := c.StoreJSON("R001.zarr")
	if err != nil {
		t.Fatalf("StoreJSON failed: %v", err)
	}
	var decoded StoreDetail
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Region != "R001" {
		t.Fatalf("unexpected region %q", decoded.Region)
	}

	// The cached document survives removal of the preview.
	if err := os.Remove(filepath.Join(fx.out, "R001.zarr", "preview.png")); err != nil {
		t.Fatal(err)
	}
	second, err := c.StoreJSON("R001.zarr")
	if err != nil || string(second) != string(first) {
		t.Fatalf("expected cached document, got %s %v", second, err)
	}
}

func TestFile(t *testing.T) {
	fx := convertFixture(t)
	c := newTestCatalog(t, fx)

	data, err := c.File("R000.zarr", "0/.zarray")
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	var meta zarr.ArrayMeta
	if err := json.Unmarshal(data, &meta); err != nil || meta.Shape[0] != 2 {
		t.Fatalf("unexpected .zarray %s: %v", data, err)
	}

	if _, err := c.File("R000.zarr", "0/0/0/0"); err != nil {
		t.Fatalf("chunk read failed: %v", err)
	}
	if _, err := c.Preview("R000.zarr"); err != nil {
		t.Fatalf("Preview failed: %v", err)
	}

	tests := []struct {
		name, store, rel string
		want             error
	}{
		{"traversal", "R000.zarr", "../R001.zarr/.zattrs", ErrInvalidPath},
		{"absolute", "R000.zarr", "/etc/passwd", ErrInvalidPath},
		{"badStoreName", "../x.zarr", ".zattrs", ErrInvalidPath},
		{"notAStore", "R000", ".zattrs", ErrInvalidPath},
		{"unknownStore", "R404.zarr", ".zattrs", ErrStoreNotFound},
		{"missingChunk", "R000.zarr", "0/0/9/9", ErrFileNotFound},
		{"directory", "R000.zarr", "0", ErrFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.File(tt.store, tt.rel); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRuns(t *testing.T) {
	fx := convertFixture(t)
	c := newTestCatalog(t, fx)

	runs, err := c.Runs(10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("Runs = %v, %v", runs, err)
	}
	run, regions, err := c.Run(fx.summary.RunID)
	if err != nil || run == nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("unexpected regions %+v", regions)
	}
	for _, r := range regions {
		if r.Store != r.RegionID+".zarr" || r.Status != "succeeded" {
			t.Fatalf("unexpected region %+v", r)
		}
	}

	missing, _, err := c.Run("nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil run, got %+v %v", missing, err)
	}

	bare := NewCatalog(CatalogConfig{Root: fx.out, Logger: zerolog.Nop()})
	if _, err := bare.Runs(10); !errors.Is(err, ledger.ErrNoLedger) {
		t.Fatalf("expected ErrNoLedger, got %v", err)
	}
}
