package cache

import (
	"bytes"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		ChunkCacheSizeMB:  8,
		ChunkTTL:          time.Minute,
		MaxChunkEntrySize: 1024,
		CatalogEntries:    2,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{ChunkKey("R000.zarr", "v1", "0/0/0/0"), "chunk:R000.zarr@v1/0/0/0/0"},
		{CatalogKey("stores", "", "42"), "stores@42"},
		{CatalogKey("store", "R000.zarr", "v1"), "store:R000.zarr@v1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, tt.got)
		}
	}

	if ChunkKey("R000.zarr", "v1", ".zattrs") == ChunkKey("R000.zarr", "v2", ".zattrs") {
		t.Fatalf("rewritten stores must get distinct keys")
	}
}

func TestChunkCache(t *testing.T) {
	m := newTestManager(t)

	if _, ok := m.GetChunk("missing"); ok {
		t.Fatalf("expected miss")
	}
	payload := []byte("chunk bytes")
	if err := m.SetChunk("k", payload); err != nil {
		t.Fatalf("SetChunk failed: %v", err)
	}
	got, ok := m.GetChunk("k")
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("expected cached payload, got %q %v", got, ok)
	}

	big := make([]byte, 4096)
	if err := m.SetChunk("big", big); err != nil {
		t.Fatalf("oversized entries should be skipped, got %v", err)
	}
	if _, ok := m.GetChunk("big"); ok {
		t.Fatalf("oversized entry should not be cached")
	}
}

func TestCatalogCacheEvicts(t *testing.T) {
	m := newTestManager(t)

	m.SetCatalog("a", []byte("1"))
	m.SetCatalog("b", []byte("2"))
	m.SetCatalog("c", []byte("3"))

	if _, ok := m.GetCatalog("a"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if got, ok := m.GetCatalog("c"); !ok || string(got) != "3" {
		t.Fatalf("expected newest entry, got %q %v", got, ok)
	}
	if n := m.Stats()["catalog_cache_len"]; n != 2 {
		t.Fatalf("expected 2 catalog entries, got %v", n)
	}
}
