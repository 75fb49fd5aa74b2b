package raster

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

// MemoryReader serves planes and descriptions from memory. It is used where
// decoding real files is unnecessary, such as dry runs against fixtures.
type MemoryReader struct {
	mu           sync.Mutex
	planes       map[string]*Plane
	descriptions map[string][]byte
	reads        map[string]int
}

// NewMemoryReader returns an empty reader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		planes:       make(map[string]*Plane),
		descriptions: make(map[string][]byte),
		reads:        make(map[string]int),
	}
}

// Add registers a plane and optional OME-XML description for path.
func (m *MemoryReader) Add(path string, p *Plane, description []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planes[path] = p
	if description != nil {
		m.descriptions[path] = description
	}
}

// ReadPlane returns a copy of the registered plane.
func (m *MemoryReader) ReadPlane(ctx context.Context, path string) (*Plane, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.planes[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
	}
	m.reads[path]++
	out := *p
	out.Data = append([]byte(nil), p.Data...)
	return &out, nil
}

// Probe returns the registered plane's header.
func (m *MemoryReader) Probe(path string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.planes[path]
	if !ok {
		return Info{}, fmt.Errorf("probe %s: %w", path, fs.ErrNotExist)
	}
	return p.Info(), nil
}

// Describe returns the registered description, if any.
func (m *MemoryReader) Describe(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.descriptions[path], nil
}

// Reads reports how many times path was decoded.
func (m *MemoryReader) Reads(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[path]
}
