package zarr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/celldive/zarrpipe/internal/raster"
)

// Reader provides access to the arrays of a Zarr v2 hierarchy.
type Reader struct {
	basePath string
	mu       sync.RWMutex
	arrays   map[string]*Array
}

// NewReader opens the group at basePath.
func NewReader(basePath string) (*Reader, error) {
	var meta GroupMeta
	if err := ReadJSON(filepath.Join(basePath, GroupMetaFile), &meta); err != nil {
		return nil, fmt.Errorf("failed to load group metadata: %w", err)
	}
	if meta.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format %d", meta.ZarrFormat)
	}
	return &Reader{basePath: basePath, arrays: make(map[string]*Array)}, nil
}

// Path returns the root directory of the hierarchy.
func (r *Reader) Path() string { return r.basePath }

// Attrs decodes the root .zattrs into v.
func (r *Reader) Attrs(v any) error {
	return ReadJSON(filepath.Join(r.basePath, AttrsFile), v)
}

// Array opens (and caches) the array at the relative path.
func (r *Reader) Array(path string) (*Array, error) {
	r.mu.RLock()
	a, ok := r.arrays[path]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	a, err := OpenArray(filepath.Join(r.basePath, filepath.FromSlash(path)))
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.arrays[path]; ok {
		return existing, nil
	}
	r.arrays[path] = a
	return a, nil
}

// Close releases cached arrays.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrays = make(map[string]*Array)
	return nil
}

// Array is an opened Zarr v2 array.
type Array struct {
	dir   string
	Meta  ArrayMeta
	DType raster.DType
	codec Codec
	fill  []byte
	size  int
}

// OpenArray loads .zarray from dir.
func OpenArray(dir string) (*Array, error) {
	var meta ArrayMeta
	if err := ReadJSON(filepath.Join(dir, ArrayMetaFile), &meta); err != nil {
		return nil, fmt.Errorf("failed to load array metadata: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	dtype, err := raster.ParseZarrDType(meta.DType)
	if err != nil {
		return nil, err
	}
	codec, err := CodecFor(meta.Compressor)
	if err != nil {
		return nil, err
	}
	fill, err := fillBytes(&meta)
	if err != nil {
		return nil, err
	}
	size, err := meta.ChunkBytes()
	if err != nil {
		return nil, err
	}
	return &Array{dir: dir, Meta: meta, DType: dtype, codec: codec, fill: fill, size: size}, nil
}

// ChunkPath returns the file holding the chunk at indices.
func (a *Array) ChunkPath(indices []int) string {
	return filepath.Join(a.dir, filepath.FromSlash(a.Meta.ChunkKey(indices)))
}

// ReadChunk returns the decoded bytes of a full chunk. Chunks that were never
// written read as the fill value.
func (a *Array) ReadChunk(indices []int) ([]byte, error) {
	if _, err := a.Meta.ChunkExtent(indices); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.ChunkPath(indices))
	if errors.Is(err, fs.ErrNotExist) {
		return repeatFillBytes(a.fill, a.size/len(a.fill)), nil
	}
	if err != nil {
		return nil, err
	}
	return a.codec.Decode(data, a.size)
}
