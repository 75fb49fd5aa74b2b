package zarr

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteGroup creates dir as a Zarr v2 group. attrs, when non-nil, is written
// to .zattrs.
func WriteGroup(dir string, attrs any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create group %s: %w", dir, err)
	}
	if err := WriteJSON(filepath.Join(dir, GroupMetaFile), GroupMeta{ZarrFormat: 2}); err != nil {
		return err
	}
	if attrs == nil {
		return nil
	}
	return WriteJSON(filepath.Join(dir, AttrsFile), attrs)
}

// ArrayWriter writes the chunks of one array.
type ArrayWriter struct {
	dir        string
	meta       ArrayMeta
	codec      Codec
	chunkBytes int
}

// CreateArray creates dir, writes .zarray and returns a writer. The meta
// compressor is taken from codec.
func CreateArray(dir string, meta ArrayMeta, codec Codec) (*ArrayWriter, error) {
	meta.Compressor = codec.Config()
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	size, err := meta.ChunkBytes()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create array %s: %w", dir, err)
	}
	if err := WriteJSON(filepath.Join(dir, ArrayMetaFile), meta); err != nil {
		return nil, err
	}
	return &ArrayWriter{dir: dir, meta: meta, codec: codec, chunkBytes: size}, nil
}

// Meta returns the array metadata as written.
func (w *ArrayWriter) Meta() ArrayMeta { return w.meta }

// WriteChunk encodes one full-size chunk and stores it under its key. It
// returns the number of bytes written. Safe for concurrent use with distinct
// indices.
func (w *ArrayWriter) WriteChunk(indices []int, raw []byte) (int, error) {
	if len(raw) != w.chunkBytes {
		return 0, fmt.Errorf("chunk %v has %d bytes, want %d", indices, len(raw), w.chunkBytes)
	}
	if _, err := w.meta.ChunkExtent(indices); err != nil {
		return 0, err
	}
	encoded, err := w.codec.Encode(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to encode chunk %v: %w", indices, err)
	}
	path := filepath.Join(w.dir, filepath.FromSlash(w.meta.ChunkKey(indices)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create chunk dir: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write chunk %v: %w", indices, err)
	}
	return len(encoded), nil
}
