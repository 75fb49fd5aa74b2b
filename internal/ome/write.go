package ome

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/celldive/zarrpipe/internal/data/zarr"
)

const (
	// Dir is the store subdirectory holding the companion document.
	Dir = "OME"
	// FileName is the companion document name viewers look for.
	FileName = "METADATA.ome.xml"
)

// WriteCompanion writes doc to <store>/OME/METADATA.ome.xml next to an
// OME/.zgroup and returns the encoded bytes.
func WriteCompanion(storeDir string, doc *OME) ([]byte, error) {
	data, err := Marshal(doc)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(storeDir, Dir)
	if err := zarr.WriteGroup(dir, nil); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return data, nil
}

// ReadCompanion parses the companion document of a store.
func ReadCompanion(storeDir string) (*OME, error) {
	data, err := os.ReadFile(filepath.Join(storeDir, Dir, FileName))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
