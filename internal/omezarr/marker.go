package omezarr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/celldive/zarrpipe/internal/data/zarr"
	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/ome"
)

// MarkerFile is written last inside a store; its presence means the store is
// complete.
const MarkerFile = ".zarrpipe-complete.json"

// Marker records what a completed store contains.
type Marker struct {
	Store     string            `json:"store"`
	Region    string            `json:"region"`
	Channels  []string          `json:"channels"`
	Levels    []LevelStats      `json:"levels"`
	Digests   map[string]string `json:"blake3"`
	CreatedAt time.Time         `json:"created_at"`
}

// ErrIncomplete is returned for a store without a valid completion marker.
var ErrIncomplete = errors.New("store is incomplete")

func writeMarker(dir, name string, region domain.RegionID, channels []Channel, levels []LevelStats) (*Marker, error) {
	digests, err := digestMetadata(dir, levels)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(channels))
	for i, ch := range channels {
		labels[i] = ch.Label
	}
	m := &Marker{
		Store:     name,
		Region:    string(region),
		Channels:  labels,
		Levels:    levels,
		Digests:   digests,
		CreatedAt: time.Now().UTC(),
	}
	if err := zarr.WriteJSON(filepath.Join(dir, MarkerFile), m); err != nil {
		return nil, err
	}
	return m, nil
}

// metadataFiles lists the store-relative metadata paths covered by the marker.
func metadataFiles(levels []LevelStats) []string {
	files := []string{zarr.GroupMetaFile, zarr.AttrsFile, ome.Dir + "/" + ome.FileName}
	for _, l := range levels {
		files = append(files, l.Path+"/"+zarr.ArrayMetaFile)
	}
	sort.Strings(files)
	return files
}

func digestMetadata(dir string, levels []LevelStats) (map[string]string, error) {
	out := make(map[string]string)
	for _, rel := range metadataFiles(levels) {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("failed to digest %s: %w", rel, err)
		}
		sum := blake3.Sum256(data)
		out[rel] = hex.EncodeToString(sum[:])
	}
	return out, nil
}

// ReadMarker loads the completion marker of the store at dir.
func ReadMarker(dir string) (*Marker, error) {
	var m Marker
	if err := zarr.ReadJSON(filepath.Join(dir, MarkerFile), &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIncomplete, dir)
		}
		return nil, err
	}
	return &m, nil
}

// IsComplete reports whether dir holds a committed store.
func IsComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MarkerFile))
	return err == nil
}

// VerifyMarker recomputes the metadata digests and compares them with the
// marker.
func VerifyMarker(dir string) (*Marker, error) {
	m, err := ReadMarker(dir)
	if err != nil {
		return nil, err
	}
	got, err := digestMetadata(dir, m.Levels)
	if err != nil {
		return nil, err
	}
	for rel, want := range m.Digests {
		if got[rel] != want {
			return nil, fmt.Errorf("%w: %s digest mismatch", ErrIncomplete, rel)
		}
	}
	return m, nil
}

// VerifyConsistency checks that the omero channels in .zattrs and the
// companion OME document agree on count, order, names and colors.
func VerifyConsistency(dir string) error {
	var attrs Attrs
	if err := zarr.ReadJSON(filepath.Join(dir, zarr.AttrsFile), &attrs); err != nil {
		return err
	}
	doc, err := ome.ReadCompanion(dir)
	if err != nil {
		return err
	}
	summary := doc.ChannelSummary()
	if len(summary) != len(attrs.Omero.Channels) {
		return fmt.Errorf("channel count differs: zattrs %d, OME %d", len(attrs.Omero.Channels), len(summary))
	}
	for i, ch := range attrs.Omero.Channels {
		if summary[i].Name != ch.Label {
			return fmt.Errorf("channel %d name differs: zattrs %q, OME %q", i, ch.Label, summary[i].Name)
		}
		if !strings.EqualFold(summary[i].Color.Hex(), ch.Color) {
			return fmt.Errorf("channel %d color differs: zattrs %s, OME %s", i, ch.Color, summary[i].Color.Hex())
		}
	}
	return nil
}
