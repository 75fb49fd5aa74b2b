// Package zarr reads and writes Zarr v2 arrays and groups on a filesystem.
package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/celldive/zarrpipe/internal/raster"
)

const (
	ArrayMetaFile = ".zarray"
	GroupMetaFile = ".zgroup"
	AttrsFile     = ".zattrs"
)

// ArrayMeta represents Zarr v2 array metadata (.zarray).
type ArrayMeta struct {
	ZarrFormat         int         `json:"zarr_format"`
	Shape              []int       `json:"shape"`
	Chunks             []int       `json:"chunks"`
	DType              string      `json:"dtype"`
	Compressor         *Compressor `json:"compressor"`
	FillValue          any         `json:"fill_value"`
	Order              string      `json:"order"`
	Filters            []any       `json:"filters"`
	DimensionSeparator string      `json:"dimension_separator,omitempty"`
}

// GroupMeta represents Zarr v2 group metadata (.zgroup).
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// NewArrayMeta returns C-ordered metadata with a zero fill value and "/"
// chunk key separator.
func NewArrayMeta(shape, chunks []int, dtype raster.DType, compressor *Compressor) ArrayMeta {
	return ArrayMeta{
		ZarrFormat:         2,
		Shape:              append([]int(nil), shape...),
		Chunks:             append([]int(nil), chunks...),
		DType:              dtype.ZarrString(),
		Compressor:         compressor,
		FillValue:          0,
		Order:              "C",
		DimensionSeparator: "/",
	}
}

// Validate checks the fields this package relies on.
func (m ArrayMeta) Validate() error {
	if m.ZarrFormat != 2 {
		return fmt.Errorf("unsupported zarr_format %d", m.ZarrFormat)
	}
	if len(m.Shape) == 0 || len(m.Shape) != len(m.Chunks) {
		return fmt.Errorf("invalid zarr metadata: shape dims (%d) != chunk dims (%d)", len(m.Shape), len(m.Chunks))
	}
	for d, c := range m.Chunks {
		if c <= 0 {
			return fmt.Errorf("invalid chunk shape at dim %d: %d", d, c)
		}
		if m.Shape[d] < 0 {
			return fmt.Errorf("invalid shape at dim %d: %d", d, m.Shape[d])
		}
	}
	if m.Order != "" && m.Order != "C" {
		return fmt.Errorf("unsupported order %q", m.Order)
	}
	if _, err := raster.ParseZarrDType(m.DType); err != nil {
		return err
	}
	return nil
}

// Separator returns the chunk key separator, "." when unset.
func (m ArrayMeta) Separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// Grid returns the number of chunks along each dimension.
func (m ArrayMeta) Grid() []int {
	grid := make([]int, len(m.Shape))
	for d := range m.Shape {
		grid[d] = ceilDiv(m.Shape[d], m.Chunks[d])
	}
	return grid
}

// NumChunks returns the total chunk count of the array.
func (m ArrayMeta) NumChunks() int {
	return product(m.Grid())
}

// ChunkKey encodes chunk indices as a relative key ("0/3/1").
func (m ArrayMeta) ChunkKey(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, m.Separator())
}

// ChunkExtent returns the part of chunk indices that lies inside the array.
// Stored chunks are always full size; the remainder is fill.
func (m ArrayMeta) ChunkExtent(indices []int) ([]int, error) {
	if len(indices) != len(m.Shape) {
		return nil, fmt.Errorf("invalid chunk indices: got %d dims, expected %d", len(indices), len(m.Shape))
	}
	actual := make([]int, len(m.Shape))
	for d := range m.Shape {
		chunkLen := m.Chunks[d]
		start := indices[d] * chunkLen
		if start < 0 || start >= m.Shape[d] {
			return nil, fmt.Errorf("chunk index out of range at dim %d: start=%d shape=%d", d, start, m.Shape[d])
		}
		actual[d] = min(chunkLen, m.Shape[d]-start)
	}
	return actual, nil
}

// ChunkBytes returns the decoded size of one full chunk.
func (m ArrayMeta) ChunkBytes() (int, error) {
	dtype, err := raster.ParseZarrDType(m.DType)
	if err != nil {
		return 0, err
	}
	return product(m.Chunks) * dtype.Size(), nil
}

// fillBytes encodes the fill value as one little-endian sample.
func fillBytes(m *ArrayMeta) ([]byte, error) {
	dtype, err := raster.ParseZarrDType(m.DType)
	if err != nil {
		return nil, err
	}
	out := make([]byte, dtype.Size())
	var v float64
	switch t := m.FillValue.(type) {
	case nil:
		return out, nil
	case float64:
		v = t
	case int:
		v = float64(t)
	case json.Number:
		v, err = t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid fill_value %q: %w", t, err)
		}
	case string:
		switch t {
		case "NaN":
			v = math.NaN()
		case "Infinity":
			v = math.Inf(1)
		case "-Infinity":
			v = math.Inf(-1)
		default:
			return nil, fmt.Errorf("unsupported fill_value %q", t)
		}
	default:
		return nil, fmt.Errorf("unsupported fill_value type: %T", m.FillValue)
	}
	putSample(out, dtype, v)
	return out, nil
}

func putSample(b []byte, dtype raster.DType, v float64) {
	switch dtype {
	case raster.Uint8:
		b[0] = uint8(v)
	case raster.Int8:
		b[0] = uint8(int8(v))
	case raster.Uint16:
		u := uint16(v)
		b[0], b[1] = byte(u), byte(u>>8)
	case raster.Int16:
		u := uint16(int16(v))
		b[0], b[1] = byte(u), byte(u>>8)
	case raster.Uint32, raster.Int32, raster.Float32:
		var u uint32
		switch dtype {
		case raster.Uint32:
			u = uint32(v)
		case raster.Int32:
			u = uint32(int32(v))
		default:
			u = math.Float32bits(float32(v))
		}
		b[0], b[1], b[2], b[3] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
	case raster.Float64:
		u := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			b[i] = byte(u >> (8 * i))
		}
	}
}

func repeatFillBytes(fill []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	allZero := true
	for _, b := range fill {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return make([]byte, len(fill)*n)
	}
	out := make([]byte, len(fill)*n)
	for i := 0; i < n; i++ {
		copy(out[i*len(fill):(i+1)*len(fill)], fill)
	}
	return out
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func product(ints []int) int {
	p := 1
	for _, v := range ints {
		p *= v
	}
	return p
}
