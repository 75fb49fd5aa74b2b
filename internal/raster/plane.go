package raster

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// Plane is one decoded 2-D raster. Data holds Width*Height samples in
// row-major order, little-endian.
type Plane struct {
	DType  DType
	Width  int
	Height int
	Data   []byte
}

// NewPlane allocates a zeroed plane.
func NewPlane(dtype DType, width, height int) *Plane {
	return &Plane{
		DType:  dtype,
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height*dtype.Size()),
	}
}

// Validate checks that the buffer length agrees with the declared shape.
func (p *Plane) Validate() error {
	if !p.DType.Valid() {
		return fmt.Errorf("invalid dtype")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid plane size %dx%d", p.Width, p.Height)
	}
	if want := p.Width * p.Height * p.DType.Size(); len(p.Data) != want {
		return fmt.Errorf("plane buffer has %d bytes, want %d", len(p.Data), want)
	}
	return nil
}

// Info is the header-level description of a plane.
type Info struct {
	DType  DType
	Width  int
	Height int
}

// Info returns the header fields of p.
func (p *Plane) Info() Info {
	return Info{DType: p.DType, Width: p.Width, Height: p.Height}
}

// Value returns sample i as float64.
func (p *Plane) Value(i int) float64 {
	return SampleAt(p.Data, p.DType, i)
}

// SampleAt decodes sample i of a little-endian buffer.
func SampleAt(buf []byte, dtype DType, i int) float64 {
	switch dtype {
	case Uint8:
		return float64(buf[i])
	case Int8:
		return float64(int8(buf[i]))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(buf[2*i:]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(buf[2*i:])))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(buf[4*i:]))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[4*i:])))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return 0
}

// Reader decodes the full plane of a source file.
type Reader interface {
	ReadPlane(ctx context.Context, path string) (*Plane, error)
}

// Prober is implemented by readers that can report dimensions without
// decoding pixels.
type Prober interface {
	Probe(path string) (Info, error)
}

// Describer is implemented by readers that expose the embedded OME-XML
// description of a source file. An empty result means none is present.
type Describer interface {
	Describe(path string) ([]byte, error)
}
