// Package pyramid stacks per-channel planes into a full-resolution level and
// derives coarser levels from it by area averaging.
package pyramid

import (
	"math"

	"github.com/celldive/zarrpipe/internal/raster"
)

// Level is one resolution of a region: Channels planes of Width x Height
// samples stored channel-first, little-endian.
type Level struct {
	Index    int
	Factor   int // downsampling factor relative to level 0
	Channels int
	Width    int
	Height   int
	DType    raster.DType
	Data     []byte
}

// NewLevel allocates a zeroed level.
func NewLevel(index, factor, channels, width, height int, dtype raster.DType) *Level {
	return &Level{
		Index:    index,
		Factor:   factor,
		Channels: channels,
		Width:    width,
		Height:   height,
		DType:    dtype,
		Data:     make([]byte, channels*width*height*dtype.Size()),
	}
}

// PlaneBytes returns the byte size of a single channel plane.
func (l *Level) PlaneBytes() int {
	return l.Width * l.Height * l.DType.Size()
}

// Plane returns the bytes of channel c.
func (l *Level) Plane(c int) []byte {
	n := l.PlaneBytes()
	return l.Data[c*n : (c+1)*n]
}

// Value returns the sample at channel c, row y, column x.
func (l *Level) Value(c, y, x int) float64 {
	return raster.SampleAt(l.Plane(c), l.DType, y*l.Width+x)
}

// ChannelRange returns the minimum and maximum sample of channel c.
func (l *Level) ChannelRange(c int) (lo, hi float64) {
	plane := l.Plane(c)
	n := l.Width * l.Height
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < n; i++ {
		v := raster.SampleAt(plane, l.DType, i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if n == 0 {
		return 0, 0
	}
	return lo, hi
}

// Shape is the planar size of a level.
type Shape struct {
	Width  int
	Height int
}

// Shapes predicts the planar size of every level: level 0 is the source size
// and each next level is ceil(previous / factor) along both axes.
func Shapes(width, height, levels, factor int) []Shape {
	out := make([]Shape, 0, levels)
	w, h := width, height
	for i := 0; i < levels; i++ {
		out = append(out, Shape{Width: w, Height: h})
		w = ceilDiv(w, factor)
		h = ceilDiv(h, factor)
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
