// Package colormap provides the channel color scheme shared by the array
// store, the metadata document and rendered previews.
package colormap

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// Color is an opaque 24-bit RGB color.
type Color struct {
	R, G, B uint8
}

// ParseHex parses "RRGGBB", with or without a leading '#'.
func ParseHex(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func mustHex(s string) Color {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hex returns the uppercase "RRGGBB" form used in .zattrs.
func (c Color) Hex() string {
	return fmt.Sprintf("%02X%02X%02X", c.R, c.G, c.B)
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}.RGBA()
}

// OMEInt returns the signed 32-bit RGBA integer OME-XML stores colors as.
func (c Color) OMEInt() int32 {
	return int32(uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | 0xFF)
}

// FromOMEInt is the inverse of OMEInt; alpha is dropped.
func FromOMEInt(v int32) Color {
	u := uint32(v)
	return Color{R: uint8(u >> 24), G: uint8(u >> 16), B: uint8(u >> 8)}
}

// LinearColormap is a linear interpolation colormap.
type LinearColormap struct {
	colors []color.RGBA
}

// Ramp returns a black-to-c colormap, used to tint one channel.
func Ramp(c Color) LinearColormap {
	return LinearColormap{colors: []color.RGBA{{0, 0, 0, 255}, {c.R, c.G, c.B, 255}}}
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// AtIndex returns color at index i (wraps around).
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[wrap(i, len(c.colors))]
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// CategoricalColormap provides distinct colors for categories.
type CategoricalColormap struct {
	colors []Color
}

// At returns color at position t.
func (c CategoricalColormap) At(t float64) color.Color {
	idx := int(t * float64(len(c.colors)))
	if idx >= len(c.colors) {
		idx = len(c.colors) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.colors[idx]
}

// AtIndex returns color at index i, wrapping in both directions.
func (c CategoricalColormap) AtIndex(i int) color.Color {
	return c.colors[wrap(i, len(c.colors))]
}

// Len returns the number of colors in the palette.
func (c CategoricalColormap) Len() int { return len(c.colors) }

func wrap(i, n int) int {
	return ((i % n) + n) % n
}
