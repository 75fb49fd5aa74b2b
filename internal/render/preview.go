// Package render draws store previews using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/celldive/zarrpipe/internal/pyramid"
	"github.com/celldive/zarrpipe/pkg/colormap"
)

// PreviewFile is the preview image name inside a store.
const PreviewFile = "preview.png"

// Config contains renderer configuration.
type Config struct {
	MaxSize int  // longest edge of the composite, in pixels
	Legend  bool // draw channel labels under the image
}

// Channel is one composited channel and its display window.
type Channel struct {
	Label string
	Color colormap.Color
	Lo    float64
	Hi    float64
}

// PreviewRenderer composites pyramid levels into small PNG previews.
type PreviewRenderer struct {
	config     Config
	bufferPool sync.Pool
}

const legendRow = 16

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg Config) *PreviewRenderer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 512
	}
	return &PreviewRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Render blends every channel of level additively, each ramped from black to
// its color over [Lo, Hi], and returns the PNG encoding.
func (r *PreviewRenderer) Render(level *pyramid.Level, channels []Channel) ([]byte, error) {
	w, h := fit(level.Width, level.Height, r.config.MaxSize)
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	ramps := make([]colormap.LinearColormap, len(channels))
	for i, ch := range channels {
		ramps[i] = colormap.Ramp(ch.Color)
	}

	for y := 0; y < h; y++ {
		sy := y * level.Height / h
		for x := 0; x < w; x++ {
			sx := x * level.Width / w
			var sumR, sumG, sumB uint32
			for c := 0; c < level.Channels && c < len(channels); c++ {
				t := normalize(level.Value(c, sy, sx), channels[c].Lo, channels[c].Hi)
				cr, cg, cb, _ := ramps[c].At(t).RGBA()
				sumR += cr >> 8
				sumG += cg >> 8
				sumB += cb >> 8
			}
			img.SetRGBA(x, y, color.RGBA{R: clamp8(sumR), G: clamp8(sumG), B: clamp8(sumB), A: 255})
		}
	}

	if !r.config.Legend || len(channels) == 0 {
		return r.encode(img)
	}

	dc := gg.NewContext(w, h+legendRow*len(channels))
	dc.SetColor(color.Black)
	dc.Clear()
	dc.DrawImage(img, 0, 0)
	for i, ch := range channels {
		y := float64(h + legendRow*i)
		dc.SetColor(ch.Color)
		dc.DrawRectangle(4, y+4, 8, 8)
		dc.Fill()
		dc.DrawStringAnchored(ch.Label, 16, y+legendRow/2, 0, 0.5)
	}
	return r.encode(dc.Image())
}

// Empty returns a transparent placeholder of the configured size.
func (r *PreviewRenderer) Empty() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.MaxSize, r.config.MaxSize))
	// Fill with transparent white
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255   // R
		img.Pix[i+1] = 255 // G
		img.Pix[i+2] = 255 // B
		img.Pix[i+3] = 0   // A (transparent)
	}
	return r.encode(img)
}

func (r *PreviewRenderer) encode(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// fit scales w x h down so the longer edge is at most limit.
func fit(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return max1(w), max1(h)
	}
	if w >= h {
		return limit, max1(h * limit / w)
	}
	return max1(w * limit / h), limit
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		if v > lo {
			return 1
		}
		return 0
	}
	t := (v - lo) / (hi - lo)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func clamp8(v uint32) uint8 {
	if v > 255 {
		return 255
	}
	return uint8(v)
}
