// Package omezarr writes one OME-NGFF multiscale image per region on top of
// Zarr v2 arrays, staged and promoted atomically.
package omezarr

import (
	"strconv"

	"github.com/celldive/zarrpipe/internal/raster"
	"github.com/celldive/zarrpipe/pkg/colormap"
)

// NGFFVersion is the OME-NGFF version written to .zattrs.
const NGFFVersion = "0.4"

// Attrs is the root .zattrs document.
type Attrs struct {
	Multiscales []Multiscale `json:"multiscales"`
	Omero       Omero        `json:"omero"`
}

// Multiscale describes the pyramid.
type Multiscale struct {
	Version  string         `json:"version"`
	Name     string         `json:"name"`
	Axes     []Axis         `json:"axes"`
	Datasets []Dataset      `json:"datasets"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Axis is one named dimension.
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

// Dataset is one level of the pyramid.
type Dataset struct {
	Path                      string           `json:"path"`
	CoordinateTransformations []Transformation `json:"coordinateTransformations"`
}

// Transformation is a scale transform.
type Transformation struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

// Omero holds rendering hints read by viewers.
type Omero struct {
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Channels []OmeroChannel `json:"channels"`
	Rdefs    map[string]any `json:"rdefs"`
}

// OmeroChannel is one channel's display settings.
type OmeroChannel struct {
	Label       string  `json:"label"`
	Color       string  `json:"color"`
	Active      bool    `json:"active"`
	Coefficient float64 `json:"coefficient"`
	Family      string  `json:"family"`
	Inverted    bool    `json:"inverted"`
	Window      Window  `json:"window"`
}

// Window is the display range of a channel.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Channel is a store channel: its display label and the position used for
// fallback coloring.
type Channel struct {
	Label string
	Index int
}

// Color returns the channel display color.
func (c Channel) Color() colormap.Color {
	return colormap.ChannelColor(c.Label, c.Index)
}

var axes = []Axis{
	{Name: "c", Type: "channel"},
	{Name: "y", Type: "space", Unit: "micrometer"},
	{Name: "x", Type: "space", Unit: "micrometer"},
}

// BuildAttrs assembles .zattrs for a store whose levels have the given
// cumulative downsampling factors.
func BuildAttrs(name string, channels []Channel, factors []int, pixelX, pixelY float64, factor int, ranges [][2]float64, dtype raster.DType) Attrs {
	datasets := make([]Dataset, len(factors))
	for i, f := range factors {
		datasets[i] = Dataset{
			Path: strconv.Itoa(i),
			CoordinateTransformations: []Transformation{{
				Type:  "scale",
				Scale: []float64{1, pixelY * float64(f), pixelX * float64(f)},
			}},
		}
	}

	omeroChannels := make([]OmeroChannel, len(channels))
	for i, ch := range channels {
		var w Window
		if i < len(ranges) {
			w.Start, w.End = ranges[i][0], ranges[i][1]
		}
		if dtype.IsFloat() || dtype.IsSigned() {
			w.Min, w.Max = w.Start, w.End
		} else {
			w.Min, w.Max = 0, dtype.MaxValue()
		}
		omeroChannels[i] = OmeroChannel{
			Label:       ch.Label,
			Color:       ch.Color().Hex(),
			Active:      true,
			Coefficient: 1,
			Family:      "linear",
			Window:      w,
		}
	}

	return Attrs{
		Multiscales: []Multiscale{{
			Version:  NGFFVersion,
			Name:     name,
			Axes:     axes,
			Datasets: datasets,
			Type:     "mean",
			Metadata: map[string]any{"method": "area", "factor": factor},
		}},
		Omero: Omero{
			Name:     name,
			Version:  NGFFVersion,
			Channels: omeroChannels,
			Rdefs:    map[string]any{"model": "color", "defaultZ": 0, "defaultT": 0},
		},
	}
}
