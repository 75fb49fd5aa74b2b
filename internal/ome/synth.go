package ome

import (
	"fmt"

	"github.com/celldive/zarrpipe/pkg/colormap"
)

// ChannelSource is one output channel with the parsed document of its own
// source file, when one was available.
type ChannelSource struct {
	Label  string
	Index  int
	Source *OME
}

// Request is everything Synthesize needs for one region.
type Request struct {
	ImageName     string
	Basis         Basis
	Channels      []ChannelSource
	Width         int
	Height        int
	PixelType     string
	PhysicalSizeX float64 // micrometers
	PhysicalSizeY float64
	Magnification float64 // zero omits objective metadata
}

// Synthesize builds the companion document for a region. Channel order and
// colors follow req.Channels exactly; colors come from colormap.ChannelColor
// so they match the array store annotations.
func Synthesize(req Request) (*OME, error) {
	if req.Magnification < 0 {
		return nil, fmt.Errorf("magnification must not be negative, got %v", req.Magnification)
	}
	if len(req.Channels) == 0 {
		return nil, fmt.Errorf("no channels")
	}

	doc := req.Basis.start(req)
	img := &doc.Images[0]
	img.Name = req.ImageName

	px := &img.Pixels
	px.DimensionOrder = "XYZCT"
	px.Type = req.PixelType
	px.SizeX, px.SizeY = req.Width, req.Height
	px.SizeZ, px.SizeT = 1, 1
	px.SizeC = len(req.Channels)
	px.SignificantBits = 0
	px.MetadataOnly = &struct{}{}
	if req.PhysicalSizeX > 0 {
		x, y := req.PhysicalSizeX, req.PhysicalSizeY
		if y <= 0 {
			y = x
		}
		px.PhysicalSizeX, px.PhysicalSizeY = &x, &y
		px.PhysicalSizeXUnit, px.PhysicalSizeYUnit = "µm", "µm"
	}

	known := componentIDs(doc.Instruments)
	px.Channels = make([]Channel, len(req.Channels))
	px.Planes = make([]Plane, 0, len(req.Channels))
	for i, src := range req.Channels {
		color := colormap.ChannelColor(src.Label, src.Index).OMEInt()
		ch := Channel{
			ID:              fmt.Sprintf("Channel:0:%d", i),
			Name:            src.Label,
			SamplesPerPixel: 1,
			Color:           &color,
		}
		plane := Plane{TheC: i}
		if orig, ok := sourceChannel(src.Source); ok {
			ch.ExcitationWavelength = orig.ExcitationWavelength
			ch.ExcitationWavelengthUnit = orig.ExcitationWavelengthUnit
			ch.EmissionWavelength = orig.EmissionWavelength
			ch.EmissionWavelengthUnit = orig.EmissionWavelengthUnit
			ch.Fluor = orig.Fluor
			ch.LightSourceSettings = knownSettings(orig.LightSourceSettings, known)
			ch.DetectorSettings = knownSettings(orig.DetectorSettings, known)
		}
		if sp, ok := sourcePlane(src.Source); ok {
			plane.ExposureTime = sp.ExposureTime
			plane.ExposureTimeUnit = sp.ExposureTimeUnit
		}
		px.Channels[i] = ch
		px.Planes = append(px.Planes, plane)
	}

	applyMagnification(doc, req.Magnification)
	return doc, nil
}

// start returns a fresh document to fill in. Templates are deep enough
// copied that the basis itself is never modified. The template UUID names the
// source file, so it is not carried over.
func (b Basis) start(req Request) *OME {
	if b.kind == basisTemplate {
		t := b.template
		doc := &OME{}
		doc.Instruments = make([]Instrument, len(t.Instruments))
		for i, inst := range t.Instruments {
			inst.Objectives = append([]Objective(nil), inst.Objectives...)
			doc.Instruments[i] = inst
		}
		img := t.Images[0]
		if img.ObjectiveSettings != nil {
			settings := *img.ObjectiveSettings
			img.ObjectiveSettings = &settings
		}
		img.Pixels.Channels = nil
		img.Pixels.Planes = nil
		doc.Images = []Image{img}
		return doc
	}
	return &OME{
		Images: []Image{{
			ID: "Image:0",
			Pixels: Pixels{
				ID:             "Pixels:0",
				DimensionOrder: "XYZCT",
				Type:           req.PixelType,
			},
		}},
	}
}

// componentIDs collects the IDs of instrument children such as light sources
// and detectors.
func componentIDs(instruments []Instrument) map[string]bool {
	ids := make(map[string]bool)
	for _, inst := range instruments {
		for _, group := range [][]RawElement{inst.Head, inst.Tail} {
			for _, el := range group {
				for _, a := range el.Attrs {
					if a.Name.Local == "ID" {
						ids[a.Value] = true
					}
				}
			}
		}
	}
	return ids
}

// knownSettings drops a settings reference the output document cannot resolve.
func knownSettings(s *Settings, known map[string]bool) *Settings {
	if s == nil || !known[s.ID] {
		return nil
	}
	return s
}

func sourceChannel(src *OME) (Channel, bool) {
	if src == nil || len(src.Images) == 0 || len(src.Images[0].Pixels.Channels) == 0 {
		return Channel{}, false
	}
	return src.Images[0].Pixels.Channels[0], true
}

func sourcePlane(src *OME) (Plane, bool) {
	if src == nil || len(src.Images) == 0 {
		return Plane{}, false
	}
	for _, p := range src.Images[0].Pixels.Planes {
		if p.TheC == 0 && p.ExposureTime != nil {
			return p, true
		}
	}
	return Plane{}, false
}

// applyMagnification adds or removes objective metadata. Zero strips every
// objective and objective reference; a positive value is recorded on the
// first objective of the first instrument, creating both when absent.
func applyMagnification(doc *OME, mag float64) {
	img := &doc.Images[0]
	if mag == 0 {
		img.ObjectiveSettings = nil
		for i := range doc.Instruments {
			doc.Instruments[i].Objectives = nil
		}
		return
	}
	if len(doc.Instruments) == 0 {
		doc.Instruments = []Instrument{{ID: "Instrument:0"}}
	}
	inst := &doc.Instruments[0]
	if len(inst.Objectives) == 0 {
		inst.Objectives = []Objective{{ID: "Objective:0"}}
	}
	m := mag
	inst.Objectives[0].NominalMagnification = &m
	if img.ObjectiveSettings == nil {
		img.ObjectiveSettings = &ObjectiveSettings{}
	}
	img.ObjectiveSettings.ID = inst.Objectives[0].ID
	if img.InstrumentRef == nil {
		img.InstrumentRef = &Ref{ID: inst.ID}
	}
}

// ChannelInfo is the per-channel identity of a document.
type ChannelInfo struct {
	ID    string
	Name  string
	Color colormap.Color
}

// ChannelSummary lists the channels of the first image in order.
func (o *OME) ChannelSummary() []ChannelInfo {
	if len(o.Images) == 0 {
		return nil
	}
	chs := o.Images[0].Pixels.Channels
	out := make([]ChannelInfo, len(chs))
	for i, ch := range chs {
		info := ChannelInfo{ID: ch.ID, Name: ch.Name}
		if ch.Color != nil {
			info.Color = colormap.FromOMEInt(*ch.Color)
		}
		out[i] = info
	}
	return out
}

// Magnification returns the nominal magnification referenced by the first
// image, or zero when absent.
func (o *OME) Magnification() float64 {
	if len(o.Images) == 0 || o.Images[0].ObjectiveSettings == nil {
		return 0
	}
	id := o.Images[0].ObjectiveSettings.ID
	for _, inst := range o.Instruments {
		for _, obj := range inst.Objectives {
			if obj.ID == id && obj.NominalMagnification != nil {
				return *obj.NominalMagnification
			}
		}
	}
	return 0
}
