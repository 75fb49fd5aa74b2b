// Package ome builds the OME-XML companion document of a region store.
package ome

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	Namespace      = "http://www.openmicroscopy.org/Schemas/OME/2016-06"
	SchemaLocation = Namespace + " " + Namespace + "/ome.xsd"
	xsiNamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	Creator        = "zarrpipe"
)

// OME is the subset of the OME-XML model this package reads and writes.
// Instruments and images are modeled; other top-level elements are dropped.
type OME struct {
	Creator     string
	UUID        string
	Instruments []Instrument
	Images      []Image
}

// Instrument keeps objectives typed and every other child verbatim, split
// around the objectives so schema order survives a round trip.
type Instrument struct {
	ID         string
	Head       []RawElement // microscope, light sources, detectors
	Objectives []Objective
	Tail       []RawElement // filter sets, filters, dichroics
}

// Objective is an Instrument/Objective element.
type Objective struct {
	XMLName              xml.Name   `xml:"Objective"`
	ID                   string     `xml:"ID,attr"`
	NominalMagnification *float64   `xml:"NominalMagnification,attr,omitempty"`
	Other                []xml.Attr `xml:",any,attr"`
	Inner                []byte     `xml:",innerxml"`
}

// RawElement is any element kept byte-for-byte.
type RawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

// Ref is an element carrying only an ID reference.
type Ref struct {
	ID string `xml:"ID,attr"`
}

// Settings is a LightSourceSettings or DetectorSettings element. Only the ID
// is interpreted.
type Settings struct {
	ID    string     `xml:"ID,attr"`
	Other []xml.Attr `xml:",any,attr"`
}

// Image is an OME Image element.
type Image struct {
	XMLName           xml.Name `xml:"Image"`
	ID                string   `xml:"ID,attr"`
	Name              string   `xml:"Name,attr,omitempty"`
	AcquisitionDate   string   `xml:"AcquisitionDate,omitempty"`
	Description       string   `xml:"Description,omitempty"`
	InstrumentRef     *Ref     `xml:"InstrumentRef"`
	ObjectiveSettings *ObjectiveSettings
	Pixels            Pixels `xml:"Pixels"`
}

// ObjectiveSettings references the objective an image was acquired with.
type ObjectiveSettings struct {
	XMLName xml.Name   `xml:"ObjectiveSettings"`
	ID      string     `xml:"ID,attr"`
	Other   []xml.Attr `xml:",any,attr"`
}

// Pixels describes the pixel data of an image.
type Pixels struct {
	ID                string    `xml:"ID,attr"`
	DimensionOrder    string    `xml:"DimensionOrder,attr"`
	Type              string    `xml:"Type,attr"`
	SizeX             int       `xml:"SizeX,attr"`
	SizeY             int       `xml:"SizeY,attr"`
	SizeZ             int       `xml:"SizeZ,attr"`
	SizeC             int       `xml:"SizeC,attr"`
	SizeT             int       `xml:"SizeT,attr"`
	PhysicalSizeX     *float64  `xml:"PhysicalSizeX,attr,omitempty"`
	PhysicalSizeXUnit string    `xml:"PhysicalSizeXUnit,attr,omitempty"`
	PhysicalSizeY     *float64  `xml:"PhysicalSizeY,attr,omitempty"`
	PhysicalSizeYUnit string    `xml:"PhysicalSizeYUnit,attr,omitempty"`
	PhysicalSizeZ     *float64  `xml:"PhysicalSizeZ,attr,omitempty"`
	PhysicalSizeZUnit string    `xml:"PhysicalSizeZUnit,attr,omitempty"`
	SignificantBits   int       `xml:"SignificantBits,attr,omitempty"`
	Channels          []Channel `xml:"Channel"`
	MetadataOnly      *struct{} `xml:"MetadataOnly"`
	Planes            []Plane   `xml:"Plane"`
}

// Channel is one OME channel.
type Channel struct {
	ID                       string    `xml:"ID,attr"`
	Name                     string    `xml:"Name,attr,omitempty"`
	SamplesPerPixel          int       `xml:"SamplesPerPixel,attr,omitempty"`
	Color                    *int32    `xml:"Color,attr,omitempty"`
	Fluor                    string    `xml:"Fluor,attr,omitempty"`
	ExcitationWavelength     *float64  `xml:"ExcitationWavelength,attr,omitempty"`
	ExcitationWavelengthUnit string    `xml:"ExcitationWavelengthUnit,attr,omitempty"`
	EmissionWavelength       *float64  `xml:"EmissionWavelength,attr,omitempty"`
	EmissionWavelengthUnit   string    `xml:"EmissionWavelengthUnit,attr,omitempty"`
	LightSourceSettings      *Settings `xml:"LightSourceSettings"`
	DetectorSettings         *Settings `xml:"DetectorSettings"`
}

// Plane carries per-plane acquisition values such as exposure time.
type Plane struct {
	TheZ             int        `xml:"TheZ,attr"`
	TheT             int        `xml:"TheT,attr"`
	TheC             int        `xml:"TheC,attr"`
	ExposureTime     *float64   `xml:"ExposureTime,attr,omitempty"`
	ExposureTimeUnit string     `xml:"ExposureTimeUnit,attr,omitempty"`
	Other            []xml.Attr `xml:",any,attr"`
}

var instrumentTail = map[string]bool{"FilterSet": true, "Filter": true, "Dichroic": true}

// UnmarshalXML reads the OME root element.
func (o *OME) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	if start.Name.Local != "OME" {
		return fmt.Errorf("root element is %q, want OME", start.Name.Local)
	}
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "Creator":
			o.Creator = a.Value
		case "UUID":
			o.UUID = a.Value
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Instrument":
				var inst Instrument
				if err := inst.decode(d, t); err != nil {
					return err
				}
				o.Instruments = append(o.Instruments, inst)
			case "Image":
				var img Image
				if err := d.DecodeElement(&img, &t); err != nil {
					return err
				}
				o.Images = append(o.Images, img)
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}

func (inst *Instrument) decode(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		if a.Name.Local == "ID" {
			inst.ID = a.Value
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "Objective" {
				var obj Objective
				if err := d.DecodeElement(&obj, &t); err != nil {
					return err
				}
				inst.Objectives = append(inst.Objectives, obj)
				continue
			}
			var raw RawElement
			if err := d.DecodeElement(&raw, &t); err != nil {
				return err
			}
			raw.XMLName.Space = ""
			if instrumentTail[t.Name.Local] {
				inst.Tail = append(inst.Tail, raw)
			} else {
				inst.Head = append(inst.Head, raw)
			}
		case xml.EndElement:
			return nil
		}
	}
}

// MarshalXML writes the root with the OME default namespace and schema location.
func (o OME) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	creator := o.Creator
	if creator == "" {
		creator = Creator
	}
	start := xml.StartElement{
		Name: xml.Name{Local: "OME"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: Namespace},
			{Name: xml.Name{Local: "xmlns:xsi"}, Value: xsiNamespace},
			{Name: xml.Name{Local: "xsi:schemaLocation"}, Value: SchemaLocation},
			{Name: xml.Name{Local: "Creator"}, Value: creator},
		},
	}
	if o.UUID != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "UUID"}, Value: o.UUID})
	}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, inst := range o.Instruments {
		if err := inst.encode(e); err != nil {
			return err
		}
	}
	for _, img := range o.Images {
		img.XMLName = xml.Name{Local: "Image"}
		if img.ObjectiveSettings != nil {
			settings := *img.ObjectiveSettings
			settings.XMLName = xml.Name{Local: "ObjectiveSettings"}
			img.ObjectiveSettings = &settings
		}
		if err := e.Encode(img); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (inst Instrument) encode(e *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: "Instrument"}, Attr: []xml.Attr{{Name: xml.Name{Local: "ID"}, Value: inst.ID}}}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, r := range inst.Head {
		if err := e.Encode(r); err != nil {
			return err
		}
	}
	for _, obj := range inst.Objectives {
		obj.XMLName = xml.Name{Local: "Objective"}
		if err := e.Encode(obj); err != nil {
			return err
		}
	}
	for _, r := range inst.Tail {
		if err := e.Encode(r); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// Marshal renders the document with an XML declaration.
func Marshal(o *OME) ([]byte, error) {
	var b strings.Builder
	b.WriteString(xml.Header)
	enc := xml.NewEncoder(&b)
	enc.Indent("", "  ")
	if err := enc.Encode(o); err != nil {
		return nil, fmt.Errorf("failed to encode OME-XML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode OME-XML: %w", err)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
