package ome

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Repair fixes a known writer quirk where the schema location is declared
// with the xmlns prefix instead of xsi, and adds the xsi namespace when it is
// missing.
func Repair(doc []byte) []byte {
	s := string(doc)
	s = strings.ReplaceAll(s, "xmlns:schemaLocation", "xsi:schemaLocation")
	if !strings.Contains(s, "xmlns:xsi=") {
		s = strings.Replace(s, "<OME ", `<OME xmlns:xsi="`+xsiNamespace+`" `, 1)
	}
	return []byte(s)
}

// Parse repairs and decodes an OME-XML document.
func Parse(doc []byte) (*OME, error) {
	doc = bytes.TrimSpace(doc)
	if len(doc) == 0 {
		return nil, errors.New("empty OME-XML document")
	}
	var o OME
	if err := xml.Unmarshal(Repair(doc), &o); err != nil {
		return nil, fmt.Errorf("failed to parse OME-XML: %w", err)
	}
	return &o, nil
}

// Validate checks the structure a template must have to be reused.
func (o *OME) Validate() error {
	if len(o.Images) == 0 {
		return errors.New("OME-XML has no Image")
	}
	p := o.Images[0].Pixels
	if p.ID == "" {
		return errors.New("OME-XML image has no Pixels")
	}
	return nil
}

// Dims is what a minimal document needs to know about the store.
type Dims struct {
	Width    int
	Height   int
	Channels int
	Type     string // OME pixel type, e.g. "uint16"
}

type basisKind int

const (
	basisMinimal basisKind = iota
	basisTemplate
)

// Basis is the starting document of a region: either a validated template
// read from a source file or a minimal skeleton built from dimensions.
type Basis struct {
	kind     basisKind
	template *OME
	dims     Dims
}

// FromTemplate wraps a parsed, validated template.
func FromTemplate(doc *OME) Basis {
	return Basis{kind: basisTemplate, template: doc}
}

// Minimal returns a basis with no inherited metadata.
func Minimal(d Dims) Basis {
	return Basis{kind: basisMinimal, dims: d}
}

// IsTemplate reports which variant b holds.
func (b Basis) IsTemplate() bool { return b.kind == basisTemplate }

// ResolveBasis picks the template when doc parses and validates, and the
// minimal skeleton otherwise. The returned error explains a fallback and is
// for logging only.
func ResolveBasis(doc []byte, d Dims) (Basis, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return Minimal(d), nil
	}
	o, err := Parse(doc)
	if err == nil {
		err = o.Validate()
	}
	if err != nil {
		return Minimal(d), err
	}
	return FromTemplate(o), nil
}

// PhysicalSize returns the template pixel size in micrometers, if known.
func (b Basis) PhysicalSize() (x, y float64, ok bool) {
	if b.kind != basisTemplate {
		return 0, 0, false
	}
	p := b.template.Images[0].Pixels
	if p.PhysicalSizeX == nil || *p.PhysicalSizeX <= 0 {
		return 0, 0, false
	}
	fx, okx := toMicrometers(*p.PhysicalSizeX, p.PhysicalSizeXUnit)
	if !okx {
		return 0, 0, false
	}
	fy := fx
	if p.PhysicalSizeY != nil && *p.PhysicalSizeY > 0 {
		if v, oky := toMicrometers(*p.PhysicalSizeY, p.PhysicalSizeYUnit); oky {
			fy = v
		}
	}
	return fx, fy, true
}

func toMicrometers(v float64, unit string) (float64, bool) {
	switch unit {
	case "", "µm", "um", "micron":
		return v, true
	case "nm":
		return v / 1000, true
	case "mm":
		return v * 1000, true
	case "cm":
		return v * 1e4, true
	case "m":
		return v * 1e6, true
	default:
		return 0, false
	}
}
