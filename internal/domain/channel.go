// Package domain holds the value types shared by every stage of the
// conversion pipeline: channel descriptors, regions and the error taxonomy.
package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Family is the fluorophore family a channel was imaged with.
type Family int

const (
	FamilyUnset Family = iota
	FamilyDAPI
	FamilyCy3
	FamilyCy5
	FamilyCy7
	FamilyFITC
)

var familyNames = map[Family]string{
	FamilyDAPI: "DAPI",
	FamilyCy3:  "Cy3",
	FamilyCy5:  "Cy5",
	FamilyCy7:  "Cy7",
	FamilyFITC: "FITC",
}

// Families lists the recognized families in canonical order.
var Families = []Family{FamilyDAPI, FamilyCy3, FamilyCy5, FamilyCy7, FamilyFITC}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return ""
}

// HasMarker reports whether channels of this family carry a marker token.
// DAPI is a nuclear counterstain and never does.
func (f Family) HasMarker() bool {
	return f != FamilyDAPI && f != FamilyUnset
}

// ParseFamily matches a token against the recognized families, ignoring case.
func ParseFamily(token string) (Family, bool) {
	for _, f := range Families {
		if strings.EqualFold(token, familyNames[f]) {
			return f, true
		}
	}
	return FamilyUnset, false
}

// RegionID is the canonical region identifier: "R" followed by exactly three digits.
type RegionID string

// NewRegionID validates and canonicalizes a region token such as "r007".
func NewRegionID(token string) (RegionID, error) {
	if len(token) != 4 || (token[0] != 'R' && token[0] != 'r') {
		return "", fmt.Errorf("invalid region id %q", token)
	}
	for i := 1; i < 4; i++ {
		if token[i] < '0' || token[i] > '9' {
			return "", fmt.Errorf("invalid region id %q", token)
		}
	}
	return RegionID("R" + token[1:]), nil
}

// Code returns the three-digit part of the identifier.
func (r RegionID) Code() string {
	if len(r) != 4 {
		return ""
	}
	return string(r[1:])
}

// ChannelDescriptor is the structured identity of one source file. It is
// created once by the grouper and never modified afterwards.
type ChannelDescriptor struct {
	SourcePath     string
	RegionID       RegionID
	Round          string // dotted triplet, empty when absent
	Family         Family
	Marker         string
	DiscoveryIndex int // position within the region, in discovery order
}

// Label is the display name of the channel: "DAPI", "Cy3_iba1", or the file
// stem when the family could not be resolved.
func (c ChannelDescriptor) Label() string {
	switch {
	case c.Family == FamilyUnset:
		return Stem(c.SourcePath)
	case c.Family.HasMarker() && c.Marker != "":
		return c.Family.String() + "_" + c.Marker
	default:
		return c.Family.String()
	}
}

// Identity is the key used to detect duplicate channels within a region.
func (c ChannelDescriptor) Identity() string {
	if c.Family == FamilyUnset {
		return "file:" + strings.ToLower(Stem(c.SourcePath))
	}
	return strings.ToLower(c.Round + "|" + c.Family.String() + "|" + c.Marker)
}

// Region is an ordered set of channels sharing a region id.
type Region struct {
	ID       RegionID
	Channels []ChannelDescriptor
}

// Labels returns the channel display names in region order.
func (r Region) Labels() []string {
	labels := make([]string, len(r.Channels))
	for i, ch := range r.Channels {
		labels[i] = ch.Label()
	}
	return labels
}

// Paths returns the channel source paths in region order.
func (r Region) Paths() []string {
	paths := make([]string, len(r.Channels))
	for i, ch := range r.Channels {
		paths[i] = ch.SourcePath
	}
	return paths
}

// Stem strips the directory and every extension from path.
func Stem(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}
