// Package raster reads single-channel 2-D planes from source image files.
package raster

import (
	"fmt"
	"math"
)

// DType is a pixel sample type.
type DType int

const (
	Invalid DType = iota
	Uint8
	Uint16
	Uint32
	Int8
	Int16
	Int32
	Float32
	Float64
)

type dtypeInfo struct {
	name  string
	size  int
	zarr  string
	ome   string
	float bool
	sign  bool
}

var dtypes = map[DType]dtypeInfo{
	Uint8:   {"uint8", 1, "|u1", "uint8", false, false},
	Uint16:  {"uint16", 2, "<u2", "uint16", false, false},
	Uint32:  {"uint32", 4, "<u4", "uint32", false, false},
	Int8:    {"int8", 1, "|i1", "int8", false, true},
	Int16:   {"int16", 2, "<i2", "int16", false, true},
	Int32:   {"int32", 4, "<i4", "int32", false, true},
	Float32: {"float32", 4, "<f4", "float", true, true},
	Float64: {"float64", 8, "<f8", "double", true, true},
}

func (d DType) String() string {
	if info, ok := dtypes[d]; ok {
		return info.name
	}
	return "invalid"
}

// Size returns the number of bytes per sample.
func (d DType) Size() int { return dtypes[d].size }

// IsFloat reports whether samples are IEEE floats.
func (d DType) IsFloat() bool { return dtypes[d].float }

// IsSigned reports whether samples may be negative.
func (d DType) IsSigned() bool { return dtypes[d].sign }

// Valid reports whether d is a known type.
func (d DType) Valid() bool {
	_, ok := dtypes[d]
	return ok
}

// ZarrString returns the NumPy type string used in .zarray ("<u2").
func (d DType) ZarrString() string { return dtypes[d].zarr }

// OMEType returns the OME-XML PixelType name.
func (d DType) OMEType() string { return dtypes[d].ome }

// MaxValue returns the largest representable sample value.
func (d DType) MaxValue() float64 {
	switch d {
	case Uint8:
		return math.MaxUint8
	case Uint16:
		return math.MaxUint16
	case Uint32:
		return math.MaxUint32
	case Int8:
		return math.MaxInt8
	case Int16:
		return math.MaxInt16
	case Int32:
		return math.MaxInt32
	case Float32:
		return math.MaxFloat32
	case Float64:
		return math.MaxFloat64
	}
	return 0
}

// ParseZarrDType is the inverse of ZarrString.
func ParseZarrDType(s string) (DType, error) {
	for d, info := range dtypes {
		if info.zarr == s {
			return d, nil
		}
	}
	// NumPy writes single-byte types with either byte-order mark.
	switch s {
	case "<u1", ">u1":
		return Uint8, nil
	case "<i1", ">i1":
		return Int8, nil
	}
	return Invalid, fmt.Errorf("unsupported zarr dtype %q", s)
}
