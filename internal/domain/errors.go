package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoRegions is returned when discovery yields no usable region at all.
	ErrNoRegions = errors.New("zarrpipe: no regions discovered")

	// ErrDimensionMismatch is returned when channels of a region disagree on shape or dtype.
	ErrDimensionMismatch = errors.New("zarrpipe: channel dimensions differ")

	// ErrDuplicateChannel is returned when a region lists the same channel twice.
	ErrDuplicateChannel = errors.New("zarrpipe: duplicate channel identity")

	// ErrRegionNotFound is returned for an allow-listed region with no matching files.
	ErrRegionNotFound = errors.New("zarrpipe: region not found")

	// ErrStoreExists is returned when the destination store exists and overwrite is off.
	ErrStoreExists = errors.New("zarrpipe: store already exists")

	// ErrUnsupportedPixelType is returned for rasters whose sample type cannot be stored.
	ErrUnsupportedPixelType = errors.New("zarrpipe: unsupported pixel type")

	// ErrUnsupportedFormat is returned for input files the raster decoder cannot read.
	ErrUnsupportedFormat = errors.New("zarrpipe: unsupported file format")
)

// Kind classifies failures for the run summary.
type Kind int

const (
	KindUnknown Kind = iota
	KindDiscovery
	KindValidation
	KindSchema
	KindIO
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindValidation:
		return "validation"
	case KindSchema:
		return "schema"
	case KindIO:
		return "io"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified failure, optionally scoped to one region.
type Error struct {
	Kind   Kind
	Region RegionID
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Region != "" {
		msg += " in region " + string(e.Region)
	}
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// DiscoveryError reports missing inputs for a region.
func DiscoveryError(region RegionID, op string, err error) *Error {
	return &Error{Kind: KindDiscovery, Region: region, Op: op, Err: err}
}

// ValidationError reports inputs that cannot be combined.
func ValidationError(region RegionID, op string, err error) *Error {
	return &Error{Kind: KindValidation, Region: region, Op: op, Err: err}
}

// SchemaError reports an unusable template metadata document.
func SchemaError(region RegionID, op string, err error) *Error {
	return &Error{Kind: KindSchema, Region: region, Op: op, Err: err}
}

// IOError reports a read or write failure.
func IOError(region RegionID, op string, err error) *Error {
	return &Error{Kind: KindIO, Region: region, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted cause.
func Errorf(kind Kind, region RegionID, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Region: region, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the classification of err. Context cancellation is reported
// as KindCanceled regardless of wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Scope attaches region and op to err, keeping an existing classification.
// Unclassified errors become IOErrors.
func Scope(region RegionID, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Region == "" {
			scoped := *e
			scoped.Region = region
			return &scoped
		}
		return err
	}
	if KindOf(err) == KindCanceled {
		return &Error{Kind: KindCanceled, Region: region, Op: op, Err: err}
	}
	return IOError(region, op, err)
}
