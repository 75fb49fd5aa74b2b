package raster

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	"golang.org/x/image/tiff"

	"github.com/celldive/zarrpipe/internal/domain"
)

// TIFFReader decodes grayscale TIFF and OME-TIFF planes.
type TIFFReader struct{}

// NewTIFFReader returns a reader for single-plane grayscale TIFFs.
func NewTIFFReader() *TIFFReader { return &TIFFReader{} }

// Probe reads only the TIFF header.
func (r *TIFFReader) Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if err := checkClassic(f, path); err != nil {
		return Info{}, err
	}

	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read tiff header of %s: %w", path, err)
	}
	var dtype DType
	switch cfg.ColorModel {
	case color.GrayModel:
		dtype = Uint8
	case color.Gray16Model:
		dtype = Uint16
	default:
		return Info{}, fmt.Errorf("%s: %w", path, domain.ErrUnsupportedPixelType)
	}
	return Info{DType: dtype, Width: cfg.Width, Height: cfg.Height}, nil
}

// ReadPlane decodes the first image of the file.
func (r *TIFFReader) ReadPlane(ctx context.Context, path string) (*Plane, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	if err := checkClassic(f, path); err != nil {
		return nil, err
	}

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return planeFromImage(img, path)
}

// checkClassic rejects BigTIFF files, whose pixel data x/image/tiff cannot
// decode. Describe still reads their ImageDescription.
func checkClassic(r io.ReaderAt, path string) error {
	var hdr [4]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil // short files are reported by the decoder
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil
	}
	if order.Uint16(hdr[2:4]) == 43 {
		return fmt.Errorf("%s: %w: BigTIFF pixel data is not supported, re-export as classic TIFF", path, domain.ErrUnsupportedFormat)
	}
	return nil
}

func planeFromImage(img image.Image, path string) (*Plane, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch m := img.(type) {
	case *image.Gray:
		p := NewPlane(Uint8, w, h)
		for y := 0; y < h; y++ {
			copy(p.Data[y*w:(y+1)*w], m.Pix[y*m.Stride:y*m.Stride+w])
		}
		return p, nil
	case *image.Gray16:
		// image.Gray16 is big-endian; planes are little-endian.
		p := NewPlane(Uint16, w, h)
		for y := 0; y < h; y++ {
			row := m.Pix[y*m.Stride : y*m.Stride+2*w]
			out := p.Data[2*y*w : 2*(y+1)*w]
			for x := 0; x < w; x++ {
				out[2*x] = row[2*x+1]
				out[2*x+1] = row[2*x]
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%s: %w (%T)", path, domain.ErrUnsupportedPixelType, img)
	}
}

const (
	tagImageDescription = 270
	tiffTypeASCII       = 2
	maxDescriptionBytes = 64 << 20
)

var errNotTIFF = errors.New("not a tiff file")

// Describe returns the ImageDescription of the first IFD, which OME-TIFF uses
// to carry OME-XML. Classic and BigTIFF headers are supported.
func (r *TIFFReader) Describe(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	desc, err := readDescription(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read description of %s: %w", path, err)
	}
	return desc, nil
}

func readDescription(r io.ReaderAt) ([]byte, error) {
	var hdr [16]byte
	if _, err := r.ReadAt(hdr[:8], 0); err != nil {
		return nil, err
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}

	big := false
	var ifd uint64
	switch order.Uint16(hdr[2:4]) {
	case 42:
		ifd = uint64(order.Uint32(hdr[4:8]))
	case 43:
		big = true
		if _, err := r.ReadAt(hdr[8:16], 8); err != nil {
			return nil, err
		}
		ifd = order.Uint64(hdr[8:16])
	default:
		return nil, errNotTIFF
	}

	countSize, entrySize, valueSize := 2, 12, 4
	if big {
		countSize, entrySize, valueSize = 8, 20, 8
	}

	cbuf := make([]byte, countSize)
	if _, err := r.ReadAt(cbuf, int64(ifd)); err != nil {
		return nil, err
	}
	var n uint64
	if big {
		n = order.Uint64(cbuf)
	} else {
		n = uint64(order.Uint16(cbuf))
	}

	entry := make([]byte, entrySize)
	for i := uint64(0); i < n; i++ {
		off := int64(ifd) + int64(countSize) + int64(i)*int64(entrySize)
		if _, err := r.ReadAt(entry, off); err != nil {
			return nil, err
		}
		if order.Uint16(entry[0:2]) != tagImageDescription {
			continue
		}
		if order.Uint16(entry[2:4]) != tiffTypeASCII {
			return nil, nil
		}
		var count uint64
		var value []byte
		if big {
			count = order.Uint64(entry[4:12])
			value = entry[12:20]
		} else {
			count = uint64(order.Uint32(entry[4:8]))
			value = entry[8:12]
		}
		if count > maxDescriptionBytes {
			return nil, fmt.Errorf("image description too large (%d bytes)", count)
		}
		var data []byte
		if count <= uint64(valueSize) {
			data = append([]byte(nil), value[:count]...)
		} else {
			var at uint64
			if big {
				at = order.Uint64(value)
			} else {
				at = uint64(order.Uint32(value))
			}
			data = make([]byte, count)
			if _, err := r.ReadAt(data, int64(at)); err != nil {
				return nil, err
			}
		}
		// ASCII values are NUL terminated.
		for len(data) > 0 && data[len(data)-1] == 0 {
			data = data[:len(data)-1]
		}
		return data, nil
	}
	return nil, nil
}
