package pyramid

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/celldive/zarrpipe/internal/raster"
)

// Decimate averages every factor x factor block of src into one sample.
// Blocks on the right and bottom edges average only the samples present.
// Integer types accumulate in 64 bits and round half to even; the output
// keeps the source dtype.
func Decimate(src *Level, factor int) *Level {
	ow, oh := ceilDiv(src.Width, factor), ceilDiv(src.Height, factor)
	dst := NewLevel(src.Index+1, src.Factor*factor, src.Channels, ow, oh, src.DType)

	var wg sync.WaitGroup
	for c := 0; c < src.Channels; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decimatePlane(src.Plane(c), dst.Plane(c), src.DType, src.Width, src.Height, ow, oh, factor)
		}()
	}
	wg.Wait()
	return dst
}

func decimatePlane(in, out []byte, dtype raster.DType, w, h, ow, oh, f int) {
	switch {
	case dtype.IsFloat():
		decimateFloat(in, out, dtype, w, h, ow, oh, f)
	case dtype.IsSigned():
		decimateSigned(in, out, dtype, w, h, ow, oh, f)
	default:
		decimateUnsigned(in, out, dtype, w, h, ow, oh, f)
	}
}

func decimateUnsigned(in, out []byte, dtype raster.DType, w, h, ow, oh, f int) {
	load := unsignedLoader(dtype)
	store := unsignedStorer(dtype)
	for oy := 0; oy < oh; oy++ {
		y0, y1 := oy*f, min(oy*f+f, h)
		for ox := 0; ox < ow; ox++ {
			x0, x1 := ox*f, min(ox*f+f, w)
			var sum uint64
			for y := y0; y < y1; y++ {
				row := y * w
				for x := x0; x < x1; x++ {
					sum += load(in, row+x)
				}
			}
			n := uint64((y1 - y0) * (x1 - x0))
			store(out, oy*ow+ox, roundHalfEven(sum, n))
		}
	}
}

func decimateSigned(in, out []byte, dtype raster.DType, w, h, ow, oh, f int) {
	load := signedLoader(dtype)
	store := signedStorer(dtype)
	for oy := 0; oy < oh; oy++ {
		y0, y1 := oy*f, min(oy*f+f, h)
		for ox := 0; ox < ow; ox++ {
			x0, x1 := ox*f, min(ox*f+f, w)
			var sum int64
			for y := y0; y < y1; y++ {
				row := y * w
				for x := x0; x < x1; x++ {
					sum += load(in, row+x)
				}
			}
			n := int64((y1 - y0) * (x1 - x0))
			store(out, oy*ow+ox, roundHalfEvenSigned(sum, n))
		}
	}
}

func decimateFloat(in, out []byte, dtype raster.DType, w, h, ow, oh, f int) {
	for oy := 0; oy < oh; oy++ {
		y0, y1 := oy*f, min(oy*f+f, h)
		for ox := 0; ox < ow; ox++ {
			x0, x1 := ox*f, min(ox*f+f, w)
			var sum float64
			for y := y0; y < y1; y++ {
				row := y * w
				for x := x0; x < x1; x++ {
					sum += raster.SampleAt(in, dtype, row+x)
				}
			}
			mean := sum / float64((y1-y0)*(x1-x0))
			i := oy*ow + ox
			if dtype == raster.Float32 {
				binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(mean)))
			} else {
				binary.LittleEndian.PutUint64(out[8*i:], math.Float64bits(mean))
			}
		}
	}
}

// roundHalfEven returns sum/n rounded to the nearest integer, ties to even.
func roundHalfEven(sum, n uint64) uint64 {
	q, r := sum/n, sum%n
	if 2*r > n || (2*r == n && q&1 == 1) {
		q++
	}
	return q
}

func roundHalfEvenSigned(sum, n int64) int64 {
	if sum < 0 {
		return -int64(roundHalfEven(uint64(-sum), uint64(n)))
	}
	return int64(roundHalfEven(uint64(sum), uint64(n)))
}

func unsignedLoader(d raster.DType) func([]byte, int) uint64 {
	switch d {
	case raster.Uint8:
		return func(b []byte, i int) uint64 { return uint64(b[i]) }
	case raster.Uint16:
		return func(b []byte, i int) uint64 { return uint64(binary.LittleEndian.Uint16(b[2*i:])) }
	default:
		return func(b []byte, i int) uint64 { return uint64(binary.LittleEndian.Uint32(b[4*i:])) }
	}
}

func unsignedStorer(d raster.DType) func([]byte, int, uint64) {
	switch d {
	case raster.Uint8:
		return func(b []byte, i int, v uint64) { b[i] = uint8(v) }
	case raster.Uint16:
		return func(b []byte, i int, v uint64) { binary.LittleEndian.PutUint16(b[2*i:], uint16(v)) }
	default:
		return func(b []byte, i int, v uint64) { binary.LittleEndian.PutUint32(b[4*i:], uint32(v)) }
	}
}

func signedLoader(d raster.DType) func([]byte, int) int64 {
	switch d {
	case raster.Int8:
		return func(b []byte, i int) int64 { return int64(int8(b[i])) }
	case raster.Int16:
		return func(b []byte, i int) int64 { return int64(int16(binary.LittleEndian.Uint16(b[2*i:]))) }
	default:
		return func(b []byte, i int) int64 { return int64(int32(binary.LittleEndian.Uint32(b[4*i:]))) }
	}
}

func signedStorer(d raster.DType) func([]byte, int, int64) {
	switch d {
	case raster.Int8:
		return func(b []byte, i int, v int64) { b[i] = uint8(int8(v)) }
	case raster.Int16:
		return func(b []byte, i int, v int64) { binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(v))) }
	default:
		return func(b []byte, i int, v int64) { binary.LittleEndian.PutUint32(b[4*i:], uint32(int32(v))) }
	}
}
