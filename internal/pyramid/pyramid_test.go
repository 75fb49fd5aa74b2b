package pyramid

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/raster"
)

func uint16Level(w, h int, vals ...uint16) *Level {
	l := NewLevel(0, 1, 1, w, h, raster.Uint16)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(l.Data[2*i:], v)
	}
	return l
}

func uint16Plane(w, h int, fill uint16) *raster.Plane {
	p := raster.NewPlane(raster.Uint16, w, h)
	for i := 0; i < w*h; i++ {
		binary.LittleEndian.PutUint16(p.Data[2*i:], fill)
	}
	return p
}

func TestShapes(t *testing.T) {
	got := Shapes(1000, 750, 5, 2)
	want := []Shape{{1000, 750}, {500, 375}, {250, 188}, {125, 94}, {63, 47}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("level %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDecimateRoundsHalfToEven(t *testing.T) {
	tests := []struct {
		block [4]uint16
		want  uint16
	}{
		{[4]uint16{1, 2, 3, 4}, 2},  // 2.5
		{[4]uint16{1, 1, 2, 2}, 2},  // 1.5
		{[4]uint16{1, 2, 4, 4}, 3},  // 2.75
		{[4]uint16{0, 0, 0, 1}, 0},  // 0.25
		{[4]uint16{65535, 65535, 65535, 65535}, 65535},
	}
	for _, tt := range tests {
		l := uint16Level(2, 2, tt.block[:]...)
		out := Decimate(l, 2)
		if out.Width != 1 || out.Height != 1 {
			t.Fatalf("unexpected shape %dx%d", out.Width, out.Height)
		}
		if got := uint16(out.Value(0, 0, 0)); got != tt.want {
			t.Fatalf("Decimate(%v) = %d, want %d", tt.block, got, tt.want)
		}
	}
}

func TestDecimateEdgeBlocks(t *testing.T) {
	// 3x3 plane, factor 2: the right column, bottom row and corner are
	// averaged over the samples that exist.
	l := uint16Level(3, 3,
		1, 3, 10,
		5, 7, 20,
		100, 200, 1000,
	)
	out := Decimate(l, 2)
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("shape = %dx%d, want 2x2", out.Width, out.Height)
	}
	want := [][]uint16{
		{4, 15},
		{150, 1000},
	}
	for y := range want {
		for x := range want[y] {
			if got := uint16(out.Value(0, y, x)); got != want[y][x] {
				t.Fatalf("out[%d][%d] = %d, want %d", y, x, got, want[y][x])
			}
		}
	}
	if out.Factor != 2 || out.Index != 1 {
		t.Fatalf("Factor/Index = %d/%d", out.Factor, out.Index)
	}
}

func TestDecimateSigned(t *testing.T) {
	l := NewLevel(0, 1, 1, 2, 2, raster.Int16)
	for i, v := range []int16{-1, -2, -3, -4} {
		binary.LittleEndian.PutUint16(l.Data[2*i:], uint16(v))
	}
	if got := Decimate(l, 2).Value(0, 0, 0); got != -2 {
		t.Fatalf("signed mean = %v, want -2", got)
	}
}

func TestDecimateFloat(t *testing.T) {
	l := NewLevel(0, 1, 1, 2, 1, raster.Float32)
	binary.LittleEndian.PutUint32(l.Data[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(l.Data[4:], math.Float32bits(1.0))
	if got := Decimate(l, 2).Value(0, 0, 0); got != 0.75 {
		t.Fatalf("float mean = %v, want 0.75", got)
	}
}

func TestConstantPlaneStaysConstant(t *testing.T) {
	const v = 1234
	base := NewLevel(0, 1, 2, 37, 21, raster.Uint16)
	for i := 0; i < len(base.Data)/2; i++ {
		binary.LittleEndian.PutUint16(base.Data[2*i:], v)
	}
	b, err := NewBuilder(Options{Levels: 6, Factor: 2})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	err = b.Run(context.Background(), base, func(_ context.Context, l *Level) error {
		for c := 0; c < l.Channels; c++ {
			lo, hi := l.ChannelRange(c)
			if lo != v || hi != v {
				t.Fatalf("level %d channel %d range = [%v,%v]", l.Index, c, lo, hi)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestBuilderEmitsExpectedShapes(t *testing.T) {
	base := NewLevel(0, 1, 3, 100, 60, raster.Uint8)
	b, err := NewBuilder(Options{Levels: 4, Factor: 3})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	want := Shapes(100, 60, 4, 3)
	var got []Shape
	var factors []int
	err = b.Run(context.Background(), base, func(_ context.Context, l *Level) error {
		got = append(got, Shape{l.Width, l.Height})
		factors = append(factors, l.Factor)
		if l.Channels != 3 {
			t.Fatalf("channels = %d", l.Channels)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("emitted %d levels, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("level %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if factors[3] != 27 {
		t.Fatalf("level 3 factor = %d, want 27", factors[3])
	}
}

func TestBuilderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, _ := NewBuilder(Options{Levels: 5, Factor: 2})
	emitted := 0
	err := b.Run(ctx, NewLevel(0, 1, 1, 64, 64, raster.Uint16), func(_ context.Context, l *Level) error {
		emitted++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if emitted != 1 {
		t.Fatalf("emitted %d levels after cancel, want 1", emitted)
	}
}

func TestBuilderPropagatesEmitError(t *testing.T) {
	b, _ := NewBuilder(DefaultOptions())
	boom := errors.New("boom")
	err := b.Run(context.Background(), NewLevel(0, 1, 1, 8, 8, raster.Uint8), func(context.Context, *Level) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected emit error, got %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	if _, err := NewBuilder(Options{Levels: 0, Factor: 2}); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for zero levels, got %v", err)
	}
	if _, err := NewBuilder(Options{Levels: 3, Factor: 1}); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error for factor 1, got %v", err)
	}
}

func TestDecimateIsDeterministic(t *testing.T) {
	base := NewLevel(0, 1, 2, 33, 17, raster.Uint16)
	for i := range base.Data {
		base.Data[i] = byte(i * 7)
	}
	a := Decimate(base, 2)
	b := Decimate(base, 2)
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatalf("decimation is not deterministic")
	}
}

// readOnly hides the Prober implementation of the wrapped reader.
type readOnly struct{ r raster.Reader }

func (r readOnly) ReadPlane(ctx context.Context, path string) (*raster.Plane, error) {
	return r.r.ReadPlane(ctx, path)
}

func TestStackPreservesOrder(t *testing.T) {
	mem := raster.NewMemoryReader()
	mem.Add("a", uint16Plane(4, 3, 10), nil)
	mem.Add("b", uint16Plane(4, 3, 20), nil)
	mem.Add("c", uint16Plane(4, 3, 30), nil)

	for _, reader := range []raster.Reader{mem, readOnly{mem}} {
		l, err := Stack(context.Background(), reader, []string{"c", "a", "b"}, StackOptions{ReadWorkers: 2})
		if err != nil {
			t.Fatalf("Stack: %v", err)
		}
		if l.Channels != 3 || l.Width != 4 || l.Height != 3 || l.Index != 0 || l.Factor != 1 {
			t.Fatalf("unexpected level: %+v", l)
		}
		for c, want := range []float64{30, 10, 20} {
			if got := l.Value(c, 2, 3); got != want {
				t.Fatalf("channel %d = %v, want %v", c, got, want)
			}
		}
	}
}

func TestStackRejectsMismatchBeforeDecoding(t *testing.T) {
	mem := raster.NewMemoryReader()
	mem.Add("a", uint16Plane(4, 4, 1), nil)
	mem.Add("b", uint16Plane(4, 5, 1), nil)

	_, err := Stack(context.Background(), mem, []string{"a", "b"}, StackOptions{})
	if domain.KindOf(err) != domain.KindValidation || !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if mem.Reads("a") != 0 || mem.Reads("b") != 0 {
		t.Fatalf("planes were decoded despite a header mismatch")
	}
}

func TestStackRejectsMismatchWithoutProbe(t *testing.T) {
	mem := raster.NewMemoryReader()
	mem.Add("a", uint16Plane(4, 4, 1), nil)
	mem.Add("b", raster.NewPlane(raster.Uint8, 4, 4), nil)

	_, err := Stack(context.Background(), readOnly{mem}, []string{"a", "b"}, StackOptions{})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestStackMissingFileIsIOError(t *testing.T) {
	mem := raster.NewMemoryReader()
	mem.Add("a", uint16Plane(2, 2, 1), nil)
	_, err := Stack(context.Background(), readOnly{mem}, []string{"a", "missing"}, StackOptions{})
	if domain.KindOf(err) != domain.KindIO {
		t.Fatalf("expected io error, got %v", err)
	}
}

func TestStackUnsupportedFormatIsValidationError(t *testing.T) {
	err := classifyRead(fmt.Errorf("big.tif: %w", domain.ErrUnsupportedFormat))
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
