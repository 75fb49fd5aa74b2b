package colormap

import (
	"image/color"
	"testing"
)

func TestRampEndpoints(t *testing.T) {
	t.Parallel()

	ramp := Ramp(Color{R: 255, G: 176, B: 0})
	c0, ok := ramp.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 0, G: 0, B: 0, A: 255}) {
		t.Fatalf("unexpected Ramp.At(0): %#v", c0)
	}

	c1, ok := ramp.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 176, B: 0, A: 255}) {
		t.Fatalf("unexpected Ramp.At(1): %#v", c1)
	}

	mid := ramp.At(0.5).(color.RGBA)
	if mid.R != 127 || mid.G != 88 {
		t.Fatalf("unexpected Ramp.At(0.5): %#v", mid)
	}
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := ParseHex("#dc267f")
	if err != nil {
		t.Fatalf("ParseHex: %v", err)
	}
	if c.Hex() != "DC267F" {
		t.Fatalf("Hex() = %q", c.Hex())
	}
	if _, err := ParseHex("12345"); err == nil {
		t.Fatalf("expected error for short hex")
	}
	if _, err := ParseHex("GGGGGG"); err == nil {
		t.Fatalf("expected error for non-hex digits")
	}
}

func TestOMEInt(t *testing.T) {
	t.Parallel()

	white := Color{R: 255, G: 255, B: 255}
	if white.OMEInt() != -1 {
		t.Fatalf("white OMEInt = %d, want -1", white.OMEInt())
	}
	green := Color{G: 255}
	if green.OMEInt() != 0x00FF00FF {
		t.Fatalf("green OMEInt = %d", green.OMEInt())
	}
	for _, c := range []Color{white, green, {R: 0xDC, G: 0x26, B: 0x7F}} {
		if FromOMEInt(c.OMEInt()) != c {
			t.Fatalf("FromOMEInt(OMEInt(%v)) mismatch", c)
		}
	}
}

func TestCategoricalWrapsNegative(t *testing.T) {
	t.Parallel()

	if Fallback.AtIndex(-1) != Fallback.AtIndex(Fallback.Len()-1) {
		t.Fatalf("negative index should wrap to the end")
	}
}
