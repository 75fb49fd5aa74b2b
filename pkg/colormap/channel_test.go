package colormap

import "testing"

func TestChannelColorFamilies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  string
	}{
		{"DAPI", "FFFFFF"},
		{"Cy3_iba1", "FFB000"},
		{"Cy5_CD3", "DC267F"},
		{"Cy7_SMA", "00FFFF"},
		{"FITC_GFAP", "00FF00"},
		{"fitc_lowercase", "00FF00"},
		// DAPI wins over any later family in the priority list
		{"DAPI_Cy5", "FFFFFF"},
		{"Cy5_Cy3", "FFB000"},
	}
	for _, tt := range tests {
		for _, idx := range []int{0, 3, 17} {
			if got := ChannelColor(tt.label, idx).Hex(); got != tt.want {
				t.Fatalf("ChannelColor(%q, %d) = %s, want %s", tt.label, idx, got, tt.want)
			}
		}
	}
}

func TestChannelColorFallback(t *testing.T) {
	t.Parallel()

	want := []string{"FFB000", "DC267F", "00FFFF", "00FF00", "FE6100", "785EF0", "FFE119", "648FFF"}
	for i := 0; i < 20; i++ {
		if got := ChannelColor("marker", i).Hex(); got != want[i%8] {
			t.Fatalf("ChannelColor(marker, %d) = %s, want %s", i, got, want[i%8])
		}
	}
	if ChannelColor("x", 7) != ChannelColor("y", 15) {
		t.Fatalf("fallback should depend only on index mod 8")
	}
}

func TestChannelColorsMatchesPerLabel(t *testing.T) {
	t.Parallel()

	labels := []string{"DAPI", "Cy3_iba1", "unknown", "other"}
	colors := ChannelColors(labels)
	for i, l := range labels {
		if colors[i] != ChannelColor(l, i) {
			t.Fatalf("ChannelColors[%d] differs from ChannelColor", i)
		}
	}
}
