package discovery

import (
	"testing"

	"github.com/celldive/zarrpipe/internal/domain"
)

func TestParseFullName(t *testing.T) {
	p := NewParser()
	m, ok := p.Parse("/in/prefix_12012023_S1_1.0.4_R000_Cy3_iba1_FINAL_AFR_F.ome.tif")
	if !ok {
		t.Fatalf("expected match")
	}
	if m.Region != "R000" {
		t.Fatalf("Region = %q", m.Region)
	}
	if m.Round != "1.0.4" {
		t.Fatalf("Round = %q", m.Round)
	}
	if m.Family != domain.FamilyCy3 || m.Marker != "iba1" {
		t.Fatalf("Family/Marker = %v/%q", m.Family, m.Marker)
	}
}

func TestParseDAPIHasNoMarker(t *testing.T) {
	p := NewParser()
	m, ok := p.Parse("prefix_12012023_S1_1.0.4_R001_DAPI_FINAL_F.ome.tif")
	if !ok {
		t.Fatalf("expected match")
	}
	if m.Family != domain.FamilyDAPI || m.Marker != "" {
		t.Fatalf("Family/Marker = %v/%q", m.Family, m.Marker)
	}
}

func TestParseRequiredTokens(t *testing.T) {
	p := NewParser()
	tests := []struct {
		name string
		ok   bool
	}{
		{"a_R000_Cy5_CD3_FINAL.ome.tif", true},
		{"FINAL_cy5_cd3_r000.OME.TIF", true},
		{"a_R000_Cy5_CD3.ome.tif", false},    // no FINAL
		{"a_Cy5_CD3_FINAL.ome.tif", false},   // no region
		{"a_R000_Cy5_CD3_FINAL.tif", false},  // single extension
		{"a_R000_Cy5_CD3_FINAL.ome.png", false},
		{"a_R00_Cy5_FINAL.ome.tif", false},   // two digits
		{"a_R0001_Cy5_FINAL.ome.tif", false}, // four digits
		{"a_AR000_FINAL.ome.tif", true},      // token may be glued to a word
		{"a_R123_FINAL.ome.tiff", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := p.Parse(tt.name)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			}
		})
	}
}

func TestParseEmbeddedRegion(t *testing.T) {
	p := NewParser()
	tests := []struct {
		name   string
		region domain.RegionID
		round  string
		family domain.Family
	}{
		{"sampleR001_Cy3_iba1_FINAL.ome.tif", "R001", "", domain.FamilyCy3},
		{"S1_1.0.4R001_DAPI_FINAL.ome.tif", "R001", "1.0.4", domain.FamilyDAPI},
		{"S1_1.0.4_R001_DAPI_FINAL.ome.tif", "R001", "1.0.4", domain.FamilyDAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := p.Parse(tt.name)
			if !ok {
				t.Fatalf("Parse(%q) rejected", tt.name)
			}
			if m.Region != tt.region || m.Round != tt.round || m.Family != tt.family {
				t.Fatalf("Parse(%q) = %+v", tt.name, m)
			}
		})
	}
}

func TestParseOptionalTokensNeverReject(t *testing.T) {
	p := NewParser()
	m, ok := p.Parse("scan_R002_weird_FINAL.ome.tif")
	if !ok {
		t.Fatalf("expected match without optional tokens")
	}
	if m.Round != "" || m.Family != domain.FamilyUnset || m.Marker != "" {
		t.Fatalf("unexpected optional fields: %+v", m)
	}
}

func TestParseRoundRange(t *testing.T) {
	p := NewParser()
	tests := []struct {
		name  string
		round string
	}{
		{"x_15.2.1_R000_FINAL.ome.tif", "15.2.1"},
		{"x_16.2.1_R000_FINAL.ome.tif", ""},
		{"x_0.2.1_R000_FINAL.ome.tif", ""},
		{"x_3.10.22_R000_FINAL.ome.tif", "3.10.22"},
	}
	for _, tt := range tests {
		m, ok := p.Parse(tt.name)
		if !ok {
			t.Fatalf("Parse(%q) did not match", tt.name)
		}
		if m.Round != tt.round {
			t.Fatalf("Parse(%q).Round = %q, want %q", tt.name, m.Round, tt.round)
		}
	}
}

func TestParseMarkerSkipsFinal(t *testing.T) {
	p := NewParser()
	m, ok := p.Parse("x_R000_FITC_FINAL.ome.tif")
	if !ok {
		t.Fatalf("expected match")
	}
	if m.Family != domain.FamilyFITC || m.Marker != "" {
		t.Fatalf("Family/Marker = %v/%q", m.Family, m.Marker)
	}
}

func TestParseCustomExtension(t *testing.T) {
	p := NewParser("OME.TIF")
	if _, ok := p.Parse("x_R000_FINAL.ome.tif"); !ok {
		t.Fatalf("expected normalized extension to match")
	}
	if _, ok := p.Parse("x_R000_FINAL.ome.tiff"); ok {
		t.Fatalf("expected .ome.tiff to be rejected")
	}
}
