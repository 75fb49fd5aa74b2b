package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/celldive/zarrpipe/internal/domain"
)

func parseAll(t *testing.T, names ...string) []Match {
	t.Helper()
	p := NewParser()
	var out []Match
	for _, n := range names {
		m, ok := p.Parse(n)
		if !ok {
			t.Fatalf("Parse(%q) did not match", n)
		}
		out = append(out, m)
	}
	return out
}

func TestGroupKeepsDiscoveryOrder(t *testing.T) {
	matches := parseAll(t,
		"s_1.0.4_R001_Cy5_CD3_FINAL.ome.tif",
		"s_1.0.4_R000_DAPI_FINAL.ome.tif",
		"s_1.0.4_R001_DAPI_FINAL.ome.tif",
		"s_1.0.4_R000_Cy3_iba1_FINAL.ome.tif",
	)
	regions, rejected := Group(matches)
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %v", rejected)
	}
	if len(regions) != 2 || regions[0].ID != "R000" || regions[1].ID != "R001" {
		t.Fatalf("unexpected regions: %+v", regions)
	}
	if got := regions[1].Labels(); !reflect.DeepEqual(got, []string{"Cy5_CD3", "DAPI"}) {
		t.Fatalf("R001 labels = %v", got)
	}
	for i, ch := range regions[0].Channels {
		if ch.DiscoveryIndex != i || ch.RegionID != "R000" {
			t.Fatalf("channel %d = %+v", i, ch)
		}
	}
}

func TestGroupIsDeterministic(t *testing.T) {
	names := []string{
		"s_1.0.4_R000_DAPI_FINAL.ome.tif",
		"s_1.0.4_R000_Cy3_iba1_FINAL.ome.tif",
		"s_2.0.4_R000_Cy5_CD3_FINAL.ome.tif",
		"s_1.0.4_R002_FITC_GFAP_FINAL.ome.tif",
	}
	a, _ := Group(parseAll(t, names...))
	b, _ := Group(parseAll(t, names...))
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("grouping differs between runs")
	}
}

func TestGroupRejectsDuplicateIdentity(t *testing.T) {
	matches := parseAll(t,
		"a_1.0.4_R000_Cy3_iba1_FINAL.ome.tif",
		"b_1.0.4_R000_Cy3_iba1_FINAL.ome.tif",
		"a_1.0.4_R001_DAPI_FINAL.ome.tif",
	)
	regions, rejected := Group(matches)
	if len(regions) != 1 || regions[0].ID != "R001" {
		t.Fatalf("expected only R001 to survive, got %+v", regions)
	}
	if len(rejected) != 1 {
		t.Fatalf("expected one rejection, got %d", len(rejected))
	}
	if rejected[0].Kind != domain.KindValidation || rejected[0].Region != "R000" {
		t.Fatalf("unexpected rejection: %v", rejected[0])
	}
	if !errors.Is(rejected[0], domain.ErrDuplicateChannel) {
		t.Fatalf("expected ErrDuplicateChannel, got %v", rejected[0])
	}
}

func TestFilterRegions(t *testing.T) {
	regions, _ := Group(parseAll(t,
		"s_R000_DAPI_FINAL.ome.tif",
		"s_R001_DAPI_FINAL.ome.tif",
	))
	kept, missing := FilterRegions(regions, []domain.RegionID{"R001", "R009"})
	if len(kept) != 1 || kept[0].ID != "R001" {
		t.Fatalf("kept = %+v", kept)
	}
	if len(missing) != 1 || missing[0].Region != "R009" || missing[0].Kind != domain.KindDiscovery {
		t.Fatalf("missing = %v", missing)
	}
	all, none := FilterRegions(regions, nil)
	if len(all) != 2 || len(none) != 0 {
		t.Fatalf("empty allow-list should keep everything")
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"s_1.0.4_R000_DAPI_FINAL.ome.tif",
		"s_1.0.4_R000_Cy3_iba1_FINAL.ome.tif",
		"notes.txt",
		"s_1.0.4_R000_Cy5_CD3.ome.tif",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "s_R005_FINAL.ome.tif"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	listing, err := Discover(dir, NewParser())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(listing.Files) != 4 {
		t.Fatalf("Files = %d, want 4", len(listing.Files))
	}
	if len(listing.Matches) != 2 || len(listing.Regions) != 1 {
		t.Fatalf("Matches = %d, Regions = %d", len(listing.Matches), len(listing.Regions))
	}
	// lexical listing puts Cy3 before DAPI
	if got := listing.Regions[0].Labels(); !reflect.DeepEqual(got, []string{"Cy3_iba1", "DAPI"}) {
		t.Fatalf("labels = %v", got)
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"), NewParser())
	if domain.KindOf(err) != domain.KindDiscovery {
		t.Fatalf("expected discovery error, got %v", err)
	}
}
