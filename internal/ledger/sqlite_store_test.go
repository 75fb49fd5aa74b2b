package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "runs.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	run := &Run{
		ID:        NewRunID(),
		Params:    RunParams{InputDir: "/in", OutputDir: "/out", Levels: 5, Factor: 2, Compression: "balanced", Strength: 5},
		CreatedAt: time.Now(),
	}
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	results := []*RegionResult{
		{RunID: run.ID, RegionID: "R000", Store: "R000.zarr", Status: "succeeded", Channels: []string{"DAPI", "Cy3_iba1"}, Levels: 5, Bytes: 1024},
		{RunID: run.ID, RegionID: "R001", Store: "R001.zarr", Status: "failed", Kind: "validation", Error: "duplicate channel"},
	}
	for _, r := range results {
		if err := s.RecordRegion(r); err != nil {
			t.Fatalf("RecordRegion failed: %v", err)
		}
	}
	if err := s.FinishRun(run.ID, RunStatusPartial, 8, 6, ""); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err := s.GetRun(run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != RunStatusPartial || got.FilesFound != 8 || got.FilesMatched != 6 {
		t.Errorf("unexpected run %+v", got)
	}
	if got.FinishedAt == nil {
		t.Errorf("expected finished_at to be set")
	}
	if got.Params.Compression != "balanced" || got.Params.Levels != 5 {
		t.Errorf("params not round-tripped: %+v", got.Params)
	}

	regions, err := s.ListRegions(run.ID)
	if err != nil {
		t.Fatalf("ListRegions failed: %v", err)
	}
	if len(regions) != 2 || regions[0].RegionID != "R000" || len(regions[0].Channels) != 2 {
		t.Fatalf("unexpected regions %+v", regions)
	}
	if regions[1].Kind != "validation" {
		t.Errorf("expected validation kind, got %q", regions[1].Kind)
	}

	latest, err := s.LatestForStore("R000.zarr")
	if err != nil || latest == nil || latest.Bytes != 1024 {
		t.Fatalf("LatestForStore = %+v, %v", latest, err)
	}
	if missing, err := s.GetRun("nope"); err != nil || missing != nil {
		t.Fatalf("expected nil for unknown run, got %+v, %v", missing, err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.CreateRun(&Run{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}
	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected order %v", runs)
	}
}

func TestMarkRunningAsFailed(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateRun(&Run{ID: "stale", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	n, err := s.MarkRunningAsFailed("process exited")
	if err != nil || n != 1 {
		t.Fatalf("MarkRunningAsFailed = %d, %v", n, err)
	}
	run, _ := s.GetRun("stale")
	if run.Status != RunStatusFailed || run.Error != "process exited" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestDeleteExpiredRuns(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateRun(&Run{ID: "old", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun("old", RunStatusCompleted, 1, 1, ""); err != nil {
		t.Fatal(err)
	}
	if n, err := s.DeleteExpiredRuns(1); err != nil || n != 0 {
		t.Fatalf("fresh run deleted: %d, %v", n, err)
	}
	if n, err := s.DeleteExpiredRuns(-1); err != nil || n != 1 {
		t.Fatalf("DeleteExpiredRuns(-1) = %d, %v", n, err)
	}
}
