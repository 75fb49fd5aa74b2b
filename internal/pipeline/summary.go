package pipeline

import (
	"time"

	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/pyramid"
)

// Status is the outcome of one region.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusPlanned   Status = "planned"
)

// RegionResult reports what happened to one region.
type RegionResult struct {
	Region    domain.RegionID `json:"region"`
	Store     string          `json:"store"`
	Path      string          `json:"path,omitempty"`
	Status    Status          `json:"status"`
	Kind      string          `json:"kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Channels  []string        `json:"channels"`
	Colors    []string        `json:"colors"`
	Shapes    []pyramid.Shape `json:"shapes,omitempty"`
	Levels    int             `json:"levels"`
	Bytes     int64           `json:"bytes"`
	Template  bool            `json:"template"`
	Published string          `json:"published,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	Duration  time.Duration   `json:"duration"`

	err error
}

// Err returns the error that failed the region, if any.
func (r *RegionResult) Err() error { return r.err }

func (r *RegionResult) fail(err error) {
	r.err = err
	r.Error = err.Error()
	kind := domain.KindOf(err)
	r.Kind = kind.String()
	r.Status = StatusFailed
	if kind == domain.KindCanceled {
		r.Status = StatusCanceled
	}
}

// Summary is the report of a whole run.
type Summary struct {
	RunID        string         `json:"run_id,omitempty"`
	FilesFound   int            `json:"files_found"`
	FilesMatched int            `json:"files_matched"`
	Regions      []RegionResult `json:"regions"`
	DryRun       bool           `json:"dry_run"`
	Duration     time.Duration  `json:"duration"`
}

// Count returns how many regions ended with status s.
func (s *Summary) Count(status Status) int {
	n := 0
	for _, r := range s.Regions {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Failed reports whether any region failed or was canceled.
func (s *Summary) Failed() bool {
	return s.Count(StatusFailed)+s.Count(StatusCanceled) > 0
}
