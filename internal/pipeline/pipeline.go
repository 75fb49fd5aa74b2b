// Package pipeline converts a directory of single-channel rasters into one
// OME-Zarr store per region.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/celldive/zarrpipe/internal/discovery"
	"github.com/celldive/zarrpipe/internal/domain"
	"github.com/celldive/zarrpipe/internal/ledger"
	"github.com/celldive/zarrpipe/internal/omezarr"
	"github.com/celldive/zarrpipe/internal/publish"
	"github.com/celldive/zarrpipe/internal/pyramid"
	"github.com/celldive/zarrpipe/internal/raster"
	"github.com/celldive/zarrpipe/internal/render"
)

// Publisher uploads a committed store.
type Publisher interface {
	Publish(ctx context.Context, storeDir string) (publish.Result, error)
}

// Ledger records runs and region outcomes.
type Ledger interface {
	CreateRun(run *ledger.Run) error
	RecordRegion(r *ledger.RegionResult) error
	FinishRun(runID string, status ledger.RunStatus, found, matched int, errMsg string) error
}

// Option adds an optional collaborator.
type Option func(*Pipeline)

// WithPublisher uploads every committed store.
func WithPublisher(p Publisher) Option { return func(pl *Pipeline) { pl.publisher = p } }

// WithLedger records the run.
func WithLedger(l Ledger) Option { return func(pl *Pipeline) { pl.ledger = l } }

// WithRunParams sets the parameters stored in the ledger.
func WithRunParams(params ledger.RunParams) Option {
	return func(pl *Pipeline) { pl.params = &params }
}

// Pipeline converts regions. It is safe to call Cancel while Run is active.
type Pipeline struct {
	opts      Options
	reader    raster.Reader
	parser    *discovery.Parser
	writer    *omezarr.Writer
	builder   *pyramid.Builder
	preview   *render.PreviewRenderer
	publisher Publisher
	ledger    Ledger
	params    *ledger.RunParams
	log       zerolog.Logger

	mu   sync.Mutex
	pool *pool
}

// New validates opts and wires the stages.
func New(opts Options, reader raster.Reader, log zerolog.Logger, extra ...Option) (*Pipeline, error) {
	if reader == nil {
		return nil, errors.New("raster reader is required")
	}
	builder, err := pyramid.NewBuilder(opts.Pyramid)
	if err != nil {
		return nil, err
	}
	writer, err := omezarr.NewWriter(opts.Store)
	if err != nil {
		return nil, domain.ValidationError("", "configure", err)
	}
	if opts.Magnification < 0 {
		return nil, domain.Errorf(domain.KindValidation, "", "configure", "magnification must not be negative, got %v", opts.Magnification)
	}
	p := &Pipeline{
		opts:    opts,
		reader:  reader,
		parser:  discovery.NewParser(opts.Extensions...),
		writer:  writer,
		builder: builder,
		log:     log.With().Str("component", "pipeline").Logger(),
	}
	if opts.Preview {
		p.preview = render.NewPreviewRenderer(render.Config{MaxSize: 512, Legend: true})
	}
	for _, o := range extra {
		o(p)
	}
	return p, nil
}

// Run discovers regions under the input directory and converts each one.
// Per-region failures are reported in the summary; the returned error is
// reserved for failures that stop the whole run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	listing, err := discovery.Discover(p.opts.InputDir, p.parser)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		FilesFound:   len(listing.Files),
		FilesMatched: len(listing.Matches),
		DryRun:       p.opts.DryRun,
	}

	regions, rejected := p.selectRegions(listing)
	if len(regions) == 0 && len(rejected) == 0 {
		return summary, domain.DiscoveryError("", "discover", fmt.Errorf("%w in %s", domain.ErrNoRegions, p.opts.InputDir))
	}
	p.log.Info().
		Int("files", summary.FilesFound).
		Int("matched", summary.FilesMatched).
		Int("regions", len(regions)).
		Int("rejected", len(rejected)).
		Msg("discovery complete")

	if !p.opts.DryRun {
		p.beginRun(summary, start)
	}

	for _, e := range rejected {
		res := RegionResult{Region: e.Region, Store: omezarr.StoreName(p.opts.Store.Prefix, e.Region)}
		res.fail(e)
		p.log.Error().Str("region", string(e.Region)).Err(e).Msg("region rejected")
		p.record(summary.RunID, res)
		summary.Regions = append(summary.Regions, res)
	}

	process := p.convert
	if p.opts.DryRun {
		process = p.plan
	}
	pl := newPool(p.opts.Workers)
	p.mu.Lock()
	p.pool = pl
	p.mu.Unlock()
	results := pl.run(ctx, regions, process, func(res RegionResult) { p.record(summary.RunID, res) })
	p.mu.Lock()
	p.pool = nil
	p.mu.Unlock()

	summary.Regions = append(summary.Regions, results...)
	sortResults(summary.Regions)
	summary.Duration = time.Since(start)

	if !p.opts.DryRun {
		p.finishRun(ctx, summary)
	}
	return summary, nil
}

// Cancel stops one running region. Other regions continue.
func (p *Pipeline) Cancel(id domain.RegionID) bool {
	p.mu.Lock()
	pl := p.pool
	p.mu.Unlock()
	if pl == nil {
		return false
	}
	return pl.cancel(id)
}

// selectRegions applies the allow-list to both grouped and rejected regions.
func (p *Pipeline) selectRegions(listing *discovery.Listing) ([]domain.Region, []*domain.Error) {
	if len(p.opts.Regions) == 0 {
		return listing.Regions, listing.Rejected
	}
	allowed := make(map[domain.RegionID]bool, len(p.opts.Regions))
	for _, id := range p.opts.Regions {
		allowed[id] = true
	}
	var rejected []*domain.Error
	rejectedIDs := make(map[domain.RegionID]bool)
	for _, e := range listing.Rejected {
		if allowed[e.Region] {
			rejected = append(rejected, e)
			rejectedIDs[e.Region] = true
		}
	}
	allow := make([]domain.RegionID, 0, len(p.opts.Regions))
	for _, id := range p.opts.Regions {
		if !rejectedIDs[id] {
			allow = append(allow, id)
		}
	}
	regions, missing := discovery.FilterRegions(listing.Regions, allow)
	return regions, append(rejected, missing...)
}

func (p *Pipeline) beginRun(summary *Summary, start time.Time) {
	if p.ledger == nil {
		return
	}
	run := &ledger.Run{ID: ledger.NewRunID(), CreatedAt: start}
	if p.params != nil {
		run.Params = *p.params
	}
	if err := p.ledger.CreateRun(run); err != nil {
		p.log.Warn().Err(err).Msg("failed to record run")
		return
	}
	summary.RunID = run.ID
}

func (p *Pipeline) record(runID string, res RegionResult) {
	if p.ledger == nil || runID == "" {
		return
	}
	err := p.ledger.RecordRegion(&ledger.RegionResult{
		RunID:     runID,
		RegionID:  string(res.Region),
		Store:     res.Store,
		Status:    string(res.Status),
		Kind:      res.Kind,
		Error:     res.Error,
		Channels:  res.Channels,
		Levels:    res.Levels,
		Bytes:     res.Bytes,
		Published: res.Published,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("region", string(res.Region)).Msg("failed to record region")
	}
}

func (p *Pipeline) finishRun(ctx context.Context, summary *Summary) {
	if p.ledger == nil || summary.RunID == "" {
		return
	}
	status := ledger.RunStatusCompleted
	ok := summary.Count(StatusSucceeded)
	switch {
	case ctx.Err() != nil:
		status = ledger.RunStatusCancelled
	case ok == 0:
		status = ledger.RunStatusFailed
	case ok < len(summary.Regions):
		status = ledger.RunStatusPartial
	}
	if err := p.ledger.FinishRun(summary.RunID, status, summary.FilesFound, summary.FilesMatched, ""); err != nil {
		p.log.Warn().Err(err).Msg("failed to finish run")
	}
}
