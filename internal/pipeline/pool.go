package pipeline

import (
	"context"
	"sync"

	"github.com/celldive/zarrpipe/internal/domain"
)

// regionFunc converts one region and always returns its result.
type regionFunc func(ctx context.Context, region domain.Region) RegionResult

// pool runs regions on a fixed number of workers. Each region gets its own
// cancelable context so a single region can be stopped without touching its
// siblings.
type pool struct {
	workers int
	queue   chan int
	running map[domain.RegionID]context.CancelFunc
	mu      sync.Mutex
	wg      sync.WaitGroup
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = 1
	}
	return &pool{
		workers: workers,
		running: make(map[domain.RegionID]context.CancelFunc),
	}
}

// run processes every region and returns results in region order. Regions
// still queued when ctx is canceled are reported as canceled by fn.
func (p *pool) run(ctx context.Context, regions []domain.Region, fn regionFunc, done func(RegionResult)) []RegionResult {
	results := make([]RegionResult, len(regions))
	p.queue = make(chan int, len(regions))
	for i := range regions {
		p.queue <- i
	}
	close(p.queue)

	for w := 0; w < min(p.workers, len(regions)); w++ {
		p.wg.Add(1)
		go p.worker(ctx, regions, results, fn, done)
	}
	p.wg.Wait()
	return results
}

func (p *pool) worker(ctx context.Context, regions []domain.Region, results []RegionResult, fn regionFunc, done func(RegionResult)) {
	defer p.wg.Done()
	for i := range p.queue {
		results[i] = p.runOne(ctx, regions[i], fn)
		if done != nil {
			done(results[i])
		}
	}
}

func (p *pool) runOne(parent context.Context, region domain.Region, fn regionFunc) RegionResult {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	p.mu.Lock()
	p.running[region.ID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, region.ID)
		p.mu.Unlock()
	}()

	return fn(ctx, region)
}

// cancel stops a running region. It reports false when the region is not
// currently running.
func (p *pool) cancel(id domain.RegionID) bool {
	p.mu.Lock()
	cancel, ok := p.running[id]
	p.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}
	return false
}
