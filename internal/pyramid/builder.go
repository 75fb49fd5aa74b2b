package pyramid

import (
	"context"
	"fmt"

	"github.com/celldive/zarrpipe/internal/domain"
)

// Options configures pyramid depth and the per-level downsampling factor.
type Options struct {
	Levels int
	Factor int
}

// DefaultOptions matches the usual whole-slide viewer expectations.
func DefaultOptions() Options {
	return Options{Levels: 5, Factor: 2}
}

// Validate rejects depths below one and factors below two.
func (o Options) Validate() error {
	if o.Levels < 1 {
		return domain.Errorf(domain.KindValidation, "", "pyramid", "pyramid depth must be at least 1, got %d", o.Levels)
	}
	if o.Factor < 2 {
		return domain.Errorf(domain.KindValidation, "", "pyramid", "downsample factor must be at least 2, got %d", o.Factor)
	}
	return nil
}

// EmitFunc persists one level. The level must not be retained after it returns.
type EmitFunc func(ctx context.Context, level *Level) error

// Builder produces levels one at a time.
type Builder struct {
	opts Options
}

// NewBuilder validates opts and returns a builder.
func NewBuilder(opts Options) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Builder{opts: opts}, nil
}

// Options returns the builder configuration.
func (b *Builder) Options() Options { return b.opts }

// Run emits base as level 0 and then each coarser level in order. Level k+1
// is computed from level k only after level k has been emitted, and level k
// is released once k+1 exists. Cancellation is observed between levels.
func (b *Builder) Run(ctx context.Context, base *Level, emit EmitFunc) error {
	if base == nil {
		return fmt.Errorf("nil base level")
	}
	cur := base
	for k := 0; k < b.opts.Levels; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(ctx, cur); err != nil {
			return err
		}
		if k == b.opts.Levels-1 {
			break
		}
		cur = Decimate(cur, b.opts.Factor)
	}
	return nil
}
