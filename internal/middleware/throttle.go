package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Throttle allows at most perSec writes per second with no burst. A write
// over the rate waits, which backs up the path's queue and in turn the
// source.
type Throttle struct {
	passthrough
	lim *rate.Limiter
}

func NewThrottle(next core.Sink, perSec float64) *Throttle {
	return &Throttle{passthrough{next}, rate.NewLimiter(rate.Limit(perSec), 1)}
}

func (t *Throttle) Write(ctx context.Context, b core.Batch) error {
	if err := t.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return t.next.Write(ctx, b)
}
