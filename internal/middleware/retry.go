package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Retry repeats a failed write up to attempts times in total with a fixed
// delay in between. Exhaustion is a delivery error for the whole write.
type Retry struct {
	passthrough
	attempts int
	delay    time.Duration
	st       *core.SinkState
	log      zerolog.Logger
}

// NewRetry with attempts <= 1 makes a single attempt.
func NewRetry(next core.Sink, attempts int, delay time.Duration, st *core.SinkState, log zerolog.Logger) *Retry {
	if attempts < 1 {
		attempts = 1
	}
	return &Retry{passthrough{next}, attempts, delay, st, log}
}

func (r *Retry) Write(ctx context.Context, b core.Batch) error {
	var last error
	n := 0
	op := func() error {
		n++
		err := r.next.Write(ctx, b)
		if err == nil {
			return nil
		}
		last = err
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.log.Warn().Err(err).Int("attempt", n).Int("max_attempts", r.attempts).Dur("wait", wait).Msg("write failed, retrying")
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.attempts-1)), ctx)
	if err := backoff.RetryNotify(op, bo, notify); err == nil {
		return nil
	}
	if ctx.Err() != nil {
		r.st.Pending.Add(int64(len(b)))
		return ctx.Err()
	}
	r.st.Failed.Add(int64(len(b)))
	return core.DeliveryError(r.Name(), fmt.Errorf("%d records lost after %d attempts: %w", len(b), n, last))
}

// Configuration and validation problems cannot be fixed by trying again.
func retryable(err error) bool {
	kind, ok := core.KindOf(err)
	if !ok {
		return true
	}
	return kind == core.KindWrite || kind == core.KindConnect
}
