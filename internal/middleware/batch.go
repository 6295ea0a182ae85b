package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Batch buffers records and writes them as one unit when size records are
// held or timeout has passed since the first of them, whichever comes
// first. Flush writes a partial batch. An error from a timer-driven write
// is returned by the next Write or Flush.
type Batch struct {
	passthrough
	size    int
	timeout time.Duration
	st      *core.SinkState

	mu      sync.Mutex
	buf     core.Batch
	timer   *time.Timer
	gen     uint64
	ctx     context.Context
	pending error
}

func NewBatch(next core.Sink, size int, timeout time.Duration, st *core.SinkState) *Batch {
	return &Batch{passthrough: passthrough{next}, size: size, timeout: timeout, st: st}
}

func (b *Batch) Write(ctx context.Context, recs core.Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// recs are buffered before an earlier timer error is reported, so they
	// stay counted as pending until a later flush
	err := b.takeErr()
	b.ctx = ctx
	for _, rec := range recs {
		b.buf = append(b.buf, rec)
		b.st.Pending.Add(1)
		if len(b.buf) == 1 && b.timeout > 0 {
			b.arm()
		}
		if len(b.buf) >= b.size {
			if ferr := b.flushLocked(ctx); ferr != nil && err == nil {
				err = ferr
			}
		}
	}
	return err
}

func (b *Batch) arm() {
	gen := b.gen
	b.stopTimer()
	b.timer = time.AfterFunc(b.timeout, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// the batch that armed this timer may already be gone
		if b.gen != gen {
			return
		}
		if err := b.flushLocked(b.ctx); err != nil && b.pending == nil {
			b.pending = err
		}
	})
}

func (b *Batch) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Batch) flushLocked(ctx context.Context) error {
	b.stopTimer()
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = nil
	b.gen++
	b.st.Pending.Add(-int64(len(out)))
	return b.next.Write(ctx, out)
}

func (b *Batch) takeErr() error {
	err := b.pending
	b.pending = nil
	return err
}

// Flush writes whatever is buffered, then flushes the sink below.
func (b *Batch) Flush(ctx context.Context) error {
	b.mu.Lock()
	err := b.takeErr()
	if ferr := b.flushLocked(ctx); err == nil {
		err = ferr
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.next.Flush(ctx)
}

func (b *Batch) Close() error {
	b.mu.Lock()
	b.stopTimer()
	b.mu.Unlock()
	return b.next.Close()
}
