package middleware

import (
	"context"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Dedup drops records whose content was already seen on this path during
// the run.
type Dedup struct {
	passthrough
	st *core.SinkState
}

func NewDedup(next core.Sink, st *core.SinkState) *Dedup {
	return &Dedup{passthrough{next}, st}
}

func (d *Dedup) Write(ctx context.Context, b core.Batch) error {
	keep := b[:0:0]
	for _, rec := range b {
		if d.st.Remember(core.Fingerprint(rec)) {
			keep = append(keep, rec)
		} else {
			d.st.Dropped.Add(1)
		}
	}
	if len(keep) == 0 {
		return nil
	}
	return d.next.Write(ctx, keep)
}
