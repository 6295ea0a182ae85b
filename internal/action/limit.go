package action

import (
	"context"
	"io"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Limit passes the first n records and then ends the stream, so the
// source is not read further.
type Limit struct {
	stateless
	n, count int
}

func NewLimit(n int) *Limit { return &Limit{n: n} }

func (l *Limit) Name() string { return "limit" }

func (l *Limit) Done() bool { return l.count >= l.n }

func (l *Limit) Process(_ context.Context, rec core.Record) ([]core.Record, error) {
	if l.Done() {
		return nil, io.EOF
	}
	l.count++
	if l.Done() {
		return []core.Record{rec}, io.EOF
	}
	return []core.Record{rec}, nil
}
