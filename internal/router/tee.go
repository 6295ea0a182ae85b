package router

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
)

// path is one sink delivery lane: a bounded queue drained by its own
// goroutine through the sink's middleware stack.
type path struct {
	sink core.Sink
	st   *core.SinkState
	in   chan core.Record
	log  zerolog.Logger
}

// Tee copies every record onto each sink path. Paths run concurrently; a
// full queue blocks Send, which is how a slow sink slows the source.
type Tee struct {
	paths  []*path
	policy config.SinkFailurePolicy
	drain  time.Duration
	state  *core.RunState

	g   *errgroup.Group
	ctx context.Context
}

func newTee(ctx context.Context, paths []*path, queue int, pipe config.Pipeline, state *core.RunState) *Tee {
	g, gctx := errgroup.WithContext(ctx)
	t := &Tee{paths: paths, policy: pipe.Policy.OnSinkFailure, drain: pipe.DrainTimeout, state: state, g: g, ctx: gctx}
	for _, p := range paths {
		p.in = make(chan core.Record, queue)
		p := p
		g.Go(func() error { return t.deliver(gctx, p) })
	}
	return t
}

// Send hands rec to every attached path. It fails when the run is
// cancelled or a path halted it.
func (t *Tee) Send(rec core.Record) error {
	for _, p := range t.paths {
		if p.st.Detached() {
			continue
		}
		p.st.Attempted.Add(1)
		select {
		case p.in <- rec:
		case <-t.ctx.Done():
			p.st.Pending.Add(1)
			return t.ctx.Err()
		}
	}
	return nil
}

// Close ends every queue and waits for the paths to flush. It returns the
// error of the first path that halted the run.
func (t *Tee) Close() error {
	for _, p := range t.paths {
		close(p.in)
	}
	return t.g.Wait()
}

func (t *Tee) deliver(ctx context.Context, p *path) error {
	// after cancellation, queued and batched records get one bounded
	// attempt; whatever is left is reported as pending
	wctx := ctx
	draining := false
	cancel := context.CancelFunc(func() {})
	defer func() { cancel() }()
	drain := func() {
		if draining || ctx.Err() == nil {
			return
		}
		draining = true
		wctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), t.drain)
		p.log.Warn().Int("queued", len(p.in)).Dur("timeout", t.drain).Msg("draining after cancellation")
	}

	for rec := range p.in {
		drain()
		switch {
		case p.st.Detached():
			p.st.Failed.Add(1)
			continue
		case wctx.Err() != nil:
			p.st.Pending.Add(1)
			continue
		}
		if err := p.sink.Write(wctx, core.Batch{rec}); err != nil {
			if herr := t.fail(wctx, p, err); herr != nil {
				return herr
			}
		}
	}

	drain()
	if p.st.Detached() {
		return nil
	}
	if err := p.sink.Flush(wctx); err != nil {
		return t.fail(wctx, p, err)
	}
	return nil
}

// fail applies the sink failure policy. Errors other than exhausted
// deliveries, such as a schema violation under the halt policy, always
// stop the run.
func (t *Tee) fail(ctx context.Context, p *path, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	if !core.IsKind(err, core.KindDelivery) {
		p.st.Fail(err)
		return err
	}
	p.st.Fail(err)
	t.state.AddError(err)
	switch t.policy {
	case config.SinkHalt:
		p.log.Error().Err(err).Msg("sink failed, halting run")
		return err
	case config.SinkDetach:
		p.log.Error().Err(err).Msg("sink failed, detaching")
		p.st.Detach()
	default:
		p.log.Warn().Err(err).Msg("sink failed, continuing")
	}
	return nil
}
