package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/cuongceg/fluxmux/internal/action"
	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
	"github.com/cuongceg/fluxmux/internal/middleware"
)

// assembly holds the handles of one run, from construction until close.
type assembly struct {
	source core.Source
	chain  *action.Chain
	paths  []*path

	sourceOpen bool
	sinksOpen  []core.Sink
}

// assemble resolves every descriptor and builds the stages. Nothing is
// connected yet.
func assemble(p config.Pipeline, state *core.RunState, log zerolog.Logger) (*assembly, error) {
	sd, err := core.ParseDescriptor(p.Source, core.RoleSource)
	if err != nil {
		return nil, err
	}
	src, err := core.BuildSource(sd, log.With().Str("source", sd.Raw).Logger())
	if err != nil {
		return nil, err
	}
	chain, err := action.Build(p.Actions, p.Policy, p.Seed, log)
	if err != nil {
		return nil, err
	}

	a := &assembly{source: src, chain: chain}
	for i, raw := range p.Sinks {
		d, err := core.ParseDescriptor(raw, core.RoleSink)
		if err != nil {
			return nil, err
		}
		slog := log.With().Str("sink", d.Raw).Logger()
		s, err := core.BuildSink(d, slog)
		if err != nil {
			return nil, err
		}
		st := state.Sink(s.Name())
		wrapped, err := middleware.Build(core.SinkWithLog{Next: s, Log: slog}, p.Middleware, p.Policy, st, slog)
		if err != nil {
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		a.paths = append(a.paths, &path{sink: wrapped, st: st, log: slog})
	}
	return a, nil
}

// open connects the source and then each sink. An endpoint that cannot
// be reached fails the run before any record is read.
func (a *assembly) open(ctx context.Context) error {
	if err := a.source.Open(ctx); err != nil {
		return err
	}
	a.sourceOpen = true
	for _, p := range a.paths {
		if err := p.sink.Open(ctx); err != nil {
			return err
		}
		a.sinksOpen = append(a.sinksOpen, p.sink)
	}
	return nil
}

// close releases every handle that was opened.
func (a *assembly) close() error {
	var err error
	for _, s := range a.sinksOpen {
		err = multierr.Append(err, s.Close())
	}
	a.sinksOpen = nil
	if a.sourceOpen {
		err = multierr.Append(err, a.source.Close())
		a.sourceOpen = false
	}
	return err
}
