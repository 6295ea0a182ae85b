package action

import (
	"context"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Filter keeps records for which the predicate holds.
type Filter struct {
	stateless
	pred expr
}

func NewFilter(src string) (*Filter, error) {
	pred, err := compile(src)
	if err != nil {
		return nil, core.ConfigError("action filter", "%q: %w", src, err)
	}
	return &Filter{pred: pred}, nil
}

func (f *Filter) Name() string { return "filter" }

func (f *Filter) Process(ctx context.Context, rec core.Record) ([]core.Record, error) {
	v, err := f.pred.value(ctx, rec)
	if err != nil {
		return nil, core.EvaluationError("action filter", err)
	}
	if !truthy(v) {
		return nil, nil
	}
	return []core.Record{rec}, nil
}
