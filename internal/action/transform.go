package action

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
)

// Transform computes new or replaced fields. Assignments apply left to
// right, so later ones see the fields set by earlier ones.
type Transform struct {
	stateless
	assigns []assignment
	policy  config.EvalPolicy
	log     zerolog.Logger
}

func NewTransform(src string, policy config.EvalPolicy, log zerolog.Logger) (*Transform, error) {
	as, err := parseAssignments(src)
	if err != nil {
		return nil, core.ConfigError("action transform", "%q: %w", src, err)
	}
	return &Transform{assigns: as, policy: policy, log: log}, nil
}

func (t *Transform) Name() string { return "transform" }

// Process under the skip policy leaves a failing field untouched and keeps
// the record; under halt it fails.
func (t *Transform) Process(ctx context.Context, rec core.Record) ([]core.Record, error) {
	fields := rec.Fields()
	cur := rec.WithFields(fields)
	for _, a := range t.assigns {
		v, err := a.expr.value(ctx, cur)
		if err != nil {
			err = core.EvaluationError("action transform", fmt.Errorf("%s: %w", a.field, err))
			if t.policy == config.EvalHalt {
				return nil, err
			}
			t.log.Warn().Err(err).Uint64("seq", rec.Meta.Seq).Msg("assignment skipped")
			continue
		}
		fields.Set(a.field, v)
	}
	return []core.Record{cur}, nil
}
