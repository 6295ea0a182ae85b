package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Validate rejects records that are not well formed: a record must have at
// least one field, no empty field name, and every required field set to a
// non-null value. Required fields come from a comma list or from the
// "required" array of a JSON Schema file.
type Validate struct {
	stateless
	required []string
}

func NewValidate(param string) (*Validate, error) {
	param = strings.TrimSpace(param)
	if !strings.HasSuffix(strings.ToLower(param), ".json") {
		return &Validate{required: splitList(param)}, nil
	}
	b, err := os.ReadFile(param)
	if err != nil {
		return nil, core.ConfigError("action validate", "read %s: %w", param, err)
	}
	if !gjson.ValidBytes(b) {
		return nil, core.ConfigError("action validate", "%s is not valid JSON", param)
	}
	v := &Validate{}
	for _, r := range gjson.GetBytes(b, "required").Array() {
		v.required = append(v.required, r.String())
	}
	return v, nil
}

func (v *Validate) Name() string { return "validate" }

func (v *Validate) Process(_ context.Context, rec core.Record) ([]core.Record, error) {
	if err := v.check(rec); err != nil {
		return nil, core.ValidationError("action validate", fmt.Errorf("record %d: %w", rec.Meta.Seq, err))
	}
	return []core.Record{rec}, nil
}

func (v *Validate) check(rec core.Record) error {
	if rec.Len() == 0 {
		return errors.New("record has no fields")
	}
	for _, k := range rec.Keys() {
		if strings.TrimSpace(k) == "" {
			return errors.New("empty field name")
		}
	}
	for _, f := range v.required {
		fv, ok := rec.Get(f)
		if !ok {
			return fmt.Errorf("missing required field %q", f)
		}
		if fv.IsNull() {
			return fmt.Errorf("required field %q is null", f)
		}
	}
	return nil
}
