package middleware

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog"
	jsonschema "github.com/xeipuuv/gojsonschema"

	"github.com/cuongceg/fluxmux/internal/config"
	"github.com/cuongceg/fluxmux/internal/core"
)

// LoadSchema compiles the JSON Schema document at path.
func LoadSchema(path string) (*jsonschema.Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ConfigError("schema", "read %s: %w", path, err)
	}
	schema, err := jsonschema.NewSchema(jsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, core.ConfigError("schema", "failed to load JSON schema definition %s: %v", path, err)
	}
	return schema, nil
}

// ValidateRecord checks rec against schema and describes every violation.
func ValidateRecord(schema *jsonschema.Schema, rec core.Record) error {
	result, err := schema.Validate(jsonschema.NewGoLoader(rec.Value().Interface()))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	var sb strings.Builder
	for i, desc := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(desc.Field())
		sb.WriteString(" ")
		sb.WriteString(strings.ToLower(desc.Description()))
	}
	return errors.New(sb.String())
}

// SchemaCheck drops or rejects records that do not match the schema.
type SchemaCheck struct {
	passthrough
	schema *jsonschema.Schema
	policy config.InvalidPolicy
	st     *core.SinkState
	log    zerolog.Logger
}

func NewSchemaCheck(next core.Sink, schema *jsonschema.Schema, policy config.InvalidPolicy, st *core.SinkState, log zerolog.Logger) *SchemaCheck {
	return &SchemaCheck{passthrough{next}, schema, policy, st, log}
}

func (s *SchemaCheck) Write(ctx context.Context, b core.Batch) error {
	keep := b[:0:0]
	for _, rec := range b {
		err := ValidateRecord(s.schema, rec)
		if err == nil {
			keep = append(keep, rec)
			continue
		}
		if s.policy == config.InvalidHalt {
			return core.ValidationError(s.Name(), err)
		}
		s.st.Dropped.Add(1)
		s.log.Warn().Uint64("seq", rec.Meta.Seq).Str("reason", err.Error()).Msg("record dropped by schema")
	}
	if len(keep) == 0 {
		return nil
	}
	return s.next.Write(ctx, keep)
}

// ShapeCheck asks the connector whether each record fits its destination
// before the record is buffered, and applies the invalid-record policy to
// those that do not.
type ShapeCheck struct {
	passthrough
	check  core.RecordChecker
	policy config.InvalidPolicy
	st     *core.SinkState
	log    zerolog.Logger
}

func NewShapeCheck(next core.Sink, check core.RecordChecker, policy config.InvalidPolicy, st *core.SinkState, log zerolog.Logger) *ShapeCheck {
	return &ShapeCheck{passthrough{next}, check, policy, st, log}
}

func (s *ShapeCheck) Write(ctx context.Context, b core.Batch) error {
	keep := b[:0:0]
	for _, rec := range b {
		err := s.check.CheckRecord(ctx, rec)
		switch {
		case err == nil:
			keep = append(keep, rec)
			continue
		case !core.IsKind(err, core.KindValidation) || s.policy == config.InvalidHalt:
			return err
		}
		s.st.Dropped.Add(1)
		s.log.Warn().Uint64("seq", rec.Meta.Seq).Str("reason", err.Error()).Msg("record dropped by sink shape")
	}
	if len(keep) == 0 {
		return nil
	}
	return s.next.Write(ctx, keep)
}
