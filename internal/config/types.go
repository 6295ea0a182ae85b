package config

import (
	"fmt"
	"time"
)

type ActionType string

const (
	ActionFilter    ActionType = "filter"
	ActionTransform ActionType = "transform"
	ActionAggregate ActionType = "aggregate"
	ActionNormalize ActionType = "normalize"
	ActionValidate  ActionType = "validate"
	ActionLimit     ActionType = "limit"
	ActionSample    ActionType = "sample"
)

func (a *ActionType) UnmarshalYAML(fn func(any) error) error {
	var s string
	if err := fn(&s); err != nil {
		return err
	}
	v := ActionType(s)
	switch v {
	case ActionFilter, ActionTransform, ActionAggregate, ActionNormalize, ActionValidate, ActionLimit, ActionSample:
		*a = v
		return nil
	default:
		return fmt.Errorf("invalid action type=%q (valid: filter|transform|aggregate|normalize|validate|limit|sample)", s)
	}
}

// NeedsParam reports whether the action cannot run without a parameter.
func (a ActionType) NeedsParam() bool {
	switch a {
	case ActionFilter, ActionTransform, ActionAggregate, ActionLimit, ActionSample:
		return true
	}
	return false
}

// InvalidPolicy decides what happens to a record failing schema or
// structural validation.
type InvalidPolicy string

const (
	InvalidDrop InvalidPolicy = "drop"
	InvalidHalt InvalidPolicy = "halt"
)

func (p *InvalidPolicy) UnmarshalYAML(fn func(any) error) error {
	var s string
	if err := fn(&s); err != nil {
		return err
	}
	v := InvalidPolicy(s)
	switch v {
	case InvalidDrop, InvalidHalt:
		*p = v
		return nil
	default:
		return fmt.Errorf("invalid policy.on_invalid=%q (valid: drop|halt)", s)
	}
}

// EvalPolicy decides what happens when an expression fails on a record.
type EvalPolicy string

const (
	EvalSkip EvalPolicy = "skip"
	EvalHalt EvalPolicy = "halt"
)

func (p *EvalPolicy) UnmarshalYAML(fn func(any) error) error {
	var s string
	if err := fn(&s); err != nil {
		return err
	}
	v := EvalPolicy(s)
	switch v {
	case EvalSkip, EvalHalt:
		*p = v
		return nil
	default:
		return fmt.Errorf("invalid policy.on_eval_error=%q (valid: skip|halt)", s)
	}
}

// SinkFailurePolicy decides what happens after a sink exhausts its retries.
//
//	continue  record the failure and keep delivering later records
//	detach    stop delivering to that sink, keep the others running
//	halt      fail the whole run
type SinkFailurePolicy string

const (
	SinkContinue SinkFailurePolicy = "continue"
	SinkDetach   SinkFailurePolicy = "detach"
	SinkHalt     SinkFailurePolicy = "halt"
)

func (p *SinkFailurePolicy) UnmarshalYAML(fn func(any) error) error {
	var s string
	if err := fn(&s); err != nil {
		return err
	}
	v := SinkFailurePolicy(s)
	switch v {
	case SinkContinue, SinkDetach, SinkHalt:
		*p = v
		return nil
	default:
		return fmt.Errorf("invalid policy.on_sink_failure=%q (valid: continue|detach|halt)", s)
	}
}

type ActionSpec struct {
	Type  ActionType `yaml:"type" validate:"required,oneof=filter transform aggregate normalize validate limit sample"`
	Param string     `yaml:"param"`
}

// Middleware configures the per-sink reliability stages. Zero values
// disable a stage.
type Middleware struct {
	BatchSize        int           `yaml:"batch_size" validate:"gte=0"`
	BatchTimeout     time.Duration `yaml:"batch_timeout" validate:"gte=0"`
	ThrottlePerSec   float64       `yaml:"throttle_per_sec" validate:"gte=0"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts" validate:"gte=0"`
	RetryDelay       time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Deduplicate      bool          `yaml:"deduplicate"`
	SchemaPath       string        `yaml:"schema_path"`
}

type Policy struct {
	OnInvalid     InvalidPolicy     `yaml:"on_invalid" validate:"oneof=drop halt"`
	OnEvalError   EvalPolicy        `yaml:"on_eval_error" validate:"oneof=skip halt"`
	OnSinkFailure SinkFailurePolicy `yaml:"on_sink_failure" validate:"oneof=continue detach halt"`
}

type Pipeline struct {
	Source     string       `yaml:"source" validate:"required"`
	Actions    []ActionSpec `yaml:"actions" validate:"dive"`
	Sinks      []string     `yaml:"sinks" validate:"min=1,dive,required"`
	Middleware Middleware   `yaml:"middleware"`
	Policy     Policy       `yaml:"policy"`
	// Seed makes randomized sampling reproducible; 0 picks a random seed.
	Seed int64 `yaml:"seed"`
	// QueueSize bounds each sink path; a full queue blocks the source.
	QueueSize int `yaml:"queue_size" validate:"gte=0"`
	// DrainTimeout bounds the best-effort flush after cancellation.
	DrainTimeout time.Duration `yaml:"drain_timeout" validate:"gte=0"`
}

type AppConfig struct {
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
}

type Config struct {
	App      AppConfig `yaml:"app"`
	Pipeline Pipeline  `yaml:"pipeline"`
}
