package config

import "time"

const (
	DefaultRetryDelay   = time.Second
	DefaultBatchTimeout = 5 * time.Second
	DefaultQueueSize    = 256
	DefaultDrainTimeout = 5 * time.Second
)

func (c *Config) ApplyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	p := &c.Pipeline
	if p.QueueSize == 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.DrainTimeout == 0 {
		p.DrainTimeout = DefaultDrainTimeout
	}

	mw := &p.Middleware
	if mw.RetryMaxAttempts > 0 && mw.RetryDelay == 0 {
		mw.RetryDelay = DefaultRetryDelay
	}
	if mw.BatchSize > 0 && mw.BatchTimeout == 0 {
		mw.BatchTimeout = DefaultBatchTimeout
	}

	if p.Policy.OnInvalid == "" {
		p.Policy.OnInvalid = InvalidDrop
	}
	if p.Policy.OnEvalError == "" {
		p.Policy.OnEvalError = EvalSkip
	}
	if p.Policy.OnSinkFailure == "" {
		p.Policy.OnSinkFailure = SinkContinue
	}
}
