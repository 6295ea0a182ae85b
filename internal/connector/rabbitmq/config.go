package rabbitmq

import (
	"strconv"
	"strings"
	"time"

	"github.com/cuongceg/fluxmux/internal/core"
)

const (
	defaultPrefetch       = 200
	defaultPublishTimeout = 5 * time.Second
)

type Config struct {
	URL        string
	Queue      string
	Exchange   string
	RoutingKey string
	Prefetch   int
	Persistent bool
	Idle       time.Duration
	Format     string

	PublishTimeout time.Duration
}

func configFrom(d core.Descriptor) (Config, error) {
	op := d.Role.String() + " " + d.Raw
	cfg := Config{
		URL:            d.ConnString(),
		Queue:          d.Param("queue"),
		Exchange:       d.Param("exchange"),
		RoutingKey:     d.Param("routing_key"),
		Prefetch:       defaultPrefetch,
		Persistent:     true,
		Format:         d.Format(),
		PublishTimeout: defaultPublishTimeout,
	}
	// publishing straight to a queue goes through the default exchange
	if cfg.Exchange == "" && cfg.RoutingKey == "" {
		cfg.RoutingKey = cfg.Queue
	}
	if raw := d.Param("prefetch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, core.ConfigError(op, "invalid prefetch %q", raw)
		}
		cfg.Prefetch = n
	}
	if raw := d.Param("persistent"); raw != "" {
		cfg.Persistent = raw == "true" || raw == "1"
	}
	if raw := strings.TrimSpace(d.Param("idle")); raw != "" {
		idle, err := time.ParseDuration(raw)
		if ms, aerr := strconv.Atoi(raw); aerr == nil {
			idle, err = time.Duration(ms)*time.Millisecond, nil
		}
		if err != nil {
			return Config{}, core.ConfigError(op, "invalid idle %q: %v", raw, err)
		}
		cfg.Idle = idle
	}
	return cfg, nil
}
