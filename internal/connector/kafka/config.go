package kafka

import (
	"strconv"
	"strings"
	"time"

	"github.com/cuongceg/fluxmux/internal/core"
)

// DefaultGroup is the consumer group used when the descriptor has none.
const DefaultGroup = "fluxmux-default"

type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	ClientID string
	// KeyFrom is a JSON path into the encoded record used as message key.
	KeyFrom string
	// Idle ends a source after this long without a message; zero follows
	// the topic until cancelled.
	Idle   time.Duration
	Format string
}

func configFrom(d core.Descriptor) (Config, error) {
	cfg := Config{
		Brokers:  d.Hosts,
		Topic:    d.Path,
		GroupID:  d.Param("group"),
		ClientID: "fluxmux",
		KeyFrom:  d.Param("key"),
		Format:   d.Format(),
	}
	if cfg.GroupID == "" {
		cfg.GroupID = DefaultGroup
	}
	if raw := strings.TrimSpace(d.Param("idle")); raw != "" {
		idle, err := parseIdle(raw)
		if err != nil {
			return Config{}, core.ConfigError(d.Role.String()+" "+d.Raw, "invalid idle %q: %v", raw, err)
		}
		cfg.Idle = idle
	}
	return cfg, nil
}

// parseIdle accepts a Go duration or a bare number of milliseconds.
func parseIdle(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
