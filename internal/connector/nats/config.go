package nats

import (
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cuongceg/fluxmux/internal/core"
)

type Config struct {
	Servers  []string
	Subject  string
	Queue    string
	Username string
	Password string
	Token    string
	Idle     time.Duration
	Format   string

	ClientName    string
	MaxReconnects int
	ReconnectWait time.Duration
}

func configFrom(d core.Descriptor) (Config, error) {
	cfg := Config{
		Subject:       d.Path,
		Queue:         d.Param("queue"),
		Format:        d.Format(),
		ClientName:    "fluxmux",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
	}
	for _, h := range d.Hosts {
		cfg.Servers = append(cfg.Servers, "nats://"+h)
	}
	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{nats.DefaultURL}
	}
	if d.User != nil {
		if pw, ok := d.User.Password(); ok {
			cfg.Username, cfg.Password = d.User.Username(), pw
		} else {
			cfg.Token = d.User.Username()
		}
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

func parseIdle(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
