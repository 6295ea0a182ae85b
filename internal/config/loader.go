package config

import (
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ApplyEnvOverride loads variables carrying prefix and writes them over
// *cfg. Nesting uses a double underscore so single underscores stay part
// of the key: FLUXMUX_PIPELINE__POLICY__ON_INVALID -> pipeline.policy.on_invalid.
func ApplyEnvOverride(cfg *Config, prefix string) error {
	k := koanf.New(".")
	mapper := func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(prefix, ".", mapper), nil); err != nil {
		return err
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	// sinks may be given as a comma list
	if raw := k.String("pipeline.sinks"); raw != "" && strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := k.Set("pipeline.sinks", parts); err != nil {
			return err
		}
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"})
}
