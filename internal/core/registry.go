package core

import (
	"sort"

	"github.com/rs/zerolog"
)

type SourceFactory func(d Descriptor, log zerolog.Logger) (Source, error)

type SinkFactory func(d Descriptor, log zerolog.Logger) (Sink, error)

var (
	sources = map[Scheme]SourceFactory{}
	sinks   = map[Scheme]SinkFactory{}
)

// RegisterSource makes a source implementation available for a scheme.
// Connector packages call it from init.
func RegisterSource(s Scheme, f SourceFactory) { sources[s] = f }

func RegisterSink(s Scheme, f SinkFactory) { sinks[s] = f }

func BuildSource(d Descriptor, log zerolog.Logger) (Source, error) {
	f, ok := sources[d.Scheme]
	if !ok {
		return nil, ConfigError("source "+d.Raw, "unknown source type: %s (registered: %v)", d.Scheme, registered(sources))
	}
	return f(d, log)
}

func BuildSink(d Descriptor, log zerolog.Logger) (Sink, error) {
	f, ok := sinks[d.Scheme]
	if !ok {
		return nil, ConfigError("sink "+d.Raw, "unknown sink type: %s (registered: %v)", d.Scheme, registered(sinks))
	}
	return f(d, log)
}

func registered[F any](m map[Scheme]F) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}
