package action

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Sample keeps a subset of the stream. An integer N >= 1 keeps every Nth
// record; a rate in (0, 1) keeps each record with that probability, drawn
// from a generator seeded with the pipeline seed.
type Sample struct {
	stateless
	every int
	rate  float64
	count int
	gen   *rand.Rand
}

func NewSample(param string, seed int64) (*Sample, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(param), 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) {
		return nil, core.ConfigError("action sample", "expected a count >= 1 or a rate in (0,1), got %q", param)
	}
	if f >= 1 {
		if f != math.Trunc(f) {
			return nil, core.ConfigError("action sample", "count must be an integer, got %q", param)
		}
		return &Sample{every: int(f)}, nil
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sample{rate: f, gen: rand.New(rand.NewSource(seed))}, nil
}

func (s *Sample) Name() string { return "sample" }

func (s *Sample) Process(_ context.Context, rec core.Record) ([]core.Record, error) {
	if s.gen != nil {
		if s.gen.Float64() >= s.rate {
			return nil, nil
		}
		return []core.Record{rec}, nil
	}
	s.count++
	if s.count%s.every != 0 {
		return nil, nil
	}
	return []core.Record{rec}, nil
}
