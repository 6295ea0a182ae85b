package action

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cuongceg/fluxmux/internal/core"
)

type aggOp struct {
	fn    string // count, sum, avg, min, max
	field string // empty for a bare count
}

func (o aggOp) output() string {
	if o.field == "" {
		return o.fn
	}
	return o.fn + "_" + o.field
}

type accum struct {
	n     int64
	sum   float64
	ints  bool
	min   float64
	max   float64
	valid bool
}

func (a *accum) add(v core.Value) {
	f, ok := v.AsFloat()
	if !ok {
		return
	}
	if !a.valid {
		a.valid, a.ints, a.min, a.max = true, true, f, f
	}
	a.n++
	a.sum += f
	a.ints = a.ints && v.IsInt()
	a.min = math.Min(a.min, f)
	a.max = math.Max(a.max, f)
}

type group struct {
	key    []core.Value
	count  int64
	counts map[string]int64
	accs   map[string]*accum
}

// Aggregate reduces the stream into one summary record per group. Output
// is emitted at end of stream or, with a window, every N input records.
//
//	count, sum:amount, avg:amount, min:amount, max:amount [by city[,country]] [every N]
type Aggregate struct {
	ops    []aggOp
	by     []string
	fields []string // distinct fields the ops read
	every  int
	seen   int
	order  []string
	groups map[string]*group
}

func NewAggregate(param string) (*Aggregate, error) {
	ops, by, every, err := parseAggregate(param)
	if err != nil {
		return nil, core.ConfigError("action aggregate", "%q: %w", param, err)
	}
	a := &Aggregate{ops: ops, by: by, every: every, groups: map[string]*group{}}
	seen := map[string]bool{}
	for _, op := range ops {
		if op.field != "" && !seen[op.field] {
			seen[op.field] = true
			a.fields = append(a.fields, op.field)
		}
	}
	return a, nil
}

func parseAggregate(param string) (ops []aggOp, by []string, every int, err error) {
	words := strings.Fields(param)
	var opWords, byWords []string
	mode := "ops"
	for i := 0; i < len(words); i++ {
		switch strings.ToLower(words[i]) {
		case "by":
			if mode != "ops" {
				return nil, nil, 0, fmt.Errorf("unexpected \"by\"")
			}
			mode = "by"
			continue
		case "every":
			if i+1 >= len(words) {
				return nil, nil, 0, fmt.Errorf("every needs a record count")
			}
			every, err = strconv.Atoi(words[i+1])
			if err != nil || every <= 0 {
				return nil, nil, 0, fmt.Errorf("every needs a positive record count, got %q", words[i+1])
			}
			if i+2 != len(words) {
				return nil, nil, 0, fmt.Errorf("unexpected input after every %s", words[i+1])
			}
			i++
			mode = "done"
			continue
		}
		switch mode {
		case "ops":
			opWords = append(opWords, words[i])
		case "by":
			byWords = append(byWords, words[i])
		}
	}
	for _, w := range splitList(strings.Join(opWords, "")) {
		fn, fld, _ := strings.Cut(w, ":")
		fn = strings.ToLower(fn)
		switch fn {
		case "count":
		case "sum", "avg", "min", "max":
			if fld == "" {
				return nil, nil, 0, fmt.Errorf("%s needs a field, e.g. %s:amount", fn, fn)
			}
		default:
			return nil, nil, 0, fmt.Errorf("unknown aggregate %q", fn)
		}
		ops = append(ops, aggOp{fn, fld})
	}
	if len(ops) == 0 {
		return nil, nil, 0, fmt.Errorf("no aggregates given")
	}
	by = splitList(strings.Join(byWords, ""))
	if mode == "by" && len(by) == 0 {
		return nil, nil, 0, fmt.Errorf("by needs at least one field")
	}
	return ops, by, every, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (a *Aggregate) Name() string { return "aggregate" }

func (a *Aggregate) Process(_ context.Context, rec core.Record) ([]core.Record, error) {
	key := make([]core.Value, len(a.by))
	for i, f := range a.by {
		v, ok := rec.Get(f)
		if !ok {
			v = core.Null()
		}
		key[i] = v
	}
	id := core.Compact(core.List(key...))
	g, ok := a.groups[id]
	if !ok {
		g = &group{key: key, counts: map[string]int64{}, accs: map[string]*accum{}}
		a.groups[id] = g
		a.order = append(a.order, id)
	}
	g.count++
	for _, fld := range a.fields {
		v, ok := rec.Get(fld)
		if !ok || v.IsNull() {
			continue
		}
		g.counts[fld]++
		acc := g.accs[fld]
		if acc == nil {
			acc = &accum{}
			g.accs[fld] = acc
		}
		acc.add(v)
	}

	a.seen++
	if a.every > 0 && a.seen >= a.every {
		return a.emit(), nil
	}
	return nil, nil
}

func (a *Aggregate) Finish(context.Context) ([]core.Record, error) {
	return a.emit(), nil
}

func (a *Aggregate) emit() []core.Record {
	now := time.Now()
	out := make([]core.Record, 0, len(a.order))
	for i, id := range a.order {
		g := a.groups[id]
		m := core.NewMap()
		for j, f := range a.by {
			m.Set(f, g.key[j])
		}
		for _, op := range a.ops {
			m.Set(op.output(), g.result(op))
		}
		rec := core.NewRecord(m)
		rec.Meta = core.Meta{Seq: uint64(i), IngestedAt: now}
		out = append(out, rec)
	}
	a.order, a.seen = nil, 0
	a.groups = map[string]*group{}
	return out
}

func (g *group) result(op aggOp) core.Value {
	if op.fn == "count" {
		if op.field == "" {
			return core.Int(g.count)
		}
		return core.Int(g.counts[op.field])
	}
	acc := g.accs[op.field]
	if acc == nil || !acc.valid {
		if op.fn == "sum" {
			return core.Int(0)
		}
		return core.Null()
	}
	switch op.fn {
	case "sum":
		if acc.ints {
			return core.Float(acc.sum)
		}
		return core.RawFloat(acc.sum)
	case "avg":
		return core.Float(acc.sum / float64(acc.n))
	case "min":
		return core.Float(acc.min)
	default:
		return core.Float(acc.max)
	}
}
