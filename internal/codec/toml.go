package codec

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() { register(tomlCodec{}) }

// tomlRecordsKey is the array of tables holding the records.
const tomlRecordsKey = "records"

type tomlCodec struct{}

func (tomlCodec) Name() string    { return "toml" }
func (tomlCodec) Streaming() bool { return false }

func (tomlCodec) NewDecoder(r io.Reader) Decoder {
	return &bufferedDecoder{load: func() ([]core.Record, error) {
		var doc map[string]any
		md, err := toml.NewDecoder(r).Decode(&doc)
		if err != nil {
			return nil, err
		}
		rank := map[string]int{}
		for i, k := range md.Keys() {
			p := k.String()
			if _, ok := rank[p]; !ok {
				rank[p] = i
			}
		}
		o := tomlOrder{rank: rank}

		raw, ok := doc[tomlRecordsKey]
		if !ok {
			if len(doc) == 0 {
				return nil, nil
			}
			m, err := o.mapValue("", doc)
			if err != nil {
				return nil, err
			}
			return []core.Record{core.NewRecord(m)}, nil
		}
		var tables []map[string]any
		switch t := raw.(type) {
		case []map[string]any:
			tables = t
		case []any:
			for i, e := range t {
				m, ok := e.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s[%d] is not a table", tomlRecordsKey, i)
				}
				tables = append(tables, m)
			}
		default:
			return nil, fmt.Errorf("%s must be an array of tables", tomlRecordsKey)
		}
		out := make([]core.Record, 0, len(tables))
		for _, t := range tables {
			m, err := o.mapValue(tomlRecordsKey, t)
			if err != nil {
				return nil, err
			}
			out = append(out, core.NewRecord(m))
		}
		return out, nil
	}}
}

func (tomlCodec) NewEncoder(w io.Writer) Encoder {
	return &bufferedEncoder{flush: func(recs []core.Record) error {
		tables := make([]map[string]any, 0, len(recs))
		for _, r := range recs {
			tables = append(tables, tomlTable(r.Value()))
		}
		return toml.NewEncoder(w).Encode(map[string]any{tomlRecordsKey: tables})
	}}
}

func (c tomlCodec) Marshal(rec core.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tomlTable(rec.Value())); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c tomlCodec) Unmarshal(b []byte) (core.Record, error) { return unmarshalOne(c, b) }

// tomlOrder restores document key order from the decoder metadata.
type tomlOrder struct {
	rank map[string]int
}

func (o tomlOrder) mapValue(path string, m map[string]any) (*core.Map, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, iok := o.rank[joinKey(path, keys[i])]
		rj, jok := o.rank[joinKey(path, keys[j])]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return keys[i] < keys[j]
	})
	out := core.NewMap()
	for _, k := range keys {
		v, err := o.value(joinKey(path, k), m[k])
		if err != nil {
			return nil, err
		}
		out.Set(k, v)
	}
	return out, nil
}

func (o tomlOrder) value(path string, x any) (core.Value, error) {
	switch t := x.(type) {
	case map[string]any:
		m, err := o.mapValue(path, t)
		if err != nil {
			return core.Value{}, err
		}
		return core.MapOf(m), nil
	case []map[string]any:
		items := make([]core.Value, 0, len(t))
		for _, e := range t {
			v, err := o.value(path, e)
			if err != nil {
				return core.Value{}, err
			}
			items = append(items, v)
		}
		return core.List(items...), nil
	case []any:
		items := make([]core.Value, 0, len(t))
		for _, e := range t {
			v, err := o.value(path, e)
			if err != nil {
				return core.Value{}, err
			}
			items = append(items, v)
		}
		return core.List(items...), nil
	case float64:
		return core.RawFloat(t), nil
	case time.Time:
		return core.String(t.Format(time.RFC3339Nano)), nil
	}
	return core.FromInterface(x)
}

func joinKey(path, k string) string {
	// quote like toml.Key.String does for keys that are not bare
	if !isBareKey(k) {
		k = fmt.Sprintf("%q", k)
	}
	if path == "" {
		return k
	}
	return path + "." + k
}

func isBareKey(k string) bool {
	if k == "" {
		return false
	}
	return strings.IndexFunc(k, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	}) < 0
}

// tomlTable converts a map value into encoder input, dropping nulls.
func tomlTable(v core.Value) map[string]any {
	m, _ := v.AsMap()
	out := make(map[string]any, m.Len())
	m.Range(func(k string, e core.Value) bool {
		if x, ok := tomlValue(e); ok {
			out[k] = x
		}
		return true
	})
	return out
}

func tomlValue(v core.Value) (any, bool) {
	switch v.Kind() {
	case core.KindNull:
		return nil, false
	case core.KindMap:
		return tomlTable(v), true
	case core.KindList:
		l, _ := v.AsList()
		items := make([]any, 0, len(l))
		for _, e := range l {
			if x, ok := tomlValue(e); ok {
				items = append(items, x)
			}
		}
		return items, true
	case core.KindNumber:
		if i, ok := v.AsInt(); ok {
			return i, true
		}
		f, _ := v.AsFloat()
		return f, true
	}
	return v.Interface(), true
}
