package action

import (
	"context"
	"os"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Normalize canonicalizes records:
//   - keys become snake_case (the first key wins when two collapse)
//   - strings are trimmed, and the empty string becomes null
//   - "true"/"false" and plain numeric strings become bools and numbers
//
// Nested maps and lists are normalized too. With a JSON Schema path as
// parameter, only the schema's top-level properties are kept.
type Normalize struct {
	stateless
	keep []string
}

func NewNormalize(schemaPath string) (*Normalize, error) {
	n := &Normalize{}
	if schemaPath == "" {
		return n, nil
	}
	b, err := os.ReadFile(schemaPath)
	if err != nil {
		return nil, core.ConfigError("action normalize", "read %s: %w", schemaPath, err)
	}
	props := gjson.GetBytes(b, "properties")
	if !props.IsObject() {
		return nil, core.ConfigError("action normalize", "%s: schema has no properties object", schemaPath)
	}
	props.ForEach(func(k, _ gjson.Result) bool {
		n.keep = append(n.keep, k.String())
		return true
	})
	return n, nil
}

func (n *Normalize) Name() string { return "normalize" }

func (n *Normalize) Process(_ context.Context, rec core.Record) ([]core.Record, error) {
	v := normalizeValue(rec.Value())
	m, _ := v.AsMap()
	if n.keep != nil {
		projected := core.NewMap()
		for _, k := range n.keep {
			if fv, ok := m.Get(k); ok {
				projected.Set(k, fv)
			}
		}
		m = projected
	}
	return []core.Record{rec.WithFields(m)}, nil
}

func normalizeValue(v core.Value) core.Value {
	switch v.Kind() {
	case core.KindString:
		s, _ := v.AsString()
		return coerce(strings.TrimSpace(s))
	case core.KindList:
		l, _ := v.AsList()
		out := make([]core.Value, len(l))
		for i, e := range l {
			out[i] = normalizeValue(e)
		}
		return core.List(out...)
	case core.KindMap:
		m, _ := v.AsMap()
		out := core.NewMap()
		m.Range(func(k string, fv core.Value) bool {
			key := snakeCase(k)
			if !out.Has(key) {
				out.Set(key, normalizeValue(fv))
			}
			return true
		})
		return core.MapOf(out)
	}
	return v
}

func coerce(s string) core.Value {
	switch strings.ToLower(s) {
	case "":
		return core.Null()
	case "true":
		return core.Bool(true)
	case "false":
		return core.Bool(false)
	}
	if plainNumber(s) {
		if num, ok := core.ParseNumber(s); ok {
			return num
		}
	}
	return core.String(s)
}

// plainNumber rejects literals whose text would not survive a round trip
// as a number, like zip codes with leading zeros or "1e5".
func plainNumber(s string) bool {
	t := strings.TrimPrefix(s, "-")
	if t == "" {
		return false
	}
	if len(t) > 1 && t[0] == '0' && t[1] != '.' {
		return false
	}
	dot := false
	for i := 0; i < len(t); i++ {
		switch {
		case t[i] == '.' && !dot && i > 0 && i < len(t)-1:
			dot = true
		case t[i] < '0' || t[i] > '9':
			return false
		}
	}
	return true
}

func snakeCase(s string) string {
	rs := []rune(strings.TrimSpace(s))
	var sb strings.Builder
	sep := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "_") {
			sb.WriteByte('_')
		}
	}
	for i, r := range rs {
		switch {
		case r == ' ' || r == '-' || r == '_':
			sep()
		case unicode.IsUpper(r):
			if i > 0 {
				prev := rs[i-1]
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || unicode.IsUpper(prev) && nextLower {
					sep()
				}
			}
			sb.WriteRune(unicode.ToLower(r))
		default:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}
