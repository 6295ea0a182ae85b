package codec

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() { register(yamlCodec{}, "yml") }

type yamlCodec struct{}

func (yamlCodec) Name() string    { return "yaml" }
func (yamlCodec) Streaming() bool { return false }

func (yamlCodec) NewDecoder(r io.Reader) Decoder {
	return &bufferedDecoder{load: func() ([]core.Record, error) {
		dec := yaml.NewDecoder(r)
		var out []core.Record
		for {
			var doc yaml.Node
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if err != nil {
				return out, err
			}
			recs, err := recordsFromYAML(&doc)
			if err != nil {
				return out, err
			}
			out = append(out, recs...)
		}
	}}
}

func (yamlCodec) NewEncoder(w io.Writer) Encoder {
	return &bufferedEncoder{flush: func(recs []core.Record) error {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, r := range recs {
			seq.Content = append(seq.Content, yamlFromValue(r.Value()))
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(seq); err != nil {
			return err
		}
		return enc.Close()
	}}
}

func (c yamlCodec) Marshal(rec core.Record) ([]byte, error) {
	return yaml.Marshal(yamlFromValue(rec.Value()))
}

func (c yamlCodec) Unmarshal(b []byte) (core.Record, error) { return unmarshalOne(c, b) }

func recordsFromYAML(doc *yaml.Node) ([]core.Record, error) {
	n := doc
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil, nil
		}
		n = n.Content[0]
	}
	switch n.Kind {
	case yaml.MappingNode:
		v, err := valueFromYAML(n)
		if err != nil {
			return nil, err
		}
		m, _ := v.AsMap()
		return []core.Record{core.NewRecord(m)}, nil
	case yaml.SequenceNode:
		out := make([]core.Record, 0, len(n.Content))
		for i, el := range n.Content {
			if el.Kind == yaml.AliasNode {
				el = el.Alias
			}
			if el.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("line %d: element %d is not a mapping", el.Line, i)
			}
			v, err := valueFromYAML(el)
			if err != nil {
				return nil, err
			}
			m, _ := v.AsMap()
			out = append(out, core.NewRecord(m))
		}
		return out, nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("line %d: want a mapping or a sequence of mappings", n.Line)
}

func valueFromYAML(n *yaml.Node) (core.Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return valueFromYAML(n.Alias)
	case yaml.MappingNode:
		m := core.NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, vn := n.Content[i], n.Content[i+1]
			v, err := valueFromYAML(vn)
			if err != nil {
				return core.Value{}, err
			}
			m.Set(k.Value, v)
		}
		return core.MapOf(m), nil
	case yaml.SequenceNode:
		items := make([]core.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := valueFromYAML(c)
			if err != nil {
				return core.Value{}, err
			}
			items = append(items, v)
		}
		return core.List(items...), nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return core.Null(), nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return core.Value{}, err
			}
			return core.Bool(b), nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				var f float64
				if ferr := n.Decode(&f); ferr != nil {
					return core.Value{}, err
				}
				return core.RawFloat(f), nil
			}
			return core.Int(i), nil
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return core.Value{}, err
			}
			return core.RawFloat(f), nil
		default:
			return core.String(n.Value), nil
		}
	}
	return core.Value{}, fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

func yamlFromValue(v core.Value) *yaml.Node {
	switch v.Kind() {
	case core.KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case core.KindBool:
		b, _ := v.AsBool()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
	case core.KindNumber:
		if i, ok := v.AsInt(); ok {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}
		}
		f, _ := v.AsFloat()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: yamlFloat(f)}
	case core.KindString:
		s, _ := v.AsString()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	case core.KindList:
		l, _ := v.AsList()
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range l {
			n.Content = append(n.Content, yamlFromValue(e))
		}
		return n
	default:
		m, _ := v.AsMap()
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		m.Range(func(k string, e core.Value) bool {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
				yamlFromValue(e))
			return true
		})
		return n
	}
}

func yamlFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
