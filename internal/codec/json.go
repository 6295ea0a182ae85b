package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() {
	register(jsonCodec{}, "application/json")
	register(ndjsonCodec{}, "jsonl", "json-lines", "jsonlines", "line-delimited-json")
}

type jsonCodec struct{}

func (jsonCodec) Name() string    { return "json" }
func (jsonCodec) Streaming() bool { return false }

func (c jsonCodec) NewDecoder(r io.Reader) Decoder {
	return &bufferedDecoder{load: func() ([]core.Record, error) {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return parseJSONDocument(b)
	}}
}

func (c jsonCodec) NewEncoder(w io.Writer) Encoder {
	return &bufferedEncoder{flush: func(recs []core.Record) error {
		vals := make([]core.Value, len(recs))
		for i, r := range recs {
			vals[i] = r.Value()
		}
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(vals)
	}}
}

func (jsonCodec) Marshal(rec core.Record) ([]byte, error) {
	return rec.Value().MarshalJSON()
}

func (jsonCodec) Unmarshal(b []byte) (core.Record, error) { return ParseJSONRecord(b) }

// parseJSONDocument accepts an array of objects or a single object.
func parseJSONDocument(b []byte) ([]core.Record, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(b) {
		return nil, errors.New("invalid json document")
	}
	doc := gjson.ParseBytes(b)
	switch {
	case doc.IsObject():
		return []core.Record{core.NewRecord(objectFromJSON(doc))}, nil
	case doc.IsArray():
		var (
			out []core.Record
			err error
			idx int
		)
		doc.ForEach(func(_, el gjson.Result) bool {
			if !el.IsObject() {
				err = fmt.Errorf("element %d is %s, want object", idx, jsonTypeName(el))
				return false
			}
			out = append(out, core.NewRecord(objectFromJSON(el)))
			idx++
			return true
		})
		return out, err
	default:
		return nil, fmt.Errorf("top-level %s, want object or array of objects", jsonTypeName(doc))
	}
}

// ParseJSONRecord parses a single JSON object, keeping field order.
func ParseJSONRecord(b []byte) (core.Record, error) {
	b = bytes.TrimSpace(b)
	if !gjson.ValidBytes(b) {
		return core.Record{}, errors.New("invalid json")
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return core.Record{}, fmt.Errorf("got %s, want object", jsonTypeName(res))
	}
	return core.NewRecord(objectFromJSON(res)), nil
}

// ParseJSONValue parses any JSON value.
func ParseJSONValue(s string) (core.Value, error) {
	if !gjson.Valid(s) {
		return core.Value{}, errors.New("invalid json")
	}
	return valueFromJSON(gjson.Parse(s)), nil
}

func objectFromJSON(res gjson.Result) *core.Map {
	m := core.NewMap()
	res.ForEach(func(k, v gjson.Result) bool {
		m.Set(k.String(), valueFromJSON(v))
		return true
	})
	return m
}

func valueFromJSON(res gjson.Result) core.Value {
	switch res.Type {
	case gjson.Null:
		return core.Null()
	case gjson.True:
		return core.Bool(true)
	case gjson.False:
		return core.Bool(false)
	case gjson.String:
		return core.String(res.Str)
	case gjson.Number:
		if v, ok := core.ParseNumber(res.Raw); ok {
			return v
		}
		return core.RawFloat(res.Num)
	}
	if res.IsObject() {
		return core.MapOf(objectFromJSON(res))
	}
	var items []core.Value
	res.ForEach(func(_, v gjson.Result) bool {
		items = append(items, valueFromJSON(v))
		return true
	})
	return core.List(items...)
}

func jsonTypeName(res gjson.Result) string {
	switch {
	case res.IsObject():
		return "object"
	case res.IsArray():
		return "array"
	}
	switch res.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		return "number"
	}
	return "string"
}

type ndjsonCodec struct{}

func (ndjsonCodec) Name() string    { return "ndjson" }
func (ndjsonCodec) Streaming() bool { return true }

func (ndjsonCodec) NewDecoder(r io.Reader) Decoder {
	return &lineDecoder{r: bufio.NewReader(r)}
}

func (ndjsonCodec) NewEncoder(w io.Writer) Encoder {
	return &lineEncoder{w: bufio.NewWriter(w)}
}

func (ndjsonCodec) Marshal(rec core.Record) ([]byte, error) {
	return rec.Value().MarshalJSON()
}

func (ndjsonCodec) Unmarshal(b []byte) (core.Record, error) { return ParseJSONRecord(b) }

type lineDecoder struct {
	r    *bufio.Reader
	line int
}

func (d *lineDecoder) Decode() (core.Record, error) {
	for {
		b, err := d.r.ReadBytes('\n')
		if len(b) == 0 && err != nil {
			return core.Record{}, err
		}
		d.line++
		if len(bytes.TrimSpace(b)) == 0 {
			if err != nil {
				return core.Record{}, err
			}
			continue
		}
		rec, perr := ParseJSONRecord(b)
		if perr != nil {
			return core.Record{}, fmt.Errorf("line %d: %w", d.line, perr)
		}
		return rec, nil
	}
}

type lineEncoder struct {
	w *bufio.Writer
}

func (e *lineEncoder) Encode(rec core.Record) error {
	if _, err := e.w.WriteString(core.Compact(rec.Value())); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	// streaming consumers expect each line as soon as it is encoded
	return e.w.Flush()
}

func (e *lineEncoder) Close() error { return e.w.Flush() }
