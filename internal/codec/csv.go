package codec

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() { register(csvCodec{}) }

type csvCodec struct{}

func (csvCodec) Name() string    { return "csv" }
func (csvCodec) Streaming() bool { return false }

func (csvCodec) NewDecoder(r io.Reader) Decoder {
	return &bufferedDecoder{load: func() ([]core.Record, error) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		rows, err := cr.ReadAll()
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		header := rows[0]
		seen := map[string]bool{}
		for i, h := range header {
			if h == "" {
				return nil, fmt.Errorf("header column %d is empty", i+1)
			}
			if seen[h] {
				return nil, fmt.Errorf("duplicate header column %q", h)
			}
			seen[h] = true
		}
		out := make([]core.Record, 0, len(rows)-1)
		for n, row := range rows[1:] {
			if len(row) > len(header) {
				return nil, fmt.Errorf("row %d has %d cells, header has %d", n+2, len(row), len(header))
			}
			m := core.NewMap()
			for i, h := range header {
				cell := ""
				if i < len(row) {
					cell = row[i]
				}
				m.Set(h, TypeCell(cell))
			}
			out = append(out, core.NewRecord(m))
		}
		return out, nil
	}}
}

func (csvCodec) NewEncoder(w io.Writer) Encoder {
	return &bufferedEncoder{flush: func(recs []core.Record) error {
		var header []string
		index := map[string]bool{}
		for _, r := range recs {
			for _, k := range r.Keys() {
				if !index[k] {
					index[k] = true
					header = append(header, k)
				}
			}
		}
		cw := csv.NewWriter(w)
		if len(header) > 0 {
			if err := cw.Write(header); err != nil {
				return err
			}
		}
		row := make([]string, len(header))
		for _, r := range recs {
			for i, h := range header {
				v, _ := r.Get(h)
				row[i] = CellText(v)
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}}
}

func (c csvCodec) Marshal(rec core.Record) ([]byte, error) { return marshalVia(c, rec) }

func (c csvCodec) Unmarshal(b []byte) (core.Record, error) { return unmarshalOne(c, b) }

// CellText renders a value as a CSV cell.
func CellText(v core.Value) string {
	switch v.Kind() {
	case core.KindNull:
		return ""
	case core.KindString:
		s, _ := v.AsString()
		return s
	case core.KindList, core.KindMap:
		return core.Compact(v)
	}
	return v.Text()
}

// TypeCell assigns a type to a CSV cell.
func TypeCell(cell string) core.Value {
	switch cell {
	case "":
		return core.Null()
	case "true":
		return core.Bool(true)
	case "false":
		return core.Bool(false)
	}
	if n, ok := core.ParseNumber(cell); ok {
		return n
	}
	if t := strings.TrimSpace(cell); strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		if v, err := ParseJSONValue(t); err == nil {
			return v
		}
	}
	return core.String(cell)
}
