// Package codec converts between raw bytes and records.
//
// Array formats (json, yaml, toml, csv) read their whole input before the
// first record is returned and write their output on Close. Line formats
// (ndjson, delimited protobuf) stream in both directions.
//
// Lossy conventions:
//   - csv: the header is the union of field names in first-seen order.
//     Nested values are written as compact JSON and parsed back when a cell
//     holds a JSON object or array. Null is the empty cell. Cells are typed
//     on read: empty is null, true/false are booleans, numeric literals are
//     numbers and everything else is a string.
//   - toml: records live in the [[records]] array of tables. Null fields
//     and null list elements are omitted. Keys are written sorted; on read
//     they follow the document. Date and time values are read as strings.
//   - protobuf: records are google.protobuf.Struct messages. All numbers
//     are doubles (integral values read back as integers) and keys are
//     sorted.
package codec

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cuongceg/fluxmux/internal/core"
)

// Codec reads and writes records in one format.
type Codec interface {
	Name() string
	// Streaming reports whether records are decoded one at a time.
	Streaming() bool
	NewDecoder(r io.Reader) Decoder
	NewEncoder(w io.Writer) Encoder
	// Marshal and Unmarshal handle a single record carried in one message.
	Marshal(rec core.Record) ([]byte, error)
	Unmarshal(b []byte) (core.Record, error)
}

// Decoder returns io.EOF after the last record.
type Decoder interface {
	Decode() (core.Record, error)
}

// Encoder must be closed to flush array formats.
type Encoder interface {
	Encode(rec core.Record) error
	Close() error
}

var codecs = map[string]Codec{}

func register(c Codec, aliases ...string) {
	codecs[c.Name()] = c
	for _, a := range aliases {
		codecs[a] = c
	}
}

// ForName looks up a codec by format name or alias.
func ForName(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported format %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists the canonical format names.
func Names() []string {
	seen := map[string]bool{}
	for _, c := range codecs {
		seen[c.Name()] = true
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DecodeAll reads every record from r.
func DecodeAll(c Codec, r io.Reader) ([]core.Record, error) {
	dec := c.NewDecoder(r)
	var out []core.Record
	for {
		rec, err := dec.Decode()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// EncodeAll writes recs to w and closes the encoder.
func EncodeAll(c Codec, w io.Writer, recs []core.Record) error {
	enc := c.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return enc.Close()
}

// Convert re-encodes records from one format into another and returns the
// number of records written. Decoding problems are parse errors.
func Convert(r io.Reader, from string, w io.Writer, to string) (int, error) {
	in, err := ForName(from)
	if err != nil {
		return 0, core.ConfigError("convert", "%v", err)
	}
	out, err := ForName(to)
	if err != nil {
		return 0, core.ConfigError("convert", "%v", err)
	}
	dec := in.NewDecoder(r)
	enc := out.NewEncoder(w)
	n := 0
	for {
		rec, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, core.ParseError("convert "+from, err)
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("encode %s: %w", to, err)
		}
		n++
	}
	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("encode %s: %w", to, err)
	}
	return n, nil
}

// bufferedDecoder serves records materialized by load on first use.
type bufferedDecoder struct {
	load   func() ([]core.Record, error)
	recs   []core.Record
	loaded bool
	err    error
}

func (d *bufferedDecoder) Decode() (core.Record, error) {
	if !d.loaded {
		d.loaded = true
		d.recs, d.err = d.load()
	}
	if d.err != nil {
		return core.Record{}, d.err
	}
	if len(d.recs) == 0 {
		return core.Record{}, io.EOF
	}
	r := d.recs[0]
	d.recs = d.recs[1:]
	return r, nil
}

// bufferedEncoder collects records and hands them to flush on Close.
type bufferedEncoder struct {
	recs   []core.Record
	flush  func([]core.Record) error
	closed bool
}

func (e *bufferedEncoder) Encode(rec core.Record) error {
	if e.closed {
		return fmt.Errorf("encoder closed")
	}
	e.recs = append(e.recs, rec)
	return nil
}

func (e *bufferedEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.flush(e.recs)
}

// marshalVia encodes a single record with an array codec.
func marshalVia(c Codec, rec core.Record) ([]byte, error) {
	var sb strings.Builder
	if err := EncodeAll(c, &sb, []core.Record{rec}); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// unmarshalOne decodes exactly one record with any codec.
func unmarshalOne(c Codec, b []byte) (core.Record, error) {
	recs, err := DecodeAll(c, strings.NewReader(string(b)))
	if err != nil {
		return core.Record{}, err
	}
	if len(recs) != 1 {
		return core.Record{}, fmt.Errorf("%s: expected one record, got %d", c.Name(), len(recs))
	}
	return recs[0], nil
}
