package core

import "time"

// Meta carries provenance assigned by the source.
type Meta struct {
	Seq        uint64
	Partition  int32
	Offset     int64
	HasOffset  bool
	Key        []byte
	IngestedAt time.Time
}

// Record is the unit flowing through a pipeline. Records are immutable:
// With and Without return modified copies.
type Record struct {
	fields *Map
	Meta   Meta
}

// Batch is a group of records handed to a sink in one write.
type Batch []Record

func NewRecord(fields *Map) Record {
	if fields == nil {
		fields = NewMap()
	}
	return Record{fields: fields}
}

// RecordOf builds a record from alternating key, value pairs. It panics
// on a malformed argument list and is meant for tests and literals.
func RecordOf(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("core.RecordOf: odd argument count")
	}
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic("core.RecordOf: key must be string")
		}
		v, err := FromInterface(kv[i+1])
		if err != nil {
			panic(err)
		}
		m.Set(k, v)
	}
	return NewRecord(m)
}

func (r Record) Len() int { return r.fields.Len() }

func (r Record) Keys() []string { return r.fields.Keys() }

func (r Record) Get(field string) (Value, bool) { return r.fields.Get(field) }

func (r Record) Range(fn func(k string, v Value) bool) { r.fields.Range(fn) }

// Fields returns a copy of the field map that the caller may modify.
func (r Record) Fields() *Map { return r.fields.Clone() }

// Value wraps the record as a map value.
func (r Record) Value() Value { return MapOf(r.fields) }

func (r Record) With(field string, v Value) Record {
	m := r.fields.Clone()
	m.Set(field, v)
	return Record{fields: m, Meta: r.Meta}
}

func (r Record) Without(field string) Record {
	if !r.fields.Has(field) {
		return r
	}
	m := r.fields.Clone()
	m.Delete(field)
	return Record{fields: m, Meta: r.Meta}
}

func (r Record) WithFields(m *Map) Record { return Record{fields: m, Meta: r.Meta} }

func (r Record) WithMeta(meta Meta) Record { return Record{fields: r.fields, Meta: meta} }

// Equal compares field content only; provenance is ignored.
func (r Record) Equal(o Record) bool { return r.fields.Equal(o.fields) }

func (r Record) String() string { return Compact(r.Value()) }
