package core

import (
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the field content of r. Field order does not change
// the result, and numbers hash by numeric value so 1 and 1.0 collide.
func Fingerprint(r Record) uint64 {
	d := xxhash.New()
	hashValue(d, r.Value())
	return d.Sum64()
}

func hashValue(d *xxhash.Digest, v Value) {
	var tag [1]byte
	tag[0] = byte(v.Kind())
	_, _ = d.Write(tag[:])
	switch v.Kind() {
	case KindBool:
		if b, _ := v.AsBool(); b {
			_, _ = d.WriteString("1")
		} else {
			_, _ = d.WriteString("0")
		}
	case KindNumber:
		f, _ := v.AsFloat()
		if i, ok := v.AsInt(); ok {
			f = float64(i)
		}
		if f == 0 {
			f = 0 // fold -0
		}
		_, _ = d.WriteString(strconv.FormatUint(math.Float64bits(f), 16))
	case KindString:
		s, _ := v.AsString()
		writeLen(d, len(s))
		_, _ = d.WriteString(s)
	case KindList:
		l, _ := v.AsList()
		writeLen(d, len(l))
		for _, e := range l {
			hashValue(d, e)
		}
	case KindMap:
		m, _ := v.AsMap()
		keys := m.Keys()
		sort.Strings(keys)
		writeLen(d, len(keys))
		for _, k := range keys {
			writeLen(d, len(k))
			_, _ = d.WriteString(k)
			e, _ := m.Get(k)
			hashValue(d, e)
		}
	}
}

func writeLen(d *xxhash.Digest, n int) {
	_, _ = d.WriteString(strconv.Itoa(n))
	_, _ = d.WriteString(":")
}
