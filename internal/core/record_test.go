package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWithIsCopy(t *testing.T) {
	r := RecordOf("name", "ann", "age", 30)
	r2 := r.With("age", Int(31)).With("city", String("hn"))

	age, _ := r.Get("age")
	assert.True(t, age.Equal(Int(30)))
	assert.Equal(t, []string{"name", "age"}, r.Keys())
	assert.Equal(t, []string{"name", "age", "city"}, r2.Keys())

	r3 := r2.Without("name")
	assert.Equal(t, []string{"age", "city"}, r3.Keys())
	assert.Equal(t, 3, r2.Len())
}

func TestRecordEqualIgnoresOrder(t *testing.T) {
	a := RecordOf("a", 1, "b", "x")
	b := RecordOf("b", "x", "a", 1.0)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(RecordOf("a", 1)))
}

func TestFingerprint(t *testing.T) {
	a := RecordOf("a", 1, "b", []any{"x", true}, "c", nil)
	b := RecordOf("c", nil, "b", []any{"x", true}, "a", 1)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := RecordOf("a", 2, "b", []any{"x", true}, "c", nil)
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))

	// a string "1" is not the number 1
	assert.NotEqual(t, Fingerprint(RecordOf("a", "1")), Fingerprint(RecordOf("a", 1)))
}

func TestValueText(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Null(), "null"},
		{Bool(true), "true"},
		{Int(42), "42"},
		{Float(2.5), "2.5"},
		{Float(3), "3"},
		{String("hi"), "hi"},
		{List(Int(1), String("a")), `[1,"a"]`},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.v.Text())
	}
	assert.Equal(t, `"a\"b\n"`, Compact(String("a\"b\n")))
	assert.Equal(t, "2.0", Compact(RawFloat(2)))
}

func TestValueMarshalJSON(t *testing.T) {
	m := NewMap()
	m.Set("z", String("tab\there \u0001 <b>"))
	m.Set("a", List(Int(1), RawFloat(2), Float(2.5), Null()))
	m.Set("n", RawFloat(math.NaN()))
	v := MapOf(m)

	b, err := json.Marshal(struct {
		Rec Value `json:"rec"`
	}{v})
	require.NoError(t, err)
	assert.True(t, json.Valid(b))
	assert.Equal(t, `{"rec":{"z":"tab\there \u0001 \u003cb\u003e","a":[1,2.0,2.5,null],"n":null}}`, string(b))

	// Compact leaves markup alone
	assert.Equal(t, `{"z":"tab\there \u0001 <b>","a":[1,2.0,2.5,null],"n":null}`, Compact(v))
	assert.Equal(t, "{}", Compact(MapOf(nil)))
	assert.Equal(t, "[]", Compact(List()))
}

func TestParseNumber(t *testing.T) {
	v, ok := ParseNumber("12")
	require.True(t, ok)
	assert.True(t, v.IsInt())

	v, ok = ParseNumber("1.5e2")
	require.True(t, ok)
	f, _ := v.AsFloat()
	assert.Equal(t, 150.0, f)

	_, ok = ParseNumber("12a")
	assert.False(t, ok)
	_, ok = ParseNumber("NaN")
	assert.False(t, ok)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ParseError("source file:x.json", errors.New("bad")))
	k, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindParse, k)
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(DeliveryError("sink", errors.New("x"))))
	assert.Nil(t, WriteError("sink", nil))
	assert.Contains(t, err.Error(), "parse error: source file:x.json: bad")
}
