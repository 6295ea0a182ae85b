package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongceg/fluxmux/internal/core"
)

const sampleJSON = `[
  {"id": 1, "name": "Ann", "age": 31, "score": 9.5, "active": true, "tags": ["a", "b"], "addr": {"city": "Hanoi", "zip": "100000"}},
  {"id": 2, "name": "Bob", "age": 24, "score": 7.25, "active": false, "tags": [], "addr": {"city": "Hue", "zip": "530000"}},
  {"id": 3, "name": "Chi", "age": 27, "score": 8.0, "active": true, "tags": ["c"], "addr": {"city": "Da Nang", "zip": "550000"}}
]`

func sample(t *testing.T) []core.Record {
	t.Helper()
	c, err := ForName("json")
	require.NoError(t, err)
	recs, err := DecodeAll(c, strings.NewReader(sampleJSON))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	return recs
}

func equalRecords(t *testing.T, want, got []core.Record) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "record %d:\nwant %s\ngot  %s", i, want[i], got[i])
	}
}

func TestRoundTripAllFormats(t *testing.T) {
	for _, name := range []string{"json", "ndjson", "yaml", "toml", "protobuf"} {
		t.Run(name, func(t *testing.T) {
			c, err := ForName(name)
			require.NoError(t, err)
			first := sample(t)

			var buf bytes.Buffer
			require.NoError(t, EncodeAll(c, &buf, first))
			second, err := DecodeAll(c, bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			equalRecords(t, first, second)
		})
	}
}

func TestRoundTripCSV(t *testing.T) {
	c, _ := ForName("csv")
	recs := []core.Record{
		core.RecordOf("id", 1, "name", "Ann", "tags", []any{"a", "b"}, "note", nil),
		core.RecordOf("id", 2, "name", "Bob", "extra", true),
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeAll(c, &buf, recs))
	assert.Equal(t, "id,name,tags,note,extra\n1,Ann,\"[\"\"a\"\",\"\"b\"\"]\",,\n2,Bob,,,true\n", buf.String())

	first, err := DecodeAll(c, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	tags, _ := first[0].Get("tags")
	assert.Equal(t, core.KindList, tags.Kind())
	extra, _ := first[1].Get("extra")
	assert.True(t, extra.Equal(core.Bool(true)))
	note, _ := first[0].Get("note")
	assert.True(t, note.IsNull())

	buf.Reset()
	require.NoError(t, EncodeAll(c, &buf, first))
	second, err := DecodeAll(c, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	equalRecords(t, first, second)
}

func TestJSONKeepsFieldOrderAndNumberKind(t *testing.T) {
	c, _ := ForName("json")
	recs, err := DecodeAll(c, strings.NewReader(`{"z": 1, "a": 2.0, "m": "x"}`))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"z", "a", "m"}, recs[0].Keys())

	out, err := c.Marshal(recs[0])
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2.0,"m":"x"}`, string(out))
}

func TestJSONDocumentIsIndentedAndEscaped(t *testing.T) {
	c, _ := ForName("json")
	rec := core.RecordOf("b", "<a & b>", "a", core.RawFloat(2), "nested", map[string]any{"q": "say \"hi\"\n"}, "empty", []any{})
	var buf bytes.Buffer
	require.NoError(t, EncodeAll(c, &buf, []core.Record{rec}))

	want := `[
  {
    "b": "<a & b>",
    "a": 2.0,
    "nested": {
      "q": "say \"hi\"\n"
    },
    "empty": []
  }
]
`
	assert.Equal(t, want, buf.String())

	buf.Reset()
	require.NoError(t, EncodeAll(c, &buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestJSONRejectsMalformed(t *testing.T) {
	c, _ := ForName("json")
	_, err := DecodeAll(c, strings.NewReader(`[{"a": 1}, `))
	require.Error(t, err)

	_, err = DecodeAll(c, strings.NewReader(`[1, 2]`))
	require.ErrorContains(t, err, "element 0 is number")
}

func TestNDJSONStreamsAndReportsLine(t *testing.T) {
	c, _ := ForName("jsonl")
	dec := c.NewDecoder(strings.NewReader("{\"a\":1}\n\n{\"a\":2}\nnot json\n"))
	r, err := dec.Decode()
	require.NoError(t, err)
	v, _ := r.Get("a")
	assert.True(t, v.Equal(core.Int(1)))
	_, err = dec.Decode()
	require.NoError(t, err)
	_, err = dec.Decode()
	require.ErrorContains(t, err, "line 4")
}

func TestTOMLOrderAndNulls(t *testing.T) {
	c, _ := ForName("toml")
	doc := `
[[records]]
name = "Ann"
age = 31

[[records]]
name = "Bob"
age = 24
`
	recs, err := DecodeAll(c, strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"name", "age"}, recs[0].Keys())

	var buf bytes.Buffer
	require.NoError(t, EncodeAll(c, &buf, []core.Record{core.RecordOf("a", 1, "gone", nil)}))
	assert.NotContains(t, buf.String(), "gone")
	assert.Contains(t, buf.String(), "[[records]]")
}

func TestYAMLQuotesAmbiguousStrings(t *testing.T) {
	c, _ := ForName("yml")
	var buf bytes.Buffer
	require.NoError(t, EncodeAll(c, &buf, []core.Record{core.RecordOf("s", "true", "n", "12", "b", true)}))
	recs, err := DecodeAll(c, &buf)
	require.NoError(t, err)
	s, _ := recs[0].Get("s")
	assert.True(t, s.Equal(core.String("true")))
	n, _ := recs[0].Get("n")
	assert.True(t, n.Equal(core.String("12")))
}

func TestConvert(t *testing.T) {
	var out bytes.Buffer
	n, err := Convert(strings.NewReader(sampleJSON), "json", &out, "csv")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, strings.HasPrefix(out.String(), "id,name,age,score,active,tags,addr\n"))

	_, err = Convert(strings.NewReader("{"), "json", &out, "yaml")
	assert.True(t, core.IsKind(err, core.KindParse))

	_, err = Convert(strings.NewReader("{}"), "json", &out, "xml")
	assert.True(t, core.IsKind(err, core.KindConfiguration))
}
