package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor(t *testing.T) {
	d, err := ParseDescriptor("kafka://b1:9092,b2:9092/orders?group=g1&key=id", RoleSource)
	require.NoError(t, err)
	assert.Equal(t, SchemeKafka, d.Scheme)
	assert.Equal(t, []string{"b1:9092", "b2:9092"}, d.Hosts)
	assert.Equal(t, "orders", d.Path)
	assert.Equal(t, "g1", d.Param("group"))
	assert.Equal(t, "json", d.Format())

	d, err = ParseDescriptor("file:data/in.csv", RoleSource)
	require.NoError(t, err)
	assert.Equal(t, "data/in.csv", d.Path)
	assert.Equal(t, "csv", d.Format())

	d, err = ParseDescriptor("file:out.dat?format=YAML", RoleSink)
	require.NoError(t, err)
	assert.Equal(t, "yaml", d.Format())

	d, err = ParseDescriptor("-", RoleSink)
	require.NoError(t, err)
	assert.Equal(t, SchemeStdout, d.Scheme)
	assert.Equal(t, "ndjson", d.Format())

	d, err = ParseDescriptor("postgres://u:p@db:5432/app?table=events&sslmode=disable&schema=id:integer,name:text", RoleSink)
	require.NoError(t, err)
	assert.Equal(t, "events", d.Param("table"))
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", d.ConnString())
	cols, err := d.ColumnTypes()
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"id", "integer"}, {"name", "text"}}, cols)

	d, err = ParseDescriptor("sqlite:/tmp/x.db?table=t", RoleSink)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", d.ConnString())
}

func TestParseDescriptorErrors(t *testing.T) {
	cases := map[string]Role{
		"":                              RoleSource,
		"stdout":                        RoleSource,
		"stdin":                         RoleSink,
		"kafka://b:9092":                RoleSource,
		"kafka:///topic":                RoleSource,
		"postgres://db/app":             RoleSink,
		"postgres://db/app?table=t":     RoleSource,
		"sqlite:x.db?table=t&schema=id": RoleSink,
		"ftp://host/x":                  RoleSource,
		"plainpath.json":                RoleSource,
		"redis://localhost:6379/0":      RoleSink,
		"amqp://localhost/?exchange=x":  RoleSource,
	}
	for raw, role := range cases {
		_, err := ParseDescriptor(raw, role)
		require.Error(t, err, raw)
		assert.True(t, IsKind(err, KindConfiguration), raw)
	}
}
