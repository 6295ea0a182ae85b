package relational

import (
	"fmt"
	"strings"
)

// canonical names for the spellings drivers report
var typeAliases = map[string]string{
	"int":               "integer",
	"int4":              "integer",
	"serial":            "integer",
	"int8":              "bigint",
	"bigserial":         "bigint",
	"float4":            "real",
	"float8":            "double precision",
	"double":            "double precision",
	"varchar":           "text",
	"character varying": "text",
	"char":              "text",
	"character":         "text",
	"bpchar":            "text",
	"jsonb":             "json",
	"bool":              "boolean",
}

func canonicalType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if c, ok := typeAliases[t]; ok {
		return c
	}
	return t
}

func typesCompatible(actual, required string) bool {
	return canonicalType(actual) == canonicalType(required)
}

// checkColumns verifies every declared column exists with a compatible
// type. Drivers that do not report a type skip the type check.
func checkColumns(actual map[string]string, declared [][2]string) error {
	for _, c := range declared {
		got, ok := actual[c[0]]
		if !ok {
			return fmt.Errorf("required column %q of type %q not found", c[0], c[1])
		}
		if got != "" && !typesCompatible(got, c[1]) {
			return fmt.Errorf("column %q has type %q but required type is %q", c[0], strings.ToLower(got), c[1])
		}
	}
	return nil
}
