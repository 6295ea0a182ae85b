package core

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

type Scheme string

const (
	SchemeFile     Scheme = "file"
	SchemeStdin    Scheme = "stdin"
	SchemeStdout   Scheme = "stdout"
	SchemeKafka    Scheme = "kafka"
	SchemePostgres Scheme = "postgres"
	SchemeSQLite   Scheme = "sqlite"
	SchemeNATS     Scheme = "nats"
	SchemeAMQP     Scheme = "amqp"
	SchemeRedis    Scheme = "redis"
)

// Role tells ParseDescriptor which side of the pipeline an endpoint is on.
type Role int

const (
	RoleSource Role = iota
	RoleSink
)

func (r Role) String() string {
	if r == RoleSink {
		return "sink"
	}
	return "source"
}

// Descriptor is a parsed endpoint address. It is immutable after parsing.
//
//	file:<path>[?format=]            stdin | stdout | -  [?format=]
//	kafka://h:p[,h:p]/topic[?group=&format=&key=&idle=]
//	postgres://user:pass@h:p/db?table=t[&schema=col:type,...]
//	sqlite:<path>?table=t
//	nats://h:p/subject[?queue=&idle=&format=]
//	amqp://user:pass@h:p/vhost?queue=q | exchange=x&routing_key=k
//	redis://[:pass@]h:p/db?key=list
type Descriptor struct {
	Raw    string
	Scheme Scheme
	Role   Role
	// Hosts lists the authority entries for network schemes.
	Hosts []string
	// Path is the file path, topic, subject, database name or vhost.
	Path   string
	User   *url.Userinfo
	params url.Values
}

// descriptor params consumed by fluxmux; the rest belong to the driver.
var ownParams = map[string]bool{
	"format": true, "group": true, "key": true, "idle": true, "table": true,
	"schema": true, "queue": true, "exchange": true, "routing_key": true,
}

// ParseDescriptor parses raw for the given role. Any problem is reported
// as a configuration error.
func ParseDescriptor(raw string, role Role) (Descriptor, error) {
	op := fmt.Sprintf("%s %q", role, raw)
	s := strings.TrimSpace(raw)
	if s == "" {
		return Descriptor{}, ConfigError(op, "empty endpoint")
	}

	d := Descriptor{Raw: raw, Role: role}
	body, query, _ := strings.Cut(s, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return Descriptor{}, ConfigError(op, "invalid query: %v", err)
	}
	d.params = params

	lower := strings.ToLower(body)
	switch {
	case body == "-" || lower == "stdin" || lower == "stdin:" || lower == "stdout" || lower == "stdout:":
		d.Scheme = SchemeStdin
		if role == RoleSink {
			d.Scheme = SchemeStdout
		}
		if (strings.HasPrefix(lower, "stdin") && role == RoleSink) || (strings.HasPrefix(lower, "stdout") && role == RoleSource) {
			return Descriptor{}, ConfigError(op, "%s cannot be used as a %s", strings.TrimSuffix(lower, ":"), role)
		}
		return d, d.check(op)
	}

	scheme, rest, ok := strings.Cut(body, ":")
	if !ok || strings.ContainsAny(scheme, `/\.`) {
		return Descriptor{}, ConfigError(op, "expected scheme:address")
	}
	d.Scheme = Scheme(strings.ToLower(scheme))
	if d.Scheme == "postgresql" {
		d.Scheme = SchemePostgres
	}
	switch d.Scheme {
	case SchemeFile, SchemeSQLite:
		d.Path = strings.TrimPrefix(rest, "//")
	case SchemeKafka, SchemeNATS, SchemeAMQP, SchemeRedis, SchemePostgres:
		rest = strings.TrimPrefix(rest, "//")
		authority, path, _ := strings.Cut(rest, "/")
		if at := strings.LastIndex(authority, "@"); at >= 0 {
			user, err := url.Parse("x://" + authority[:at+1] + "h")
			if err != nil {
				return Descriptor{}, ConfigError(op, "invalid credentials")
			}
			d.User = user.User
			authority = authority[at+1:]
		}
		for _, h := range strings.Split(authority, ",") {
			if h = strings.TrimSpace(h); h != "" {
				d.Hosts = append(d.Hosts, h)
			}
		}
		if d.Path, err = url.PathUnescape(path); err != nil {
			return Descriptor{}, ConfigError(op, "invalid path: %v", err)
		}
	default:
		return Descriptor{}, ConfigError(op, "unsupported scheme %q", scheme)
	}
	return d, d.check(op)
}

func (d Descriptor) check(op string) error {
	switch d.Scheme {
	case SchemeFile:
		if d.Path == "" {
			return ConfigError(op, "file path is required")
		}
	case SchemeKafka:
		if len(d.Hosts) == 0 {
			return ConfigError(op, "kafka broker list is required")
		}
		if d.Path == "" {
			return ConfigError(op, "kafka topic is required")
		}
	case SchemePostgres, SchemeSQLite:
		if d.Role == RoleSource {
			return ConfigError(op, "relational endpoints are sink only")
		}
		if d.Param("table") == "" {
			return ConfigError(op, "table parameter is required")
		}
		if d.Scheme == SchemeSQLite && d.Path == "" {
			return ConfigError(op, "sqlite database path is required")
		}
		if _, err := d.ColumnTypes(); err != nil {
			return ConfigError(op, "%v", err)
		}
	case SchemeNATS:
		if d.Path == "" {
			return ConfigError(op, "nats subject is required")
		}
	case SchemeAMQP:
		if d.Param("queue") == "" && d.Param("exchange") == "" {
			return ConfigError(op, "queue or exchange parameter is required")
		}
		if d.Role == RoleSource && d.Param("queue") == "" {
			return ConfigError(op, "queue parameter is required for a source")
		}
	case SchemeRedis:
		if d.Param("key") == "" {
			return ConfigError(op, "key parameter is required")
		}
	}
	return nil
}

// Param returns a descriptor query parameter.
func (d Descriptor) Param(k string) string { return d.params.Get(k) }

// Format is the declared data format. File endpoints fall back to the
// file extension; everything else defaults to JSON lines.
func (d Descriptor) Format() string {
	if f := d.Param("format"); f != "" {
		return strings.ToLower(f)
	}
	if d.Scheme == SchemeFile {
		switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(d.Path), ".")); ext {
		case "yml":
			return "yaml"
		case "jsonl":
			return "ndjson"
		case "pb":
			return "protobuf"
		case "":
			return "json"
		default:
			return ext
		}
	}
	if d.Scheme == SchemeStdin || d.Scheme == SchemeStdout {
		return "ndjson"
	}
	return "json"
}

// ConnString rebuilds the network address without fluxmux parameters,
// suitable for a driver.
func (d Descriptor) ConnString() string {
	if d.Scheme == SchemeSQLite || d.Scheme == SchemeFile {
		return d.Path
	}
	u := url.URL{Scheme: string(d.Scheme), User: d.User, Host: strings.Join(d.Hosts, ",")}
	if d.Path != "" {
		u.Path = "/" + d.Path
	}
	q := url.Values{}
	for k, vs := range d.params {
		if !ownParams[k] {
			q[k] = vs
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ColumnTypes parses the schema=col:type,... parameter of relational
// endpoints. The order of the declaration is kept.
func (d Descriptor) ColumnTypes() ([][2]string, error) {
	raw := d.Param("schema")
	if raw == "" {
		return nil, nil
	}
	var out [][2]string
	for _, pair := range strings.Split(raw, ",") {
		col, typ, ok := strings.Cut(pair, ":")
		col, typ = strings.TrimSpace(col), strings.TrimSpace(typ)
		if !ok || col == "" || typ == "" {
			return nil, fmt.Errorf("invalid schema entry %q (want col:type)", pair)
		}
		out = append(out, [2]string{col, typ})
	}
	return out, nil
}

func (d Descriptor) String() string { return d.Raw }
