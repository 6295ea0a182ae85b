// Package relational writes records as rows into PostgreSQL or SQLite.
// Relational endpoints are sink only.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/cuongceg/fluxmux/internal/core"
)

func init() {
	core.RegisterSink(core.SchemePostgres, NewSink)
	core.RegisterSink(core.SchemeSQLite, NewSink)
}

// Sink inserts each batch inside one transaction. Every field of a record
// becomes a column value; nested values are stored as JSON text.
type Sink struct {
	name    string
	driver  string
	dsn     string
	table   string
	declare [][2]string
	ph      sq.PlaceholderFormat
	log     zerolog.Logger

	db *sql.DB

	mu      sync.Mutex
	columns map[string]bool
}

func NewSink(d core.Descriptor, log zerolog.Logger) (core.Sink, error) {
	declare, err := d.ColumnTypes()
	if err != nil {
		return nil, core.ConfigError("sink "+d.Raw, "%v", err)
	}
	s := &Sink{
		name:    d.Raw,
		dsn:     d.ConnString(),
		table:   d.Param("table"),
		declare: declare,
		log:     log.With().Str("table", d.Param("table")).Logger(),
	}
	switch d.Scheme {
	case core.SchemePostgres:
		s.driver, s.ph = "postgres", sq.Dollar
	case core.SchemeSQLite:
		s.driver, s.ph = "sqlite", sq.Question
	default:
		return nil, core.ConfigError("sink "+d.Raw, "not a relational scheme: %s", d.Scheme)
	}
	return s, nil
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Open(ctx context.Context) error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return core.ConnectError(s.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return core.ConnectError(s.name, err)
	}
	s.db = db

	existing, err := s.probe(ctx)
	switch {
	case err == nil:
		s.columns = make(map[string]bool, len(existing))
		for col := range existing {
			s.columns[col] = true
		}
		if err := checkColumns(existing, s.declare); err != nil {
			return core.ConfigError(s.name, "table %s: %v", s.table, err)
		}
	case len(s.declare) > 0:
		if err := s.create(ctx, s.declare); err != nil {
			return core.ConnectError(s.name, err)
		}
	default:
		// created from the first record
		s.log.Debug().Err(err).Msg("table not found")
	}
	s.log.Info().Str("driver", s.driver).Msg("relational sink opened")
	return nil
}

// probe returns the column types of the target table.
func (s *Sink) probe(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(s.table)+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(types))
	for _, t := range types {
		out[t.Name()] = t.DatabaseTypeName()
	}
	return out, rows.Err()
}

func (s *Sink) create(ctx context.Context, cols [][2]string) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c[0]) + " " + c[1]
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(s.table), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	s.columns = make(map[string]bool, len(cols))
	for _, c := range cols {
		s.columns[c[0]] = true
	}
	s.log.Info().Int("columns", len(cols)).Msg("table created")
	return nil
}

// ensureTable creates the table from rec when it did not exist at Open.
// Callers hold s.mu.
func (s *Sink) ensureTable(ctx context.Context, rec core.Record) error {
	if s.columns != nil {
		return nil
	}
	if err := s.create(ctx, s.inferColumns(rec)); err != nil {
		return core.WriteError(s.name, err)
	}
	return nil
}

// fits reports a validation error for a field the table has no column for.
// Callers hold s.mu.
func (s *Sink) fits(rec core.Record) error {
	var missing []string
	for _, k := range rec.Keys() {
		if !s.columns[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return core.ValidationError(s.name, fmt.Errorf("table %s has no column for %s", s.table, strings.Join(missing, ", ")))
	}
	return nil
}

// CheckRecord validates rec against the table's columns, creating the
// table from rec if this is the first record and there is no table yet.
func (s *Sink) CheckRecord(ctx context.Context, rec core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureTable(ctx, rec); err != nil {
		return err
	}
	return s.fits(rec)
}

func (s *Sink) Write(ctx context.Context, b core.Batch) error {
	if len(b) == 0 {
		return nil
	}
	s.mu.Lock()
	err := s.ensureTable(ctx, b[0])
	for i := 0; err == nil && i < len(b); i++ {
		err = s.fits(b[i])
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WriteError(s.name, err)
	}
	for _, rec := range b {
		cols := make([]string, 0, rec.Len())
		vals := make([]any, 0, rec.Len())
		rec.Range(func(k string, v core.Value) bool {
			cols = append(cols, quoteIdent(k))
			vals = append(vals, columnValue(v))
			return true
		})
		q, args, err := sq.Insert(quoteIdent(s.table)).Columns(cols...).Values(vals...).PlaceholderFormat(s.ph).ToSql()
		if err == nil {
			_, err = tx.ExecContext(ctx, q, args...)
		}
		if err != nil {
			_ = tx.Rollback()
			return core.WriteError(s.name, fmt.Errorf("insert into %s: %w", s.table, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return core.WriteError(s.name, err)
	}
	return nil
}

func (s *Sink) inferColumns(rec core.Record) [][2]string {
	cols := make([][2]string, 0, rec.Len())
	rec.Range(func(k string, v core.Value) bool {
		cols = append(cols, [2]string{k, s.columnType(v)})
		return true
	})
	return cols
}

func (s *Sink) columnType(v core.Value) string {
	switch v.Kind() {
	case core.KindBool:
		return "BOOLEAN"
	case core.KindNumber:
		if v.IsInt() {
			return "BIGINT"
		}
		return "DOUBLE PRECISION"
	case core.KindMap, core.KindList:
		if s.driver == "postgres" {
			return "JSONB"
		}
	}
	return "TEXT"
}

// Flush is a no-op: every Write commits its transaction.
func (s *Sink) Flush(ctx context.Context) error { return nil }

func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func columnValue(v core.Value) any {
	switch v.Kind() {
	case core.KindNull:
		return nil
	case core.KindBool:
		b, _ := v.AsBool()
		return b
	case core.KindNumber:
		if i, ok := v.AsInt(); ok {
			return i
		}
		f, _ := v.AsFloat()
		return f
	case core.KindString:
		s, _ := v.AsString()
		return s
	default:
		return core.Compact(v)
	}
}

func quoteIdent(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}
