// Package store persists identifier → region records in PostgreSQL.
//
// All writes go through UpsertBatch, one transaction per batch. Reads go
// through Lookup, one set-membership query per batch.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/msklv/inn-smsp-registry/internal/logging"
)

// Store is a PostgreSQL-backed registry table.
type Store struct {
	db     *sql.DB
	table  string // quoted, possibly schema-qualified
	schema string // raw schema name, empty for the search_path default
	index  string // quoted, unqualified
	rawIdx string
	logger *slog.Logger

	upsertSQL string
	lookupSQL string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Store for table (optionally "schema.table") and the lookup
// index name built by CreateIndex.
func New(db *sql.DB, table, index string, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: nil db")
	}
	quoted, schema, err := quoteQualified(table)
	if err != nil {
		return nil, err
	}
	if index == "" || strings.Contains(index, ".") {
		return nil, fmt.Errorf("store: invalid index name %q", index)
	}

	s := &Store{
		db:     db,
		table:  quoted,
		schema: schema,
		index:  pq.QuoteIdentifier(index),
		rawIdx: index,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upsertSQL = fmt.Sprintf(`
		INSERT INTO %s AS cur (inn, inn_type, kodregion, source_file)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
		ON CONFLICT (inn) DO UPDATE SET
			inn_type    = EXCLUDED.inn_type,
			kodregion   = EXCLUDED.kodregion,
			source_file = EXCLUDED.source_file,
			updated_at  = GREATEST(now(), cur.updated_at)
	`, s.table)

	s.lookupSQL = fmt.Sprintf(`SELECT inn, kodregion FROM %s WHERE inn = ANY($1::text[])`, s.table)

	return s, nil
}

// Table returns the quoted table name.
func (s *Store) Table() string { return s.table }

// quoteQualified quotes "table" or "schema.table" and returns the schema part.
func quoteQualified(name string) (quoted, schema string, err error) {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", "", fmt.Errorf("store: invalid table name %q", name)
	}
	for i, p := range parts {
		if p == "" {
			return "", "", fmt.Errorf("store: invalid table name %q", name)
		}
		parts[i] = pq.QuoteIdentifier(p)
	}
	if len(parts) == 2 {
		schema = strings.Split(name, ".")[0]
	}
	return strings.Join(parts, "."), schema, nil
}

// EnsureSchema creates the table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			inn         TEXT        PRIMARY KEY,
			inn_type    CHAR(2)     NOT NULL,
			kodregion   TEXT        NOT NULL CHECK (kodregion <> ''),
			source_file TEXT,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, s.table)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Count returns the number of stored identifiers.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.table, err)
	}
	return n, nil
}
