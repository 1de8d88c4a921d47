package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/msklv/inn-smsp-registry/internal/logging"
)

// CreateIndex builds the identifier lookup index without blocking reads and
// writes on the table. CONCURRENTLY cannot run inside a transaction, so the
// statement goes through a dedicated connection in autocommit mode. It is a
// no-op when a valid index already exists; an invalid leftover from an
// interrupted build is dropped and rebuilt.
func (s *Store) CreateIndex(ctx context.Context) error {
	defer logging.Timing(s.logger, "create index "+s.rawIdx)()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("index connection: %w", err)
	}
	defer conn.Close()

	exists, valid, err := s.indexState(ctx, conn)
	if err != nil {
		return err
	}
	if exists && !valid {
		s.logger.Warn("dropping invalid index left by an interrupted build", "index", s.rawIdx)
		if _, err := conn.ExecContext(ctx, "DROP INDEX CONCURRENTLY IF EXISTS "+s.qualifiedIndex()); err != nil {
			return fmt.Errorf("drop invalid index %s: %w", s.rawIdx, err)
		}
	}

	stmt := fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s (inn)", s.index, s.table)
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create index %s: %w", s.rawIdx, err)
	}
	return nil
}

// qualifiedIndex names the index in the table's schema.
func (s *Store) qualifiedIndex() string {
	if s.schema == "" {
		return s.index
	}
	return pq.QuoteIdentifier(s.schema) + "." + s.index
}

func (s *Store) indexState(ctx context.Context, conn *sql.Conn) (exists, valid bool, err error) {
	err = conn.QueryRowContext(ctx, `
		SELECT i.indisvalid
		FROM pg_index i
		WHERE i.indexrelid = to_regclass($1)
	`, s.qualifiedIndex()).Scan(&valid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("inspect index %s: %w", s.rawIdx, err)
	}
	return true, valid, nil
}
