package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/msklv/inn-smsp-registry/internal/registry"
)

// UpsertBatch writes records in a single transaction with one multi-row
// statement: new identifiers are inserted, existing ones get type, region,
// source file and updated_at overwritten. It returns the number of records
// applied, duplicates included.
//
// PostgreSQL refuses to update one row twice in a statement, so repeated
// identifiers are collapsed first, keeping the last occurrence.
func (s *Store) UpsertBatch(ctx context.Context, records []registry.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	inns, types, regions, files := columns(dedupeLast(records))
	if collapsed := len(records) - len(inns); collapsed > 0 {
		s.logger.Debug("collapsed repeated identifiers in batch", "collapsed", collapsed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.upsertSQL,
		pq.Array(inns), pq.Array(types), pq.Array(regions), pq.Array(files)); err != nil {
		return 0, fmt.Errorf("upsert %d records into %s: %w", len(inns), s.table, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return len(records), nil
}

// dedupeLast keeps one record per identifier, holding the values of its last
// occurrence at the position of its first.
func dedupeLast(records []registry.Record) []registry.Record {
	seen := make(map[string]int, len(records))
	out := make([]registry.Record, 0, len(records))
	for _, rec := range records {
		if i, ok := seen[rec.Identifier]; ok {
			out[i] = rec
			continue
		}
		seen[rec.Identifier] = len(out)
		out = append(out, rec)
	}
	return out
}

func columns(records []registry.Record) (inns, types, regions, files []string) {
	inns = make([]string, len(records))
	types = make([]string, len(records))
	regions = make([]string, len(records))
	files = make([]string, len(records))
	for i, rec := range records {
		inns[i] = rec.Identifier
		types[i] = string(rec.Type)
		regions[i] = rec.Region
		files[i] = rec.SourceFile
	}
	return inns, types, regions, files
}
