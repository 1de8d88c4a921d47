package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

// Lookup returns the region of every identifier in ids that is stored.
// Identifiers that are absent are simply missing from the map.
func (s *Store) Lookup(ctx context.Context, ids []string) (map[string]string, error) {
	regions := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return regions, nil
	}

	rows, err := s.db.QueryContext(ctx, s.lookupSQL, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lookup %d identifiers in %s: %w", len(ids), s.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var inn, region string
		if err := rows.Scan(&inn, &region); err != nil {
			return nil, fmt.Errorf("scan lookup row: %w", err)
		}
		regions[inn] = region
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read lookup rows: %w", err)
	}
	return regions, nil
}
