package store

import (
	"context"
	"fmt"
	"time"
)

// IngestStats holds aggregated ingestion counters for one tenant.
type IngestStats struct {
	TotalEvents        int            `json:"total_events"`
	EventsLast24h      int            `json:"events_last_24h"`
	ByLevel            map[string]int `json:"by_level"`
	OpenIssues         int            `json:"issues"`
	CatalogEntries     int            `json:"catalog_entries"`
	SymbolicatedEvents int            `json:"symbolicated_events"`
}

// GetIngestStats returns aggregated counters. An empty tenant means all tenants.
func (s *PostgresStore) GetIngestStats(ctx context.Context, tenantID string, now time.Time) (*IngestStats, error) {
	st := IngestStats{ByLevel: map[string]int{}}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE received_at >= $2) AS recent,
			COUNT(*) FILTER (WHERE symbolication_status = 'ok') AS symbolicated
		FROM obs_events
		WHERE ($1 = '' OR tenant_id::text = $1)
	`, tenantID, now.Add(-24*time.Hour)).Scan(&st.TotalEvents, &st.EventsLast24h, &st.SymbolicatedEvents)
	if err != nil {
		return nil, fmt.Errorf("querying event counts: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT level, COUNT(*) FROM obs_events
		WHERE ($1 = '' OR tenant_id::text = $1)
		GROUP BY level
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying level counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scanning level count: %w", err)
		}
		st.ByLevel[level] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating level counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM obs_issues WHERE ($1 = '' OR tenant_id::text = $1)
	`, tenantID).Scan(&st.OpenIssues)
	if err != nil {
		return nil, fmt.Errorf("querying issue count: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM obs_error_catalog WHERE ($1 = '' OR tenant_id::text = $1)
	`, tenantID).Scan(&st.CatalogEntries)
	if err != nil {
		return nil, fmt.Errorf("querying catalog count: %w", err)
	}

	return &st, nil
}
