package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/jackc/pgx/v5"
)

const issueColumns = `id, tenant_id, fingerprint, title, level, first_seen_at, last_seen_at, last_release, last_event_id, event_count`

// upsertIssue creates the tenant's issue for the fingerprint or advances its
// last-seen pointers. Concurrent writers converge through the unique key.
func upsertIssue(ctx context.Context, tx pgx.Tx, u domain.IssueUpsert) (string, bool, error) {
	var (
		id      string
		created bool
	)
	err := tx.QueryRow(ctx, `
		INSERT INTO obs_issues (tenant_id, fingerprint, title, level, first_seen_at, last_seen_at, last_release, last_event_id, event_count)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, 1)
		ON CONFLICT (tenant_id, fingerprint) DO UPDATE SET
			last_seen_at = GREATEST(obs_issues.last_seen_at, EXCLUDED.last_seen_at),
			last_release = COALESCE(NULLIF(EXCLUDED.last_release, ''), obs_issues.last_release),
			last_event_id = EXCLUDED.last_event_id,
			event_count = obs_issues.event_count + 1
		RETURNING id, (xmax = 0) AS created
	`, u.TenantID, u.Fingerprint, u.Title, u.Level, u.SeenAt, u.Release, u.EventID).Scan(&id, &created)
	if err != nil {
		return "", false, fmt.Errorf("upserting issue: %w", err)
	}
	return id, created, nil
}

// GetIssue returns one issue of the tenant, or nil when it does not exist.
func (s *PostgresStore) GetIssue(ctx context.Context, tenantID, id string) (*domain.Issue, error) {
	if !scopedLookup(tenantID, id) {
		return nil, nil
	}
	var is domain.Issue
	err := s.pool.QueryRow(ctx, `
		SELECT `+issueColumns+`
		FROM obs_issues WHERE id = $1 AND tenant_id::text = $2
	`, id, tenantID).Scan(
		&is.ID, &is.TenantID, &is.Fingerprint, &is.Title, &is.Level,
		&is.FirstSeenAt, &is.LastSeenAt, &is.LastRelease, &is.LastEventID, &is.EventCount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying issue: %w", err)
	}
	return &is, nil
}

// ListIssues returns the tenant's issues ordered by last activity.
func (s *PostgresStore) ListIssues(ctx context.Context, tenantID, level string, limit int) ([]domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM obs_issues WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argIdx := 2

	if level != "" {
		query += fmt.Sprintf(" AND level = $%d", argIdx)
		args = append(args, level)
		argIdx++
	}

	query += " ORDER BY last_seen_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying issues: %w", err)
	}
	defer rows.Close()

	var issues []domain.Issue
	for rows.Next() {
		var is domain.Issue
		err := rows.Scan(
			&is.ID, &is.TenantID, &is.Fingerprint, &is.Title, &is.Level,
			&is.FirstSeenAt, &is.LastSeenAt, &is.LastRelease, &is.LastEventID, &is.EventCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning issue: %w", err)
		}
		issues = append(issues, is)
	}

	if issues == nil {
		issues = []domain.Issue{}
	}

	return issues, nil
}

// UpsertErrorCatalog rolls an occurrence into the tenant's entry for the error code.
func (s *PostgresStore) UpsertErrorCatalog(ctx context.Context, entry domain.ErrorCatalogEntry) error {
	sample, err := marshalJSON(entry.SampleContext, "{}")
	if err != nil {
		return fmt.Errorf("encoding sample context: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO obs_error_catalog (tenant_id, error_code, sample_message, sample_route, sample_context, occurrences, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		ON CONFLICT (tenant_id, error_code) DO UPDATE SET
			sample_message = EXCLUDED.sample_message,
			sample_route = EXCLUDED.sample_route,
			sample_context = EXCLUDED.sample_context,
			occurrences = obs_error_catalog.occurrences + 1,
			last_seen_at = GREATEST(obs_error_catalog.last_seen_at, EXCLUDED.last_seen_at)
	`, entry.TenantID, entry.ErrorCode, entry.SampleMessage, entry.SampleRoute, sample, entry.LastSeenAt)
	if err != nil {
		return fmt.Errorf("upserting error catalog: %w", err)
	}
	return nil
}

// ListErrorCatalog returns the tenant's catalog entries, most recently seen first.
func (s *PostgresStore) ListErrorCatalog(ctx context.Context, tenantID string, limit int) ([]domain.ErrorCatalogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, error_code, sample_message, sample_route, sample_context, occurrences, first_seen_at, last_seen_at
		FROM obs_error_catalog
		WHERE tenant_id = $1
		ORDER BY last_seen_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying error catalog: %w", err)
	}
	defer rows.Close()

	var entries []domain.ErrorCatalogEntry
	for rows.Next() {
		var (
			e      domain.ErrorCatalogEntry
			sample []byte
		)
		err := rows.Scan(&e.TenantID, &e.ErrorCode, &e.SampleMessage, &e.SampleRoute, &sample,
			&e.Occurrences, &e.FirstSeenAt, &e.LastSeenAt)
		if err != nil {
			return nil, fmt.Errorf("scanning error catalog entry: %w", err)
		}
		if err := unmarshalJSON(sample, &e.SampleContext); err != nil {
			return nil, fmt.Errorf("decoding sample context: %w", err)
		}
		entries = append(entries, e)
	}

	if entries == nil {
		entries = []domain.ErrorCatalogEntry{}
	}

	return entries, nil
}
