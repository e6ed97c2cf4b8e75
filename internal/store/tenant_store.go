package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// TenantForUser returns the tenant of an authenticated user, or "" when unknown.
func (s *PostgresStore) TenantForUser(ctx context.Context, userID string) (string, error) {
	return s.tenantID(ctx, `SELECT tenant_id FROM tenant_users WHERE user_id = $1`, userID)
}

// TenantByOrigin returns the tenant that registered the request origin.
func (s *PostgresStore) TenantByOrigin(ctx context.Context, origin string) (string, error) {
	origin = strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
	return s.tenantID(ctx, `
		SELECT id FROM tenants
		WHERE EXISTS (SELECT 1 FROM unnest(origins) o WHERE lower(rtrim(o, '/')) = $1)
		ORDER BY created_at
		LIMIT 1
	`, origin)
}

// TenantByName resolves an explicit tenant hint.
func (s *PostgresStore) TenantByName(ctx context.Context, name string) (string, error) {
	return s.tenantID(ctx, `SELECT id FROM tenants WHERE lower(name) = lower($1)`, strings.TrimSpace(name))
}

func (s *PostgresStore) tenantID(ctx context.Context, query, arg string) (string, error) {
	if arg == "" {
		return "", nil
	}
	var id string
	err := s.pool.QueryRow(ctx, query, arg).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("resolving tenant: %w", err)
	}
	return id, nil
}
