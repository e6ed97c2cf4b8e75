package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/jackc/pgx/v5"
)

// LoadSnapshot returns the release snapshot for key. It serves the shared
// snapshot cache while the row is younger than the snapshot TTL and otherwise
// assembles the snapshot from the release tables, refreshing the cache.
// Returns (nil, nil) when no release matches.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, key domain.ReleaseKey) (*domain.ReleaseSnapshot, error) {
	snap := domain.ReleaseSnapshot{Key: key}
	var (
		components  []byte
		refreshedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT version_release_id, source_commit, components, COALESCE(refreshed_at, to_timestamp(0))
		FROM release_snapshots
		WHERE tenant_id = $1 AND app_id = $2 AND env = $3 AND version_label = $4
	`, key.TenantID, key.AppID, key.Env, key.VersionLabel).Scan(&snap.VersionReleaseID, &snap.SourceCommit, &components, &refreshedAt)
	switch {
	case err == nil && snapshotFresh(refreshedAt, time.Now(), s.snapshotTTL):
		if err := json.Unmarshal(components, &snap.Components); err != nil {
			return nil, fmt.Errorf("decoding snapshot components: %w", err)
		}
		return &snap, nil
	case err != nil && err != pgx.ErrNoRows:
		return nil, fmt.Errorf("querying release snapshot: %w", err)
	}

	rel, err := s.FindRelease(ctx, key.TenantID, key.AppID, key.VersionLabel, "", key.Env)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, nil
	}

	snap.VersionReleaseID = rel.ID
	snap.SourceCommit = rel.SourceCommit
	snap.Components, err = s.releaseComponents(ctx, rel.ID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(snap.Components)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot components: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO release_snapshots (tenant_id, app_id, env, version_label, version_release_id, source_commit, components, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, app_id, env, version_label) DO UPDATE SET
			version_release_id = EXCLUDED.version_release_id,
			source_commit = EXCLUDED.source_commit,
			components = EXCLUDED.components,
			refreshed_at = NOW()
	`, key.TenantID, key.AppID, key.Env, key.VersionLabel, snap.VersionReleaseID, snap.SourceCommit, encoded)
	if err != nil {
		return nil, fmt.Errorf("caching release snapshot: %w", err)
	}

	return &snap, nil
}

// snapshotFresh reports whether a cached snapshot refreshed at refreshedAt may
// still be served.
func snapshotFresh(refreshedAt, now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(refreshedAt) < ttl
}

func (s *PostgresStore) releaseComponents(ctx context.Context, releaseID string) ([]domain.Component, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT component_key, component_type, revision_no, revision_id, path_globs
		FROM release_components
		WHERE release_id = $1
		ORDER BY position
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("querying release components: %w", err)
	}
	defer rows.Close()

	var components []domain.Component
	for rows.Next() {
		var c domain.Component
		if err := rows.Scan(&c.Key, &c.Type, &c.Revision, &c.RevisionID, &c.PathGlobs); err != nil {
			return nil, fmt.Errorf("scanning release component: %w", err)
		}
		components = append(components, c)
	}
	return components, nil
}

// FindRelease returns the newest release of the app matching the version
// label. Empty buildID or env match any value. Returns (nil, nil) when none matches.
func (s *PostgresStore) FindRelease(ctx context.Context, tenantID, appID, versionLabel, buildID, env string) (*domain.Release, error) {
	var (
		r        domain.Release
		metadata []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, app_id, version_label, build_id, env, semver, source_commit, metadata, created_at
		FROM releases
		WHERE tenant_id = $1 AND app_id = $2 AND version_label = $3
		  AND ($4 = '' OR build_id = $4)
		  AND ($5 = '' OR env = $5)
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, appID, versionLabel, buildID, env).Scan(
		&r.ID, &r.TenantID, &r.AppID, &r.VersionLabel, &r.BuildID, &r.Env,
		&r.Semver, &r.SourceCommit, &metadata, &r.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying release: %w", err)
	}
	if err := unmarshalJSON(metadata, &r.Metadata); err != nil {
		return nil, fmt.Errorf("decoding release metadata: %w", err)
	}
	return &r, nil
}
