package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, tenant_id, occurred_at, received_at, level, event_type, source, event_domain,
	message, error_name, error_code, stack_preview, stack_raw, stack_frames, context, breadcrumbs,
	route, thread_ref, category, fingerprint, issue_id,
	resolved_component_key, resolved_component_type, resolved_component_revision, resolved_component_revision_id,
	component_resolution_method, app_id, app_version, semver, release_id, source_commit, build_id, environment,
	user_ref, device, request_id, trace_id, session_id, retention_tier, retention_expires_at,
	symbolicated_stack, symbolication_status, symbolication_cache_type, symbolicated_at, symbolicated_by,
	symbolication_release_label`

// SaveEvent persists one accepted event. When issue is set, the issue upsert
// and the event insert commit together and the event is linked to the issue.
// It reports whether the issue was created.
func (s *PostgresStore) SaveEvent(ctx context.Context, e *domain.Event, issue *domain.IssueUpsert) (bool, error) {
	var created bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if issue != nil {
			id, isNew, err := upsertIssue(ctx, tx, *issue)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrIssueUpsert, err)
			}
			e.IssueID = &id
			created = isNew
		}
		return insertEvent(ctx, tx, e)
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e *domain.Event) error {
	frames, err := marshalJSON(e.StackFrames, "[]")
	if err != nil {
		return fmt.Errorf("encoding stack frames: %w", err)
	}
	eventCtx, err := marshalJSON(e.Context, "{}")
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}
	crumbs, err := marshalJSON(e.Breadcrumbs, "[]")
	if err != nil {
		return fmt.Errorf("encoding breadcrumbs: %w", err)
	}
	device, err := json.Marshal(e.Device)
	if err != nil {
		return fmt.Errorf("encoding device: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO obs_events (
			id, tenant_id, occurred_at, received_at, level, event_type, source, event_domain,
			message, error_name, error_code, stack_preview, stack_raw, stack_frames, context, breadcrumbs,
			route, thread_ref, category, fingerprint, issue_id,
			resolved_component_key, resolved_component_type, resolved_component_revision, resolved_component_revision_id,
			component_resolution_method, app_id, app_version, semver, release_id, source_commit, build_id, environment,
			user_ref, device, request_id, trace_id, session_id, retention_tier, retention_expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23, $24, $25,
			$26, $27, $28, $29, $30, $31, $32, $33,
			$34, $35, $36, $37, $38, $39, $40
		)
	`,
		e.ID, e.TenantID, e.OccurredAt, e.ReceivedAt, e.Level, e.EventType, e.Source, e.Domain,
		e.Message, e.ErrorName, e.ErrorCode, e.StackPreview, e.StackRaw, frames, eventCtx, crumbs,
		e.Route, e.ThreadRef, e.Category, e.Fingerprint, e.IssueID,
		e.ComponentKey, e.ComponentType, e.ComponentRevision, e.ComponentRevisionID,
		e.ResolutionMethod, e.Release.AppID, e.Release.AppVersion, e.Release.Semver, e.Release.ReleaseID,
		e.Release.SourceCommit, e.Release.BuildID, e.Release.Env,
		e.UserRef, device, e.RequestID, e.TraceID, e.SessionID, e.RetentionTier, e.RetentionExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// GetEvent returns one event of the tenant, or nil when it does not exist.
// Ids that are not UUIDs and an empty tenant never match.
func (s *PostgresStore) GetEvent(ctx context.Context, tenantID, id string) (*domain.Event, error) {
	if !scopedLookup(tenantID, id) {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM obs_events WHERE id = $1 AND tenant_id::text = $2
	`, id, tenantID)

	e, err := scanEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return e, nil
}

// ListIssueEvents returns the most recent events of an issue, newest first.
func (s *PostgresStore) ListIssueEvents(ctx context.Context, issueID string, limit int) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM obs_events WHERE issue_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, issueID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying issue events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating issue events: %w", err)
	}

	if events == nil {
		events = []domain.Event{}
	}

	return events, nil
}

// HasRecentFingerprint reports whether the tenant stored an event with the
// fingerprint at or after since.
func (s *PostgresStore) HasRecentFingerprint(ctx context.Context, tenantID, fingerprint string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM obs_events
			WHERE tenant_id = $1 AND fingerprint = $2 AND received_at >= $3
		)
	`, tenantID, fingerprint, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking recent fingerprint: %w", err)
	}
	return exists, nil
}

// SaveSymbolication writes the symbolication result and cache metadata of an event.
func (s *PostgresStore) SaveSymbolication(ctx context.Context, eventID string, sym *domain.Symbolication) error {
	var stack []byte
	if len(sym.Stack) > 0 {
		stack = sym.Stack
	}

	result, err := s.pool.Exec(ctx, `
		UPDATE obs_events SET
			symbolicated_stack = $2,
			symbolication_status = $3,
			symbolication_cache_type = $4,
			symbolicated_at = $5,
			symbolicated_by = $6,
			symbolication_release_label = $7
		WHERE id = $1
	`, eventID, stack, sym.Status, sym.CacheType, sym.At, sym.By, sym.ReleaseLabel)
	if err != nil {
		return fmt.Errorf("saving symbolication: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("event %s not found", eventID)
	}
	return nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e                                           domain.Event
		frames, eventCtx, crumbs, device, symStack  []byte
		symStatus, symCache, symBy, symReleaseLabel *string
		symAt                                       *time.Time
	)

	err := row.Scan(
		&e.ID, &e.TenantID, &e.OccurredAt, &e.ReceivedAt, &e.Level, &e.EventType, &e.Source, &e.Domain,
		&e.Message, &e.ErrorName, &e.ErrorCode, &e.StackPreview, &e.StackRaw, &frames, &eventCtx, &crumbs,
		&e.Route, &e.ThreadRef, &e.Category, &e.Fingerprint, &e.IssueID,
		&e.ComponentKey, &e.ComponentType, &e.ComponentRevision, &e.ComponentRevisionID,
		&e.ResolutionMethod, &e.Release.AppID, &e.Release.AppVersion, &e.Release.Semver, &e.Release.ReleaseID,
		&e.Release.SourceCommit, &e.Release.BuildID, &e.Release.Env,
		&e.UserRef, &device, &e.RequestID, &e.TraceID, &e.SessionID, &e.RetentionTier, &e.RetentionExpiresAt,
		&symStack, &symStatus, &symCache, &symAt, &symBy, &symReleaseLabel,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(frames, &e.StackFrames); err != nil {
		return nil, fmt.Errorf("decoding stack frames: %w", err)
	}
	if err := unmarshalJSON(eventCtx, &e.Context); err != nil {
		return nil, fmt.Errorf("decoding context: %w", err)
	}
	if err := unmarshalJSON(crumbs, &e.Breadcrumbs); err != nil {
		return nil, fmt.Errorf("decoding breadcrumbs: %w", err)
	}
	if err := unmarshalJSON(device, &e.Device); err != nil {
		return nil, fmt.Errorf("decoding device: %w", err)
	}

	if symStatus != nil {
		e.Symbolication = &domain.Symbolication{
			Stack:        symStack,
			Status:       *symStatus,
			CacheType:    deref(symCache),
			By:           deref(symBy),
			ReleaseLabel: deref(symReleaseLabel),
		}
		if symAt != nil {
			e.Symbolication.At = *symAt
		}
	}

	return &e, nil
}

// scopedLookup reports whether a tenant-scoped read by id can match at all.
func scopedLookup(tenantID, id string) bool {
	if strings.TrimSpace(tenantID) == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func marshalJSON(v any, empty string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return []byte(empty), nil
	}
	return data, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
