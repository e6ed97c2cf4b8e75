package domain

import (
	"errors"
	"time"
)

// ErrIssueUpsert marks a persistence failure in the issue aggregate rather
// than in the event row.
var ErrIssueUpsert = errors.New("issue upsert failed")

// Issue groups every observability event of a tenant sharing one fingerprint.
type Issue struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Fingerprint string    `json:"fingerprint"`
	Title       string    `json:"title"`
	Level       string    `json:"level"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LastRelease string    `json:"last_release,omitempty"`
	LastEventID string    `json:"last_event_id"`
	EventCount  int       `json:"event_count"`
}

// IssueUpsert carries the fields written by one event into its issue.
type IssueUpsert struct {
	TenantID    string
	Fingerprint string
	Title       string
	Level       string
	SeenAt      time.Time
	Release     string
	EventID     string
}

// ErrorCatalogEntry is the tenant-scoped rollup of one error code.
type ErrorCatalogEntry struct {
	TenantID      string         `json:"tenant_id"`
	ErrorCode     string         `json:"error_code"`
	SampleMessage string         `json:"sample_message"`
	SampleRoute   string         `json:"sample_route,omitempty"`
	SampleContext map[string]any `json:"sample_context,omitempty"`
	Occurrences   int            `json:"occurrences"`
	FirstSeenAt   time.Time      `json:"first_seen_at"`
	LastSeenAt    time.Time      `json:"last_seen_at"`
}
