package domain

import (
	"encoding/json"
	"time"
)

// Event levels.
const (
	LevelFatal = "fatal"
	LevelError = "error"
	LevelWarn  = "warn"
	LevelInfo  = "info"
	LevelDebug = "debug"
)

// Event types.
const (
	TypeError       = "error"
	TypeLog         = "log"
	TypePerformance = "performance"
	TypeSecurity    = "security"
	TypeAudit       = "audit"
)

// Event sources.
const (
	SourceWeb    = "web"
	SourceEdge   = "edge"
	SourceWorker = "worker"
)

// Event domains.
const (
	DomainObservability = "observability"
	DomainSupport       = "support"
)

// Retention tiers.
const (
	RetentionShort    = "short"
	RetentionStandard = "standard"
	RetentionLong     = "long"
)

// Component resolution methods.
const (
	ResolutionUnresolved      = "unresolved"
	ResolutionExplicitContext = "explicit_context"
	ResolutionStackPathGlob   = "stack_path_glob"
)

// StackFrame is one parsed line of a stack trace.
type StackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Function string `json:"function,omitempty"`
}

// Breadcrumb is a client-recorded step leading up to the event.
type Breadcrumb struct {
	Timestamp string         `json:"timestamp,omitempty"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message,omitempty"`
	Level     string         `json:"level,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Device is the privacy-preserving summary of the client that sent the event.
type Device struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	UAHash  string `json:"ua_hash,omitempty"`
	IPHash  string `json:"ip_hash,omitempty"`
}

// ReleaseInfo identifies the build that produced the event.
type ReleaseInfo struct {
	AppID        string `json:"app_id,omitempty"`
	AppVersion   string `json:"app_version,omitempty"`
	Semver       string `json:"semver,omitempty"`
	ReleaseID    string `json:"release_id,omitempty"`
	SourceCommit string `json:"source_commit,omitempty"`
	BuildID      string `json:"build_id,omitempty"`
	Env          string `json:"env,omitempty"`
}

// Symbolication is the stored result of the last symbolication run on an event.
type Symbolication struct {
	Stack        json.RawMessage `json:"stack,omitempty"`
	Status       string          `json:"status"`
	CacheType    string          `json:"cache_type"`
	At           time.Time       `json:"at"`
	By           string          `json:"by,omitempty"`
	ReleaseLabel string          `json:"release_label,omitempty"`
}

// Event is one accepted ingestion item. Events are append-only apart from
// the symbolication fields.
type Event struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at"`

	Level     string `json:"level"`
	EventType string `json:"event_type"`
	Source    string `json:"source"`
	Domain    string `json:"event_domain"`

	Message      string          `json:"message"`
	ErrorName    string          `json:"error_name,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	StackPreview string          `json:"stack_preview,omitempty"`
	StackRaw     string          `json:"stack_raw,omitempty"`
	StackFrames  []StackFrame    `json:"stack_frames,omitempty"`
	Context      map[string]any  `json:"context,omitempty"`
	Breadcrumbs  []Breadcrumb    `json:"breadcrumbs,omitempty"`
	Route        string          `json:"route,omitempty"`
	ThreadRef    string          `json:"thread_ref,omitempty"`
	Category     string          `json:"category,omitempty"`
	Raw          json.RawMessage `json:"-"`

	Fingerprint         string  `json:"fingerprint"`
	IssueID             *string `json:"issue_id,omitempty"`
	ComponentKey        *string `json:"resolved_component_key,omitempty"`
	ComponentType       *string `json:"resolved_component_type,omitempty"`
	ComponentRevision   *int    `json:"resolved_component_revision,omitempty"`
	ComponentRevisionID *string `json:"resolved_component_revision_id,omitempty"`
	ResolutionMethod    string  `json:"component_resolution_method"`

	Release ReleaseInfo `json:"release"`

	UserRef   string `json:"user_ref,omitempty"`
	Device    Device `json:"device"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	RetentionTier      string    `json:"retention_tier"`
	RetentionExpiresAt time.Time `json:"retention_expires_at"`

	Symbolication *Symbolication `json:"symbolication,omitempty"`
}

// ReleaseLabel returns the label used to describe the event's release.
func (e *Event) ReleaseLabel() string {
	if e.Release.AppVersion != "" {
		return e.Release.AppVersion
	}
	return e.Release.Semver
}
