package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/Priya8975/error-ingest/internal/engine"
	"github.com/Priya8975/error-ingest/internal/fingerprint"
	"github.com/Priya8975/error-ingest/internal/metrics"
	"github.com/Priya8975/error-ingest/internal/release"
	"github.com/Priya8975/error-ingest/internal/sanitize"
	"github.com/google/uuid"
)

// Batch-level failures. Nothing is persisted when one of these is returned.
var (
	ErrEmptyBatch       = errors.New("batch is empty")
	ErrBatchTooLarge    = errors.New("batch exceeds the item limit")
	ErrMalformedBatch   = errors.New("batch must be a JSON object or array")
	ErrTenantUnresolved = errors.New("tenant could not be resolved")
)

// Per-item error codes.
const (
	CodeInvalidItem       = "invalid_item"
	CodeEmptyMessage      = "empty_message"
	CodeInsertFailed      = "insert_failed"
	CodeIssueUpsertFailed = "issue_upsert_failed"
)

const (
	maxReportedErrors = 10
	maxIssueTitle     = 200

	// Column widths of the stored references.
	maxRefChars   = 255
	maxShortChars = 64
)

// Store persists accepted events and their aggregates. SaveEvent writes the
// event and its issue upsert atomically, sets e.IssueID, and reports whether
// the issue was created. Issue failures wrap domain.ErrIssueUpsert.
type Store interface {
	SaveEvent(ctx context.Context, e *domain.Event, issue *domain.IssueUpsert) (bool, error)
	UpsertErrorCatalog(ctx context.Context, entry domain.ErrorCatalogEntry) error
}

// TenantDirectory is the identity collaborator. Each lookup returns "" when
// nothing matches.
type TenantDirectory interface {
	TenantForUser(ctx context.Context, userID string) (string, error)
	TenantByOrigin(ctx context.Context, origin string) (string, error)
	TenantByName(ctx context.Context, name string) (string, error)
}

// Config holds the ingestion ceilings and retention periods.
type Config struct {
	MaxBatchItems     int
	MaxMessage        int
	MaxStackPreview   int
	MaxRawStack       int
	MaxBreadcrumbs    int
	MaxContextChars   int
	ShortRetention    time.Duration
	StandardRetention time.Duration
	LongRetention     time.Duration
}

// DefaultConfig returns the production ceilings.
func DefaultConfig() Config {
	return Config{
		MaxBatchItems:     20,
		MaxMessage:        1200,
		MaxStackPreview:   300,
		MaxRawStack:       16000,
		MaxBreadcrumbs:    50,
		MaxContextChars:   24000,
		ShortRetention:    14 * 24 * time.Hour,
		StandardRetention: 90 * 24 * time.Hour,
		LongRetention:     365 * 24 * time.Hour,
	}
}

// Request is one ingestion call as seen by the transport.
type Request struct {
	Body       []byte
	UserID     string
	Origin     string
	TenantHint string
	ClientIP   string
	UserAgent  string
}

// ItemError reports why one batch item was dropped.
type ItemError struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
}

// Result summarizes a processed batch.
type Result struct {
	Accepted      int         `json:"accepted"`
	Skipped       int         `json:"skipped"`
	IssuesTouched int         `json:"issues_touched"`
	Errors        []ItemError `json:"errors"`
	Reason        string      `json:"reason,omitempty"`
}

// Orchestrator runs batches through sanitizing, fingerprinting, the abuse
// guards and component resolution, then persists what survives.
type Orchestrator struct {
	store     Store
	tenants   TenantDirectory
	snapshots release.SnapshotSource
	gate      *engine.Gate
	scrubber  *sanitize.Scrubber
	metrics   *metrics.Collector
	cfg       Config
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewOrchestrator(
	store Store,
	tenants TenantDirectory,
	snapshots release.SnapshotSource,
	gate *engine.Gate,
	scrubber *sanitize.Scrubber,
	m *metrics.Collector,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		tenants:   tenants,
		snapshots: snapshots,
		gate:      gate,
		scrubber:  scrubber,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// itemOutcome is where one item left the pipeline.
type itemOutcome struct {
	accepted bool
	skipped  bool
	code     string
	issueID  string
}

// Ingest processes one batch. Items are handled in order and independently:
// a failing item is reported in the result and never aborts its siblings.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (*Result, error) {
	start := o.now()
	defer func() { o.metrics.ObserveBatch(o.now().Sub(start)) }()

	items, err := splitBatch(req.Body, o.cfg.MaxBatchItems)
	if err != nil {
		return nil, err
	}

	tenantID, err := o.resolveTenant(ctx, req)
	if err != nil {
		return nil, err
	}

	caller := engine.Caller{
		TenantID: tenantID,
		UserID:   strings.TrimSpace(req.UserID),
		IPHash:   hashWithTenant(tenantID, req.ClientIP),
	}

	result := &Result{Errors: []ItemError{}}

	if reason := o.gate.CheckBatch(ctx, caller); reason != "" {
		result.Skipped = len(items)
		result.Reason = reason
		o.metrics.EventSkipped(reason, len(items))
		o.logger.Info("batch skipped", "tenant_id", tenantID, "reason", reason, "items", len(items))
		return result, nil
	}

	resolver := release.NewResolver(o.snapshots)
	touched := make(map[string]struct{})

	for i, raw := range items {
		out := o.processItem(ctx, raw, req, caller, resolver)
		switch {
		case out.accepted:
			result.Accepted++
			if out.issueID != "" {
				touched[out.issueID] = struct{}{}
			}
		case out.skipped:
			result.Skipped++
		default:
			o.metrics.ItemError(out.code)
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, ItemError{Index: i, Code: out.code})
			}
		}
	}
	result.IssuesTouched = len(touched)

	o.logger.Info("batch ingested",
		"tenant_id", tenantID,
		"accepted", result.Accepted,
		"skipped", result.Skipped,
		"errors", len(items)-result.Accepted-result.Skipped,
		"issues_touched", result.IssuesTouched,
	)

	return result, nil
}

func (o *Orchestrator) processItem(ctx context.Context, raw json.RawMessage, req Request, caller engine.Caller, resolver *release.Resolver) itemOutcome {
	var item rawEvent
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&item); err != nil {
		return itemOutcome{code: CodeInvalidItem}
	}

	event, ok := o.buildEvent(&item, req, caller.TenantID)
	if !ok {
		return itemOutcome{code: CodeEmptyMessage}
	}

	if o.gate.IsDuplicate(ctx, event.TenantID, event.Fingerprint) {
		o.metrics.EventSkipped(engine.ReasonDuplicate, 1)
		return itemOutcome{skipped: true}
	}

	o.resolveComponent(ctx, event, &item, resolver)

	var issue *domain.IssueUpsert
	if event.Domain == domain.DomainObservability {
		issue = &domain.IssueUpsert{
			TenantID:    event.TenantID,
			Fingerprint: event.Fingerprint,
			Title:       issueTitle(event),
			Level:       event.Level,
			SeenAt:      event.OccurredAt,
			Release:     event.ReleaseLabel(),
			EventID:     event.ID,
		}
	}

	created, err := o.store.SaveEvent(ctx, event, issue)
	if err != nil {
		if errors.Is(err, domain.ErrIssueUpsert) {
			o.logger.Error("issue upsert failed", "error", err, "tenant_id", event.TenantID, "fingerprint", event.Fingerprint)
			return itemOutcome{code: CodeIssueUpsertFailed}
		}
		o.logger.Error("event insert failed", "error", err, "tenant_id", event.TenantID, "event_id", event.ID)
		return itemOutcome{code: CodeInsertFailed}
	}
	if created {
		o.metrics.IssueCreated()
	}
	var issueID string
	if event.IssueID != nil {
		issueID = *event.IssueID
	}

	if event.Domain == domain.DomainObservability && event.ErrorCode != "" {
		err := o.store.UpsertErrorCatalog(ctx, domain.ErrorCatalogEntry{
			TenantID:      event.TenantID,
			ErrorCode:     event.ErrorCode,
			SampleMessage: event.Message,
			SampleRoute:   event.Route,
			SampleContext: event.Context,
			FirstSeenAt:   event.OccurredAt,
			LastSeenAt:    event.OccurredAt,
		})
		if err != nil {
			o.logger.Warn("error catalog rollup failed", "error", err, "tenant_id", event.TenantID, "error_code", event.ErrorCode)
		}
	}

	o.gate.RecordAccepted(ctx, caller, event.ID)
	o.metrics.EventAccepted(event.Domain, event.Level)

	return itemOutcome{accepted: true, issueID: issueID}
}

// buildEvent normalizes and scrubs one item. It reports false when the item
// carries no usable message.
func (o *Orchestrator) buildEvent(item *rawEvent, req Request, tenantID string) (*domain.Event, bool) {
	now := o.now().UTC()
	s := o.scrubber

	var errName, errCode, stack, errMessage string
	if item.Error != nil {
		errName = strings.TrimSpace(item.Error.Name)
		errCode = strings.TrimSpace(item.Error.Code)
		stack = item.Error.Stack
		errMessage = item.Error.Message
	}
	if code := strings.TrimSpace(item.ErrorCode); code != "" {
		errCode = code
	}

	message := strings.TrimSpace(item.Message)
	if message == "" {
		message = strings.TrimSpace(errMessage)
	}
	message = sanitize.Truncate(s.ScrubString(message), o.cfg.MaxMessage)
	if message == "" {
		return nil, false
	}

	stackRaw := sanitize.Truncate(s.ScrubString(stack), o.cfg.MaxRawStack)
	preview := sanitize.Truncate(firstLine(stackRaw), o.cfg.MaxStackPreview)

	e := &domain.Event{
		ID:           o.newID(),
		TenantID:     tenantID,
		ReceivedAt:   now,
		OccurredAt:   parseTimestamp(item.Timestamp, now).Value,
		Level:        normalizeLevel(item.Level),
		EventType:    normalizeType(item.EventType),
		Source:       normalizeSource(item.Source),
		Domain:       normalizeDomain(item.Domain),
		Message:      message,
		ErrorName:    sanitize.Truncate(s.ScrubString(errName), 200),
		ErrorCode:    sanitize.Truncate(s.ScrubString(errCode), 120),
		StackPreview: preview,
		StackRaw:     stackRaw,
		StackFrames:  release.ParseStack(stackRaw),
		Context:      sanitize.CapSerialized(s.ScrubMap(item.Context), o.cfg.MaxContextChars),
		Breadcrumbs:  o.breadcrumbs(item.Breadcrumbs),
		Route:        sanitize.Truncate(s.ScrubString(strings.TrimSpace(item.Route)), 300),
		ThreadRef:    scrubRef(s, item.ThreadRef),
		Category:     scrubRef(s, item.Category),
		UserRef:      scrubRef(s, item.UserRef),
		RequestID:    capRef(item.RequestID, maxRefChars),
		TraceID:      capRef(item.TraceID, maxRefChars),
		SessionID:    capRef(item.SessionID, maxRefChars),
		Device: domain.Device{
			Browser: browserFamily(req.UserAgent),
			OS:      osFamily(req.UserAgent),
			UAHash:  hashWithTenant(tenantID, req.UserAgent),
			IPHash:  hashWithTenant(tenantID, req.ClientIP),
		},
		ResolutionMethod: domain.ResolutionUnresolved,
	}
	if e.UserRef == "" {
		e.UserRef = capRef(req.UserID, maxRefChars)
	}

	e.Release = domain.ReleaseInfo{
		AppID:        capRef(item.Release.AppID, maxRefChars),
		AppVersion:   capRef(item.Release.AppVersion, maxRefChars),
		Semver:       capRef(normalizeSemver(item.Release.Semver), maxShortChars),
		ReleaseID:    capRef(item.Release.ReleaseID, maxRefChars),
		SourceCommit: capRef(item.Release.SourceCommit, maxShortChars),
		BuildID:      capRef(item.Release.BuildID, maxRefChars),
		Env:          capRef(strings.ToLower(item.Release.Env), maxShortChars),
	}
	if e.Release.Semver == "" {
		e.Release.Semver = capRef(normalizeSemver(e.Release.AppVersion), maxShortChars)
	}

	if e.Domain == domain.DomainSupport {
		e.Fingerprint = fingerprint.Resolve(item.Fingerprint, func() string {
			return fingerprint.BuildSupport(fingerprint.SupportInput{
				UserRef:   e.UserRef,
				ThreadRef: e.ThreadRef,
				Category:  e.Category,
				Route:     e.Route,
				Message:   e.Message,
			})
		})
	} else {
		e.Fingerprint = fingerprint.Resolve(item.Fingerprint, func() string {
			return fingerprint.Build(fingerprint.Input{
				ErrorName:    e.ErrorName,
				ErrorCode:    e.ErrorCode,
				StackPreview: e.StackPreview,
				Route:        e.Route,
				Message:      e.Message,
				EventType:    e.EventType,
			})
		})
	}

	e.RetentionTier = retentionTier(e.Level, e.EventType)
	e.RetentionExpiresAt = now.Add(o.retention(e.RetentionTier))

	return e, true
}

func (o *Orchestrator) breadcrumbs(raw []map[string]any) []domain.Breadcrumb {
	if len(raw) == 0 {
		return nil
	}
	if len(raw) > o.cfg.MaxBreadcrumbs {
		raw = raw[len(raw)-o.cfg.MaxBreadcrumbs:]
	}

	crumbs := make([]domain.Breadcrumb, 0, len(raw))
	for _, entry := range raw {
		scrubbed := o.scrubber.ScrubMap(entry)
		crumb := domain.Breadcrumb{
			Timestamp: stringField(scrubbed, "timestamp"),
			Category:  stringField(scrubbed, "category"),
			Message:   sanitize.Truncate(stringField(scrubbed, "message"), 500),
			Level:     stringField(scrubbed, "level"),
		}
		if data, ok := scrubbed["data"].(map[string]any); ok {
			crumb.Data = sanitize.CapSerialized(data, 2000)
		}
		crumbs = append(crumbs, crumb)
	}
	return crumbs
}

func (o *Orchestrator) resolveComponent(ctx context.Context, e *domain.Event, item *rawEvent, resolver *release.Resolver) {
	var snap *domain.ReleaseSnapshot
	label := e.ReleaseLabel()
	if e.Release.AppID != "" && label != "" {
		var err error
		snap, err = resolver.Snapshot(ctx, domain.ReleaseKey{
			TenantID:     e.TenantID,
			AppID:        e.Release.AppID,
			Env:          e.Release.Env,
			VersionLabel: label,
		})
		if err != nil {
			o.logger.Warn("release snapshot lookup failed", "error", err, "tenant_id", e.TenantID, "app_id", e.Release.AppID)
		}
	}

	res := resolver.Resolve(e.StackFrames, snap, explicitComponent(item))
	e.ResolutionMethod = res.Method
	if res.Component == nil {
		return
	}

	c := *res.Component
	e.ComponentKey = &c.Key
	e.ComponentType = &c.Type
	e.ComponentRevision = &c.Revision
	e.ComponentRevisionID = &c.RevisionID
	if snap != nil {
		if e.Release.ReleaseID == "" {
			e.Release.ReleaseID = snap.VersionReleaseID
		}
		if e.Release.SourceCommit == "" {
			e.Release.SourceCommit = snap.SourceCommit
		}
	}
}

// resolveTenant tries the authenticated user, then the request origin, then
// the explicit hint. Lookup failures move on to the next source.
func (o *Orchestrator) resolveTenant(ctx context.Context, req Request) (string, error) {
	lookups := []struct {
		source string
		value  string
		find   func(context.Context, string) (string, error)
	}{
		{"user", req.UserID, o.tenants.TenantForUser},
		{"origin", req.Origin, o.tenants.TenantByOrigin},
		{"hint", req.TenantHint, o.tenants.TenantByName},
	}

	for _, l := range lookups {
		if strings.TrimSpace(l.value) == "" {
			continue
		}
		id, err := l.find(ctx, l.value)
		if err != nil {
			o.logger.Warn("tenant lookup failed", "source", l.source, "error", err)
			continue
		}
		if id != "" {
			return id, nil
		}
	}
	return "", ErrTenantUnresolved
}

func (o *Orchestrator) retention(tier string) time.Duration {
	switch tier {
	case domain.RetentionShort:
		return o.cfg.ShortRetention
	case domain.RetentionLong:
		return o.cfg.LongRetention
	default:
		return o.cfg.StandardRetention
	}
}

// splitBatch accepts a JSON array of items or a single bare object.
func splitBatch(body []byte, maxItems int) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyBatch
	}

	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBatch, err)
		}
	case '{':
		if !json.Valid(body) {
			return nil, ErrMalformedBatch
		}
		items = []json.RawMessage{json.RawMessage(body)}
	default:
		return nil, ErrMalformedBatch
	}

	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}
	if maxItems > 0 && len(items) > maxItems {
		return nil, ErrBatchTooLarge
	}
	return items, nil
}

func issueTitle(e *domain.Event) string {
	title := e.Message
	if e.ErrorName != "" {
		title = e.ErrorName + ": " + e.Message
	}
	return sanitize.Truncate(title, maxIssueTitle)
}

// capRef trims and bounds an opaque client identifier.
func capRef(v string, n int) string {
	return sanitize.Truncate(strings.TrimSpace(v), n)
}

// scrubRef bounds a free-form reference and masks any contact details in it.
func scrubRef(s *sanitize.Scrubber, v string) string {
	return sanitize.Truncate(s.ScrubString(strings.TrimSpace(v)), maxRefChars)
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}
