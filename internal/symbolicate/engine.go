package symbolicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Priya8975/error-ingest/internal/blob"
	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/Priya8975/error-ingest/internal/metrics"
	"github.com/Priya8975/error-ingest/internal/release"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrIssueNotFound = errors.New("issue not found")
	ErrForbidden     = errors.New("operator may not symbolicate this event")
)

// Persisted statuses.
const (
	StatusOK                     = "ok"
	StatusReleaseNotFound        = "error:release_not_found"
	StatusManifestPathMissing    = "error:manifest_path_missing"
	StatusManifestDownloadFailed = "error:manifest_download_failed"
	StatusManifestInvalidJSON    = "error:manifest_invalid_json"
	StatusNoStackFrames          = "error:no_stack_frames"
	StatusNoMappedFrames         = "error:no_mapped_frames"
)

// Cache types.
const (
	CacheShort = "short"
	CacheLong  = "long"
)

// Store reads events and issues and records symbolication results.
type Store interface {
	GetEvent(ctx context.Context, tenantID, id string) (*domain.Event, error)
	GetIssue(ctx context.Context, tenantID, id string) (*domain.Issue, error)
	ListIssueEvents(ctx context.Context, issueID string, limit int) ([]domain.Event, error)
	SaveSymbolication(ctx context.Context, eventID string, sym *domain.Symbolication) error
}

// ReleaseFinder is the release-management collaborator. Empty buildID or env
// match any release. It returns (nil, nil) when nothing matches.
type ReleaseFinder interface {
	FindRelease(ctx context.Context, tenantID, appID, versionLabel, buildID, env string) (*domain.Release, error)
}

// Config holds the cache freshness policy.
type Config struct {
	ShortTTL       time.Duration
	LongTTL        time.Duration
	MaxIssueEvents int
}

func DefaultConfig() Config {
	return Config{
		ShortTTL:       48 * time.Hour,
		LongTTL:        30 * 24 * time.Hour,
		MaxIssueEvents: 200,
	}
}

// Options are the caller's choices for one run.
type Options struct {
	CacheType string
	Force     bool
}

// OriginalPosition is where a generated frame came from.
type OriginalPosition struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Name   string `json:"name,omitempty"`
}

// Frame is a stack frame with its original position when one was found.
type Frame struct {
	domain.StackFrame
	Original *OriginalPosition `json:"original,omitempty"`
}

// EventResult is the outcome of symbolicating one event.
type EventResult struct {
	EventID      string  `json:"event_id"`
	Status       string  `json:"status"`
	Cached       bool    `json:"cached"`
	CacheType    string  `json:"cache_type"`
	MappedFrames int     `json:"mapped_frames"`
	Frames       []Frame `json:"frames,omitempty"`
}

// IssueResult aggregates a run over an issue's recent events.
type IssueResult struct {
	IssueID             string `json:"issue_id"`
	Processed           int    `json:"processed"`
	Cached              int    `json:"cached"`
	Failed              int    `json:"failed"`
	SkippedUnauthorized int    `json:"skipped_unauthorized"`
}

// Engine resolves minified stack frames through the release's source maps.
type Engine struct {
	store    Store
	releases ReleaseFinder
	blobs    blob.Store
	metrics  *metrics.Collector
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Store, releases ReleaseFinder, blobs blob.Store, m *metrics.Collector, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		releases: releases,
		blobs:    blobs,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SymbolicateEvent runs one event of the actor's tenant.
func (e *Engine) SymbolicateEvent(ctx context.Context, actor *domain.Actor, eventID string, opts Options) (*EventResult, error) {
	event, err := e.store.GetEvent(ctx, actor.TenantID, eventID)
	if err != nil {
		return nil, fmt.Errorf("loading event: %w", err)
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	if !actor.CanAccessUser(event.UserRef) {
		return nil, ErrForbidden
	}

	maps := newMapCache(e.blobs, e.metrics)
	defer maps.Close()

	return e.run(ctx, actor, event, opts, maps)
}

// SymbolicateIssue runs the issue's most recent events one at a time. Events
// the actor may not access are counted and left untouched.
func (e *Engine) SymbolicateIssue(ctx context.Context, actor *domain.Actor, issueID string, opts Options) (*IssueResult, error) {
	issue, err := e.store.GetIssue(ctx, actor.TenantID, issueID)
	if err != nil {
		return nil, fmt.Errorf("loading issue: %w", err)
	}
	if issue == nil {
		return nil, ErrIssueNotFound
	}

	events, err := e.store.ListIssueEvents(ctx, issue.ID, e.cfg.MaxIssueEvents)
	if err != nil {
		return nil, fmt.Errorf("loading issue events: %w", err)
	}

	maps := newMapCache(e.blobs, e.metrics)
	defer maps.Close()

	result := &IssueResult{IssueID: issue.ID}
	for i := range events {
		event := &events[i]
		if !actor.CanAccessUser(event.UserRef) {
			result.SkippedUnauthorized++
			continue
		}

		res, err := e.run(ctx, actor, event, opts, maps)
		switch {
		case err != nil:
			e.logger.Error("symbolication failed", "error", err, "event_id", event.ID)
			result.Failed++
		case res.Cached:
			result.Cached++
		case res.Status != StatusOK:
			result.Failed++
		default:
			result.Processed++
		}
	}

	e.logger.Info("issue symbolicated",
		"issue_id", issue.ID,
		"processed", result.Processed,
		"cached", result.Cached,
		"failed", result.Failed,
		"skipped_unauthorized", result.SkippedUnauthorized,
	)

	return result, nil
}

func (e *Engine) run(ctx context.Context, actor *domain.Actor, event *domain.Event, opts Options, maps *mapCache) (*EventResult, error) {
	start := e.now()
	cacheType := normalizeCacheType(opts.CacheType)

	if res, ok, err := e.reuse(ctx, actor, event, cacheType, opts.Force); err != nil || ok {
		if ok {
			e.metrics.Symbolicated(res.Status, true, 0)
		}
		return res, err
	}

	status, frames, mapped, err := e.compute(ctx, event, maps)
	if errors.Is(err, blob.ErrUnavailable) {
		e.logger.Warn("artifact store unavailable", "error", err, "event_id", event.ID)
		e.metrics.Symbolicated(StatusManifestDownloadFailed, false, e.now().Sub(start))
		return &EventResult{EventID: event.ID, Status: StatusManifestDownloadFailed, CacheType: cacheType}, nil
	}
	if err != nil {
		return nil, err
	}

	sym := &domain.Symbolication{
		Status:       status,
		CacheType:    cacheType,
		At:           e.now().UTC(),
		By:           actor.UserID,
		ReleaseLabel: event.ReleaseLabel(),
	}
	if status == StatusOK {
		stack, err := json.Marshal(frames)
		if err != nil {
			return nil, fmt.Errorf("encoding symbolicated stack: %w", err)
		}
		sym.Stack = stack
	}

	if err := e.store.SaveSymbolication(ctx, event.ID, sym); err != nil {
		return nil, fmt.Errorf("saving symbolication: %w", err)
	}
	event.Symbolication = sym
	e.metrics.Symbolicated(status, false, e.now().Sub(start))

	res := &EventResult{
		EventID:      event.ID,
		Status:       status,
		CacheType:    cacheType,
		MappedFrames: mapped,
	}
	if status == StatusOK {
		res.Frames = frames
	}
	return res, nil
}

// reuse returns the stored result while it is fresh for its recorded cache
// type. A fresh short entry asked for as long is promoted in place.
func (e *Engine) reuse(ctx context.Context, actor *domain.Actor, event *domain.Event, cacheType string, force bool) (*EventResult, bool, error) {
	sym := event.Symbolication
	if force || sym == nil || sym.Status == "" {
		return nil, false, nil
	}

	recorded := normalizeCacheType(sym.CacheType)
	if e.now().Sub(sym.At) >= e.ttl(recorded) {
		return nil, false, nil
	}

	if cacheType == CacheLong && recorded == CacheShort {
		promoted := *sym
		promoted.CacheType = CacheLong
		promoted.By = actor.UserID
		if err := e.store.SaveSymbolication(ctx, event.ID, &promoted); err != nil {
			return nil, false, fmt.Errorf("promoting symbolication: %w", err)
		}
		event.Symbolication = &promoted
		sym = &promoted
		recorded = CacheLong
	}

	res := &EventResult{
		EventID:   event.ID,
		Status:    sym.Status,
		Cached:    true,
		CacheType: recorded,
	}
	if len(sym.Stack) > 0 {
		if err := json.Unmarshal(sym.Stack, &res.Frames); err != nil {
			// An unreadable stored stack is recomputed.
			return nil, false, nil
		}
		for _, f := range res.Frames {
			if f.Original != nil {
				res.MappedFrames++
			}
		}
	}
	return res, true, nil
}

// compute maps the event's frames. Outcomes are returned as statuses; a
// failing release lookup or an unavailable artifact store is an error instead,
// so that the outcome is not persisted and the next run retries.
func (e *Engine) compute(ctx context.Context, event *domain.Event, maps *mapCache) (string, []Frame, int, error) {
	stack := event.StackFrames
	if len(stack) == 0 {
		stack = release.ParseStack(event.StackRaw)
	}
	if len(stack) == 0 {
		return StatusNoStackFrames, nil, 0, nil
	}

	rel, err := e.findRelease(ctx, event)
	if err != nil {
		return "", nil, 0, fmt.Errorf("finding release: %w", err)
	}
	if rel == nil {
		return StatusReleaseNotFound, nil, 0, nil
	}

	bucket, manifestPath := rel.ManifestPointer()
	if bucket == "" || manifestPath == "" {
		return StatusManifestPathMissing, nil, 0, nil
	}

	data, err := e.blobs.Get(ctx, bucket, manifestPath)
	e.metrics.BlobFetched("manifest", err)
	if errors.Is(err, blob.ErrUnavailable) {
		return "", nil, 0, fmt.Errorf("downloading manifest: %w", err)
	}
	if err != nil {
		e.logger.Warn("manifest download failed", "error", err, "release_id", rel.ID, "path", manifestPath)
		return StatusManifestDownloadFailed, nil, 0, nil
	}

	man, err := parseManifest(data, bucket, manifestPath)
	if err != nil {
		return StatusManifestInvalidJSON, nil, 0, nil
	}

	frames := make([]Frame, len(stack))
	mapped := 0
	for i, sf := range stack {
		frames[i] = Frame{StackFrame: sf}
		if sf.Line <= 0 {
			continue
		}
		mapPath, ok := man.lookup(sf.File)
		if !ok {
			continue
		}
		consumer := maps.get(ctx, man.bucket, mapPath)
		if consumer == nil {
			continue
		}

		column := sf.Column - 1
		if column < 0 {
			column = 0
		}
		source, name, line, col, ok := consumer.Source(sf.Line, column)
		if !ok {
			continue
		}
		frames[i].Original = &OriginalPosition{Source: source, Line: line, Column: col, Name: name}
		mapped++
	}

	if mapped == 0 {
		return StatusNoMappedFrames, nil, 0, nil
	}
	return StatusOK, frames, mapped, nil
}

// findRelease tries the event's full release key, then the version label alone.
func (e *Engine) findRelease(ctx context.Context, event *domain.Event) (*domain.Release, error) {
	label := event.ReleaseLabel()
	if event.Release.AppID == "" || label == "" {
		return nil, nil
	}

	rel, err := e.releases.FindRelease(ctx, event.TenantID, event.Release.AppID, label, event.Release.BuildID, event.Release.Env)
	if err != nil || rel != nil {
		return rel, err
	}
	if event.Release.BuildID == "" && event.Release.Env == "" {
		return nil, nil
	}
	return e.releases.FindRelease(ctx, event.TenantID, event.Release.AppID, label, "", "")
}

func (e *Engine) ttl(cacheType string) time.Duration {
	if cacheType == CacheLong {
		return e.cfg.LongTTL
	}
	return e.cfg.ShortTTL
}

func normalizeCacheType(v string) string {
	if strings.ToLower(strings.TrimSpace(v)) == CacheLong {
		return CacheLong
	}
	return CacheShort
}
