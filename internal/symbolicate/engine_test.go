package symbolicate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Priya8975/error-ingest/internal/blob"
	"github.com/Priya8975/error-ingest/internal/domain"
)

const testMap = `{"version":3,"file":"app.min.js","sources":["src/payments/charge.ts"],"names":["chargeCard"],"mappings":"AAAAA"}`

type memStore struct {
	events map[string]*domain.Event
	issues map[string]*domain.Issue
	saves  int
}

func (s *memStore) GetEvent(_ context.Context, tenantID, id string) (*domain.Event, error) {
	e, ok := s.events[id]
	if !ok || (tenantID != "" && e.TenantID != tenantID) {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) GetIssue(_ context.Context, tenantID, id string) (*domain.Issue, error) {
	is, ok := s.issues[id]
	if !ok || is.TenantID != tenantID {
		return nil, nil
	}
	return is, nil
}

func (s *memStore) ListIssueEvents(_ context.Context, issueID string, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range s.events {
		if e.IssueID != nil && *e.IssueID == issueID && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memStore) SaveSymbolication(_ context.Context, eventID string, sym *domain.Symbolication) error {
	e, ok := s.events[eventID]
	if !ok {
		return errors.New("no such event")
	}
	cp := *sym
	e.Symbolication = &cp
	s.saves++
	return nil
}

type memReleases struct {
	releases []domain.Release
	lookups  int
}

func (m *memReleases) FindRelease(_ context.Context, tenantID, appID, label, buildID, env string) (*domain.Release, error) {
	m.lookups++
	for i := range m.releases {
		r := &m.releases[i]
		if r.TenantID == tenantID && r.AppID == appID && r.VersionLabel == label &&
			(buildID == "" || r.BuildID == buildID) && (env == "" || r.Env == env) {
			return r, nil
		}
	}
	return nil, nil
}

type memBlobs struct {
	objects map[string][]byte
	gets    map[string]int
	down    bool
}

func (b *memBlobs) Get(_ context.Context, bucket, path string) ([]byte, error) {
	key := bucket + "/" + path
	b.gets[key]++
	if b.down {
		return nil, blob.ErrUnavailable
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

type fixture struct {
	engine   *Engine
	store    *memStore
	releases *memReleases
	blobs    *memBlobs
	clock    *time.Time
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		store: &memStore{events: map[string]*domain.Event{}, issues: map[string]*domain.Issue{}},
		releases: &memReleases{releases: []domain.Release{{
			ID:           "rel-1",
			TenantID:     "tenant-a",
			AppID:        "shop",
			VersionLabel: "1.4.0",
			BuildID:      "b1",
			Env:          "production",
			Metadata: map[string]any{
				"sourcemap_bucket":        "maps",
				"sourcemap_manifest_path": "shop/1.4.0/manifest.json",
			},
		}}},
		blobs: &memBlobs{
			objects: map[string][]byte{
				"maps/shop/1.4.0/manifest.json": []byte(`{"files":{"static/app.min.js":"app.min.js.map"}}`),
				"maps/shop/1.4.0/app.min.js.map": []byte(testMap),
			},
			gets: map[string]int{},
		},
		clock: &now,
	}
	f.engine = NewEngine(f.store, f.releases, f.blobs, nil, DefaultConfig(), testLogger()).
		WithClock(func() time.Time { return *f.clock })
	return f
}

func (f *fixture) addEvent(id, userRef string, frames ...domain.StackFrame) *domain.Event {
	issueID := "issue-1"
	e := &domain.Event{
		ID:          id,
		TenantID:    "tenant-a",
		UserRef:     userRef,
		IssueID:     &issueID,
		StackFrames: frames,
		Release: domain.ReleaseInfo{
			AppID:      "shop",
			AppVersion: "1.4.0",
			BuildID:    "b1",
			Env:        "production",
		},
	}
	f.store.events[id] = e
	return e
}

func (f *fixture) manifestGets() int {
	return f.blobs.gets["maps/shop/1.4.0/manifest.json"]
}

func (f *fixture) mapGets() int {
	return f.blobs.gets["maps/shop/1.4.0/app.min.js.map"]
}

var admin = &domain.Actor{UserID: "op-1", TenantID: "tenant-a", Role: domain.RoleObservabilityAdmin}

func minifiedFrame() domain.StackFrame {
	return domain.StackFrame{File: "https://cdn.example.com/static/app.min.js?v=3", Line: 1, Column: 1}
}

func TestSymbolicateEvent_MapsFramesAndCaches(t *testing.T) {
	f := newFixture(t)
	f.addEvent("evt-1", "u-1", minifiedFrame(), domain.StackFrame{File: "https://cdn.example.com/static/vendor.min.js", Line: 1, Column: 5})
	ctx := context.Background()

	res, err := f.engine.SymbolicateEvent(ctx, admin, "evt-1", Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.Status != StatusOK || res.Cached {
		t.Fatalf("expected fresh ok result, got %+v", res)
	}
	if res.MappedFrames != 1 || len(res.Frames) != 2 {
		t.Fatalf("expected 1 of 2 frames mapped, got %d of %d", res.MappedFrames, len(res.Frames))
	}
	orig := res.Frames[0].Original
	if orig == nil || !strings.HasSuffix(orig.Source, "src/payments/charge.ts") || orig.Name != "chargeCard" {
		t.Errorf("unexpected original position: %+v", orig)
	}
	if res.Frames[1].Original != nil {
		t.Errorf("vendor frame should stay unmapped")
	}
	if f.manifestGets() != 1 || f.mapGets() != 1 {
		t.Fatalf("expected one manifest and one map fetch, got %d and %d", f.manifestGets(), f.mapGets())
	}

	stored := f.store.events["evt-1"].Symbolication
	if stored == nil || stored.Status != StatusOK || stored.CacheType != CacheShort || stored.By != "op-1" {
		t.Fatalf("unexpected stored symbolication: %+v", stored)
	}
	var frames []Frame
	if err := json.Unmarshal(stored.Stack, &frames); err != nil || len(frames) != 2 {
		t.Errorf("stored stack not readable: %v", err)
	}

	f.advance(time.Hour)
	res, err = f.engine.SymbolicateEvent(ctx, admin, "evt-1", Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !res.Cached || res.MappedFrames != 1 {
		t.Errorf("expected cached result with 1 mapped frame, got %+v", res)
	}
	if f.manifestGets() != 1 {
		t.Errorf("manifest refetched for a cached result")
	}

	res, err = f.engine.SymbolicateEvent(ctx, admin, "evt-1", Options{Force: true})
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if res.Cached {
		t.Errorf("forced run must not be cached")
	}
	if f.manifestGets() != 2 {
		t.Errorf("expected manifest fetched again on force, got %d fetches", f.manifestGets())
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func TestSymbolicateEvent_CacheExpiry(t *testing.T) {
	tests := []struct {
		name      string
		cacheType string
		age       time.Duration
		cached    bool
	}{
		{"short fresh", CacheShort, 47 * time.Hour, true},
		{"short expired", CacheShort, 48 * time.Hour, false},
		{"long fresh", CacheLong, 29 * 24 * time.Hour, true},
		{"long expired", CacheLong, 31 * 24 * time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.addEvent("evt-1", "u-1", minifiedFrame())
			e.Symbolication = &domain.Symbolication{
				Status:    StatusOK,
				CacheType: tt.cacheType,
				At:        f.clock.Add(-tt.age),
			}

			res, err := f.engine.SymbolicateEvent(context.Background(), admin, "evt-1", Options{CacheType: tt.cacheType})
			if err != nil {
				t.Fatalf("symbolicate: %v", err)
			}
			if res.Cached != tt.cached {
				t.Errorf("expected cached=%v, got %v", tt.cached, res.Cached)
			}
			if wantFetches := map[bool]int{true: 0, false: 1}[tt.cached]; f.manifestGets() != wantFetches {
				t.Errorf("expected %d manifest fetches, got %d", wantFetches, f.manifestGets())
			}
		})
	}
}

func TestSymbolicateEvent_PromotesShortToLong(t *testing.T) {
	f := newFixture(t)
	e := f.addEvent("evt-1", "u-1", minifiedFrame())
	computedAt := f.clock.Add(-time.Hour)
	e.Symbolication = &domain.Symbolication{Status: StatusOK, CacheType: CacheShort, At: computedAt, By: "op-0"}

	res, err := f.engine.SymbolicateEvent(context.Background(), admin, "evt-1", Options{CacheType: CacheLong})
	if err != nil {
		t.Fatalf("symbolicate: %v", err)
	}
	if !res.Cached || res.CacheType != CacheLong {
		t.Errorf("expected cached long result, got %+v", res)
	}
	stored := f.store.events["evt-1"].Symbolication
	if stored.CacheType != CacheLong || !stored.At.Equal(computedAt) {
		t.Errorf("expected promoted metadata with original timestamp, got %+v", stored)
	}
	if f.manifestGets() != 0 {
		t.Errorf("promotion must not recompute")
	}
}

func TestSymbolicateEvent_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture, e *domain.Event)
		status string
	}{
		{"no frames", func(f *fixture, e *domain.Event) {
			e.StackFrames = nil
			e.StackRaw = "TypeError: boom"
		}, StatusNoStackFrames},
		{"release not found", func(f *fixture, e *domain.Event) {
			e.Release.AppVersion = "9.9.9"
		}, StatusReleaseNotFound},
		{"manifest pointer missing", func(f *fixture, e *domain.Event) {
			f.releases.releases[0].Metadata = map[string]any{"sourcemap_bucket": "maps"}
		}, StatusManifestPathMissing},
		{"manifest download failed", func(f *fixture, e *domain.Event) {
			delete(f.blobs.objects, "maps/shop/1.4.0/manifest.json")
		}, StatusManifestDownloadFailed},
		{"manifest invalid json", func(f *fixture, e *domain.Event) {
			f.blobs.objects["maps/shop/1.4.0/manifest.json"] = []byte(`["not", "a", "manifest"]`)
		}, StatusManifestInvalidJSON},
		{"no mapped frames", func(f *fixture, e *domain.Event) {
			e.StackFrames = []domain.StackFrame{{File: "static/other.js", Line: 3, Column: 1}}
		}, StatusNoMappedFrames},
		{"map download failed", func(f *fixture, e *domain.Event) {
			delete(f.blobs.objects, "maps/shop/1.4.0/app.min.js.map")
		}, StatusNoMappedFrames},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.addEvent("evt-1", "u-1", minifiedFrame())
			tt.setup(f, e)

			res, err := f.engine.SymbolicateEvent(context.Background(), admin, "evt-1", Options{})
			if err != nil {
				t.Fatalf("symbolicate: %v", err)
			}
			if res.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, res.Status)
			}
			stored := f.store.events["evt-1"].Symbolication
			if stored == nil || stored.Status != tt.status || stored.Stack != nil {
				t.Errorf("expected persisted status %s without stack, got %+v", tt.status, stored)
			}
		})
	}
}

func TestSymbolicateEvent_ReleaseNotFoundIsRemembered(t *testing.T) {
	f := newFixture(t)
	e := f.addEvent("evt-1", "u-1", minifiedFrame())
	e.Release.AppVersion = "0.0.1"
	ctx := context.Background()

	if _, err := f.engine.SymbolicateEvent(ctx, admin, "evt-1", Options{}); err != nil {
		t.Fatal(err)
	}
	lookups := f.releases.lookups

	res, err := f.engine.SymbolicateEvent(ctx, admin, "evt-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cached || res.Status != StatusReleaseNotFound {
		t.Errorf("expected cached release_not_found, got %+v", res)
	}
	if f.releases.lookups != lookups {
		t.Errorf("release lookup repeated for a remembered failure")
	}
}

func TestSymbolicateEvent_ReleaseFallsBackToVersion(t *testing.T) {
	f := newFixture(t)
	e := f.addEvent("evt-1", "u-1", minifiedFrame())
	e.Release.BuildID = "b2"

	res, err := f.engine.SymbolicateEvent(context.Background(), admin, "evt-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOK {
		t.Errorf("expected version-only fallback to succeed, got %s", res.Status)
	}
	if f.releases.lookups != 2 {
		t.Errorf("expected 2 release lookups, got %d", f.releases.lookups)
	}
}

func TestSymbolicateEvent_MapFetchedOncePerCall(t *testing.T) {
	f := newFixture(t)
	frame := minifiedFrame()
	f.addEvent("evt-1", "u-1", frame, frame, frame)

	res, err := f.engine.SymbolicateEvent(context.Background(), admin, "evt-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.MappedFrames != 3 {
		t.Errorf("expected 3 mapped frames, got %d", res.MappedFrames)
	}
	if f.mapGets() != 1 {
		t.Errorf("expected the map downloaded once, got %d", f.mapGets())
	}
}

func TestSymbolicateEvent_Lookups(t *testing.T) {
	f := newFixture(t)
	f.addEvent("evt-1", "u-1", minifiedFrame())
	ctx := context.Background()

	if _, err := f.engine.SymbolicateEvent(ctx, admin, "missing", Options{}); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}

	other := &domain.Actor{UserID: "op-9", TenantID: "tenant-b", Role: domain.RoleObservabilityAdmin}
	if _, err := f.engine.SymbolicateEvent(ctx, other, "evt-1", Options{}); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("expected other tenant to get ErrEventNotFound, got %v", err)
	}

	support := &domain.Actor{UserID: "op-2", TenantID: "tenant-a", Role: domain.RoleSupport, AuthorizedUsers: []string{"u-7"}}
	if _, err := f.engine.SymbolicateEvent(ctx, support, "evt-1", Options{}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	if _, err := f.engine.SymbolicateIssue(ctx, admin, "issue-404", Options{}); !errors.Is(err, ErrIssueNotFound) {
		t.Errorf("expected ErrIssueNotFound, got %v", err)
	}
}

func TestSymbolicateIssue_Aggregates(t *testing.T) {
	f := newFixture(t)
	f.store.issues["issue-1"] = &domain.Issue{ID: "issue-1", TenantID: "tenant-a"}

	f.addEvent("evt-ok", "u-1", minifiedFrame())
	cached := f.addEvent("evt-cached", "u-1", minifiedFrame())
	cached.Symbolication = &domain.Symbolication{Status: StatusOK, CacheType: CacheShort, At: f.clock.Add(-time.Minute)}
	f.addEvent("evt-unmapped", "u-1", domain.StackFrame{File: "static/unknown.js", Line: 1, Column: 1})
	f.addEvent("evt-other-user", "u-2", minifiedFrame())

	support := &domain.Actor{UserID: "op-2", TenantID: "tenant-a", Role: domain.RoleSupport, AuthorizedUsers: []string{"u-1"}}
	res, err := f.engine.SymbolicateIssue(context.Background(), support, "issue-1", Options{})
	if err != nil {
		t.Fatalf("symbolicate issue: %v", err)
	}

	if res.Processed != 1 || res.Cached != 1 || res.Failed != 1 || res.SkippedUnauthorized != 1 {
		t.Errorf("unexpected aggregate: %+v", res)
	}
	if f.store.events["evt-other-user"].Symbolication != nil {
		t.Errorf("unauthorized event was touched")
	}
	if f.manifestGets() != 2 {
		t.Errorf("expected manifest fetched for the 2 computed events, got %d", f.manifestGets())
	}
	if f.mapGets() != 1 {
		t.Errorf("expected the map shared within the call, got %d fetches", f.mapGets())
	}
}

func TestSymbolicateIssue_RespectsLimit(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.MaxIssueEvents = 2
	f.store.issues["issue-1"] = &domain.Issue{ID: "issue-1", TenantID: "tenant-a"}
	for _, id := range []string{"a", "b", "c", "d"} {
		f.addEvent(id, "u-1", minifiedFrame())
	}

	res, err := f.engine.SymbolicateIssue(context.Background(), admin, "issue-1", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if total := res.Processed + res.Cached + res.Failed; total != 2 {
		t.Errorf("expected 2 events handled, got %d", total)
	}
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		file    string
		want    string
		wantErr bool
	}{
		{"wrapped exact", `{"files":{"static/app.js":"app.js.map"}}`, "https://x.io/static/app.js", "rel/app.js.map", false},
		{"flat basename", `{"dist/app.js":"/abs/app.js.map"}`, "static/app.js", "abs/app.js.map", false},
		{"empty files", `{"files":{}}`, "static/app.js", "", false},
		{"array", `[]`, "", "", true},
		{"garbage", `not json`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := parseManifest([]byte(tt.data), "maps", "rel/manifest.json")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got, _ := m.lookup(tt.file)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSymbolicateEvent_UnavailableStoreIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	f.addEvent("evt-1", "u-1", minifiedFrame())
	f.blobs.down = true
	ctx := context.Background()

	res, err := f.engine.SymbolicateEvent(ctx, admin, "evt-1", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusManifestDownloadFailed || res.Cached {
		t.Fatalf("expected uncached download failure, got %+v", res)
	}
	if f.store.events["evt-1"].Symbolication != nil {
		t.Fatal("an unavailable artifact store must not be cached as a status")
	}

	f.blobs.down = false
	res, err = f.engine.SymbolicateEvent(ctx, admin, "evt-1", Options{})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Status != StatusOK || res.Cached {
		t.Errorf("expected fresh ok result on retry, got %+v", res)
	}
}
