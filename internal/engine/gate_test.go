package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type fakeDupes struct {
	seen map[string]time.Time
}

func (f *fakeDupes) HasRecentFingerprint(_ context.Context, tenantID, fp string, since time.Time) (bool, error) {
	at, ok := f.seen[tenantID+"/"+fp]
	return ok && !at.Before(since), nil
}

func TestGate_UserCeiling(t *testing.T) {
	rl, _ := setupTestRL(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gate := NewGate(rl, nil, GateConfig{RateWindow: time.Minute, UserLimit: 3, IPLimit: 10}, testLogger()).
		WithClock(func() time.Time { return now })
	ctx := context.Background()
	caller := Caller{TenantID: "t1", UserID: "u1", IPHash: "ip1"}

	for i := 0; i < 3; i++ {
		if reason := gate.CheckBatch(ctx, caller); reason != "" {
			t.Fatalf("batch %d should pass, got %q", i, reason)
		}
		gate.RecordAccepted(ctx, caller, fmt.Sprintf("evt-%d", i))
	}

	if reason := gate.CheckBatch(ctx, caller); reason != ReasonRateLimitedUser {
		t.Errorf("expected %q, got %q", ReasonRateLimitedUser, reason)
	}

	other := Caller{TenantID: "t1", UserID: "u2", IPHash: "ip2"}
	if reason := gate.CheckBatch(ctx, other); reason != "" {
		t.Errorf("other user should pass, got %q", reason)
	}
}

func TestGate_IPCeilingForAnonymousCaller(t *testing.T) {
	rl, _ := setupTestRL(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gate := NewGate(rl, nil, GateConfig{RateWindow: time.Minute, UserLimit: 60, IPLimit: 120}, testLogger()).
		WithClock(func() time.Time { return now })
	ctx := context.Background()
	caller := Caller{TenantID: "t1", IPHash: "ip1"}

	for i := 0; i < 120; i++ {
		if reason := gate.CheckBatch(ctx, caller); reason != "" {
			t.Fatalf("request %d should pass, got %q", i+1, reason)
		}
		gate.RecordAccepted(ctx, caller, fmt.Sprintf("evt-%d", i))
	}

	if reason := gate.CheckBatch(ctx, caller); reason != ReasonRateLimitedIP {
		t.Errorf("121st request: expected %q, got %q", ReasonRateLimitedIP, reason)
	}

	now = now.Add(61 * time.Second)
	if reason := gate.CheckBatch(ctx, caller); reason != "" {
		t.Errorf("window should have slid past, got %q", reason)
	}
}

func TestGate_FailsOpenWhenRedisDown(t *testing.T) {
	rl, mr := setupTestRL(t)
	gate := NewGate(rl, nil, GateConfig{RateWindow: time.Minute, UserLimit: 1, IPLimit: 1}, testLogger())
	mr.Close()

	if reason := gate.CheckBatch(context.Background(), Caller{TenantID: "t1", UserID: "u1", IPHash: "ip"}); reason != "" {
		t.Errorf("gate should fail open, got %q", reason)
	}
}

func TestGate_IsDuplicate(t *testing.T) {
	rl, _ := setupTestRL(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dupes := &fakeDupes{seen: map[string]time.Time{"t1/fp": now.Add(-time.Minute)}}
	gate := NewGate(rl, dupes, GateConfig{DedupWindow: 2 * time.Minute}, testLogger()).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	if !gate.IsDuplicate(ctx, "t1", "fp") {
		t.Error("fingerprint seen a minute ago should be a duplicate")
	}
	if gate.IsDuplicate(ctx, "t2", "fp") {
		t.Error("dedup must be tenant-scoped")
	}

	now = now.Add(2 * time.Minute)
	if gate.IsDuplicate(ctx, "t1", "fp") {
		t.Error("fingerprint outside the window should not be a duplicate")
	}
}
