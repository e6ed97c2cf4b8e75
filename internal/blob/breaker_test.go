package blob

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type flakyStore struct {
	err   error
	calls int
}

func (f *flakyStore) Get(context.Context, string, string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("{}"), nil
}

func setupBreaker(t *testing.T) (*BreakerStore, *flakyStore, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inner := &flakyStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBreakerStore(inner, client, DefaultBreakerConfig(), logger).
		WithClock(func() time.Time { return now })
	return b, inner, &now
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, inner, _ := setupBreaker(t)
	ctx := context.Background()
	inner.err = errors.New("connection reset")

	for i := 0; i < 5; i++ {
		if _, err := b.Get(ctx, "maps", "a.map"); errors.Is(err, ErrUnavailable) {
			t.Fatalf("circuit opened early at attempt %d", i+1)
		}
	}
	if got := b.State(ctx, "maps"); got != StateOpen {
		t.Fatalf("expected open, got %q", got)
	}

	_, err := b.Get(ctx, "maps", "a.map")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if inner.calls != 5 {
		t.Errorf("expected backend untouched while open, got %d calls", inner.calls)
	}

	if got := b.State(ctx, "other-bucket"); got != StateClosed {
		t.Errorf("expected other bucket closed, got %q", got)
	}
}

func TestBreaker_NotFoundIsNotAFailure(t *testing.T) {
	b, inner, _ := setupBreaker(t)
	ctx := context.Background()
	inner.err = ErrNotFound

	for i := 0; i < 10; i++ {
		if _, err := b.Get(ctx, "maps", "missing.map"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if got := b.State(ctx, "maps"); got != StateClosed {
		t.Errorf("expected closed, got %q", got)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, inner, now := setupBreaker(t)
	ctx := context.Background()
	inner.err = errors.New("timeout")
	for i := 0; i < 5; i++ {
		b.Get(ctx, "maps", "a.map")
	}

	*now = now.Add(31 * time.Second)
	if got := b.State(ctx, "maps"); got != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %q", got)
	}

	inner.err = nil
	if _, err := b.Get(ctx, "maps", "a.map"); err != nil {
		t.Fatalf("probe should pass through: %v", err)
	}
	if got := b.State(ctx, "maps"); got != StateClosed {
		t.Errorf("expected closed after successful probe, got %q", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, inner, now := setupBreaker(t)
	ctx := context.Background()
	inner.err = errors.New("timeout")
	for i := 0; i < 5; i++ {
		b.Get(ctx, "maps", "a.map")
	}

	*now = now.Add(31 * time.Second)
	if _, err := b.Get(ctx, "maps", "a.map"); errors.Is(err, ErrUnavailable) {
		t.Fatal("probe should reach the backend")
	}
	if got := b.State(ctx, "maps"); got != StateOpen {
		t.Errorf("expected re-opened, got %q", got)
	}
}

func TestBreaker_FailsOpenWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	inner := &flakyStore{}
	b := NewBreakerStore(inner, client, DefaultBreakerConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := b.Get(context.Background(), "maps", "a.map"); err != nil {
		t.Errorf("expected pass-through when redis is down, got %v", err)
	}
}
