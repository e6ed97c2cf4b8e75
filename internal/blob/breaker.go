package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned while a bucket's circuit is open.
var ErrUnavailable = errors.New("blob backend unavailable")

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// BreakerConfig sets when a bucket's circuit opens and how long it stays open.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// BreakerStore guards another Store with a per-bucket circuit breaker kept in
// Redis, so every replica stops hitting a failing backend together.
//
// - Closed: reads pass through. Backend failures are counted.
// - Open: reads fail fast with ErrUnavailable until the cooldown elapses.
// - Half-Open: reads pass through. Success closes, failure reopens.
//
// ErrNotFound is a valid answer and never counts as a failure. Redis errors
// fail open.
type BreakerStore struct {
	inner       Store
	redisClient *redis.Client
	cfg         BreakerConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewBreakerStore(inner Store, redisClient *redis.Client, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	return &BreakerStore{
		inner:       inner,
		redisClient: redisClient,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the time source.
func (b *BreakerStore) WithClock(now func() time.Time) *BreakerStore {
	b.now = now
	return b
}

func breakerKey(bucket string) string {
	return fmt.Sprintf("blob:cb:%s", bucket)
}

func (b *BreakerStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	if !b.allow(ctx, bucket) {
		return nil, fmt.Errorf("%w: bucket %s", ErrUnavailable, bucket)
	}

	data, err := b.inner.Get(ctx, bucket, path)
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		b.recordSuccess(ctx, bucket)
	case ctx.Err() != nil:
		// caller gave up; the backend is not at fault
	default:
		b.recordFailure(ctx, bucket)
	}
	return data, err
}

// State reports the bucket's current circuit state.
func (b *BreakerStore) State(ctx context.Context, bucket string) string {
	data, err := b.redisClient.HGetAll(ctx, breakerKey(bucket)).Result()
	if err != nil || data["state"] == "" {
		return StateClosed
	}
	if data["state"] == StateOpen && b.cooledDown(data) {
		return StateHalfOpen
	}
	return data["state"]
}

func (b *BreakerStore) allow(ctx context.Context, bucket string) bool {
	key := breakerKey(bucket)

	data, err := b.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		b.logger.Error("circuit breaker read failed", "error", err, "bucket", bucket)
		return true
	}
	if data["state"] != StateOpen {
		return true
	}
	if !b.cooledDown(data) {
		return false
	}

	b.redisClient.HSet(ctx, key, "state", StateHalfOpen)
	b.logger.Info("circuit breaker half-open", "bucket", bucket)
	return true
}

func (b *BreakerStore) cooledDown(data map[string]string) bool {
	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
	return b.now().Unix()-lastFailedAt >= int64(b.cfg.Cooldown.Seconds())
}

func (b *BreakerStore) recordSuccess(ctx context.Context, bucket string) {
	key := breakerKey(bucket)

	state, _ := b.redisClient.HGet(ctx, key, "state").Result()
	if state == "" {
		return
	}

	b.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0)
	if state == StateHalfOpen {
		b.logger.Info("circuit breaker closed (recovered)", "bucket", bucket)
	}
}

func (b *BreakerStore) recordFailure(ctx context.Context, bucket string) {
	key := breakerKey(bucket)

	failures, err := b.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		b.logger.Error("failed to record circuit breaker failure", "error", err, "bucket", bucket)
		return
	}
	b.redisClient.HSet(ctx, key, "last_failed_at", b.now().Unix())

	state, _ := b.redisClient.HGet(ctx, key, "state").Result()
	switch {
	case state == StateHalfOpen:
		b.redisClient.HSet(ctx, key, "state", StateOpen)
		b.logger.Warn("circuit breaker re-opened (half-open probe failed)", "bucket", bucket)
	case failures >= int64(b.cfg.FailureThreshold):
		b.redisClient.HSet(ctx, key, "state", StateOpen)
		b.logger.Warn("circuit breaker opened",
			"bucket", bucket,
			"failures", failures,
			"threshold", b.cfg.FailureThreshold,
		)
	case state == "":
		b.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}
