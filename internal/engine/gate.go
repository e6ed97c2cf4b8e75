package engine

import (
	"context"
	"log/slog"
	"time"
)

// Skip reason codes reported to callers. None of them is an error.
const (
	ReasonRateLimitedUser = "rate_limited_user"
	ReasonRateLimitedIP   = "rate_limited_ip"
	ReasonDuplicate       = "duplicate"
)

// GateConfig holds the abuse-guard ceilings and windows.
type GateConfig struct {
	RateWindow  time.Duration
	UserLimit   int
	IPLimit     int
	DedupWindow time.Duration
}

// DuplicateChecker answers whether an event with the fingerprint was stored
// for the tenant at or after since.
type DuplicateChecker interface {
	HasRecentFingerprint(ctx context.Context, tenantID, fingerprint string, since time.Time) (bool, error)
}

// Caller identifies the origin of a batch for rate accounting.
type Caller struct {
	TenantID string
	UserID   string
	IPHash   string
}

// Gate applies per-caller budgets to whole batches and duplicate suppression
// to single items, ahead of persistence.
type Gate struct {
	limiter *RateLimiter
	dupes   DuplicateChecker
	cfg     GateConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewGate(limiter *RateLimiter, dupes DuplicateChecker, cfg GateConfig, logger *slog.Logger) *Gate {
	return &Gate{
		limiter: limiter,
		dupes:   dupes,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// CheckBatch returns a non-empty reason code when the caller has met a ceiling.
// Storage failures fail open.
func (g *Gate) CheckBatch(ctx context.Context, c Caller) string {
	now := g.now()

	if c.UserID != "" && g.cfg.UserLimit > 0 {
		n, err := g.limiter.Count(ctx, userKey(c.TenantID, c.UserID), now)
		if err != nil {
			g.logger.Error("user rate check failed", "error", err, "tenant_id", c.TenantID)
		} else if n >= int64(g.cfg.UserLimit) {
			g.logger.Debug("rate limited", "scope", "user", "tenant_id", c.TenantID, "count", n, "limit", g.cfg.UserLimit)
			return ReasonRateLimitedUser
		}
	}

	if c.IPHash != "" && g.cfg.IPLimit > 0 {
		n, err := g.limiter.Count(ctx, ipKey(c.TenantID, c.IPHash), now)
		if err != nil {
			g.logger.Error("ip rate check failed", "error", err, "tenant_id", c.TenantID)
		} else if n >= int64(g.cfg.IPLimit) {
			g.logger.Debug("rate limited", "scope", "ip", "tenant_id", c.TenantID, "count", n, "limit", g.cfg.IPLimit)
			return ReasonRateLimitedIP
		}
	}

	return ""
}

// IsDuplicate reports whether the fingerprint was already stored within the
// dedup window. Lookup failures are treated as "not a duplicate".
func (g *Gate) IsDuplicate(ctx context.Context, tenantID, fingerprint string) bool {
	if g.dupes == nil || g.cfg.DedupWindow <= 0 {
		return false
	}
	since := g.now().Add(-g.cfg.DedupWindow)
	dup, err := g.dupes.HasRecentFingerprint(ctx, tenantID, fingerprint, since)
	if err != nil {
		g.logger.Error("duplicate check failed", "error", err, "tenant_id", tenantID)
		return false
	}
	return dup
}

// RecordAccepted counts one persisted event against the caller's windows.
func (g *Gate) RecordAccepted(ctx context.Context, c Caller, eventID string) {
	var keys []string
	if c.UserID != "" {
		keys = append(keys, userKey(c.TenantID, c.UserID))
	}
	if c.IPHash != "" {
		keys = append(keys, ipKey(c.TenantID, c.IPHash))
	}
	if err := g.limiter.Record(ctx, keys, eventID, g.now()); err != nil {
		g.logger.Error("failed to record accepted event", "error", err, "event_id", eventID)
	}
}
