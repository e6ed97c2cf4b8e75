package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/Priya8975/error-ingest/internal/domain"
)

// rawEvent is the client payload of one batch item.
type rawEvent struct {
	Level       string           `json:"level"`
	EventType   string           `json:"type"`
	Source      string           `json:"source"`
	Domain      string           `json:"domain"`
	Timestamp   json.RawMessage  `json:"timestamp"`
	Message     string           `json:"message"`
	Error       *rawError        `json:"error"`
	ErrorCode   string           `json:"error_code"`
	Route       string           `json:"route"`
	ThreadRef   string           `json:"thread_ref"`
	Category    string           `json:"category"`
	Fingerprint string           `json:"fingerprint"`
	Component   string           `json:"component_key"`
	Context     map[string]any   `json:"context"`
	Breadcrumbs []map[string]any `json:"breadcrumbs"`
	Release     rawRelease       `json:"release"`
	UserRef     string           `json:"user_ref"`
	RequestID   string           `json:"request_id"`
	TraceID     string           `json:"trace_id"`
	SessionID   string           `json:"session_id"`
}

type rawError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Stack   string `json:"stack"`
}

type rawRelease struct {
	AppID        string `json:"app_id"`
	AppVersion   string `json:"app_version"`
	Semver       string `json:"semver"`
	ReleaseID    string `json:"release_id"`
	SourceCommit string `json:"source_commit"`
	BuildID      string `json:"build_id"`
	Env          string `json:"env"`
}

var (
	knownLevels  = map[string]bool{domain.LevelFatal: true, domain.LevelError: true, domain.LevelWarn: true, domain.LevelInfo: true, domain.LevelDebug: true}
	knownTypes   = map[string]bool{domain.TypeError: true, domain.TypeLog: true, domain.TypePerformance: true, domain.TypeSecurity: true, domain.TypeAudit: true}
	knownSources = map[string]bool{domain.SourceWeb: true, domain.SourceEdge: true, domain.SourceWorker: true}
)

func normalizeLevel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "warning" {
		return domain.LevelWarn
	}
	if knownLevels[v] {
		return v
	}
	return domain.LevelError
}

func normalizeType(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if knownTypes[v] {
		return v
	}
	return domain.TypeError
}

func normalizeSource(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if knownSources[v] {
		return v
	}
	return domain.SourceWeb
}

func normalizeDomain(v string) string {
	if strings.ToLower(strings.TrimSpace(v)) == domain.DomainSupport {
		return domain.DomainSupport
	}
	return domain.DomainObservability
}

// maxEpochMillis is the last millisecond of year 9999. Larger values (and
// +Inf) fall back to the receive time.
const maxEpochMillis = 253402300799999

// timestampResult is the outcome of reading a client timestamp. Reason is
// set when the value was rejected and the receive time used instead.
type timestampResult struct {
	Value  time.Time
	OK     bool
	Reason string
}

// parseTimestamp accepts RFC 3339 strings and epoch milliseconds, as a JSON
// string or number.
func parseTimestamp(raw json.RawMessage, fallback time.Time) timestampResult {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return timestampResult{Value: fallback, Reason: "missing"}
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, text); err == nil {
			return timestampResult{Value: t.UTC(), OK: true}
		}
	}
	if ms, err := strconv.ParseFloat(text, 64); err == nil && ms > 0 && ms <= maxEpochMillis {
		return timestampResult{Value: time.UnixMilli(int64(ms)).UTC(), OK: true}
	}
	return timestampResult{Value: fallback, Reason: "unparseable"}
}

// normalizeSemver returns the canonical form of v, or "" when it is not a
// semantic version.
func normalizeSemver(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return ""
	}
	return parsed.String()
}

// hashWithTenant pseudonymizes a network identifier. Salting with the tenant
// keeps hashes from correlating across tenants.
func hashWithTenant(tenantID, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(tenantID + ":" + value))
	return hex.EncodeToString(sum[:])
}

// browserFamily and osFamily sniff coarse families from a user agent.
// Order matters: Edge and Chrome both claim "Safari".
func browserFamily(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "edg/"):
		return "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "firefox/"), strings.Contains(ua, "fxios/"):
		return "firefox"
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "crios/"):
		return "chrome"
	case strings.Contains(ua, "safari/"):
		return "safari"
	default:
		return "other"
	}
}

func osFamily(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return ""
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return "ios"
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "other"
	}
}

// retentionTier classifies how long an event is kept.
func retentionTier(level, eventType string) string {
	switch {
	case level == domain.LevelFatal,
		eventType == domain.TypeAudit,
		eventType == domain.TypeError && level == domain.LevelError:
		return domain.RetentionLong
	case eventType == domain.TypePerformance,
		eventType == domain.TypeLog && (level == domain.LevelDebug || level == domain.LevelInfo):
		return domain.RetentionShort
	default:
		return domain.RetentionStandard
	}
}

// firstLine returns the first non-empty line of text.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// explicitComponent reads a client-declared component key from the payload
// or its context.
func explicitComponent(raw *rawEvent) string {
	if key := strings.TrimSpace(raw.Component); key != "" {
		return key
	}
	for _, field := range []string{"component_key", "component"} {
		if v, ok := raw.Context[field].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
