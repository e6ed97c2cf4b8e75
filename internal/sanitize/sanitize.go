package sanitize

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// Redacted replaces any credential value.
	Redacted = "[redacted]"
	// MaxDepthSentinel replaces values nested deeper than the configured depth.
	MaxDepthSentinel = "[max_depth]"
	// UnsupportedSentinel replaces values of types that cannot be persisted.
	UnsupportedSentinel = "[unsupported]"
)

// Config bounds the recursive scrub of generic values.
type Config struct {
	MaxDepth     int
	MaxListItems int
}

// DefaultConfig returns the ingestion defaults.
func DefaultConfig() Config {
	return Config{MaxDepth: 4, MaxListItems: 60}
}

// Scrubber removes credentials and personal data from free-form text and
// decoded JSON values. It holds no mutable state and is safe for concurrent use.
type Scrubber struct {
	cfg Config

	bearer       *regexp.Regexp
	tokenFields  *regexp.Regexp
	authFields   *regexp.Regexp
	queryParams  *regexp.Regexp
	email        *regexp.Regexp
	phone        *regexp.Regexp
	sensitiveKey *regexp.Regexp
}

// New compiles the scrub passes.
func New(cfg Config) *Scrubber {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.MaxListItems <= 0 {
		cfg.MaxListItems = DefaultConfig().MaxListItems
	}
	return &Scrubber{
		cfg:          cfg,
		bearer:       regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`),
		tokenFields:  regexp.MustCompile(`(?i)("?(?:access_token|refresh_token|id_token|accesstoken|refreshtoken)"?\s*:\s*)"[^"]*"`),
		authFields:   regexp.MustCompile(`(?i)("?(?:authorization|proxy-authorization|cookie|set-cookie)"?\s*:\s*)"[^"]*"`),
		queryParams:  regexp.MustCompile(`(?i)([?&](?:token|access_token|refresh_token|id_token|api_key|apikey|key|secret|password|signature|code)=)[^&#\s"']*`),
		email:        regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		phone:        regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`),
		sensitiveKey: regexp.MustCompile(`(?i)(password|passwd|secret|token|cookie|authorization|(?:api|secret|private|access)[-_]?key|^key$)`),
	}
}

// ScrubString applies every text pass. Applying it twice yields the same
// result as applying it once.
func (s *Scrubber) ScrubString(text string) string {
	if text == "" {
		return text
	}
	out := s.bearer.ReplaceAllString(text, "Bearer "+Redacted)
	out = s.tokenFields.ReplaceAllString(out, `${1}"`+Redacted+`"`)
	out = s.authFields.ReplaceAllString(out, `${1}"`+Redacted+`"`)
	out = s.queryParams.ReplaceAllString(out, "${1}"+Redacted)
	out = s.email.ReplaceAllStringFunc(out, maskEmail)
	out = s.phone.ReplaceAllStringFunc(out, maskPhone)
	return out
}

// ScrubAny walks a decoded JSON value. depth is the nesting level of value;
// callers start at 0. Anything nested past MaxDepth becomes a sentinel.
func (s *Scrubber) ScrubAny(value any, depth int) any {
	if depth > s.cfg.MaxDepth {
		return MaxDepthSentinel
	}
	switch v := value.(type) {
	case nil, bool, float64, float32, int, int32, int64, json.Number:
		return v
	case string:
		return s.ScrubString(v)
	case []string:
		items := make([]any, len(v))
		for i, str := range v {
			items[i] = str
		}
		return s.ScrubAny(items, depth)
	case []any:
		n := len(v)
		if n > s.cfg.MaxListItems {
			n = s.cfg.MaxListItems
		}
		out := make([]any, 0, n)
		for _, item := range v[:n] {
			out = append(out, s.ScrubAny(item, depth+1))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if s.IsSensitiveKey(key) {
				out[key] = Redacted
				continue
			}
			out[key] = s.ScrubAny(item, depth+1)
		}
		return out
	default:
		return UnsupportedSentinel
	}
}

// ScrubMap scrubs a context-style object and keeps it a map.
func (s *Scrubber) ScrubMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, ok := s.ScrubAny(m, 0).(map[string]any)
	if !ok {
		return nil
	}
	return out
}

// CapSerialized bounds the JSON size of m. When the serialized form exceeds
// maxChars the map is replaced by a truncated preview of that form.
func CapSerialized(m map[string]any, maxChars int) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return map[string]any{"_invalid": true}
	}
	if utf8.RuneCount(data) <= maxChars {
		return m
	}
	return map[string]any{
		"_truncated": true,
		"preview":    Truncate(string(data), maxChars),
	}
}

// IsSensitiveKey reports whether an object key names a credential.
func (s *Scrubber) IsSensitiveKey(key string) bool {
	return s.sensitiveKey.MatchString(strings.TrimSpace(key))
}

// Truncate cuts text to at most maxRunes runes.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes])
}

func maskEmail(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return Redacted
	}
	return addr[:1] + "***@" + addr[at+1:at+2] + "***"
}

func maskPhone(run string) string {
	digits := 0
	for _, r := range run {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 9 || digits > 15 {
		return run
	}
	var b strings.Builder
	seen := 0
	for _, r := range run {
		if r < '0' || r > '9' {
			continue
		}
		seen++
		if seen > digits-4 {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}
