// Package fingerprint derives the grouping keys that link events to issues
// and drive duplicate suppression.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxExplicitLength = 128

var (
	digitRun   = regexp.MustCompile(`\d+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Input holds the sanitized event attributes a fingerprint is built from.
type Input struct {
	ErrorName    string
	ErrorCode    string
	StackPreview string
	Route        string
	Message      string
	EventType    string
}

// SupportInput identifies a support-domain conversation.
type SupportInput struct {
	UserRef   string
	ThreadRef string
	Category  string
	Route     string
	Message   string
}

// Normalize lowercases s, replaces digit runs with "0" and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = digitRun.ReplaceAllString(s, "0")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Build returns the generic fingerprint of an event.
func Build(in Input) string {
	return digest(
		Normalize(in.ErrorName),
		Normalize(in.ErrorCode),
		Normalize(in.StackPreview),
		Normalize(in.Route),
		Normalize(in.Message),
		Normalize(in.EventType),
	)
}

// BuildSupport returns the fingerprint of a support-domain event, grouping by
// conversation identity instead of stack similarity.
func BuildSupport(in SupportInput) string {
	return digest(
		"support",
		orDefault(in.UserRef, "anonymous"),
		orDefault(in.ThreadRef, "no_thread"),
		orDefault(in.Category, "uncategorized"),
		orDefault(in.Route, "no_route"),
		Normalize(in.Message),
	)
}

// Resolve trusts a client-supplied fingerprint verbatim and computes one otherwise.
func Resolve(explicit string, compute func() string) string {
	explicit = strings.TrimSpace(explicit)
	if explicit == "" {
		return compute()
	}
	return truncateBytes(explicit, maxExplicitLength)
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func orDefault(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}
