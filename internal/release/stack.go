package release

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Priya8975/error-ingest/internal/domain"
)

// MaxFrames bounds how many frames are parsed out of one stack.
const MaxFrames = 50

var (
	v8Frame    = regexp.MustCompile(`^\s*at\s+(?:(.*?)\s+\()?(.+?):(\d+)(?::(\d+))?\)?\s*$`)
	geckoFrame = regexp.MustCompile(`^\s*(.*?)@(.+?):(\d+)(?::(\d+))?\s*$`)
)

// ParseStack extracts file/line/column frames from V8, Gecko and WebKit
// formatted stack traces. Lines that are not frames are ignored.
func ParseStack(raw string) []domain.StackFrame {
	if raw == "" {
		return nil
	}

	var frames []domain.StackFrame
	for _, line := range strings.Split(raw, "\n") {
		if len(frames) >= MaxFrames {
			break
		}
		m := v8Frame.FindStringSubmatch(line)
		if m == nil {
			m = geckoFrame.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		f := domain.StackFrame{
			Function: strings.TrimSpace(m[1]),
			File:     strings.TrimSpace(m[2]),
		}
		f.Line, _ = strconv.Atoi(m[3])
		if m[4] != "" {
			f.Column, _ = strconv.Atoi(m[4])
		}
		if f.File == "" {
			continue
		}
		frames = append(frames, f)
	}
	return frames
}

// NormalizePath reduces a frame's file reference to a lower-cased relative
// path: scheme and host removed, query and fragment stripped, backslashes
// turned into slashes.
func NormalizePath(ref string) string {
	p := strings.TrimSpace(ref)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, `\`, "/")

	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			p = rest[slash:]
		} else {
			p = ""
		}
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	p = strings.ToLower(p)
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	for {
		switch {
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		default:
			return p
		}
	}
}

// Basename returns the last path segment of a normalized path.
func Basename(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
