package release

import (
	"regexp"
	"strings"
)

// CompileGlob turns a path glob into an anchored, case-insensitive regular
// expression. "**" spans separators, "*" does not, "?" matches one character other than a separator.
func CompileGlob(glob string) (*regexp.Regexp, error) {
	g := []rune(strings.ToLower(NormalizeGlob(glob)))

	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(g); i++ {
		c := g[i]
		switch {
		case c == '*' && i+1 < len(g) && g[i+1] == '*':
			i++
			if i+1 < len(g) && g[i+1] == '/' {
				i++
				b.WriteString("(?:.*/)?")
			} else {
				b.WriteString(".*")
			}
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	return regexp.Compile(b.String())
}

// NormalizeGlob applies the same slash rules used for frame paths.
func NormalizeGlob(glob string) string {
	g := strings.ReplaceAll(strings.TrimSpace(glob), `\`, "/")
	for strings.HasPrefix(g, "./") || strings.HasPrefix(g, "/") {
		g = strings.TrimPrefix(strings.TrimPrefix(g, "./"), "/")
	}
	return g
}

// Specificity is the number of literal characters in a glob.
func Specificity(glob string) int {
	n := 0
	for _, r := range NormalizeGlob(glob) {
		if r != '*' && r != '?' {
			n++
		}
	}
	return n
}
