package match

import "strings"

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes so Windows-style patterns work.
// Escaped glob metacharacters (\*, \?, \[ ...) are preserved, except that a
// backslash before "**" is always a separator.
//
//	"results\csvtk\**"  → "results/csvtk/**"
//	"data/file\*.txt"   → "data/file\*.txt"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' && i+2 < len(runes) && runes[i+1] == '*' && runes[i+2] == '*' {
			result.WriteRune('/')
			continue
		}
		if r == '\\' && i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			result.WriteRune('\\')
			result.WriteRune(runes[i+1])
			i++
			continue
		}
		if r == '\\' {
			result.WriteRune('/')
			continue
		}
		result.WriteRune(r)
	}

	return result.String()
}

// EscapeLiteral escapes glob metacharacters so s matches only itself.
func EscapeLiteral(s string) string {
	if !strings.ContainsAny(s, globEscapable) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if strings.ContainsRune(globEscapable, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureTrailingSlash adds a trailing slash if not present.
// Returns empty string unchanged.
func EnsureTrailingSlash(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}
