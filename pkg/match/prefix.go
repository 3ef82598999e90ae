package match

import "strings"

// DerivePrefix returns the listing prefix for a pattern: everything up to the
// last '/' before the first unescaped metacharacter, with escapes removed.
// A pattern without metacharacters is returned unescaped.
//
//	"runs/abc/*.fastq.gz"   → "runs/abc/"
//	"runs/abc-*/reads.gz"   → "runs/"
//	"reads\*.fastq.gz"      → "reads*.fastq.gz"
func DerivePrefix(pattern string) string {
	pattern = NormalizePattern(pattern)
	idx := firstMeta(pattern)
	if idx == -1 {
		return unescape(pattern)
	}
	slash := strings.LastIndex(pattern[:idx], "/")
	if slash < 0 {
		return ""
	}
	return unescape(pattern[:slash+1])
}

// IsGlobPattern reports whether pattern contains an unescaped metacharacter.
func IsGlobPattern(pattern string) bool {
	return firstMeta(pattern) != -1
}

func firstMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			if i+1 < len(pattern) && strings.IndexByte(globEscapable, pattern[i+1]) >= 0 {
				i++
			}
		case '*', '?', '[', '{':
			return i
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(globEscapable, s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
