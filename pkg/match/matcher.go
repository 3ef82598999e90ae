// Package match locates artifacts among listed object keys using doublestar
// glob semantics and a deterministic choice among multiple candidates.
package match

import (
	"errors"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude patterns against object keys.
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that keys must match (at least one).
	Includes []string

	// Excludes are glob patterns that keys must not match (any).
	Excludes []string

	// IncludeHidden controls whether keys with a segment starting with '.'
	// are matched. Default: false.
	IncludeHidden bool
}

// Errors returned by Matcher operations.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a new Matcher from the given configuration.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}

	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		includeHidden: cfg.IncludeHidden,
	}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		normalized := NormalizePattern(r)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: r, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match reports whether key matches at least one include, no exclude, and is
// not hidden (unless IncludeHidden is set). Keys are matched as-is.
func (m *Matcher) Match(key string) bool {
	if !m.includeHidden && IsHidden(key) {
		return false
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, key) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, key) {
			return false
		}
	}
	return true
}

// Filter returns the matching keys in lexicographic order.
func (m *Matcher) Filter(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if m.Match(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// matchPattern matches a key against a doublestar pattern.
func matchPattern(pattern, key string) bool {
	matched, err := doublestar.Match(pattern, key)
	if err != nil {
		// Pattern was validated at construction time.
		return false
	}
	return matched
}

// IsHidden returns true if any path segment starts with a dot.
//
//	"path/to/file.txt"      → false
//	"path/.hidden/file.txt" → true
//	"path/to/.gitignore"    → true
func IsHidden(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
