package match

import (
	"sort"
	"strings"
)

// Order picks among multiple candidate keys.
type Order int

const (
	// First selects the lexicographically smallest key.
	First Order = iota

	// Last selects the lexicographically largest key. Tools that timestamp
	// file names sort newest last.
	Last
)

// String returns "first" or "last".
func (o Order) String() string {
	if o == Last {
		return "last"
	}
	return "first"
}

// Rule describes how to find one artifact below a listing prefix.
type Rule struct {
	Name string

	// Pattern is matched against the key relative to the listing prefix.
	Pattern string

	Order Order
}

// Built-in artifact rules.
var (
	// PrimaryResult is an exact basename match at any depth.
	PrimaryResult = Rule{Name: "primary_result", Pattern: "**/abritamr.tsv", Order: First}

	// ExecutionReport matches basenames containing execution_report with an
	// .html extension; the newest (last) wins.
	ExecutionReport = Rule{Name: "execution_report", Pattern: "**/*execution_report*.html", Order: Last}
)

// Selector applies a compiled Rule to listings.
type Selector struct {
	rule    Rule
	matcher *Matcher
}

// Compile validates the rule pattern.
func (r Rule) Compile() (*Selector, error) {
	m, err := New(Config{Includes: []string{r.Pattern}})
	if err != nil {
		return nil, err
	}
	return &Selector{rule: r, matcher: m}, nil
}

// MustCompile is like Compile but panics on an invalid pattern. Intended for
// package-level rules.
func (r Rule) MustCompile() *Selector {
	s, err := r.Compile()
	if err != nil {
		panic(err)
	}
	return s
}

// Rule returns the rule the selector was compiled from.
func (s *Selector) Rule() Rule { return s.rule }

// Candidates returns every key under prefix whose relative path matches, in
// lexicographic order of the full key.
func (s *Selector) Candidates(prefix string, keys []string) []string {
	prefix = EnsureTrailingSlash(prefix)
	var out []string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if s.matcher.Match(strings.TrimPrefix(k, prefix)) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Select returns the chosen key, or false when nothing matches. The result
// depends only on the set of keys, not their order.
func (s *Selector) Select(prefix string, keys []string) (string, bool) {
	c := s.Candidates(prefix, keys)
	if len(c) == 0 {
		return "", false
	}
	if s.rule.Order == Last {
		return c[len(c)-1], true
	}
	return c[0], true
}
