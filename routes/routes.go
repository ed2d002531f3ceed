// Package routes decides which (method, path) pairs are public, i.e. reachable
// without a session token. Anything not declared here requires authentication.
//
// A rule path may contain parameter segments written as `:name`. Each one
// matches exactly one non-empty path segment that contains no slash. Trailing
// slashes are ignored on both the rule and the request path.
package routes

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Rule declares one public endpoint.
type Rule struct {
	Method string `yaml:"method" json:"method"`
	Path   string `yaml:"path" json:"path"`
}

func (r Rule) String() string {
	return r.Method + " " + r.Path
}

// paramPattern finds `:name` placeholders in a rule path.
var paramPattern = regexp.MustCompile(`:[^/]+`)

type compiledRule struct {
	method  string
	literal string         // normalized path when the rule has no parameters
	pattern *regexp.Regexp // anchored pattern when it has
}

func (c compiledRule) matches(method, path string) bool {
	if c.method != method {
		return false
	}
	if c.pattern != nil {
		return c.pattern.MatchString(path)
	}
	return c.literal == path
}

// Matcher answers whether a request is public. It is immutable once built and
// safe for concurrent use.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher compiles rules. A rule without a method or path is rejected.
func NewMatcher(rules []Rule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		if rule.Method == "" || rule.Path == "" {
			return nil, fmt.Errorf("public route #%d (%q) needs both a method and a path", i, rule.String())
		}
		compiled, err := compile(rule)
		if err != nil {
			return nil, fmt.Errorf("public route %q: %w", rule.String(), err)
		}
		m.rules = append(m.rules, compiled)
	}
	return m, nil
}

// MustNewMatcher is NewMatcher for rule sets known at compile time.
func MustNewMatcher(rules []Rule) *Matcher {
	m, err := NewMatcher(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// IsPublic reports whether any rule matches method and path.
func (m *Matcher) IsPublic(method, path string) bool {
	path = normalize(path)
	for _, rule := range m.rules {
		if rule.matches(method, path) {
			return true
		}
	}
	return false
}

// Len returns the number of rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}

func normalize(path string) string {
	return strings.TrimSuffix(path, "/")
}

func compile(rule Rule) (compiledRule, error) {
	path := normalize(rule.Path)
	out := compiledRule{method: rule.Method}

	locs := paramPattern.FindAllStringIndex(path, -1)
	if len(locs) == 0 {
		out.literal = path
		return out, nil
	}

	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range locs {
		b.WriteString(regexp.QuoteMeta(path[last:loc[0]]))
		b.WriteString(`[^/]+`)
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(path[last:]))
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return compiledRule{}, err
	}
	out.pattern = re
	return out, nil
}

// DefaultPublicRules returns the endpoints that never require a token.
func DefaultPublicRules() []Rule {
	return []Rule{
		{Method: http.MethodGet, Path: "/"},
		{Method: http.MethodGet, Path: "/metrics"},
		{Method: http.MethodPost, Path: "/auth/login"},
		{Method: http.MethodPost, Path: "/auth/register"},
		{Method: http.MethodPost, Path: "/auth/ask-password-reset"},
		{Method: http.MethodPost, Path: "/auth/reset-password"},
		{Method: http.MethodPost, Path: "/auth/confirmation"},
		{Method: http.MethodGet, Path: "/auth/confirm-email"},
	}
}
