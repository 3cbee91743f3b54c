package ratelimit

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Rule limits a single server route. Pattern uses net/http ServeMux syntax,
// e.g. "POST /runs/{id}/cancel". A Limit of 0 leaves the route unlimited.
type Rule struct {
	Pattern string
	Limit   int
	Window  time.Duration
	Burst   int // defaults to Limit if 0
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	Rules           []Rule
}

// DefaultRules returns the per-route limits of the monitor API. Routes
// without a rule share the default limit.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "GET /health"},

		// Starting a run opens a backend pipeline run
		{Pattern: "POST /runs", Limit: 10, Window: time.Minute, Burst: 3},

		{Pattern: "POST /runs/{id}/cancel", Limit: 60, Window: time.Minute, Burst: 10},
		{Pattern: "DELETE /runs/{id}", Limit: 60, Window: time.Minute, Burst: 10},
	}
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		Whitelist:       make(map[string]bool),
		Blacklist:       make(map[string]bool),
		Rules:           DefaultRules(),
	}
}

// router resolves a request to the rule registered for its route, using the
// same pattern matching as the server's mux.
type router struct {
	mux   *http.ServeMux
	rules map[string]Rule
}

func newRouter(rules []Rule) (*router, error) {
	r := &router{mux: http.NewServeMux(), rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if _, dup := r.rules[rule.Pattern]; dup {
			return nil, fmt.Errorf("duplicate rate limit rule for %q", rule.Pattern)
		}
		if err := register(r.mux, rule.Pattern); err != nil {
			return nil, err
		}
		r.rules[rule.Pattern] = rule
	}
	return r, nil
}

// register adds pattern to mux. ServeMux panics on malformed or conflicting
// patterns.
func register(mux *http.ServeMux, pattern string) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("invalid rate limit route %q: %v", pattern, v)
		}
	}()
	mux.Handle(pattern, http.NotFoundHandler())
	return nil
}

// match returns the rule for a request, or false when the default applies.
func (r *router) match(method, path string) (Rule, bool) {
	req := &http.Request{Method: method, URL: &url.URL{Path: path}}
	_, pattern := r.mux.Handler(req)
	rule, ok := r.rules[pattern]
	return rule, ok
}
