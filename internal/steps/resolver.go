package steps

import "strings"

// Rule maps raw step identifiers onto a canonical step. Match receives the
// normalized (trimmed, lower-cased) identifier.
type Rule struct {
	Name   string
	Match  func(raw string, mode Mode) bool
	Target StepID
}

// Resolver applies an ordered rule table; the first matching rule wins.
type Resolver struct {
	rules []Rule
}

// NewResolver creates a resolver over the given rules, in priority order.
func NewResolver(rules []Rule) *Resolver {
	return &Resolver{rules: rules}
}

// DefaultResolver returns a resolver using DefaultRules.
func DefaultResolver() *Resolver {
	return NewResolver(DefaultRules())
}

// Rules returns a copy of the resolver's rule table.
func (r *Resolver) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Resolve maps a raw producer step name onto a canonical step id. The second
// return value is false when no rule matches.
func (r *Resolver) Resolve(raw string, mode Mode) (StepID, bool) {
	id, _, ok := r.ResolveRule(raw, mode)
	return id, ok
}

// ResolveRule is Resolve that also reports the name of the matching rule.
func (r *Resolver) ResolveRule(raw string, mode Mode) (StepID, string, bool) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	if norm == "" {
		return "", "", false
	}
	for _, rule := range r.rules {
		if !rule.Match(norm, mode) {
			continue
		}
		// An empty target claims the id without mapping it.
		if rule.Target == "" {
			return "", rule.Name, false
		}
		return rule.Target, rule.Name, true
	}
	return "", "", false
}

// mazoInitialAliases are the exact names the research agent uses for its
// pre-signal stage.
var mazoInitialAliases = map[string]bool{
	"mazo_research":         true,
	"mazo_research_active":  true,
	"mazo_initial_research": true,
}

// DefaultRules returns the rule table for the hedge fund pipeline. Raw ids are
// substrings of each other, so the order is significant.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "exact_mazo_initial",
			Match:  func(raw string, _ Mode) bool { return mazoInitialAliases[raw] },
			Target: MazoInitial,
		},
		{
			Name:   "exact_mazo_deep_dive",
			Match:  func(raw string, _ Mode) bool { return raw == string(MazoDeepDive) },
			Target: MazoDeepDive,
		},
		{
			Name: "mazo_initial",
			Match: func(raw string, _ Mode) bool {
				return strings.Contains(raw, "mazo") && strings.Contains(raw, "initial")
			},
			Target: MazoInitial,
		},
		{
			Name: "mazo_deep",
			Match: func(raw string, _ Mode) bool {
				return strings.Contains(raw, "mazo") && strings.Contains(raw, "deep")
			},
			Target: MazoDeepDive,
		},
		{
			// research mode has no deep dive stage
			Name: "mazo_research_mode",
			Match: func(raw string, mode Mode) bool {
				return strings.Contains(raw, "mazo") && mode == ModeResearch
			},
			Target: MazoInitial,
		},
		{
			// a bare mazo id in any other mode has no defined target
			Name:   "mazo_unmapped",
			Match:  func(raw string, _ Mode) bool { return strings.Contains(raw, "mazo") },
			Target: "",
		},
		{
			Name:   "data_aggregation",
			Match:  func(raw string, _ Mode) bool { return strings.Contains(raw, "data_aggregation") },
			Target: DataAggregation,
		},
		{
			Name: "ai_hedge_fund",
			Match: func(raw string, _ Mode) bool {
				return strings.Contains(raw, "ai_hedge_fund") || strings.HasPrefix(raw, "analysis_")
			},
			Target: AIHedgeFund,
		},
		{
			Name:   "trade",
			Match:  func(raw string, _ Mode) bool { return strings.Contains(raw, "trade") },
			Target: TradeExecution,
		},
		{
			Name:   "portfolio",
			Match:  func(raw string, _ Mode) bool { return strings.Contains(raw, "portfolio") },
			Target: PortfolioManager,
		},
	}
}
