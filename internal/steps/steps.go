// Package steps defines the canonical pipeline steps, the workflow modes that
// select them, the resolver mapping producer step names onto canonical ids, and
// the mode-dependent pipeline topology.
package steps

import (
	"fmt"
	"strings"
)

// StepID identifies one logical stage of the analysis pipeline.
type StepID string

// Canonical step ids
const (
	WorkflowStart    StepID = "workflow_start"
	DataAggregation  StepID = "data_aggregation"
	MazoInitial      StepID = "mazo_initial"
	AIHedgeFund      StepID = "ai_hedge_fund"
	Agents           StepID = "agents"
	PortfolioManager StepID = "portfolio_manager"
	MazoDeepDive     StepID = "mazo_deep_dive"
	TradeExecution   StepID = "trade_execution"
	Error            StepID = "error"
)

// All lists every canonical step in display order.
var All = []StepID{
	WorkflowStart,
	DataAggregation,
	MazoInitial,
	AIHedgeFund,
	Agents,
	PortfolioManager,
	MazoDeepDive,
	TradeExecution,
	Error,
}

// Valid reports whether id is one of the canonical step ids.
func (id StepID) Valid() bool {
	for _, s := range All {
		if s == id {
			return true
		}
	}
	return false
}

// Order returns the display position of id, or len(All) for unknown ids.
func (id StepID) Order() int {
	for i, s := range All {
		if s == id {
			return i
		}
	}
	return len(All)
}

// Mode selects which pipeline stages take part in a run.
type Mode string

// Workflow modes
const (
	ModeSignal       Mode = "signal"
	ModeResearch     Mode = "research"
	ModePreResearch  Mode = "pre-research"
	ModePostResearch Mode = "post-research"
	ModeFull         Mode = "full"
)

// Modes lists every supported workflow mode.
var Modes = []Mode{ModeSignal, ModeResearch, ModePreResearch, ModePostResearch, ModeFull}

// ParseMode converts a user supplied mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown workflow mode: %q", s)
}

func (m Mode) String() string {
	return string(m)
}
