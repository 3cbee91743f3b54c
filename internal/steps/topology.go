package steps

// Step categories
const (
	CategoryRun       = "run"
	CategoryData      = "data"
	CategoryResearch  = "research"
	CategoryAnalysis  = "analysis"
	CategoryDecision  = "decision"
	CategoryExecution = "execution"
)

// StepDefinition defines display metadata and mode membership for a step
type StepDefinition struct {
	ID       StepID
	Label    string
	Category string
	// Modes lists the workflow modes the step takes part in. Nil means every mode.
	Modes []Mode
	// Execution marks steps only present when trades are executed or dry-run.
	Execution bool
}

// In reports whether the step participates in mode.
func (d StepDefinition) In(mode Mode, executeOrDryRun bool) bool {
	if d.Execution && !executeOrDryRun {
		return false
	}
	if d.Modes == nil {
		return true
	}
	for _, m := range d.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

var analysisModes = []Mode{ModeSignal, ModePreResearch, ModePostResearch, ModeFull}

// StepRegistry holds all step definitions
var StepRegistry = map[StepID]StepDefinition{
	WorkflowStart: {
		ID:       WorkflowStart,
		Label:    "Workflow Start",
		Category: CategoryRun,
	},
	DataAggregation: {
		ID:       DataAggregation,
		Label:    "Data Aggregation",
		Category: CategoryData,
		Modes:    analysisModes,
	},
	MazoInitial: {
		ID:       MazoInitial,
		Label:    "Initial Research",
		Category: CategoryResearch,
		Modes:    []Mode{ModeResearch, ModePreResearch, ModeFull},
	},
	AIHedgeFund: {
		ID:       AIHedgeFund,
		Label:    "AI Hedge Fund",
		Category: CategoryAnalysis,
		Modes:    analysisModes,
	},
	Agents: {
		ID:       Agents,
		Label:    "Agents",
		Category: CategoryAnalysis,
		Modes:    analysisModes,
	},
	PortfolioManager: {
		ID:       PortfolioManager,
		Label:    "Portfolio Manager",
		Category: CategoryDecision,
		Modes:    analysisModes,
	},
	MazoDeepDive: {
		ID:       MazoDeepDive,
		Label:    "Deep Dive Research",
		Category: CategoryResearch,
		Modes:    []Mode{ModePostResearch, ModeFull},
	},
	TradeExecution: {
		ID:        TradeExecution,
		Label:     "Trade Execution",
		Category:  CategoryExecution,
		Execution: true,
	},
	Error: {
		ID:       Error,
		Label:    "Error",
		Category: CategoryRun,
		Modes:    []Mode{},
	},
}

// mainChain is the fixed order used to wire edges. agents is not part of it.
var mainChain = []StepID{
	DataAggregation,
	MazoInitial,
	AIHedgeFund,
	PortfolioManager,
	MazoDeepDive,
	TradeExecution,
}

// Edge connects two steps of the topology.
type Edge struct {
	From StepID `json:"from"`
	To   StepID `json:"to"`
}

// Topology is the set of steps present for a run and the edges between them.
type Topology struct {
	Mode  Mode     `json:"mode"`
	Nodes []StepID `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Build derives the topology for a workflow mode. executeOrDryRun adds the
// trade execution stage.
func Build(mode Mode, executeOrDryRun bool) Topology {
	topo := Topology{Mode: mode, Nodes: []StepID{WorkflowStart}}

	prev := WorkflowStart
	for _, id := range mainChain {
		if !StepRegistry[id].In(mode, executeOrDryRun) {
			continue
		}
		topo.Nodes = append(topo.Nodes, id)
		topo.Edges = append(topo.Edges, Edge{From: prev, To: id})
		prev = id

		if id == AIHedgeFund && StepRegistry[Agents].In(mode, executeOrDryRun) {
			topo.Nodes = append(topo.Nodes, Agents)
			topo.Edges = append(topo.Edges, Edge{From: AIHedgeFund, To: Agents})
		}
	}

	return topo
}

// Contains reports whether id is a node of the topology.
func (t Topology) Contains(id StepID) bool {
	for _, n := range t.Nodes {
		if n == id {
			return true
		}
	}
	return false
}

// Predecessors returns the steps with an edge into id.
func (t Topology) Predecessors(id StepID) []StepID {
	var out []StepID
	for _, e := range t.Edges {
		if e.To == id {
			out = append(out, e.From)
		}
	}
	return out
}

// Label returns the display label for a step.
func Label(id StepID) string {
	if def, ok := StepRegistry[id]; ok {
		return def.Label
	}
	return string(id)
}
