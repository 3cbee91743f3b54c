package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Post-Research ")
	require.NoError(t, err)
	assert.Equal(t, ModePostResearch, m)

	_, err = ParseMode("yolo")
	assert.Error(t, err)
}

func TestBuild_Nodes(t *testing.T) {
	tests := []struct {
		mode     Mode
		execute  bool
		expected []StepID
	}{
		{ModeSignal, false, []StepID{WorkflowStart, DataAggregation, AIHedgeFund, Agents, PortfolioManager}},
		{ModeResearch, false, []StepID{WorkflowStart, MazoInitial}},
		{ModePreResearch, false, []StepID{WorkflowStart, DataAggregation, MazoInitial, AIHedgeFund, Agents, PortfolioManager}},
		{ModePostResearch, false, []StepID{WorkflowStart, DataAggregation, AIHedgeFund, Agents, PortfolioManager, MazoDeepDive}},
		{ModeFull, false, []StepID{WorkflowStart, DataAggregation, MazoInitial, AIHedgeFund, Agents, PortfolioManager, MazoDeepDive}},
		{ModeFull, true, []StepID{WorkflowStart, DataAggregation, MazoInitial, AIHedgeFund, Agents, PortfolioManager, MazoDeepDive, TradeExecution}},
		{ModeResearch, true, []StepID{WorkflowStart, MazoInitial, TradeExecution}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			topo := Build(tt.mode, tt.execute)
			assert.Equal(t, tt.expected, topo.Nodes)
		})
	}
}

func TestBuild_Invariants(t *testing.T) {
	for _, mode := range Modes {
		for _, execute := range []bool{false, true} {
			topo := Build(mode, execute)

			require.NotEmpty(t, topo.Nodes)
			assert.Equal(t, WorkflowStart, topo.Nodes[0])
			assert.Less(t, len(topo.Nodes), len(All), "node set must be a strict subset")
			assert.NotContains(t, topo.Nodes, Error)

			seen := map[StepID]bool{}
			for _, n := range topo.Nodes {
				assert.True(t, n.Valid())
				assert.False(t, seen[n], "duplicate node %s", n)
				seen[n] = true
			}
			for _, e := range topo.Edges {
				assert.True(t, seen[e.From], "edge from missing node %s", e.From)
				assert.True(t, seen[e.To], "edge to missing node %s", e.To)
			}

			if mode == ModeSignal || mode == ModePreResearch {
				assert.False(t, topo.Contains(MazoDeepDive))
			}
			assert.Equal(t, execute, topo.Contains(TradeExecution))
		}
	}
}

func TestBuild_Edges(t *testing.T) {
	t.Run("post-research deep dive follows portfolio manager", func(t *testing.T) {
		topo := Build(ModePostResearch, false)
		assert.Equal(t, []StepID{PortfolioManager}, topo.Predecessors(MazoDeepDive))
	})

	t.Run("agents is a side branch", func(t *testing.T) {
		topo := Build(ModeSignal, false)
		assert.Equal(t, []StepID{AIHedgeFund}, topo.Predecessors(Agents))
		assert.Equal(t, []StepID{AIHedgeFund}, topo.Predecessors(PortfolioManager))
	})

	t.Run("full with execution", func(t *testing.T) {
		topo := Build(ModeFull, true)
		assert.Equal(t, []Edge{
			{From: WorkflowStart, To: DataAggregation},
			{From: DataAggregation, To: MazoInitial},
			{From: MazoInitial, To: AIHedgeFund},
			{From: AIHedgeFund, To: Agents},
			{From: AIHedgeFund, To: PortfolioManager},
			{From: PortfolioManager, To: MazoDeepDive},
			{From: MazoDeepDive, To: TradeExecution},
		}, topo.Edges)
	})

	t.Run("research", func(t *testing.T) {
		topo := Build(ModeResearch, false)
		assert.Equal(t, []Edge{{From: WorkflowStart, To: MazoInitial}}, topo.Edges)
	})

	t.Run("signal with dry run", func(t *testing.T) {
		topo := Build(ModeSignal, true)
		assert.Equal(t, []StepID{PortfolioManager}, topo.Predecessors(TradeExecution))
	})
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Portfolio Manager", Label(PortfolioManager))
	assert.Equal(t, "mystery", Label(StepID("mystery")))
}
