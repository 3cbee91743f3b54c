// Package graph projects pipeline topology and step state into a renderable
// node/edge graph, and maps that graph through a pan/zoom viewport.
package graph

import (
	"time"

	"github.com/jonathan/pipeline-monitor/internal/progress"
	"github.com/jonathan/pipeline-monitor/internal/steps"
)

// EdgeStatus is the visual state of an edge.
type EdgeStatus string

// Edge statuses
const (
	EdgePending   EdgeStatus = "pending"
	EdgeActive    EdgeStatus = "active"
	EdgeCompleted EdgeStatus = "completed"
)

// Node is a renderable step.
type Node struct {
	Step       steps.StepID    `json:"step"`
	Label      string          `json:"label"`
	Position   Point           `json:"position"`
	Status     progress.Status `json:"status"`
	DurationMs *int64          `json:"duration_ms,omitempty"`
}

// Edge is a renderable dependency between two steps.
type Edge struct {
	From   steps.StepID `json:"from"`
	To     steps.StepID `json:"to"`
	Status EdgeStatus   `json:"status"`
}

// Graph is the projected node/edge set.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node returns the node for step.
func (g Graph) Node(step steps.StepID) (Node, bool) {
	for _, n := range g.Nodes {
		if n.Step == step {
			return n, true
		}
	}
	return Node{}, false
}

// Project combines topology with live records. Topology nodes without a
// record are omitted along with their edges.
func Project(topo steps.Topology, records []progress.Record, now time.Time) Graph {
	positions := Layout(topo)
	byID := make(map[steps.StepID]progress.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	g := Graph{Nodes: []Node{}, Edges: []Edge{}}
	for _, id := range topo.Nodes {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		g.Nodes = append(g.Nodes, Node{
			Step:       id,
			Label:      steps.Label(id),
			Position:   positions[id],
			Status:     rec.Status,
			DurationMs: duration(rec, now),
		})
	}

	for _, e := range topo.Edges {
		if _, ok := byID[e.From]; !ok {
			continue
		}
		to, ok := byID[e.To]
		if !ok {
			continue
		}
		g.Edges = append(g.Edges, Edge{From: e.From, To: e.To, Status: edgeStatus(to.Status)})
	}

	return g
}

// edgeStatus looks only at the downstream step.
func edgeStatus(to progress.Status) EdgeStatus {
	switch to {
	case progress.StatusCompleted:
		return EdgeCompleted
	case progress.StatusRunning:
		return EdgeActive
	default:
		return EdgePending
	}
}

func duration(rec progress.Record, now time.Time) *int64 {
	if rec.StartedAt == nil {
		return nil
	}
	var d time.Duration
	switch {
	case rec.EndedAt != nil:
		d = rec.EndedAt.Sub(*rec.StartedAt)
	case rec.Status == progress.StatusRunning:
		d = now.Sub(*rec.StartedAt)
	default:
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}
