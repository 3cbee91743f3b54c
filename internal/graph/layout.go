package graph

import "github.com/jonathan/pipeline-monitor/internal/steps"

// Layout spacing in graph units.
const (
	ColumnWidth = 220.0
	LaneHeight  = 120.0
)

// Point is a position in graph space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout places the main chain left to right on lane 0. The agents pool sits
// in its parent's column, one lane below.
func Layout(topo steps.Topology) map[steps.StepID]Point {
	pos := make(map[steps.StepID]Point, len(topo.Nodes))
	if len(topo.Nodes) == 0 {
		return pos
	}

	pos[topo.Nodes[0]] = Point{}
	column := map[steps.StepID]int{topo.Nodes[0]: 0}
	lane := map[steps.StepID]int{topo.Nodes[0]: 0}

	for _, e := range topo.Edges {
		parentCol, ok := column[e.From]
		if !ok {
			continue
		}
		if e.To == steps.Agents {
			column[e.To] = parentCol
			lane[e.To] = lane[e.From] + 1
		} else {
			column[e.To] = parentCol + 1
			lane[e.To] = lane[e.From]
		}
		pos[e.To] = Point{
			X: float64(column[e.To]) * ColumnWidth,
			Y: float64(lane[e.To]) * LaneHeight,
		}
	}

	return pos
}

// Bounds returns the bounding box of a set of points.
func Bounds(points []Point) (minPt, maxPt Point) {
	for i, p := range points {
		if i == 0 {
			minPt, maxPt = p, p
			continue
		}
		minPt.X = min(minPt.X, p.X)
		minPt.Y = min(minPt.Y, p.Y)
		maxPt.X = max(maxPt.X, p.X)
		maxPt.Y = max(maxPt.Y, p.Y)
	}
	return minPt, maxPt
}
