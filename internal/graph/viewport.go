package graph

import "github.com/jonathan/pipeline-monitor/internal/steps"

// Zoom limits
const (
	MinZoom = 0.25
	MaxZoom = 4.0
)

// Viewport is pan/zoom/selection state over a projected graph. It holds no
// step state and can be kept across runs.
type Viewport struct {
	PanX     float64      `json:"pan_x"`
	PanY     float64      `json:"pan_y"`
	Zoom     float64      `json:"zoom"`
	Selected steps.StepID `json:"selected,omitempty"`
}

// NewViewport returns a viewport at the origin with zoom 1.
func NewViewport() Viewport {
	return Viewport{Zoom: 1}
}

// Pan moves the viewport by a screen-space delta.
func (v Viewport) Pan(dx, dy float64) Viewport {
	v.PanX += dx
	v.PanY += dy
	return v
}

// ZoomBy multiplies the zoom by factor, clamped to [MinZoom, MaxZoom].
func (v Viewport) ZoomBy(factor float64) Viewport {
	if factor <= 0 {
		return v
	}
	v.Zoom = clampZoom(v.zoom() * factor)
	return v
}

// Select marks a step as selected; an empty id clears the selection.
func (v Viewport) Select(id steps.StepID) Viewport {
	v.Selected = id
	return v
}

// Reset returns the default viewport, keeping nothing.
func (v Viewport) Reset() Viewport {
	return NewViewport()
}

func (v Viewport) zoom() float64 {
	if v.Zoom == 0 {
		return 1
	}
	return v.Zoom
}

func clampZoom(z float64) float64 {
	return min(max(z, MinZoom), MaxZoom)
}

// ViewNode is a node mapped into screen space.
type ViewNode struct {
	Node
	Screen   Point `json:"screen"`
	Selected bool  `json:"selected"`
}

// Minimap describes the graph's extent and the visible window, both in graph
// space.
type Minimap struct {
	Min    Point   `json:"min"`
	Max    Point   `json:"max"`
	Origin Point   `json:"origin"`
	Zoom   float64 `json:"zoom"`
}

// View is the result of mapping a graph through a viewport.
type View struct {
	Viewport Viewport   `json:"viewport"`
	Nodes    []ViewNode `json:"nodes"`
	Edges    []Edge     `json:"edges"`
	Minimap  Minimap    `json:"minimap"`
}

// Project maps graph coordinates to screen coordinates.
func (v Viewport) Project(g Graph) View {
	z := clampZoom(v.zoom())
	view := View{
		Viewport: v,
		Nodes:    make([]ViewNode, 0, len(g.Nodes)),
		Edges:    g.Edges,
	}
	view.Viewport.Zoom = z

	points := make([]Point, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		points = append(points, n.Position)
		view.Nodes = append(view.Nodes, ViewNode{
			Node: n,
			Screen: Point{
				X: n.Position.X*z + v.PanX,
				Y: n.Position.Y*z + v.PanY,
			},
			Selected: v.Selected != "" && n.Step == v.Selected,
		})
	}

	minPt, maxPt := Bounds(points)
	view.Minimap = Minimap{
		Min:    minPt,
		Max:    maxPt,
		Origin: Point{X: -v.PanX / z, Y: -v.PanY / z},
		Zoom:   z,
	}
	return view
}
