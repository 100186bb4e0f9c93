// Package layout assigns 2-D positions to graph nodes for rendering.
package layout

import (
	"fmt"
	"math"

	gonumlayout "gonum.org/v1/gonum/graph/layout"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/phobologic/importgraph/internal/graph"
)

// Point is a node position. Engines normalize positions into [-1, 1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Engine computes positions for every node of a graph.
type Engine interface {
	Layout(g *graph.Graph) (map[string]Point, error)
}

// ForName returns the engine registered under name.
func ForName(name string) (Engine, error) {
	switch name {
	case "spring", "":
		return NewSpring(), nil
	case "circle":
		return Circle{}, nil
	default:
		return nil, fmt.Errorf("unknown layout %q", name)
	}
}

// Spring is a force-directed layout using the Eades algorithm. Edges are
// treated as undirected springs.
type Spring struct {
	Iterations int
	Repulsion  float64
	Rate       float64
	Theta      float64
}

// NewSpring returns a Spring with the settings used for generated pages.
func NewSpring() Spring {
	return Spring{Iterations: 50, Repulsion: 1, Rate: 0.05, Theta: 0.2}
}

// Layout runs the optimizer to completion. The initial placement is random,
// so positions differ between runs.
func (s Spring) Layout(g *graph.Graph) (map[string]Point, error) {
	nodes := g.Nodes()
	if len(nodes) == 0 {
		return map[string]Point{}, nil
	}

	index := make(map[string]int64, len(nodes))
	ug := simple.NewUndirectedGraph()
	for i, n := range nodes {
		index[n.ID] = int64(i)
		ug.AddNode(simple.Node(int64(i)))
	}
	for _, e := range g.Edges() {
		from, to := index[e.Source], index[e.Target]
		if from == to || ug.HasEdgeBetween(from, to) {
			continue
		}
		ug.SetEdge(ug.NewEdge(simple.Node(from), simple.Node(to)))
	}

	eades := &gonumlayout.EadesR2{
		Updates:   s.Iterations,
		Repulsion: s.Repulsion,
		Rate:      s.Rate,
		Theta:     s.Theta,
	}
	opt := gonumlayout.NewOptimizerR2(ug, eades.Update)
	for opt.Update() {
	}

	coords := make([]r2.Vec, len(nodes))
	for i := range nodes {
		coords[i] = opt.Coord2(int64(i))
	}
	return normalize(nodes, coords), nil
}

// Circle places nodes on the unit circle in identity order. It is
// deterministic.
type Circle struct{}

// Layout implements Engine.
func (Circle) Layout(g *graph.Graph) (map[string]Point, error) {
	nodes := g.Nodes()
	out := make(map[string]Point, len(nodes))
	if len(nodes) == 1 {
		out[nodes[0].ID] = Point{}
		return out, nil
	}
	for i, n := range nodes {
		angle := 2 * math.Pi * float64(i) / float64(len(nodes))
		out[n.ID] = Point{X: math.Cos(angle), Y: math.Sin(angle)}
	}
	return out, nil
}

// normalize scales coordinates into [-1, 1] around their centre, replacing
// any non-finite value with the origin.
func normalize(nodes []graph.Node, coords []r2.Vec) map[string]Point {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range coords {
		if !finite(c) {
			continue
		}
		minX, maxX = math.Min(minX, c.X), math.Max(maxX, c.X)
		minY, maxY = math.Min(minY, c.Y), math.Max(maxY, c.Y)
	}
	span := math.Max(maxX-minX, maxY-minY) / 2
	cx, cy := (minX+maxX)/2, (minY+maxY)/2

	out := make(map[string]Point, len(nodes))
	for i, n := range nodes {
		c := coords[i]
		if !finite(c) || span <= 0 || math.IsInf(span, 0) {
			out[n.ID] = Point{}
			continue
		}
		out[n.ID] = Point{X: (c.X - cx) / span, Y: (c.Y - cy) / span}
	}
	return out
}

func finite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}
