// Package layered places a directed graph in top-to-bottom layers.
//
// It follows the usual Sugiyama steps: breaking cycles, ranking,
// splitting long edges with dummy nodes, ordering nodes in each rank to reduce crossings,
// and assigning coordinates. Nodes can be grouped in nested groups,
// and each group is kept in one rectangle which does not overlap with others.
//
// Layouts are deterministic: the same input gives the same output.
package layered

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownNode    = errors.New("layered: unknown node")
	ErrDuplicatedNode = errors.New("layered: duplicated node")
	ErrInvalidGroup   = errors.New("layered: invalid group")
)

type Config struct {
	MarginX float64
	MarginY float64

	// space between nodes in a rank
	NodeSep float64

	// space between edges (dummy nodes) in a rank
	EdgeSep float64

	// space between ranks
	RankSep float64

	// space between a group border and its content
	GroupPadding float64

	// number of crossing reduction sweeps
	Sweeps int
}

func DefaultConfig() Config {
	return Config{
		MarginX:      0,
		MarginY:      0,
		NodeSep:      50,
		EdgeSep:      10,
		RankSep:      50,
		GroupPadding: 20,
		Sweeps:       8,
	}
}

type Node struct {
	ID     string
	Width  float64
	Height float64
}

type Edge struct {
	From string
	To   string
}

type Graph struct {
	// Nodes to be placed. Ordering matters for tie-breaking.
	Nodes []Node

	// Parents maps a node or group id to the id of its enclosing group.
	//
	// Groups are implied by being a value of Parents.
	// Groups without any node in it are ignored.
	Parents map[string]string

	// Edges between nodes. Groups cannot be endpoints.
	Edges []Edge

	Config Config
}

type Point struct {
	X float64
	Y float64
}

// Box is a rectangle by its center and size.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (b Box) Left() float64   { return b.X - b.Width/2 }
func (b Box) Right() float64  { return b.X + b.Width/2 }
func (b Box) Top() float64    { return b.Y - b.Height/2 }
func (b Box) Bottom() float64 { return b.Y + b.Height/2 }

type Route struct {
	From   string
	To     string
	Points []Point
}

type Result struct {
	// boxes of nodes and groups.
	Nodes map[string]Box

	// routes of Graph.Edges, in the same order.
	Edges []Route
}

// Layouter implements layout with Config in Graph.
type Layouter struct{}

func New() *Layouter {
	return &Layouter{}
}

func (*Layouter) Layout(g *Graph) (*Result, error) {
	return Layout(g)
}

// element is a node or a dummy node to be placed.
type element struct {
	id     string
	index  int
	dummy  bool
	width  float64
	height float64
	rank   int
	parent int // index of group. -1 for root.
	x, y   float64
}

type group struct {
	id       string
	index    int
	parent   int
	depth    int
	children []int // child groups, in order
	rmin     int
	rmax     int
	hasNode  bool
}

type chain struct {
	edge     Edge
	elements []int // from source of edge, including endpoints
	reversed bool
}

type state struct {
	config   Config
	elements []*element
	groups   []*group
	groupOf  map[string]int
	chains   []chain
	ranks    [][]int // element indices per rank, in order
	layout   map[itemKey][]item

	// x of left and right borders of groups
	borders [][2]float64
	boxes   []Box

	// adjacency after splitting edges. each pair is between neighboring ranks.
	up   [][]int
	down [][]int
}

// Layout places g.
func Layout(g *Graph) (*Result, error) {
	s, err := build(g)
	if err != nil {
		return nil, err
	}
	s.rank()
	s.split()
	s.order()
	if err := s.position(); err != nil {
		return nil, err
	}
	return s.result(), nil
}

func build(g *Graph) (*state, error) {
	s := &state{config: g.Config, groupOf: map[string]int{}}
	if s.config.Sweeps <= 0 {
		s.config.Sweeps = DefaultConfig().Sweeps
	}

	index := map[string]int{}
	for _, n := range g.Nodes {
		if _, ok := index[n.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatedNode, n.ID)
		}
		if math.IsNaN(n.Width) || math.IsNaN(n.Height) || n.Width < 0 || n.Height < 0 {
			return nil, fmt.Errorf("layered: node %s has invalid size (%v, %v)", n.ID, n.Width, n.Height)
		}
		index[n.ID] = len(s.elements)
		s.elements = append(s.elements, &element{
			id: n.ID, index: len(s.elements), width: n.Width, height: n.Height, parent: -1,
		})
	}

	// groups are discovered from nodes, walking up parents, so that their order is deterministic.
	var groupFor func(id string, seen map[string]bool) (int, error)
	groupFor = func(id string, seen map[string]bool) (int, error) {
		if gi, ok := s.groupOf[id]; ok {
			return gi, nil
		}
		if _, ok := index[id]; ok {
			return -1, fmt.Errorf("%w: %s is a node and a group", ErrInvalidGroup, id)
		}
		if seen[id] {
			return -1, fmt.Errorf("%w: %s is in a cycle of groups", ErrInvalidGroup, id)
		}
		seen[id] = true
		parent := -1
		if pid, ok := g.Parents[id]; ok && pid != "" {
			p, err := groupFor(pid, seen)
			if err != nil {
				return -1, err
			}
			parent = p
		}
		gr := &group{id: id, index: len(s.groups), parent: parent}
		if parent >= 0 {
			gr.depth = s.groups[parent].depth + 1
			s.groups[parent].children = append(s.groups[parent].children, gr.index)
		}
		s.groupOf[id] = gr.index
		s.groups = append(s.groups, gr)
		return gr.index, nil
	}
	for _, e := range s.elements {
		pid, ok := g.Parents[e.id]
		if !ok || pid == "" {
			continue
		}
		gi, err := groupFor(pid, map[string]bool{})
		if err != nil {
			return nil, err
		}
		e.parent = gi
		for p := gi; p >= 0; p = s.groups[p].parent {
			s.groups[p].hasNode = true
		}
	}

	for _, e := range g.Edges {
		if _, ok := index[e.From]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, e.From)
		}
		if _, ok := index[e.To]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, e.To)
		}
		s.chains = append(s.chains, chain{
			edge:     e,
			elements: []int{index[e.From], index[e.To]},
		})
	}
	return s, nil
}

// lca returns the lowest common group of two elements, or -1.
func (s *state) lca(a, b int) int {
	ancestors := map[int]bool{}
	for g := s.elements[a].parent; g >= 0; g = s.groups[g].parent {
		ancestors[g] = true
	}
	for g := s.elements[b].parent; g >= 0; g = s.groups[g].parent {
		if ancestors[g] {
			return g
		}
	}
	return -1
}

// isIn reports whether element e is in group g, directly or not.
func (s *state) isIn(e int, g int) bool {
	for p := s.elements[e].parent; p >= 0; p = s.groups[p].parent {
		if p == g {
			return true
		}
	}
	return false
}

func (s *state) result() *Result {
	r := &Result{Nodes: map[string]Box{}}
	for _, e := range s.elements {
		if e.dummy {
			continue
		}
		r.Nodes[e.id] = Box{X: e.x, Y: e.y, Width: e.width, Height: e.height}
	}
	for _, g := range s.groups {
		if !g.hasNode {
			continue
		}
		r.Nodes[g.id] = s.groupBox(g.index)
	}

	for _, c := range s.chains {
		r.Edges = append(r.Edges, Route{From: c.edge.From, To: c.edge.To, Points: s.route(c)})
	}
	return r
}

func (s *state) box(e int) Box {
	el := s.elements[e]
	return Box{X: el.x, Y: el.y, Width: el.width, Height: el.height}
}

func (s *state) route(c chain) []Point {
	els := c.elements
	if c.reversed {
		// chain was built along the reversed edge. restore the direction.
		rev := make([]int, len(els))
		for i := range els {
			rev[i] = els[len(els)-1-i]
		}
		els = rev
	}

	src, dst := s.box(els[0]), s.box(els[len(els)-1])
	if els[0] == els[len(els)-1] {
		right := src.Right()
		return []Point{
			{X: right, Y: src.Y - src.Height/4},
			{X: right + s.config.NodeSep/2, Y: src.Y},
			{X: right, Y: src.Y + src.Height/4},
		}
	}

	inner := []Point{}
	for _, d := range els[1 : len(els)-1] {
		inner = append(inner, Point{X: s.elements[d].x, Y: s.elements[d].y})
	}

	next := Point{X: dst.X, Y: dst.Y}
	prev := Point{X: src.X, Y: src.Y}
	if len(inner) != 0 {
		next = inner[0]
		prev = inner[len(inner)-1]
	}

	points := []Point{intersect(src, next)}
	points = append(points, inner...)
	points = append(points, intersect(dst, prev))
	return points
}

// intersect returns the point where the segment from the center of b to p crosses the border of b.
func intersect(b Box, p Point) Point {
	dx, dy := p.X-b.X, p.Y-b.Y
	w, h := b.Width/2, b.Height/2
	if dx == 0 && dy == 0 {
		return Point{X: b.X, Y: b.Y}
	}

	var sx, sy float64
	if math.Abs(dy)*w > math.Abs(dx)*h {
		if dy < 0 {
			h = -h
		}
		sx = h * dx / dy
		sy = h
	} else {
		if dx < 0 {
			w = -w
		}
		sx = w
		sy = w * dy / dx
	}
	return Point{X: b.X + sx, Y: b.Y + sy}
}
