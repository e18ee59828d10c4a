package layered

import "fmt"

// rank assigns ranks to nodes, reversing edges to break cycles.
func (s *state) rank() {
	n := len(s.elements)
	out := make([][]int, n) // chain indices
	for ci, c := range s.chains {
		u, v := c.elements[0], c.elements[1]
		if u == v {
			continue
		}
		out[u] = append(out[u], ci)
	}

	// break cycles by DFS: edges to a node on the stack are reversed.
	const (
		unvisited = iota
		onStack
		done
	)
	mark := make([]int, n)
	var visit func(u int)
	visit = func(u int) {
		mark[u] = onStack
		for _, ci := range out[u] {
			v := s.chains[ci].elements[1]
			switch mark[v] {
			case onStack:
				s.chains[ci].reversed = true
			case unvisited:
				visit(v)
			}
		}
		mark[u] = done
	}
	for u := 0; u < n; u++ {
		if mark[u] == unvisited {
			visit(u)
		}
	}
	for ci := range s.chains {
		if s.chains[ci].reversed {
			c := &s.chains[ci]
			c.elements[0], c.elements[1] = c.elements[1], c.elements[0]
		}
	}

	succ := make([][]int, n)
	pred := make([][]int, n)
	for _, c := range s.chains {
		u, v := c.elements[0], c.elements[1]
		if u == v {
			continue
		}
		succ[u] = append(succ[u], v)
		pred[v] = append(pred[v], u)
	}

	// longest path from sources, in topological order.
	indeg := make([]int, n)
	for v := range pred {
		indeg[v] = len(pred[v])
	}
	queue := []int{}
	for v := 0; v < n; v++ {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}
	topo := make([]int, 0, n)
	for len(queue) != 0 {
		u := queue[0]
		queue = queue[1:]
		topo = append(topo, u)
		for _, v := range succ[u] {
			if r := s.elements[u].rank + 1; s.elements[v].rank < r {
				s.elements[v].rank = r
			}
			indeg[v] -= 1
			if indeg[v] == 0 {
				queue = append(queue, v)
			}
		}
	}

	// pull sources down next to their nearest successor.
	for _, u := range topo {
		if len(pred[u]) != 0 || len(succ[u]) == 0 {
			continue
		}
		min := -1
		for _, v := range succ[u] {
			if r := s.elements[v].rank; min < 0 || r < min {
				min = r
			}
		}
		s.elements[u].rank = min - 1
	}

	low := 0
	for i, e := range s.elements {
		if i == 0 || e.rank < low {
			low = e.rank
		}
	}
	for _, e := range s.elements {
		e.rank -= low
	}
}

// split inserts dummy nodes into edges spanning more than one rank, and builds adjacency.
func (s *state) split() {
	for ci := range s.chains {
		c := &s.chains[ci]
		u, v := c.elements[0], c.elements[1]
		if u == v {
			continue
		}
		parent := s.lca(u, v)
		els := []int{u}
		for r := s.elements[u].rank + 1; r < s.elements[v].rank; r++ {
			d := &element{
				id:     fmt.Sprintf("\x00dummy:%d:%d", ci, r),
				index:  len(s.elements),
				dummy:  true,
				rank:   r,
				parent: parent,
			}
			s.elements = append(s.elements, d)
			els = append(els, d.index)
		}
		c.elements = append(els, v)
	}

	s.up = make([][]int, len(s.elements))
	s.down = make([][]int, len(s.elements))
	for _, c := range s.chains {
		for i := 0; i+1 < len(c.elements); i++ {
			a, b := c.elements[i], c.elements[i+1]
			if a == b {
				continue
			}
			s.down[a] = append(s.down[a], b)
			s.up[b] = append(s.up[b], a)
		}
	}

	for _, g := range s.groups {
		g.rmin, g.rmax = -1, -1
	}
	for _, e := range s.elements {
		if e.dummy {
			continue
		}
		for p := e.parent; p >= 0; p = s.groups[p].parent {
			g := s.groups[p]
			if g.rmin < 0 || e.rank < g.rmin {
				g.rmin = e.rank
			}
			if g.rmax < e.rank {
				g.rmax = e.rank
			}
		}
	}

	maxRank := 0
	for _, e := range s.elements {
		if maxRank < e.rank {
			maxRank = e.rank
		}
	}
	s.ranks = make([][]int, maxRank+1)
}
