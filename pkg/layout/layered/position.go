package layered

import (
	"fmt"
	"math"
	"sort"
)

type constraint struct {
	other int
	sep   float64
}

type positioner struct {
	s     *state
	n     int // number of elements. borders follow them.
	xs    []float64
	preds [][]constraint
	succs [][]constraint
}

func (p *positioner) left(g int) int  { return p.n + 2*g }
func (p *positioner) right(g int) int { return p.n + 2*g + 1 }

func (p *positioner) isBorder(v int) bool { return p.n <= v }

// half of the space an element wants on each side, besides its width.
func (p *positioner) halfSep(e int) float64 {
	if p.s.elements[e].dummy {
		return p.s.config.EdgeSep / 2
	}
	return p.s.config.NodeSep / 2
}

// sep is the minimum distance between variables a and b, adjacent in a rank.
func (p *positioner) sep(a, b int) float64 {
	pad := p.s.config.GroupPadding
	nodesep := p.s.config.NodeSep
	aLeft := p.isBorder(a) && (a-p.n)%2 == 0
	bLeft := p.isBorder(b) && (b-p.n)%2 == 0

	switch {
	case !p.isBorder(a) && !p.isBorder(b):
		return p.s.elements[a].width/2 + p.halfSep(a) + p.halfSep(b) + p.s.elements[b].width/2
	case !p.isBorder(a) && bLeft:
		// element, then a group starts
		return p.s.elements[a].width/2 + p.halfSep(a) + nodesep/2
	case !p.isBorder(a):
		// last element in a group
		return p.s.elements[a].width/2 + pad
	case aLeft && !p.isBorder(b):
		// first element in a group
		return pad + p.s.elements[b].width/2
	case aLeft && bLeft:
		return pad
	case aLeft:
		// group without elements at the rank
		return 0
	case !p.isBorder(b):
		// a group ends, then an element
		return nodesep/2 + p.halfSep(b) + p.s.elements[b].width/2
	case bLeft:
		return nodesep
	default:
		// nested groups end
		return pad
	}
}

func (p *positioner) constrain(a, b int, sep float64, seen map[[2]int]int) {
	if i, ok := seen[[2]int{a, b}]; ok {
		if p.succs[a][i].sep < sep {
			p.succs[a][i].sep = sep
			for j := range p.preds[b] {
				if p.preds[b][j].other == a {
					p.preds[b][j].sep = sep
				}
			}
		}
		return
	}
	seen[[2]int{a, b}] = len(p.succs[a])
	p.succs[a] = append(p.succs[a], constraint{other: b, sep: sep})
	p.preds[b] = append(p.preds[b], constraint{other: a, sep: sep})
}

func (p *positioner) sequence(r int) []int {
	seq := []int{}
	var emit func(g int)
	emit = func(g int) {
		for _, it := range p.s.layout[itemKey{group: g, rank: r}] {
			if it.group < 0 {
				seq = append(seq, it.elem)
				continue
			}
			seq = append(seq, p.left(it.group))
			emit(it.group)
			seq = append(seq, p.right(it.group))
		}
	}
	emit(-1)
	return seq
}

func (p *positioner) bounds(v int) (float64, float64) {
	lo, hi := math.Inf(-1), math.Inf(1)
	for _, c := range p.preds[v] {
		lo = math.Max(lo, p.xs[c.other]+c.sep)
	}
	for _, c := range p.succs[v] {
		hi = math.Min(hi, p.xs[c.other]-c.sep)
	}
	return lo, hi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// position assigns coordinates to elements and groups.
func (s *state) position() error {
	n := len(s.elements)
	total := n + 2*len(s.groups)
	p := &positioner{
		s:     s,
		n:     n,
		xs:    make([]float64, total),
		preds: make([][]constraint, total),
		succs: make([][]constraint, total),
	}

	seen := map[[2]int]int{}
	for r := range s.ranks {
		seq := p.sequence(r)
		for i := 0; i+1 < len(seq); i++ {
			p.constrain(seq[i], seq[i+1], p.sep(seq[i], seq[i+1]), seen)
		}
	}

	// pack to the left, in topological order.
	indeg := make([]int, total)
	for v := range p.preds {
		indeg[v] = len(p.preds[v])
	}
	queue := []int{}
	for v := 0; v < total; v++ {
		if indeg[v] == 0 {
			queue = append(queue, v)
		}
	}
	done := 0
	for len(queue) != 0 {
		v := queue[0]
		queue = queue[1:]
		done += 1
		for _, c := range p.succs[v] {
			p.xs[c.other] = math.Max(p.xs[c.other], p.xs[v]+c.sep)
			indeg[c.other] -= 1
			if indeg[c.other] == 0 {
				queue = append(queue, c.other)
			}
		}
	}
	if done != total {
		return fmt.Errorf("layered: groups are ordered inconsistently")
	}

	p.relax()
	p.tighten()

	for _, e := range s.elements {
		e.x = p.xs[e.index]
	}
	s.borders = make([][2]float64, len(s.groups))
	for g := range s.groups {
		s.borders[g] = [2]float64{p.xs[p.left(g)], p.xs[p.right(g)]}
	}

	s.vertical()
	s.translate()
	return nil
}

func (p *positioner) neighbors(e int) []int {
	return append(append([]int{}, p.s.up[e]...), p.s.down[e]...)
}

// groupsByDepth lists groups having nodes, deepest first.
func (s *state) groupsByDepth() []int {
	gs := []int{}
	for _, g := range s.groups {
		if g.hasNode {
			gs = append(gs, g.index)
		}
	}
	sort.SliceStable(gs, func(i, j int) bool {
		return s.groups[gs[i]].depth > s.groups[gs[j]].depth
	})
	return gs
}

// relax pulls elements and groups toward their neighbors, keeping constraints.
func (p *positioner) relax() {
	s := p.s
	order := []int{}
	for _, rank := range s.ranks {
		order = append(order, rank...)
	}

	members := map[int][]int{}
	inGroup := map[int]map[int]bool{}
	for _, g := range s.groupsByDepth() {
		set := map[int]bool{}
		vars := []int{}
		for _, e := range s.elements {
			if s.isIn(e.index, g) {
				set[e.index] = true
				vars = append(vars, e.index)
			}
		}
		for _, h := range s.groups {
			if !h.hasNode {
				continue
			}
			for q := h.index; q >= 0; q = s.groups[q].parent {
				if q == g {
					set[p.left(h.index)] = true
					set[p.right(h.index)] = true
					vars = append(vars, p.left(h.index), p.right(h.index))
					break
				}
			}
		}
		members[g] = vars
		inGroup[g] = set
	}

	for iter := 0; iter < 8; iter++ {
		seq := order
		if iter%2 == 1 {
			seq = make([]int, len(order))
			for i := range order {
				seq[i] = order[len(order)-1-i]
			}
		}
		for _, e := range seq {
			ns := p.neighbors(e)
			if len(ns) == 0 {
				continue
			}
			sum := 0.0
			for _, nb := range ns {
				sum += p.xs[nb]
			}
			lo, hi := p.bounds(e)
			if hi < lo {
				continue
			}
			p.xs[e] = clamp(sum/float64(len(ns)), lo, hi)
		}

		for _, g := range s.groupsByDepth() {
			set := inGroup[g]
			pull, count := 0.0, 0
			lo, hi := math.Inf(-1), math.Inf(1)
			for _, v := range members[g] {
				if !p.isBorder(v) {
					for _, nb := range p.neighbors(v) {
						if !set[nb] {
							pull += p.xs[nb] - p.xs[v]
							count += 1
						}
					}
				}
				for _, c := range p.preds[v] {
					if !set[c.other] {
						lo = math.Max(lo, p.xs[c.other]+c.sep-p.xs[v])
					}
				}
				for _, c := range p.succs[v] {
					if !set[c.other] {
						hi = math.Min(hi, p.xs[c.other]-c.sep-p.xs[v])
					}
				}
			}
			if count == 0 || hi < lo {
				continue
			}
			delta := clamp(pull/float64(count), lo, hi)
			for _, v := range members[g] {
				p.xs[v] += delta
			}
		}
	}
}

// tighten moves borders of groups to fit their content.
func (p *positioner) tighten() {
	s := p.s
	pad := s.config.GroupPadding
	for _, g := range s.groupsByDepth() {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, e := range s.elements {
			if e.parent != g {
				continue
			}
			lo = math.Min(lo, p.xs[e.index]-e.width/2-pad)
			hi = math.Max(hi, p.xs[e.index]+e.width/2+pad)
		}
		for _, h := range s.groups[g].children {
			if !s.groups[h].hasNode {
				continue
			}
			lo = math.Min(lo, p.xs[p.left(h)]-pad)
			hi = math.Max(hi, p.xs[p.right(h)]+pad)
		}
		if lo <= hi {
			p.xs[p.left(g)] = math.Max(p.xs[p.left(g)], lo)
			p.xs[p.right(g)] = math.Min(p.xs[p.right(g)], hi)
		}
	}
}

// vertical assigns y to elements and boxes to groups.
func (s *state) vertical() {
	pad := s.config.GroupPadding
	heights := make([]float64, len(s.ranks))
	opening := make([]int, len(s.ranks))
	closing := make([]int, len(s.ranks))
	for _, e := range s.elements {
		if e.dummy {
			continue
		}
		heights[e.rank] = math.Max(heights[e.rank], e.height)
		o, c := 0, 0
		for g := e.parent; g >= 0; g = s.groups[g].parent {
			if s.groups[g].rmin == e.rank {
				o += 1
			}
			if s.groups[g].rmax == e.rank {
				c += 1
			}
		}
		if opening[e.rank] < o {
			opening[e.rank] = o
		}
		if closing[e.rank] < c {
			closing[e.rank] = c
		}
	}

	ys := make([]float64, len(s.ranks))
	top := float64(opening[0]) * pad
	for r := range s.ranks {
		ys[r] = top + heights[r]/2
		if r+1 < len(s.ranks) {
			top += heights[r] + float64(closing[r])*pad + s.config.RankSep + float64(opening[r+1])*pad
		}
	}
	for _, e := range s.elements {
		e.y = ys[e.rank]
	}

	s.boxes = make([]Box, len(s.groups))
	var box func(g int) Box
	box = func(g int) Box {
		topY, bottomY := math.Inf(1), math.Inf(-1)
		for _, e := range s.elements {
			if e.dummy || e.parent != g {
				continue
			}
			topY = math.Min(topY, e.y-e.height/2)
			bottomY = math.Max(bottomY, e.y+e.height/2)
		}
		for _, h := range s.groups[g].children {
			if !s.groups[h].hasNode {
				continue
			}
			b := box(h)
			topY = math.Min(topY, b.Top())
			bottomY = math.Max(bottomY, b.Bottom())
		}
		topY -= pad
		bottomY += pad
		left, right := s.borders[g][0], s.borders[g][1]
		b := Box{X: (left + right) / 2, Y: (topY + bottomY) / 2, Width: right - left, Height: bottomY - topY}
		s.boxes[g] = b
		return b
	}
	for _, g := range s.groups {
		if g.hasNode && g.parent < 0 {
			box(g.index)
		}
	}
}

// translate moves everything so that the top-left corner is at the margin.
func (s *state) translate() {
	minX, minY := math.Inf(1), math.Inf(1)
	for _, e := range s.elements {
		if e.dummy {
			minX = math.Min(minX, e.x)
			continue
		}
		minX = math.Min(minX, e.x-e.width/2)
		minY = math.Min(minY, e.y-e.height/2)
	}
	for _, g := range s.groups {
		if !g.hasNode {
			continue
		}
		minX = math.Min(minX, s.boxes[g.index].Left())
		minY = math.Min(minY, s.boxes[g.index].Top())
	}
	if math.IsInf(minX, 1) {
		return
	}
	if math.IsInf(minY, 1) {
		minY = 0
	}

	dx, dy := s.config.MarginX-minX, s.config.MarginY-minY
	for _, e := range s.elements {
		e.x += dx
		e.y += dy
	}
	for g := range s.boxes {
		s.boxes[g].X += dx
		s.boxes[g].Y += dy
	}
}

func (s *state) groupBox(g int) Box {
	return s.boxes[g]
}
