package layered

import "sort"

// item is an entry of an ordering in a group at a rank: an element or a child group.
type item struct {
	elem  int
	group int // -1 when item is an element
}

type itemKey struct {
	group int // -1 for root
	rank  int
}

// childOf returns the item of group g which contains element e.
func (s *state) childOf(g, e int) (item, bool) {
	child := item{elem: e, group: -1}
	for p := s.elements[e].parent; ; p = s.groups[p].parent {
		if p == g {
			return child, true
		}
		if p < 0 {
			return item{}, false
		}
		child = item{elem: -1, group: p}
	}
}

func (s *state) childGroups(g int) []int {
	if 0 <= g {
		return s.groups[g].children
	}
	roots := []int{}
	for _, gr := range s.groups {
		if gr.parent < 0 {
			roots = append(roots, gr.index)
		}
	}
	return roots
}

// itemsAt lists items of group g at rank r in the current order.
//
// Child groups spanning r without elements at r come last.
func (s *state) itemsAt(g, r int) []item {
	items := []item{}
	seen := map[int]bool{}
	for _, e := range s.ranks[r] {
		it, ok := s.childOf(g, e)
		if !ok {
			continue
		}
		if it.group < 0 {
			items = append(items, it)
			continue
		}
		if !seen[it.group] {
			seen[it.group] = true
			items = append(items, it)
		}
	}
	for _, h := range s.childGroups(g) {
		gr := s.groups[h]
		if !gr.hasNode || seen[h] || r < gr.rmin || gr.rmax < r {
			continue
		}
		items = append(items, item{elem: -1, group: h})
	}
	return items
}

// arrange reorders rank r by keys, keeping groups contiguous.
//
// It records the item order of each group in layout and returns the new order of elements.
func (s *state) arrange(r int, elemKey []float64, groupKey []float64, layout map[itemKey][]item) []int {
	keyOf := func(it item) float64 {
		if it.group < 0 {
			return elemKey[it.elem]
		}
		return groupKey[it.group]
	}

	var walk func(g int) []int
	walk = func(g int) []int {
		items := s.itemsAt(g, r)
		sort.SliceStable(items, func(i, j int) bool {
			return keyOf(items[i]) < keyOf(items[j])
		})
		layout[itemKey{group: g, rank: r}] = items

		out := []int{}
		for _, it := range items {
			if it.group < 0 {
				out = append(out, it.elem)
			} else {
				out = append(out, walk(it.group)...)
			}
		}
		return out
	}
	return walk(-1)
}

// fractions of positions in their ranks, in (0, 1).
func (s *state) fractions() []float64 {
	frac := make([]float64, len(s.elements))
	for _, rank := range s.ranks {
		for i, e := range rank {
			frac[e] = (float64(i) + 0.5) / float64(len(rank))
		}
	}
	return frac
}

// groupKeys is the mean of keys of elements in each group.
//
// Sibling groups never tie: a tiny amount by group index is added.
func (s *state) groupKeys(elemKey []float64) []float64 {
	sum := make([]float64, len(s.groups))
	count := make([]int, len(s.groups))
	for _, e := range s.elements {
		for p := e.parent; p >= 0; p = s.groups[p].parent {
			sum[p] += elemKey[e.index]
			count[p] += 1
		}
	}
	keys := make([]float64, len(s.groups))
	for g := range keys {
		if count[g] != 0 {
			keys[g] = sum[g] / float64(count[g])
		}
		keys[g] += float64(g) * 1e-9
	}
	return keys
}

func (s *state) crossings() int {
	pos := make([]int, len(s.elements))
	for _, rank := range s.ranks {
		for i, e := range rank {
			pos[e] = i
		}
	}

	total := 0
	for r := 0; r+1 < len(s.ranks); r++ {
		type pair struct{ a, b int }
		pairs := []pair{}
		for _, u := range s.ranks[r] {
			for _, v := range s.down[u] {
				pairs = append(pairs, pair{pos[u], pos[v]})
			}
		}
		for i := range pairs {
			for j := i + 1; j < len(pairs); j++ {
				if (pairs[i].a-pairs[j].a)*(pairs[i].b-pairs[j].b) < 0 {
					total += 1
				}
			}
		}
	}
	return total
}

// order decides the order of elements in each rank, reducing crossings with barycenter sweeps.
func (s *state) order() {
	// initial order: DFS from nodes in input order.
	seq := make([]float64, len(s.elements))
	visited := make([]bool, len(s.elements))
	next := 0
	var visit func(e int)
	visit = func(e int) {
		visited[e] = true
		seq[e] = float64(next)
		next += 1
		for _, d := range s.down[e] {
			if !visited[d] {
				visit(d)
			}
		}
	}
	for e := range s.elements {
		if !visited[e] {
			visit(e)
		}
	}

	for _, e := range s.elements {
		s.ranks[e.rank] = append(s.ranks[e.rank], e.index)
	}
	for r := range s.ranks {
		rank := s.ranks[r]
		sort.SliceStable(rank, func(i, j int) bool { return seq[rank[i]] < seq[rank[j]] })
	}

	layout := map[itemKey][]item{}
	gk := s.groupKeys(seq)
	for r := range s.ranks {
		s.ranks[r] = s.arrange(r, seq, gk, layout)
	}

	best := s.crossings()
	bestRanks := copyRanks(s.ranks)
	bestLayout := copyLayout(layout)

	for sweep := 0; sweep < s.config.Sweeps && 0 < best; sweep++ {
		down := sweep%2 == 0
		// every rank is arranged with the same group keys in a sweep,
		// so groups are in the same order in all ranks.
		gk := s.groupKeys(s.fractions())

		ranks := []int{}
		if down {
			for r := 0; r < len(s.ranks); r++ {
				ranks = append(ranks, r)
			}
		} else {
			for r := len(s.ranks) - 1; 0 <= r; r-- {
				ranks = append(ranks, r)
			}
		}

		for _, r := range ranks {
			frac := s.fractions()
			key := make([]float64, len(s.elements))
			copy(key, frac)
			for _, e := range s.ranks[r] {
				neighbors := s.up[e]
				if !down {
					neighbors = s.down[e]
				}
				if len(neighbors) == 0 {
					continue
				}
				sum := 0.0
				for _, n := range neighbors {
					sum += frac[n]
				}
				key[e] = sum / float64(len(neighbors))
			}
			s.ranks[r] = s.arrange(r, key, gk, layout)
		}

		if c := s.crossings(); c < best {
			best = c
			bestRanks = copyRanks(s.ranks)
			bestLayout = copyLayout(layout)
		}
	}

	s.ranks = bestRanks
	s.layout = bestLayout
}

func copyRanks(ranks [][]int) [][]int {
	ret := make([][]int, len(ranks))
	for i := range ranks {
		ret[i] = append([]int{}, ranks[i]...)
	}
	return ret
}

func copyLayout(layout map[itemKey][]item) map[itemKey][]item {
	ret := make(map[itemKey][]item, len(layout))
	for k, v := range layout {
		ret[k] = append([]item{}, v...)
	}
	return ret
}
