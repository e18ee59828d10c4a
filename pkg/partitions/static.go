package partitions

import "strings"

// StaticHealth is a Health from a snapshot of states.
//
// Partitions not in States are Missing.
type StaticHealth struct {
	Dims []Dimension `json:"dimensions"`

	// partition key ("a" or "a|b") -> state
	States map[string]State `json:"states"`
}

var _ Health = StaticHealth{}

func (s StaticHealth) Dimensions() []Dimension {
	return s.Dims
}

func (s StaticHealth) StateForKey(dimensionKeys []string) State {
	if st, ok := s.States[strings.Join(dimensionKeys, KeySeparator)]; ok {
		return st
	}
	return Missing
}

func (s StaticHealth) StateForPartialKey(dimensionKeys []string) State {
	if len(s.Dims) <= len(dimensionKeys) {
		return s.StateForKey(dimensionKeys)
	}
	states := []State{}
	s.each(func(keys []string) {
		for i, k := range dimensionKeys {
			if keys[i] != k {
				return
			}
		}
		states = append(states, s.StateForKey(keys))
	})
	return rollup(states)
}

func (s StaticHealth) StateForSingleDimension(dimensionIdx int, dimensionKey string, others []string) State {
	if dimensionIdx < 0 || len(s.Dims) <= dimensionIdx {
		return Missing
	}
	selected := map[string]bool{}
	for _, o := range others {
		selected[o] = true
	}
	states := []State{}
	s.each(func(keys []string) {
		if keys[dimensionIdx] != dimensionKey {
			return
		}
		if others != nil {
			for i, k := range keys {
				if i != dimensionIdx && !selected[k] {
					return
				}
			}
		}
		states = append(states, s.StateForKey(keys))
	})
	return rollup(states)
}

// each calls f with keys of every partition, in order of dimensions.
func (s StaticHealth) each(f func([]string)) {
	if len(s.Dims) == 0 {
		return
	}
	keys := make([]string, len(s.Dims))
	var walk func(d int)
	walk = func(d int) {
		if d == len(s.Dims) {
			f(append([]string{}, keys...))
			return
		}
		for _, k := range s.Dims[d].PartitionKeys {
			keys[d] = k
			walk(d + 1)
		}
	}
	walk(0)
}

// rollup summarizes states of many partitions.
func rollup(states []State) State {
	if len(states) == 0 {
		return Missing
	}
	seen := map[State]bool{}
	for _, s := range states {
		seen[s] = true
	}
	switch {
	case len(seen) == 1:
		return states[0]
	case seen[Failure]:
		return Failure
	case seen[Materializing]:
		return Materializing
	default:
		return SuccessMissing
	}
}
