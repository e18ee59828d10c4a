// Package partitions merges health of partitioned assets.
//
// Partitions of an asset are keyed by up to 2 dimensions.
// A key of 2 dimensions is written as "a|b".
package partitions

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDimensionMismatch = errors.New("partitions: assets have different dimensions")
	ErrTooManyDimensions = errors.New("partitions: more than 2 dimensions are not supported")
)

// MaxDimensions is the number of dimensions supported by ExplodePartitionKeysInSelection.
const MaxDimensions = 2

// KeySeparator joins keys of each dimensions into a partition key.
const KeySeparator = "|"

type State string

const (
	Missing        State = "MISSING"
	Success        State = "SUCCESS"
	Failure        State = "FAILURE"
	Materializing  State = "MATERIALIZING"
	SuccessMissing State = "SUCCESS_MISSING"
)

type Dimension struct {
	Name          string   `json:"name"`
	PartitionKeys []string `json:"partitionKeys"`
}

type Selection struct {
	Dimension    Dimension `json:"dimension"`
	SelectedKeys []string  `json:"selectedKeys"`
}

// Health tells states of partitions of an asset.
type Health interface {
	Dimensions() []Dimension

	// StateForKey returns the state of the partition with keys for all dimensions.
	StateForKey(dimensionKeys []string) State

	// StateForPartialKey returns the state of partitions starting with dimensionKeys.
	StateForPartialKey(dimensionKeys []string) State

	// StateForSingleDimension returns the state of partitions having dimensionKey at dimensionIdx.
	//
	// When otherDimensionSelectedKeys is not nil,
	// only partitions having one of them at the other dimension are considered.
	StateForSingleDimension(dimensionIdx int, dimensionKey string, otherDimensionSelectedKeys []string) State
}

// MergedStates combines states of the same partition in different assets.
//
// Success mixed with missing is SuccessMissing. Otherwise, the first state wins.
func MergedStates(states []State) State {
	if len(states) == 0 {
		return Missing
	}
	hasMissing, hasSuccess := false, false
	for _, s := range states {
		switch s {
		case Missing:
			hasMissing = true
		case Success:
			hasSuccess = true
		}
	}
	if hasMissing && hasSuccess {
		return SuccessMissing
	}
	return states[0]
}

type mergedHealth struct {
	dimensions []Dimension
	healths    []Health
}

func (m *mergedHealth) Dimensions() []Dimension {
	return m.dimensions
}

func (m *mergedHealth) merge(f func(Health) State) State {
	if len(m.healths) == 0 {
		return Missing
	}
	states := make([]State, 0, len(m.healths))
	for _, h := range m.healths {
		states = append(states, f(h))
	}
	return MergedStates(states)
}

func (m *mergedHealth) StateForKey(dimensionKeys []string) State {
	return m.merge(func(h Health) State { return h.StateForKey(dimensionKeys) })
}

func (m *mergedHealth) StateForPartialKey(dimensionKeys []string) State {
	return m.merge(func(h Health) State { return h.StateForPartialKey(dimensionKeys) })
}

func (m *mergedHealth) StateForSingleDimension(dimensionIdx int, dimensionKey string, others []string) State {
	return m.merge(func(h Health) State {
		return h.StateForSingleDimension(dimensionIdx, dimensionKey, others)
	})
}

// MergedAssetHealth shows health of assets as one.
//
// # Returns
//
// - Health: merged health. If healths is empty, it has no dimensions and all partitions are Missing.
//
// - error: ErrDimensionMismatch when assets have different number of dimensions,
// or dimensions with different number of partitions.
func MergedAssetHealth(healths []Health) (Health, error) {
	if len(healths) == 0 {
		return &mergedHealth{dimensions: []Dimension{}}, nil
	}

	dimensions := healths[0].Dimensions()
	for _, h := range healths[1:] {
		dims := h.Dimensions()
		if len(dims) != len(dimensions) {
			return nil, fmt.Errorf(
				"%w: %d dimensions and %d dimensions", ErrDimensionMismatch, len(dimensions), len(dims),
			)
		}
		for i := range dims {
			if len(dims[i].PartitionKeys) != len(dimensions[i].PartitionKeys) {
				return nil, fmt.Errorf(
					"%w: dimension %d has different number of partitions", ErrDimensionMismatch, i,
				)
			}
		}
	}

	copied := make([]Dimension, 0, len(dimensions))
	for _, d := range dimensions {
		copied = append(copied, Dimension{Name: d.Name, PartitionKeys: d.PartitionKeys})
	}
	return &mergedHealth{dimensions: copied, healths: healths}, nil
}

type KeyState struct {
	PartitionKey string `json:"partitionKey"`
	State        State  `json:"state"`
}

// ExplodePartitionKeysInSelection lists all partitions selected, with their states.
//
// # Returns
//
// - []KeyState: for 2 dimensions, partitions are the cartesian product of selections.
//
// - error: ErrTooManyDimensions for more than 2 selections.
func ExplodePartitionKeysInSelection(selections []Selection, stateForKey func([]string) State) ([]KeyState, error) {
	switch len(selections) {
	case 0:
		return []KeyState{}, nil
	case 1:
		ret := make([]KeyState, 0, len(selections[0].SelectedKeys))
		for _, key := range selections[0].SelectedKeys {
			ret = append(ret, KeyState{PartitionKey: key, State: stateForKey([]string{key})})
		}
		return ret, nil
	case 2:
		ret := make([]KeyState, 0, len(selections[0].SelectedKeys)*len(selections[1].SelectedKeys))
		for _, key := range selections[0].SelectedKeys {
			for _, subkey := range selections[1].SelectedKeys {
				ret = append(ret, KeyState{
					PartitionKey: strings.Join([]string{key, subkey}, KeySeparator),
					State:        stateForKey([]string{key, subkey}),
				})
			}
		}
		return ret, nil
	default:
		return nil, fmt.Errorf("%w: %d dimensions are selected", ErrTooManyDimensions, len(selections))
	}
}
