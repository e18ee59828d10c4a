package cmp_test

import (
	"testing"

	"github.com/opst/assetgraph/pkg/cmp"
)

func TestSliceContentEq(t *testing.T) {
	for name, testcase := range map[string]struct {
		a, b     []string
		expected bool
	}{
		"same order":         {a: []string{"a", "b"}, b: []string{"a", "b"}, expected: true},
		"different order":    {a: []string{"a", "b", "c"}, b: []string{"c", "a", "b"}, expected: true},
		"different count":    {a: []string{"a", "b", "c", "c"}, b: []string{"a", "b", "c"}, expected: false},
		"different elements": {a: []string{"a", "b", "c"}, b: []string{"a", "b", "z"}, expected: false},
		"duplicated":         {a: []string{"a", "a", "b"}, b: []string{"a", "b", "b"}, expected: false},
		"both empty":         {a: []string{}, b: nil, expected: true},
	} {
		t.Run(name, func(t *testing.T) {
			if got := cmp.SliceContentEq(testcase.a, testcase.b); got != testcase.expected {
				t.Errorf("unmatch: (actual, expected) = (%v, %v)", got, testcase.expected)
			}
		})
	}
}

func TestMapEq(t *testing.T) {
	if !cmp.MapEq(map[string]int{"a": 1}, map[string]int{"a": 1}) {
		t.Errorf("equal maps are reported as different")
	}
	if cmp.MapEq(map[string]int{"a": 1}, map[string]int{"a": 2}) {
		t.Errorf("different values are reported as equal")
	}
	if cmp.MapEq(map[string]int{"a": 1}, map[string]int{"b": 1}) {
		t.Errorf("different keys are reported as equal")
	}
}
