package cmp

func SliceEq[T comparable](a []T, b []T) bool {
	return SliceEqWith(a, b, func(x, y T) bool { return x == y })
}

func SliceEqWith[T any, U any](a []T, b []U, pred func(a T, b U) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for nth := range a {
		if !pred(a[nth], b[nth]) {
			return false
		}
	}
	return true
}

// check 2 slices have same content, ignoring ordering (as multi-sets).
//
// example:
//
//	SliceContentEq([]string{"a", "b", "c"}, []string{"c", "b", "a"})       // ==> true
//	SliceContentEq([]string{"a", "b", "c", "c"}, []string{"a", "b", "c"})  // ==> false
func SliceContentEq[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	count := map[T]int{}
	for _, v := range a {
		count[v] += 1
	}
	for _, v := range b {
		count[v] -= 1
		if count[v] < 0 {
			return false
		}
	}
	return true
}
