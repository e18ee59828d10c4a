package cmp

func MapEqWith[K comparable, V any](a, b map[K]V, pred func(V, V) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !pred(va, vb) {
			return false
		}
	}
	return true
}

func MapEq[K, V comparable](a, b map[K]V) bool {
	return MapEqWith(a, b, func(x, y V) bool { return x == y })
}
