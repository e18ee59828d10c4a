package maps

// Ordered is a map which remembers the insertion order of its keys.
//
// Re-setting an existing key keeps its position.
// Deleting a key and setting it again moves the key to the end.
//
// The zero value is not usable. Use NewOrdered.
type Ordered[K comparable, V any] struct {
	keys  []K
	index map[K]int
	m     map[K]V
}

func NewOrdered[K comparable, V any]() *Ordered[K, V] {
	return &Ordered[K, V]{
		index: map[K]int{},
		m:     map[K]V{},
	}
}

func (o *Ordered[K, V]) Set(k K, v V) {
	if _, ok := o.m[k]; !ok {
		o.index[k] = len(o.keys)
		o.keys = append(o.keys, k)
	}
	o.m[k] = v
}

func (o *Ordered[K, V]) Get(k K) (V, bool) {
	v, ok := o.m[k]
	return v, ok
}

func (o *Ordered[K, V]) Has(k K) bool {
	_, ok := o.m[k]
	return ok
}

// Index returns the position of k in insertion order, or -1.
func (o *Ordered[K, V]) Index(k K) int {
	if i, ok := o.index[k]; ok {
		return i
	}
	return -1
}

func (o *Ordered[K, V]) Delete(k K) {
	i, ok := o.index[k]
	if !ok {
		return
	}
	delete(o.m, k)
	delete(o.index, k)
	o.keys = append(o.keys[:i], o.keys[i+1:]...)
	for j := i; j < len(o.keys); j++ {
		o.index[o.keys[j]] = j
	}
}

func (o *Ordered[K, V]) Len() int {
	return len(o.keys)
}

// Keys returns a copy of keys in insertion order.
func (o *Ordered[K, V]) Keys() []K {
	ks := make([]K, len(o.keys))
	copy(ks, o.keys)
	return ks
}

func (o *Ordered[K, V]) Values() []V {
	vs := make([]V, len(o.keys))
	for i, k := range o.keys {
		vs[i] = o.m[k]
	}
	return vs
}

// Iter yields entries in insertion order. Do not modify o while iterating.
func (o *Ordered[K, V]) Iter() func(yield func(K, V) bool) {
	return func(yield func(K, V) bool) {
		for _, k := range o.keys {
			if !yield(k, o.m[k]) {
				return
			}
		}
	}
}
