package callmgr

// BiMap is a bidirectional map implementation (allowing lookups by either
// key or value). A BiMap holds a strict bijection: every key is bound to
// exactly one value and every value to exactly one key, so it should only
// be used when such a one-to-one mapping exists.
//
// The implementation builds on Go's `map` primitive, maintaining two maps
// (one for key and the other for value lookup) which are kept synchronized
// on every mutation. A BiMap performs no locking of its own; callers are
// expected to confine it to a single goroutine (see RunLoop).
type BiMap[K, V comparable] struct {
	kv map[K]V
	vk map[V]K
}

func NewBiMap[K, V comparable](initSize int) *BiMap[K, V] {
	if initSize < 0 {
		initSize = 0
	}
	return &BiMap[K, V]{
		kv: make(map[K]V, initSize),
		vk: make(map[V]K, initSize),
	}
}

// Put inserts the pair (key, val). The insert is refused, returning false
// with the map unchanged, if either side is its type's zero value or is
// already bound. Put never overwrites: a pair, once inserted, can only be
// changed by removing it first.
func (m *BiMap[K, V]) Put(key K, val V) bool {
	var zeroK K
	var zeroV V
	if key == zeroK || val == zeroV {
		return false
	}
	if _, ok := m.kv[key]; ok {
		return false
	}
	if _, ok := m.vk[val]; ok {
		return false
	}
	m.kv[key] = val
	m.vk[val] = key
	return true
}

// Remove deletes the pair bound under `key` from both directions,
// reporting whether a pair was removed.
func (m *BiMap[K, V]) Remove(key K) bool {
	val, ok := m.kv[key]
	if !ok {
		return false
	}
	delete(m.kv, key)
	delete(m.vk, val)
	return true
}

// RemoveValue resolves the key bound to `val` and removes the pair,
// reporting whether a pair was removed.
func (m *BiMap[K, V]) RemoveValue(val V) bool {
	key, ok := m.vk[val]
	if !ok {
		return false
	}
	return m.Remove(key)
}

// Value returns the value bound under `key`.
func (m *BiMap[K, V]) Value(key K) (V, bool) {
	v, ok := m.kv[key]
	return v, ok
}

// Key returns the key bound to `val`.
func (m *BiMap[K, V]) Key(val V) (K, bool) {
	k, ok := m.vk[val]
	return k, ok
}

// Clear empties the map in both directions.
func (m *BiMap[K, V]) Clear() {
	m.kv = make(map[K]V)
	m.vk = make(map[V]K)
}

// Len returns the number of pairs in the map.
func (m *BiMap[K, V]) Len() int {
	return len(m.kv)
}
