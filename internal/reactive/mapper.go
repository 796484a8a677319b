package reactive

// Mapper is the engine's view of a per-key transform attached to a derived
// collection (spec §3, §4.4). MapElement is invoked once per source item
// during a recompute pass and yields zero or more (key, value) pairs to
// fold into the new contents; returning an empty slice filters the source
// key out. Go has no stable identity for closures, so unlike the source
// framework's function-hash fingerprinting, a Mapper must advertise a
// stable Name used (with any extra Map args) to derive the collection's
// name deterministically (spec §4.4 point 1).
type Mapper[K comparable, V1, V2 any] interface {
	Name() string
	MapElement(key K, value V1) ([]KV[K, V2], error)
}

type oneToOneMapper[K comparable, V1, V2 any] struct {
	name string
	fn   func(V1) (V2, bool)
}

func (m oneToOneMapper[K, V1, V2]) Name() string { return m.name }

func (m oneToOneMapper[K, V1, V2]) MapElement(key K, value V1) ([]KV[K, V2], error) {
	out, ok := m.fn(value)
	if !ok {
		return nil, nil
	}
	return []KV[K, V2]{{Key: key, Value: out}}, nil
}

// OneToOne builds a pure per-key mapper V1 -> Option<V2>. Returning
// ok=false filters the key out of the derived collection. name identifies
// this mapper for deterministic derived-collection naming; two OneToOne
// mappers built with the same name are treated as the same mapper identity.
func OneToOne[K comparable, V1, V2 any](name string, fn func(V1) (V2, bool)) Mapper[K, V1, V2] {
	return oneToOneMapper[K, V1, V2]{name: name, fn: fn}
}

type manyToOneMapper[K comparable, V1, V2 any] struct {
	name string
	fn   func(V1) (V2, bool)
}

func (m manyToOneMapper[K, V1, V2]) Name() string { return m.name }

func (m manyToOneMapper[K, V1, V2]) MapElement(key K, value V1) ([]KV[K, V2], error) {
	out, ok := m.fn(value)
	if !ok {
		return nil, nil
	}
	return []KV[K, V2]{{Key: key, Value: out}}, nil
}

// ManyToOne builds a mapper over a key whose value is itself an ordered
// sequence (V1 is typically a slice type, e.g. []float64); fn receives the
// whole sequence stored at the key and optionally produces V2. Mechanically
// identical to OneToOne at the per-key call site — the distinction is the
// shape of V1, not the control flow — but kept as a distinct constructor to
// match the source framework's mapper taxonomy (spec §3).
func ManyToOne[K comparable, V1, V2 any](name string, fn func(V1) (V2, bool)) Mapper[K, V1, V2] {
	return manyToOneMapper[K, V1, V2]{name: name, fn: fn}
}
