package reactive

import "fmt"

// Map constructs (or, on a repeat call with identical inputs, returns the
// existing) derived collection that applies mapper to every item of source.
// Extra args are passed through only for identity/fingerprinting: when an
// arg is itself a collection handle, the derived collection additionally
// depends on it (recomputing whenever that collection changes, even though
// the mapper only ever reads source's items) — this is how a composite
// mapper expresses a second input (spec §4.4).
//
// Construction is idempotent: calling Map again with a source of the same
// name, a mapper of the same name, and equal args returns the previously
// registered collection rather than creating a duplicate (spec §4.4 point
// 1, §9 add_node dedup).
func Map[K comparable, V1, V2 any](e *Engine, source *Collection[K, V1], mapper Mapper[K, V1, V2], args ...any) (*Collection[K, V2], error) {
	name := fmt.Sprintf("%s->%s[%s]", source.Name(), mapper.Name(), fingerprintArgs(args))

	if existing, ok := e.nodeFor(name).(*Collection[K, V2]); ok {
		return existing, nil
	}

	deps := []string{source.Name()}
	for _, a := range args {
		if ch, ok := a.(collectionHandle); ok {
			deps = append(deps, ch.Name())
		}
	}

	compute := func() (*OrderedMap[K, V2], error) {
		out := NewMap[K, V2]()
		for _, item := range source.IterItems() {
			pairs, err := mapper.MapElement(item.Key, item.Value)
			if err != nil {
				return nil, fmt.Errorf("mapper %q on key %v: %w", mapper.Name(), item.Key, err)
			}
			for _, p := range pairs {
				// Later pairs win on a duplicate outKey within one pass
				// (spec §4.4 edge case; only reachable from a composite
				// mapper that fans a single source item out to more than
				// one output key).
				out.Set(p.Key, p.Value)
			}
		}
		return out, nil
	}

	derived := newDerivedCollection[K, V2](name, e, compute)
	if err := e.registerNode(name, derived, deps...); err != nil {
		return nil, err
	}
	return derived, nil
}
