package resource

import (
	"sync/atomic"

	"github.com/r3e-network/reactive-streams/internal/reactive"
)

// KeyValue is a type-erased (key, value) pair used for snapshots delivered
// to subscribers, since a resource registry holds leaves of many distinct
// (K, V) instantiations side by side.
type KeyValue struct {
	Key   any
	Value any
}

// ChangeEvent is a type-erased reactive.Change, used the same way.
type ChangeEvent struct {
	Key     any
	Value   any
	Deleted bool
}

// Leaf is the type-erased view of a derived (or base) collection that a
// resource factory hands back: enough to snapshot its current contents and
// subscribe to its future changes without the registry needing to know K
// and V (spec §4.5 "returns the leaf").
type Leaf interface {
	Name() string
	Snapshot() []KeyValue
	// Subscribe registers onChange and returns an unsubscribe func. Every
	// call to onChange carries one coordinated update's worth of changes,
	// in the collection's dispatch order.
	Subscribe(onChange func([]ChangeEvent)) func()
}

type leafAdapter[K comparable, V any] struct {
	c *reactive.Collection[K, V]
}

// NewLeaf adapts a concrete *reactive.Collection[K, V] into a type-erased
// Leaf. Resource factories call this on whatever derived collection they
// build as their final step.
func NewLeaf[K comparable, V any](c *reactive.Collection[K, V]) Leaf {
	return leafAdapter[K, V]{c: c}
}

func (l leafAdapter[K, V]) Name() string { return l.c.Name() }

func (l leafAdapter[K, V]) Snapshot() []KeyValue {
	items := l.c.IterItems()
	out := make([]KeyValue, len(items))
	for i, item := range items {
		out[i] = KeyValue{Key: item.Key, Value: item.Value}
	}
	return out
}

func (l leafAdapter[K, V]) Subscribe(onChange func([]ChangeEvent)) func() {
	var active atomic.Bool
	active.Store(true)
	l.c.OnChange(func(changes []reactive.Change[K, V]) {
		if !active.Load() {
			return
		}
		out := make([]ChangeEvent, len(changes))
		for i, ch := range changes {
			ev := ChangeEvent{Key: ch.Key, Deleted: ch.IsDelete()}
			if ch.New != nil {
				ev.Value = *ch.New
			}
			out[i] = ev
		}
		onChange(out)
	})
	// reactive.Collection.OnChange has no removal API (callbacks are
	// expected to be cheap and the collection's lifetime is the engine's);
	// unsubscribe instead silences future deliveries at the adapter. active
	// is read from the engine's dispatch goroutine and written from whatever
	// goroutine calls unsubscribe, so it must be a synchronized flag.
	return func() { active.Store(false) }
}

// Factory builds a resource instance's leaf collection from validated
// parameters. It is responsible for declaring any derived sub-graph (via
// reactive.Map) the instance needs; the engine wires dependencies
// automatically.
type Factory func(Params) (Leaf, error)

// Resource is (name, param_schema, factory) (spec §4.5).
type Resource struct {
	Name    string
	Schema  Schema
	Factory Factory
}

// Instantiate validates paramsJSON against the resource's schema and
// invokes its factory.
func (r Resource) Instantiate(paramsJSON []byte) (Leaf, Params, error) {
	params, err := r.Schema.Validate(paramsJSON)
	if err != nil {
		return nil, Params{}, err
	}
	leaf, err := r.Factory(params)
	if err != nil {
		return nil, Params{}, err
	}
	return leaf, params, nil
}
