package reactive

import (
	"sync"
	"time"
)

// ComputeFunc produces the full contents of a derived collection (spec §3
// "DerivedCollection"). It must be synchronous and non-blocking (§5) and
// pure with respect to engine state — any upstream reads it performs are
// expected to go through collections resolved by name at construction time.
type ComputeFunc[K comparable, V any] func() (*OrderedMap[K, V], error)

// ChangeFunc receives every change produced by one coordinated update for a
// single collection, in dispatch order (deletions, then inserts/updates in
// compute-function key order).
type ChangeFunc[K comparable, V any] func(changes []Change[K, V])

// Collection is a keyed store that is either base (mutated only by Set/
// Delete) or derived (mutated only by the engine via a ComputeFunc). See
// spec §3.
type Collection[K comparable, V any] struct {
	name    string
	derived bool
	compute ComputeFunc[K, V]
	engine  *Engine

	mu           sync.Mutex
	data         *OrderedMap[K, V]
	lastModified time.Time
	pending      []Change[K, V]
	callbacks    []ChangeFunc[K, V]
}

// newBaseCollection constructs a base collection registered against engine.
func newBaseCollection[K comparable, V any](name string, engine *Engine) *Collection[K, V] {
	return &Collection[K, V]{
		name:   name,
		data:   NewMap[K, V](),
		engine: engine,
	}
}

// newDerivedCollection constructs a derived collection backed by compute.
func newDerivedCollection[K comparable, V any](name string, engine *Engine, compute ComputeFunc[K, V]) *Collection[K, V] {
	return &Collection[K, V]{
		name:    name,
		derived: true,
		compute: compute,
		data:    NewMap[K, V](),
		engine:  engine,
	}
}

// Name returns the collection's process-unique name.
func (c *Collection[K, V]) Name() string { return c.name }

// Base reports whether this is a base (externally writable) collection.
func (c *Collection[K, V]) Base() bool { return !c.derived }

// LastModified returns the instant of the most recent successful write
// (base) or recomputation (derived).
func (c *Collection[K, V]) LastModified() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastModified
}

// Get returns the value at key and whether it is present.
func (c *Collection[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Get(key)
}

// GetAll returns a snapshot copy of the full contents, keyed by K.
func (c *Collection[K, V]) GetAll() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[K]V, c.data.Len())
	for _, k := range c.data.Keys() {
		v, _ := c.data.Get(k)
		out[k] = v
	}
	return out
}

// IterItems returns a snapshot of (key, value) pairs in stable key order,
// taken under the collection's lock (spec §4.1).
func (c *Collection[K, V]) IterItems() []KV[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]KV[K, V], 0, c.data.Len())
	for _, k := range c.data.Keys() {
		v, _ := c.data.Get(k)
		out = append(out, KV[K, V]{Key: k, Value: v})
	}
	return out
}

// KV is a single (key, value) pair, used for ordered snapshots.
type KV[K comparable, V any] struct {
	Key   K
	Value V
}

// Set writes a value to a base collection, recording a Change and running a
// coordinated update through the owning engine. Setting a key to a value
// equal to its current value is a documented no-op (spec §8 round-trip:
// "set(k,v); set(k,v) yields exactly one change for the first call and none
// for the second"). Set on a derived collection returns ErrDerivedWrite.
func (c *Collection[K, V]) Set(key K, value V) error {
	if c.derived {
		return ErrDerivedWrite
	}
	c.mu.Lock()
	old, existed := c.data.Get(key)
	if existed && valuesEqual(old, value) {
		c.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	c.data.Set(key, value)
	c.lastModified = now
	var oldPtr *V
	if existed {
		oldPtr = ptr(old)
	}
	c.pending = append(c.pending, Change[K, V]{Key: key, Old: oldPtr, New: ptr(value), Timestamp: now})
	c.mu.Unlock()

	if c.engine != nil {
		return c.engine.recompute(c.name)
	}
	return nil
}

// Delete removes a key from a base collection. Deleting an absent key is a
// no-op. Delete on a derived collection returns ErrDerivedWrite.
func (c *Collection[K, V]) Delete(key K) error {
	if c.derived {
		return ErrDerivedWrite
	}
	c.mu.Lock()
	old, existed := c.data.Get(key)
	if !existed {
		c.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	c.data.Delete(key)
	c.lastModified = now
	c.pending = append(c.pending, Change[K, V]{Key: key, Old: ptr(old), New: nil, Timestamp: now})
	c.mu.Unlock()

	if c.engine != nil {
		return c.engine.recompute(c.name)
	}
	return nil
}

// OnChange registers a callback invoked with every change this collection
// emits during a coordinated update's dispatch phase. Callbacks run after
// the full recompute pass completes (§4.3 "Dispatch") and may freely
// initiate new coordinated updates.
func (c *Collection[K, V]) OnChange(fn ChangeFunc[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// recompute implements node: for a derived collection it invokes compute,
// diffs the result against current contents, replaces them, and stages the
// diff; for a base collection it is a no-op (the diff was staged by Set or
// Delete before the engine's invalidation walk began).
func (c *Collection[K, V]) recompute() error {
	if !c.derived {
		return nil
	}
	newContents, err := c.compute()
	if err != nil {
		return err
	}
	if newContents == nil {
		newContents = NewMap[K, V]()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changes := diffMaps(c.data, newContents)
	c.data = newContents
	c.lastModified = time.Now().UTC()
	c.pending = append(c.pending, changes...)
	return nil
}

// dispatch implements node: flush staged changes to callbacks, in order.
func (c *Collection[K, V]) dispatch() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	cbs := make([]ChangeFunc[K, V], len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	for _, cb := range cbs {
		cb(pending)
	}
}

// diffMaps computes deletions (in old key order) then insertions/updates (in
// new key order), skipping keys whose value is unchanged (spec §3, §4.3).
func diffMaps[K comparable, V any](old, new *OrderedMap[K, V]) []Change[K, V] {
	now := time.Now().UTC()
	var changes []Change[K, V]

	for _, k := range old.Keys() {
		if _, ok := new.Get(k); !ok {
			ov, _ := old.Get(k)
			changes = append(changes, Change[K, V]{Key: k, Old: ptr(ov), New: nil, Timestamp: now})
		}
	}
	for _, k := range new.Keys() {
		nv, _ := new.Get(k)
		if ov, ok := old.Get(k); ok {
			if !valuesEqual(ov, nv) {
				changes = append(changes, Change[K, V]{Key: k, Old: ptr(ov), New: ptr(nv), Timestamp: now})
			}
			continue
		}
		changes = append(changes, Change[K, V]{Key: k, Old: nil, New: ptr(nv), Timestamp: now})
	}
	return changes
}
