package reactive

import (
	"reflect"
	"time"
)

// Change is a single-key mutation record (spec §3). Old==nil with New!=nil
// is an insertion; Old!=nil with New==nil is a deletion; both non-nil is an
// update. A Change with equal Old/New is never constructed — valuesEqual
// guards every diff and Set call site.
type Change[K comparable, V any] struct {
	Key       K
	Old       *V
	New       *V
	Timestamp time.Time
}

// IsInsert reports whether this change introduces a new key.
func (c Change[K, V]) IsInsert() bool { return c.Old == nil && c.New != nil }

// IsDelete reports whether this change removes a key.
func (c Change[K, V]) IsDelete() bool { return c.Old != nil && c.New == nil }

// IsUpdate reports whether this change replaces an existing value.
func (c Change[K, V]) IsUpdate() bool { return c.Old != nil && c.New != nil }

// valuesEqual compares opaque values using deep equality: derived and
// many-to-one mappers commonly traffic in slices and maps, which are not
// `comparable` in Go's type-parameter sense, so reflect.DeepEqual is the
// only equality notion general enough for the engine's diff step.
func valuesEqual[V any](a, b V) bool {
	return reflect.DeepEqual(a, b)
}

func ptr[V any](v V) *V {
	return &v
}
