package reactive

import "testing"

func mustBase[K comparable, V any](t *testing.T, e *Engine, name string) *Collection[K, V] {
	t.Helper()
	c, err := NewBase[K, V](e, name)
	if err != nil {
		t.Fatalf("NewBase(%q): %v", name, err)
	}
	return c
}

func TestOneToOneDoubling(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, int](t, e, "r")

	doubler := OneToOne[string, int, int]("double", func(v int) (int, bool) { return v * 2, true })
	d, err := Map(e, r, doubler)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	var got []Change[string, int]
	d.OnChange(func(cs []Change[string, int]) { got = append(got, cs...) })

	if err := r.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := d.Get("a"); !ok || v != 2 {
		t.Fatalf("d[a] = %v, %v; want 2, true", v, ok)
	}
	if len(got) != 1 || !got[0].IsInsert() {
		t.Fatalf("expected one insert change, got %+v", got)
	}

	got = nil
	if err := r.Set("a", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := d.Get("a"); v != 6 {
		t.Fatalf("d[a] = %v; want 6", v)
	}
	if len(got) != 1 || !got[0].IsUpdate() {
		t.Fatalf("expected one update change, got %+v", got)
	}

	got = nil
	if err := r.Set("b", 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := d.Get("b"); v != 10 {
		t.Fatalf("d[b] = %v; want 10", v)
	}
	if len(got) != 1 || !got[0].IsInsert() {
		t.Fatalf("expected one insert change for b, got %+v", got)
	}

	got = nil
	if err := r.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := d.Get("a"); ok {
		t.Fatalf("d[a] should be gone")
	}
	if len(got) != 1 || !got[0].IsDelete() {
		t.Fatalf("expected one delete change, got %+v", got)
	}
}

func TestManyToOneAveraging(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, []float64](t, e, "sensors")

	avg := ManyToOne[string, []float64, float64]("average", func(vs []float64) (float64, bool) {
		if len(vs) == 0 {
			return 0, false
		}
		var sum float64
		for _, v := range vs {
			sum += v
		}
		return sum / float64(len(vs)), true
	})
	a, err := Map(e, r, avg)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	if err := r.Set("s1", []float64{10, 20, 30}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := a.Get("s1"); v != 20 {
		t.Fatalf("a[s1] = %v; want 20", v)
	}

	if err := r.Set("s1", []float64{10, 20, 30, 40}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := a.Get("s1"); v != 25 {
		t.Fatalf("a[s1] = %v; want 25", v)
	}
}

func TestFanOutOrdering(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, int](t, e, "r2")
	inc := OneToOne[string, int, int]("inc", func(v int) (int, bool) { return v + 1, true })
	m1, err := Map(e, r, inc)
	if err != nil {
		t.Fatalf("Map m1: %v", err)
	}
	m2, err := Map(e, m1, inc)
	if err != nil {
		t.Fatalf("Map m2: %v", err)
	}

	var order []string
	m1.OnChange(func(cs []Change[string, int]) { order = append(order, "m1") })
	m2.OnChange(func(cs []Change[string, int]) { order = append(order, "m2") })

	if err := r.Set("x", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(order) != 2 || order[0] != "m1" || order[1] != "m2" {
		t.Fatalf("dispatch order = %v; want [m1 m2]", order)
	}
}

func TestCycleRejected(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, int](t, e, "r3")
	inc := OneToOne[string, int, int]("inc3", func(v int) (int, bool) { return v + 1, true })
	c, err := Map(e, r, inc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	if err := e.Graph().AddDependency(r.Name(), c.Name()); err != ErrCycleRejected {
		t.Fatalf("AddDependency = %v; want ErrCycleRejected", err)
	}
	status, ok := e.Graph().GetStatus(r.Name())
	if !ok {
		t.Fatalf("missing status for r3")
	}
	if len(status.Dependencies) != 0 {
		t.Fatalf("r3 should have no dependencies after rejected cycle, got %v", status.Dependencies)
	}
}

func TestSetIdempotence(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, int](t, e, "r4")
	var changes int
	r.OnChange(func(cs []Change[string, int]) { changes += len(cs) })

	if err := r.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := r.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if changes != 1 {
		t.Fatalf("changes = %d; want 1", changes)
	}
	if v, ok := r.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}
}

func TestReentrantWrite(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, int](t, e, "r5")
	flag, err := NewBase[string, int](e, "flag")
	if err != nil {
		t.Fatalf("NewBase flag: %v", err)
	}

	triggered := false
	derived := OneToOne[string, int, int]("reentrant", func(v int) (int, bool) { return v, true })
	d, err := Map(e, r, derived)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	d.OnChange(func(cs []Change[string, int]) {
		if !triggered {
			triggered = true
			_ = flag.Set("seen", 1)
		}
	})

	if err := r.Set("k", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := flag.Get("seen"); !ok || v != 1 {
		t.Fatalf("flag[seen] = %v, %v; want 1, true", v, ok)
	}
}

// TestReentrantWriteDuringCompute exercises spec §4.3's actual reentrancy
// invariant: a write issued from inside a ComputeFunc itself, while
// e.inProgress is still true, rather than from a post-dispatch OnChange
// callback. The nested write must fold into the in-flight pass (its target
// invalidated and swept before this call's own dispatch) instead of being
// dropped or deadlocking.
func TestReentrantWriteDuringCompute(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, int](t, e, "r7")
	sideEffect, err := NewBase[string, int](e, "sideeffect7")
	if err != nil {
		t.Fatalf("NewBase sideeffect7: %v", err)
	}

	derivedName := "r7->mid_compute_write[]"
	var computeCalls int
	compute := func() (*OrderedMap[string, int], error) {
		computeCalls++
		out := NewMap[string, int]()
		for _, item := range r.IterItems() {
			out.Set(item.Key, item.Value)
		}
		// A write issued mid-compute, while the engine is still mid-pass
		// (e.inProgress == true): this must not be lost, deadlock, or
		// trigger a second top-level recompute.
		if computeCalls == 1 {
			if err := sideEffect.Set("seen", 1); err != nil {
				t.Fatalf("mid-compute Set: %v", err)
			}
		}
		return out, nil
	}

	derived := newDerivedCollection[string, int](derivedName, e, compute)
	if err := e.registerNode(derivedName, derived, r.Name()); err != nil {
		t.Fatalf("registerNode: %v", err)
	}

	var sideEffectChanges []Change[string, int]
	sideEffect.OnChange(func(cs []Change[string, int]) { sideEffectChanges = append(sideEffectChanges, cs...) })

	if err := r.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if v, ok := derived.Get("a"); !ok || v != 1 {
		t.Fatalf("derived[a] = %v, %v; want 1, true", v, ok)
	}
	if v, ok := sideEffect.Get("seen"); !ok || v != 1 {
		t.Fatalf("sideeffect[seen] = %v, %v; want 1, true", v, ok)
	}
	if len(sideEffectChanges) != 1 || !sideEffectChanges[0].IsInsert() {
		t.Fatalf("expected one insert change dispatched for the mid-compute write, got %+v", sideEffectChanges)
	}
	if e.inProgress {
		t.Fatalf("engine should not be left mid-pass after recompute returns")
	}
}

func TestMapIdempotentConstruction(t *testing.T) {
	e := NewEngine(nil)
	r := mustBase[string, int](t, e, "r6")
	inc := OneToOne[string, int, int]("inc6", func(v int) (int, bool) { return v + 1, true })

	d1, err := Map(e, r, inc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	d2, err := Map(e, r, inc)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("expected idempotent construction to return the same collection")
	}
}
