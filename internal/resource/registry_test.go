package resource

import (
	"testing"
	"time"

	"github.com/r3e-network/reactive-streams/internal/reactive"
)

func testLeaf(t *testing.T, e *reactive.Engine, name string) (Leaf, *reactive.Collection[string, int]) {
	t.Helper()
	c, err := reactive.NewBase[string, int](e, name)
	if err != nil {
		t.Fatalf("NewBase: %v", err)
	}
	return NewLeaf(c), c
}

func TestInstanceReuse(t *testing.T) {
	e := reactive.NewEngine(nil)
	leaf, _ := testLeaf(t, e, "r1")

	reg := NewInstanceRegistry(RegistryConfig{})
	params, err := Schema{}.Validate([]byte(`{"symbol":"ABC"}`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	inst1, reused1 := reg.Create("demo", params, leaf)
	if reused1 {
		t.Fatalf("first create should not be reused")
	}
	inst2, reused2 := reg.Create("demo", params, leaf)
	if !reused2 || inst1.ID != inst2.ID {
		t.Fatalf("second create with identical params should reuse instance")
	}

	other, err := Schema{}.Validate([]byte(`{"symbol":"XYZ"}`))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	inst3, reused3 := reg.Create("demo", other, leaf)
	if reused3 || inst3.ID == inst1.ID {
		t.Fatalf("different params should mint a different instance")
	}
}

func TestSubscribeSnapshotAndUpdate(t *testing.T) {
	e := reactive.NewEngine(nil)
	leaf, base := testLeaf(t, e, "r2")
	reg := NewInstanceRegistry(RegistryConfig{SubscriberQueueCapacity: 4})

	params, _ := Schema{}.Validate([]byte(`{}`))
	if err := base.Set("a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	inst, _ := reg.Create("demo2", params, leaf)

	sub, err := reg.Subscribe(inst.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != EventInit || len(ev.Init) != 1 {
			t.Fatalf("expected init snapshot with one item, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for init event")
	}

	if err := base.Set("b", 2); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != EventUpdate || len(ev.Update) != 1 {
			t.Fatalf("expected one update event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update event")
	}
}

func TestDestroyDeliversClose(t *testing.T) {
	e := reactive.NewEngine(nil)
	leaf, _ := testLeaf(t, e, "r3")
	reg := NewInstanceRegistry(RegistryConfig{})
	params, _ := Schema{}.Validate([]byte(`{}`))
	inst, _ := reg.Create("demo3", params, leaf)

	sub, err := reg.Subscribe(inst.ID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-sub.Events() // drain init

	if err := reg.Destroy(inst.ID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	select {
	case ev := <-sub.Events():
		if ev.Type != EventClose {
			t.Fatalf("expected close event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close event")
	}

	if _, ok := reg.Get(inst.ID); ok {
		t.Fatalf("instance should be gone after destroy")
	}
}
