package resource

import "testing"

func TestRegistryRefGet(t *testing.T) {
	r := NewRegistry()

	s := r.Ref("hello")
	if s == NoRef {
		t.Fatal("Ref returned NoRef")
	}
	v, ok := r.Get(s)
	if !ok || v != "hello" {
		t.Fatalf("Get = %v, %v", v, ok)
	}
}

func TestRegistryUnref(t *testing.T) {
	r := NewRegistry()
	s := r.Ref(42)

	v, ok := r.Unref(s)
	if !ok || v != 42 {
		t.Fatalf("Unref = %v, %v", v, ok)
	}
	if _, ok := r.Get(s); ok {
		t.Fatal("Get succeeded on released slot")
	}
	// Double release is a no-op.
	if _, ok := r.Unref(s); ok {
		t.Fatal("second Unref succeeded")
	}
}

func TestRegistrySlotReuse(t *testing.T) {
	r := NewRegistry()
	a := r.Ref("a")
	b := r.Ref("b")
	r.Unref(a)

	c := r.Ref("c")
	if c != a {
		t.Fatalf("freed slot not recycled: got %d, want %d", c, a)
	}
	if v, _ := r.Get(b); v != "b" {
		t.Fatal("unrelated slot disturbed by recycling")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
}

func TestRegistryInvalidSlots(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(NoRef); ok {
		t.Fatal("Get(NoRef) succeeded")
	}
	if _, ok := r.Get(99); ok {
		t.Fatal("Get on out-of-range slot succeeded")
	}
	if _, ok := r.Unref(99); ok {
		t.Fatal("Unref on out-of-range slot succeeded")
	}
}

func TestPendingQueue(t *testing.T) {
	var q PendingQueue
	if got := q.Drain(); got != nil {
		t.Fatalf("Drain on empty queue = %v", got)
	}

	q.Add(3)
	q.Add(7)
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}

	got := q.Drain()
	if len(got) != 2 || got[0] != 3 || got[1] != 7 {
		t.Fatalf("Drain = %v", got)
	}
	if q.Len() != 0 {
		t.Fatal("queue not empty after Drain")
	}
}
