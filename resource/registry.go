package resource

import "sync"

// Slot is an index into the registry pin table. Slot 0 is reserved and
// always invalid; a handle holding NoRef is dead.
type Slot uint32

// NoRef marks a released or never-assigned slot.
const NoRef Slot = 0

type regEntry struct {
	value any
	valid bool
}

// Registry pins values under integer slots. Freed slots are recycled
// through a free list so long-lived bridges do not grow without bound.
type Registry struct {
	entries  []regEntry
	freeList []Slot
}

// NewRegistry creates a registry with a small preallocated slot pool.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make([]regEntry, 0, 64),
		freeList: make([]Slot, 0, 16),
	}
}

// Ref pins v and returns its slot.
func (r *Registry) Ref(v any) Slot {
	e := regEntry{value: v, valid: true}

	if n := len(r.freeList); n > 0 {
		slot := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		r.entries[slot-1] = e
		return slot
	}

	r.entries = append(r.entries, e)
	return Slot(len(r.entries))
}

// Get returns the pinned value for slot.
func (r *Registry) Get(slot Slot) (any, bool) {
	if slot == NoRef || int(slot) > len(r.entries) {
		return nil, false
	}
	e := r.entries[slot-1]
	if !e.valid {
		return nil, false
	}
	return e.value, true
}

// Unref releases slot and returns the value that was pinned there.
// Releasing an invalid or already-released slot is a no-op.
func (r *Registry) Unref(slot Slot) (any, bool) {
	if slot == NoRef || int(slot) > len(r.entries) {
		return nil, false
	}
	e := &r.entries[slot-1]
	if !e.valid {
		return nil, false
	}
	v := e.value
	e.value = nil
	e.valid = false
	r.freeList = append(r.freeList, slot)
	return v, true
}

// Len returns the number of live pins.
func (r *Registry) Len() int {
	return len(r.entries) - len(r.freeList)
}

// Clear releases every pin. Used during bridge teardown.
func (r *Registry) Clear() {
	r.entries = r.entries[:0]
	r.freeList = r.freeList[:0]
}

// PendingQueue collects slots whose release could not take the bridge
// lock, typically because it was requested from a finalizer. Finalizers
// must never block, so they enqueue here and the next locked operation
// drains the queue.
type PendingQueue struct {
	mu    sync.Mutex
	slots []Slot
}

// Add queues a slot for deferred release.
func (q *PendingQueue) Add(slot Slot) {
	q.mu.Lock()
	q.slots = append(q.slots, slot)
	q.mu.Unlock()
}

// Drain removes and returns all queued slots.
func (q *PendingQueue) Drain() []Slot {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.slots) == 0 {
		return nil
	}
	out := q.slots
	q.slots = nil
	return out
}

// Len returns the number of queued slots.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}
