package resource

import (
	"reflect"
	"weak"

	luaruntime "github.com/wippyai/lua-runtime"
)

// Key identifies a wrapper: one host object identity wrapped under one
// set of protocol flags. The same object wrapped with different flags
// yields distinct wrappers.
type Key struct {
	ID    uintptr
	Flags luaruntime.Flags
}

// IdentityOf derives a stable identity for obj. Only reference-shaped
// values (pointers, maps, slices, channels) have one; value types
// report false and are wrapped fresh each time, without deduplication.
// Functions are deliberately excluded: distinct closures and bound
// methods can share one code pointer, which is what Pointer() reports
// for them.
func IdentityOf(obj any) (uintptr, bool) {
	if obj == nil {
		return 0, false
	}
	rv := reflect.ValueOf(obj)
	switch rv.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map,
		reflect.Chan, reflect.Slice:
		return rv.Pointer(), true
	default:
		return 0, false
	}
}

// Entry ties a host object to its guest-side wrapper. The host object
// is held strongly: the table is what keeps it alive while guest code
// can still reach the wrapper. The wrapper itself is held weakly so the
// collector that owns guest values decides when it dies.
type Entry[W any] struct {
	Object  any
	Wrapper weak.Pointer[W]
}

// HostTable deduplicates wrapped host objects per (identity, flags)
// pair. W is the concrete guest wrapper type.
type HostTable[W any] struct {
	entries map[Key]*Entry[W]
}

// NewHostTable creates an empty table.
func NewHostTable[W any]() *HostTable[W] {
	return &HostTable[W]{entries: make(map[Key]*Entry[W])}
}

// Lookup returns the live wrapper for key, if any. An entry whose
// wrapper has already been collected does not count as live.
func (t *HostTable[W]) Lookup(key Key) (*W, bool) {
	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	w := e.Wrapper.Value()
	if w == nil {
		return nil, false
	}
	return w, true
}

// Store records a wrapper for key, replacing any stale entry.
func (t *HostTable[W]) Store(key Key, obj any, wrapper *W) {
	t.entries[key] = &Entry[W]{
		Object:  obj,
		Wrapper: weak.Make(wrapper),
	}
}

// Remove drops the entry for key, releasing the strong host reference.
// Removing an absent key is a no-op: finalization may race with bridge
// teardown, and both sides must tolerate losing.
func (t *HostTable[W]) Remove(key Key) (any, bool) {
	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	delete(t.entries, key)
	return e.Object, true
}

// Len returns the number of entries, live or stale.
func (t *HostTable[W]) Len() int {
	return len(t.entries)
}

// Clear drops all entries. Used during bridge teardown.
func (t *HostTable[W]) Clear() {
	t.entries = make(map[Key]*Entry[W])
}
