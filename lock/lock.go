// Package lock provides the reentrant mutual-exclusion primitive that
// serializes all access to one guest VM instance.
//
// The common case is a single goroutine making repeated, possibly
// nested calls into the VM: that path is a single atomic compare-and-
// swap, with no allocation and no parking. Only when a second goroutine
// actively contends does acquisition fall back to blocking, and the
// holder hands the lock off cooperatively once its reentrant count
// reaches zero rather than on every nested release.
package lock

import (
	"sync/atomic"

	"github.com/petermattis/goid"
)

// FastRLock is a reentrant lock owned by a goroutine. The zero value is
// not ready to use; create one with New.
type FastRLock struct {
	owner   atomic.Int64  // goroutine id of the holder, 0 when free
	pending atomic.Int32  // goroutines waiting on the slow path
	handoff chan struct{} // wake token for slow-path waiters
	count   int           // re-entry depth, touched only by the holder
}

// New creates a FastRLock.
func New() *FastRLock {
	return &FastRLock{handoff: make(chan struct{}, 1)}
}

// Acquire takes the lock on behalf of the calling goroutine. Re-entry
// by the holder increments a counter and returns immediately. When
// blocking is false a failed acquisition returns false instead of
// waiting.
func (l *FastRLock) Acquire(blocking bool) bool {
	gid := goid.Get()

	if l.owner.Load() == gid {
		l.count++
		return true
	}

	// Fast path: free and unrequested.
	if l.pending.Load() == 0 && l.owner.CompareAndSwap(0, gid) {
		l.count = 1
		return true
	}

	return l.acquireSlow(gid, blocking)
}

func (l *FastRLock) acquireSlow(gid int64, blocking bool) bool {
	if !blocking {
		// One retry covers the window where the holder released
		// between the fast path and here.
		if l.owner.CompareAndSwap(0, gid) {
			l.count = 1
			return true
		}
		return false
	}

	l.pending.Add(1)
	defer l.pending.Add(-1)

	for {
		if l.owner.CompareAndSwap(0, gid) {
			l.count = 1
			return true
		}
		// The holder signals once its reentrant count reaches zero.
		<-l.handoff
	}
}

// Release drops one level of ownership. Releasing a lock the calling
// goroutine does not hold is a programming error and panics.
func (l *FastRLock) Release() {
	gid := goid.Get()
	if l.owner.Load() != gid || l.count == 0 {
		panic("lock: Release of FastRLock not held by this goroutine")
	}

	l.count--
	if l.count != 0 {
		return
	}

	l.owner.Store(0)
	if l.pending.Load() > 0 {
		select {
		case l.handoff <- struct{}{}:
		default:
		}
	}
}

// IsOwned reports whether the calling goroutine currently holds the
// lock.
func (l *FastRLock) IsOwned() bool {
	return l.owner.Load() == goid.Get() && l.count > 0
}

// Depth returns the current re-entry depth as seen by the holder. It is
// only meaningful when called by the owning goroutine.
func (l *FastRLock) Depth() int {
	if !l.IsOwned() {
		return 0
	}
	return l.count
}
