// Package sync provides the lock-free bit primitives and the spinlock built on
// top of them. Both stay correct when secondary CPUs are started.
package sync

import "unsafe"

// lockBit is the bit of Spinlock.state that marks the lock as held.
const lockBit = 0

var (
	// yieldFn is invoked while waiting for a contended lock. It is nil
	// during bring-up as there is no scheduler to yield to.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for TestAndSetBit(lockBit, unsafe.Pointer(&l.state)) {
		// Spin on plain reads so waiting CPUs do not keep the cache
		// line in exclusive state.
		for TestBit(lockBit, unsafe.Pointer(&l.state)) {
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return !TestAndSetBit(lockBit, unsafe.Pointer(&l.state))
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	TestAndClearBit(lockBit, unsafe.Pointer(&l.state))
}
