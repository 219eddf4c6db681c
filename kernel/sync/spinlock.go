// Package sync provides synchronization primitive implementations for
// spinlocks and one-shot initialization guards.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked by Acquire after a number of failed attempts. The
	// kernel has no scheduler yet so it defaults to a no-op; tests replace
	// it with runtime.Gosched.
	yieldFn func()
)

// attemptsBeforeYielding defines how many times Acquire spins before
// invoking yieldFn.
const attemptsBeforeYielding = 64

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	acquireSpinlock(&l.state, attemptsBeforeYielding)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// acquireSpinlock spins on state until it manages to flip it from 0 to 1.
// Only a plain load is performed while the lock is held so the cache line is
// not bounced between cores.
func acquireSpinlock(state *uint32, attempts uint32) {
	for spins := uint32(0); ; spins++ {
		if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
			return
		}

		if spins == attempts {
			spins = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// OneShot guards an operation that must be performed at most once, such as
// the initialization of a global allocator.
type OneShot struct {
	state uint32
}

// Claim returns true for the first caller and false for every subsequent
// caller.
func (o *OneShot) Claim() bool {
	return atomic.CompareAndSwapUint32(&o.state, 0, 1)
}
