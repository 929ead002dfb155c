package ke

import (
	"sync"
	"sync/atomic"
)

// Irql models NT's interrupt request level. Code running at
// DispatchLevel or above must never call a suspending primitive
// (spec.md §5).
type Irql int32

const (
	PassiveLevel  Irql = 0
	ApcLevel      Irql = 1
	DispatchLevel Irql = 2
)

// SpinLock is a ticket-based mutual exclusion lock that raises the
// calling CPU to DispatchLevel for the duration of the critical
// section, the same discipline spec.md §4.2 describes: spinlocks never
// block, and critical sections under them must be short because DPC
// delivery on that CPU is blocked while held.
//
// Grounded on the teacher's small sync.Mutex-guarded state blocks
// (fuse/latencymap.go) generalized to ticket ordering, which the
// teacher doesn't need (it never models IRQL) but the kernel's
// deadlock-avoidance ordering in spec.md §5 requires a well-defined
// acquisition order by lock address, which a ticket lock's FIFO-ness
// makes easy to reason about under contention.
type SpinLock struct {
	nowServing uint64
	nextTicket uint64
	mu         sync.Mutex
	cond       *sync.Cond

	savedIrql Irql
}

// NewSpinLock returns a ready-to-use spinlock.
func NewSpinLock() *SpinLock {
	l := &SpinLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire raises IRQL to DispatchLevel and takes the lock, returning the
// IRQL that was in effect before the raise so the caller can restore it
// with Release.
func (l *SpinLock) Acquire() Irql {
	ticket := atomic.AddUint64(&l.nextTicket, 1) - 1

	l.mu.Lock()
	for l.nowServing != ticket {
		l.cond.Wait()
	}
	prev := l.savedIrql
	l.savedIrql = DispatchLevel
	l.mu.Unlock()
	return prev
}

// Release drops the lock and restores the previous IRQL.
func (l *SpinLock) Release(prevIrql Irql) {
	l.mu.Lock()
	l.savedIrql = prevIrql
	l.nowServing++
	l.mu.Unlock()
	l.cond.Broadcast()
}

// TryAcquire attempts to take the lock without blocking.
func (l *SpinLock) TryAcquire() (Irql, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ticket := atomic.LoadUint64(&l.nextTicket)
	if l.nowServing != ticket || !atomic.CompareAndSwapUint64(&l.nextTicket, ticket, ticket+1) {
		return 0, false
	}
	prev := l.savedIrql
	l.savedIrql = DispatchLevel
	return prev, true
}
