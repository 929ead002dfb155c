package ke

import (
	"github.com/nostalgiaos/kernel/rtl"
)

// ObjectKind distinguishes the waitable primitives spec.md §3.7 lists.
type ObjectKind int

const (
	KindEvent ObjectKind = iota
	KindSemaphore
	KindMutant
	KindTimer
	KindThread
)

// WaitType selects whether WaitForMultipleObjects is satisfied by any
// one constituent wait-block or requires all of them (spec.md §3.7).
type WaitType int

const (
	WaitAny WaitType = iota
	WaitAll
)

// MaxWaitObjects bounds how many dispatcher objects a single wait call
// may reference at once, matching NT's MAXIMUM_WAIT_OBJECTS.
const MaxWaitObjects = 64

// Dispatcher is the common header embedded in every waitable object:
// events, semaphores, mutants, timers, and threads themselves (a thread
// is waitable and signals on exit). Grounded on fuse/handle.go's
// Handled/verify invariant-checked bookkeeping, applied here to wait
// queue membership instead of handle reference counts.
type Dispatcher struct {
	sys  *System
	Kind ObjectKind

	// signalState's meaning depends on Kind:
	//   Event:     0 or 1
	//   Semaphore: current count
	//   Mutant:    0 (unowned) or 1 (owned); Owner/Recursion below
	//   Timer:     0 or 1, same as an event
	//   Thread:    0 until the thread exits, then permanently 1
	signalState int32
	manualReset bool // Event only
	semaLimit   int32
	owner       *Thread // Mutant only
	recursion   int32   // Mutant only

	waitHead rtl.ListEntry
}

// waitBlock links exactly one thread to one dispatcher object's wait
// queue (spec.md §3.7 invariant (a): a wait-block is in at most one
// queue).
type waitBlock struct {
	entry     rtl.ListEntry
	thread    *Thread
	object    *Dispatcher
	waitType  WaitType
	satisfied bool
	index     int // this block's position within group.allBlocks
	// group is shared by every waitBlock belonging to one
	// WaitForMultipleObjects call; it tracks how many of the group's
	// blocks remain unsatisfied for WaitAll, and carries the result.
	group *waitGroup
}

type waitGroup struct {
	remaining int
	waitType  WaitType
	allBlocks []*waitBlock
	resultCh  chan waitOutcome
	completed int32
}

type waitOutcome struct {
	status rtl.Status
	index  int
}

func newDispatcher(sys *System, kind ObjectKind) *Dispatcher {
	d := &Dispatcher{sys: sys, Kind: kind}
	rtl.InitializeListHead(&d.waitHead)
	return d
}

// NewEvent creates a manual- or auto-reset event object.
func (sys *System) NewEvent(manualReset, initialState bool) *Dispatcher {
	d := newDispatcher(sys, KindEvent)
	d.manualReset = manualReset
	if initialState {
		d.signalState = 1
	}
	return d
}

// NewSemaphore creates a semaphore with the given initial count and
// maximum count.
func (sys *System) NewSemaphore(initialCount, limit int32) *Dispatcher {
	d := newDispatcher(sys, KindSemaphore)
	d.signalState = initialCount
	d.semaLimit = limit
	return d
}

// NewMutant creates a mutant (NT's recursive mutex dispatcher object).
func (sys *System) NewMutant(initiallyOwned bool, owner *Thread) *Dispatcher {
	d := newDispatcher(sys, KindMutant)
	if initiallyOwned {
		d.signalState = 0
		d.owner = owner
		d.recursion = 1
	} else {
		d.signalState = 1
	}
	return d
}

// NewTimer creates a not-yet-signaled timer dispatcher object.
func (sys *System) NewTimer() *Dispatcher {
	return newDispatcher(sys, KindTimer)
}

// isSignaledLocked reports whether the object currently satisfies a
// wait, under sys.dispatcherLock.
func (d *Dispatcher) isSignaledLocked() bool {
	switch d.Kind {
	case KindSemaphore:
		return d.signalState > 0
	case KindMutant:
		return d.signalState != 0 || d.owner == nil
	default:
		return d.signalState != 0
	}
}

// consumeLocked applies the side effect of a successful wait: an
// auto-reset event clears, a semaphore decrements, a mutant transfers
// ownership/increments recursion.
func (d *Dispatcher) consumeLocked(t *Thread) {
	switch d.Kind {
	case KindEvent:
		if !d.manualReset {
			d.signalState = 0
		}
	case KindSemaphore:
		d.signalState--
	case KindMutant:
		if d.owner == t {
			d.recursion++
		} else {
			d.owner = t
			d.recursion = 1
		}
		d.signalState = 0
	}
}

// SetEvent signals an event, releasing compatible waiters highest
// priority first and FIFO among equal priorities (spec.md §3.7
// invariant (b)).
func (d *Dispatcher) SetEvent() {
	d.sys.dispatcherLock.Lock()
	defer d.sys.dispatcherLock.Unlock()
	d.signalState = 1
	d.sys.satisfyWaitsLocked(d)
	if d.manualReset {
		return
	}
}

// ResetEvent clears a manual-reset event.
func (d *Dispatcher) ResetEvent() {
	d.sys.dispatcherLock.Lock()
	defer d.sys.dispatcherLock.Unlock()
	d.signalState = 0
}

// PulseEvent signals the event just long enough to release currently
// queued waiters, then clears it, without leaving it signaled for
// subsequent waiters.
func (d *Dispatcher) PulseEvent() {
	d.sys.dispatcherLock.Lock()
	d.signalState = 1
	d.sys.satisfyWaitsLocked(d)
	d.signalState = 0
	d.sys.dispatcherLock.Unlock()
}

// ReleaseSemaphore increments the semaphore's count by releaseCount,
// capped at its limit, waking compatible waiters.
func (d *Dispatcher) ReleaseSemaphore(releaseCount int32) (previousCount int32) {
	d.sys.dispatcherLock.Lock()
	defer d.sys.dispatcherLock.Unlock()
	previousCount = d.signalState
	d.signalState += releaseCount
	if d.signalState > d.semaLimit {
		d.signalState = d.semaLimit
	}
	d.sys.satisfyWaitsLocked(d)
	return previousCount
}

// ReleaseMutant releases one level of recursion; when it reaches zero
// the mutant becomes available to other waiters.
func (d *Dispatcher) ReleaseMutant(t *Thread) rtl.Status {
	d.sys.dispatcherLock.Lock()
	defer d.sys.dispatcherLock.Unlock()
	if d.owner != t {
		return rtl.StatusInvalidParameter
	}
	d.recursion--
	if d.recursion == 0 {
		d.owner = nil
		d.signalState = 1
		d.sys.satisfyWaitsLocked(d)
	}
	return rtl.StatusSuccess
}

// signalThreadExitLocked marks a thread's dispatcher header permanently
// signaled, waking every waiter of that thread's termination.
func (sys *System) signalThreadExitLocked(t *Thread) {
	t.Header.signalState = 1
	sys.satisfyWaitsLocked(t.Header)
}

// satisfyWaitsLocked wakes waiters from d's wait queue while d stays
// signaled, taking the highest-priority waiter first and, among equal
// priorities, the one queued first (spec.md §5 ordering guarantee (2)).
// Must be called with sys.dispatcherLock held.
func (sys *System) satisfyWaitsLocked(d *Dispatcher) {
	for d.isSignaledLocked() {
		entry := d.waitHead.Next(&d.waitHead)
		if entry == nil {
			return
		}
		for e := entry.Next(&d.waitHead); e != nil; e = e.Next(&d.waitHead) {
			if e.Owner().(*waitBlock).thread.Priority > entry.Owner().(*waitBlock).thread.Priority {
				entry = e
			}
		}
		wb := entry.Owner().(*waitBlock)

		if wb.group.waitType == WaitAny {
			d.consumeLocked(wb.thread)
			rtl.RemoveEntryList(entry)
			sys.completeWaitGroupLocked(wb.group, wb.index, rtl.StatusSuccess)
		} else {
			// WaitAll: this block is satisfied but ownership
			// side-effects only apply once every block in the
			// group is satisfied, to avoid partially consuming
			// resources for a wait that might still block on
			// another object.
			wb.satisfied = true
			rtl.RemoveEntryList(entry)
			wb.group.remaining--
			if wb.group.remaining == 0 {
				for _, other := range wb.group.allBlocks {
					other.object.consumeLocked(other.thread)
				}
				sys.completeWaitGroupLocked(wb.group, -1, rtl.StatusSuccess)
			}
		}
	}
}
