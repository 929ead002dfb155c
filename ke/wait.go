package ke

import (
	"time"

	"github.com/nostalgiaos/kernel/rtl"
)

// completeWaitGroupLocked marks a wait group's outcome and, if the
// waiting thread is parked (not the calling thread itself), readies it.
// Must be called with sys.dispatcherLock held. Safe to call at most
// once per group; a second call is a no-op, satisfying spec.md §5's
// "completes exactly once" guarantee.
func (sys *System) completeWaitGroupLocked(g *waitGroup, index int, status rtl.Status) {
	if g.completed != 0 {
		return
	}
	g.completed = 1
	for _, b := range g.allBlocks {
		sys.unlinkWaitBlockLocked(b)
	}
	g.resultCh <- waitOutcome{status: status, index: index}
	sys.ReadyThreadIfWaiting(g.allBlocks[0].thread)
}

func (sys *System) unlinkWaitBlockLocked(wb *waitBlock) {
	if !wb.satisfied {
		rtl.RemoveEntryList(&wb.entry)
	}
}

// WaitForSingleObject blocks the calling thread until d is signaled or
// timeout elapses. A nil timeout waits indefinitely. Returns
// StatusSuccess, StatusTimeout, or the status passed to CancelWaits. The
// wait is not alertable, and mutant abandonment is not tracked, so
// StatusAbandoned is never returned.
func (sys *System) WaitForSingleObject(t *Thread, d *Dispatcher, timeout *time.Duration) rtl.Status {
	_, status := sys.WaitForMultipleObjects(t, []*Dispatcher{d}, WaitAny, timeout, false)
	return status
}

// WaitForMultipleObjects blocks the calling thread on up to
// MaxWaitObjects dispatcher objects with WaitAny or WaitAll semantics.
// If alertable is true and a user APC is queued to the thread while
// waiting, the wait completes early with StatusAlerted. index reports
// which object satisfied a WaitAny wait (spec.md §3.7); it is -1 for
// WaitAll, a timeout, or a failure.
func (sys *System) WaitForMultipleObjects(t *Thread, objs []*Dispatcher, wt WaitType, timeout *time.Duration, alertable bool) (index int, status rtl.Status) {
	if len(objs) == 0 || len(objs) > MaxWaitObjects {
		return -1, rtl.StatusInvalidParameter
	}

	sys.dispatcherLock.Lock()

	g := &waitGroup{waitType: wt, resultCh: make(chan waitOutcome, 1)}
	blocks := make([]*waitBlock, len(objs))
	for i, obj := range objs {
		blocks[i] = &waitBlock{thread: t, object: obj, waitType: wt, group: g, index: i}
	}
	g.allBlocks = blocks

	// A mutant t already owns satisfies t's wait (recursive acquire).
	signaled := func(obj *Dispatcher) bool {
		return obj.isSignaledLocked() || (obj.Kind == KindMutant && obj.owner == t)
	}
	satisfiedCount := 0
	for _, obj := range objs {
		if signaled(obj) {
			satisfiedCount++
		}
	}

	immediate := (wt == WaitAny && satisfiedCount > 0) || (wt == WaitAll && satisfiedCount == len(objs))
	if immediate {
		if wt == WaitAny {
			for i, obj := range objs {
				if signaled(obj) {
					obj.consumeLocked(t)
					sys.completeWaitGroupLocked(g, i, rtl.StatusSuccess)
					break
				}
			}
		} else {
			for _, obj := range objs {
				obj.consumeLocked(t)
			}
			sys.completeWaitGroupLocked(g, -1, rtl.StatusSuccess)
		}
		sys.dispatcherLock.Unlock()
		out := <-g.resultCh
		return out.index, out.status
	}

	g.remaining = len(objs)
	for i, obj := range objs {
		wb := blocks[i]
		wb.entry.SetOwner(wb)
		rtl.InsertTailList(&obj.waitHead, &wb.entry)
	}
	t.parkedGroup = g
	t.setState(ThreadWaiting)

	if alertable {
		atomicStoreAlertable(t, true)
	}
	sys.dispatcherLock.Unlock()

	var timer *time.Timer
	if timeout != nil {
		timer = time.AfterFunc(*timeout, func() {
			sys.dispatcherLock.Lock()
			sys.completeWaitGroupLocked(g, -1, rtl.StatusTimeout)
			sys.dispatcherLock.Unlock()
		})
	}

	// Blocks until the scheduler redispatches t once
	// completeWaitGroupLocked (fired by a signal, the timer above, or
	// CancelWaits) has readied it. Queuing a kernel APC also readies t;
	// the APC runs on that dispatch, and t then parks again until the
	// group completes.
	sys.threadParkForWait(t)
	for {
		sys.dispatcherLock.Lock()
		done := g.completed != 0
		if !done {
			t.setState(ThreadWaiting)
		}
		sys.dispatcherLock.Unlock()
		if done {
			break
		}
		sys.threadParkForWait(t)
	}
	if timer != nil {
		timer.Stop()
	}

	outcome := <-g.resultCh

	if alertable {
		atomicStoreAlertable(t, false)
	}
	sys.dispatcherLock.Lock()
	t.parkedGroup = nil
	sys.dispatcherLock.Unlock()
	sys.threadUnparkAfterWait(t)
	return outcome.index, outcome.status
}

// CancelWaits aborts every outstanding wait-block belonging to t,
// completing t's wait with the given status; used by thread-rundown on termination (spec.md
// §4.2's rundown APC).
func (sys *System) CancelWaits(t *Thread, status rtl.Status) {
	sys.dispatcherLock.Lock()
	defer sys.dispatcherLock.Unlock()
	// A thread only ever has one outstanding wait group at a time in
	// this model (it is blocked synchronously inside
	// WaitForMultipleObjects), tracked via t's parked group.
	if t.parkedGroup != nil && t.parkedGroup.completed == 0 {
		sys.completeWaitGroupLocked(t.parkedGroup, -1, status)
	}
}

func atomicStoreAlertable(t *Thread, v bool) {
	if v {
		t.setAlertable(1)
	} else {
		t.setAlertable(0)
	}
}
