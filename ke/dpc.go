package ke

import "sync"

// Dpc is a deferred procedure call: a short, non-blocking routine queued
// from interrupt context (here, a hal timer tick) and run at
// DispatchLevel on a particular CPU shortly afterward (spec.md §4.2).
type Dpc struct {
	fn  func(arg interface{})
	arg interface{}
}

// dpcQueue is one CPU's pending DPC list, drained once per timer tick,
// after the tick's quantum bookkeeping and before starvation promotion.
// Grounded on the teacher's
// bufferpool.go free-list under a single mutex, generalized from buffer
// reuse to deferred-call dispatch.
type dpcQueue struct {
	mu    sync.Mutex
	items []Dpc
}

// QueueDpc schedules fn to run on cpuID at the next timer tick, passing
// arg through unchanged. DPCs on the same CPU run in the order queued.
func (sys *System) QueueDpc(cpuID int, fn func(arg interface{}), arg interface{}) {
	if cpuID < 0 || cpuID >= len(sys.dpcQueues) {
		return
	}
	q := sys.dpcQueues[cpuID]
	q.mu.Lock()
	q.items = append(q.items, Dpc{fn: fn, arg: arg})
	q.mu.Unlock()
}

func (sys *System) drainDpcs(cpuID int) {
	q := sys.dpcQueues[cpuID]
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, d := range items {
		d.fn(d.arg)
	}
}
