package ke

import (
	"sync/atomic"

	"github.com/nostalgiaos/kernel/rtl"
)

// ThreadState is one of the states spec.md §3.8 names; only Ready and
// Running are schedulable.
type ThreadState int32

const (
	ThreadInitialized ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadStandby
	ThreadWaiting
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadInitialized:
		return "Initialized"
	case ThreadReady:
		return "Ready"
	case ThreadRunning:
		return "Running"
	case ThreadStandby:
		return "Standby"
	case ThreadWaiting:
		return "Waiting"
	case ThreadTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

const (
	// LowestPriority is the zero page thread's fixed priority.
	LowestPriority = 0
	// HighestPriority is the top real-time priority.
	HighestPriority = 31
	// DynamicPriorityCeiling bounds the range boosts can push a
	// variable-priority thread into; above it, priorities are
	// real-time (fixed, no automatic boost/decay).
	DynamicPriorityCeiling = 15
	// StarvationPromotionPriority is the priority any Ready thread
	// waiting longer than the starvation threshold is promoted to,
	// for one quantum (spec.md §4.2).
	StarvationPromotionPriority = 14
)

type yieldReason int

const (
	yieldVoluntary yieldReason = iota
	yieldWait
	yieldQuantumExpired
	yieldPreempted
	yieldExit
)

// Thread is a schedulable kernel thread. Its dispatcher header signals
// when the thread exits, making "wait for thread to terminate" a case
// of the same WaitForSingleObject primitive used for events and
// semaphores (spec.md §3.7).
type Thread struct {
	Header *Dispatcher

	Tid          uint64
	BasePriority int32
	Priority     int32 // current effective priority, boosted/decayed
	Affinity     uint64
	IdealCPU     int

	sys *System

	state      int32 // ThreadState, accessed atomically
	preempted  int32 // set by preempt-on-ready / quantum expiry
	alertable  int32
	suspendCount int32

	currentCPU int32

	runGate   chan struct{}
	yieldedCh chan yieldReason

	kernelApcs []func(*Thread)
	userApcs   []func(*Thread)
	apcMu      spinlockLite

	boostDecayRemaining int32 // quantums left before priority decays to base

	// parkedGroup is the wait group this thread is currently blocked on,
	// set only while State() == ThreadWaiting. Used by CancelWaits during
	// thread rundown.
	parkedGroup *waitGroup

	waitStartTick uint64 // hal tick the thread entered Ready, for starvation promotion

	fn func(*Thread)
}

// setAlertable flips the thread's alertable-wait flag.
func (t *Thread) setAlertable(v int32) {
	atomic.StoreInt32(&t.alertable, v)
}

// spinlockLite is a tiny mutex used for the rare fields that don't need
// the full dispatch-level SpinLock (APC queues are only ever touched
// briefly and never from DPC context in this kernel).
type spinlockLite struct{ ch chan struct{} }

func newSpinlockLite() spinlockLite {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return spinlockLite{ch: ch}
}
func (s spinlockLite) Lock()   { <-s.ch }
func (s spinlockLite) Unlock() { s.ch <- struct{}{} }

// State returns the thread's current scheduling state.
func (t *Thread) State() ThreadState {
	return ThreadState(atomic.LoadInt32(&t.state))
}

func (t *Thread) setState(s ThreadState) {
	atomic.StoreInt32(&t.state, int32(s))
}

// Alertable reports whether the thread is currently in an alertable
// wait, i.e. eligible for user-mode APC delivery (spec.md §4.2).
func (t *Thread) Alertable() bool {
	return atomic.LoadInt32(&t.alertable) != 0
}

// requestPreempt marks the thread for preemption at its next
// cooperative checkpoint (Yield, a wait call, or quantum expiry). A
// hosted Go process cannot forcibly interrupt an arbitrary running
// goroutine the way a real timer interrupt can; like NT's own IRQL
// model, preemption here only takes effect at a defined checkpoint, and
// callers are expected to call Yield periodically in CPU-bound loops.
func (t *Thread) requestPreempt() {
	atomic.StoreInt32(&t.preempted, 1)
}

// Preempted reports (and clears) whether this thread has been marked
// for preemption since the last check.
func (t *Thread) Preempted() bool {
	return atomic.SwapInt32(&t.preempted, 0) != 0
}

// Yield is the cooperative checkpoint: a thread body running a CPU-bound
// loop should call this periodically. If another CPU requested
// preemption (a higher-priority thread became ready) or its quantum ran
// out (the timer-tick handler marks the thread directly; no DPC is
// queued for it), this blocks until the scheduler dispatches the thread
// again.
func (t *Thread) Yield() {
	if !t.Preempted() {
		return
	}
	t.sys.threadYields(t, yieldPreempted)
}

// QueueKernelApc appends a kernel-mode APC, run just before the thread
// is next dispatched to a CPU (spec.md §4.2).
func (t *Thread) QueueKernelApc(fn func(*Thread)) {
	t.apcMu.Lock()
	t.kernelApcs = append(t.kernelApcs, fn)
	t.apcMu.Unlock()
	t.sys.ReadyThreadIfWaiting(t)
}

// QueueUserApc appends a user-mode APC. If the thread is in an
// alertable wait, that wait completes with StatusAlerted and the APC runs
// when the thread is next dispatched; otherwise the APC stays queued
// until the thread is dispatched while in an alertable wait.
func (t *Thread) QueueUserApc(fn func(*Thread)) {
	t.apcMu.Lock()
	t.userApcs = append(t.userApcs, fn)
	t.apcMu.Unlock()
	if t.Alertable() {
		t.sys.CancelWaits(t, rtl.StatusAlerted)
	}
}

func (t *Thread) drainKernelApcs() {
	t.apcMu.Lock()
	apcs := t.kernelApcs
	t.kernelApcs = nil
	t.apcMu.Unlock()
	for _, fn := range apcs {
		fn(t)
	}
}

func (t *Thread) drainUserApcsIfAlertable() bool {
	if !t.Alertable() {
		return false
	}
	t.apcMu.Lock()
	apcs := t.userApcs
	t.userApcs = nil
	t.apcMu.Unlock()
	for _, fn := range apcs {
		fn(t)
	}
	return len(apcs) > 0
}
