package ke

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nostalgiaos/kernel/hal"
	"github.com/nostalgiaos/kernel/rtl"
)

// QuantumTicks is how many hal timer ticks a thread runs before the
// scheduler considers its quantum expired (spec.md §4.2).
const QuantumTicks = 3

// StarvationThreshold is how long a Ready thread may wait before being
// promoted to StarvationPromotionPriority for one quantum (spec.md §4.2).
const StarvationThreshold = 4 * time.Second

// cpuState is one virtual processor's scheduling context: the thread it
// is currently running and the quantum budget remaining for it.
// Grounded on fuse/latencymap.go's per-slot counters, generalized here
// from latency buckets to per-CPU run state.
type cpuState struct {
	id      int
	current *Thread
	quantum int32
}

// System is the scheduler and dispatcher database: the ke package's
// single point of reference for every thread, CPU, and wait queue, the
// way fuse.MountState anchors an entire mounted filesystem's live state.
type System struct {
	machine *hal.Machine

	dispatcherLock sync.Mutex

	readyLock   sync.Mutex
	readyCond   *sync.Cond
	readyQueues [HighestPriority + 1]rtl.ListEntry
	readyBitmap *rtl.Bitmap
	cpus        []*cpuState

	nextTid uint64

	dpcQueues []*dpcQueue

	stopOnce sync.Once
	stopCh   chan struct{}
}

type readyEntry struct {
	entry  rtl.ListEntry
	thread *Thread
}

// NewSystem creates a scheduler driven by machine's timer ticks. Call
// Start to begin dispatching once initial threads are created.
func NewSystem(machine *hal.Machine) *System {
	sys := &System{
		machine:     machine,
		readyBitmap: rtl.NewBitmap(HighestPriority + 1),
		stopCh:      make(chan struct{}),
	}
	sys.readyCond = sync.NewCond(&sys.readyLock)
	for i := range sys.readyQueues {
		rtl.InitializeListHead(&sys.readyQueues[i])
	}
	sys.cpus = make([]*cpuState, machine.NumCPU())
	sys.dpcQueues = make([]*dpcQueue, machine.NumCPU())
	for i := range sys.cpus {
		sys.cpus[i] = &cpuState{id: i}
		sys.dpcQueues[i] = &dpcQueue{}
	}
	machine.OnTimerTick(sys.onTimerTick)
	return sys
}

// Start launches one dispatch loop goroutine per virtual CPU.
func (sys *System) Start() {
	for _, cpu := range sys.cpus {
		go sys.dispatchLoop(cpu)
	}
}

// Stop signals every dispatch loop to exit after its current thread
// yields. It does not forcibly kill running thread goroutines.
func (sys *System) Stop() {
	sys.stopOnce.Do(func() {
		close(sys.stopCh)
		sys.readyLock.Lock()
		sys.readyCond.Broadcast()
		sys.readyLock.Unlock()
	})
}

// NumCPU reports the number of virtual CPUs the scheduler drives.
func (sys *System) NumCPU() int { return len(sys.cpus) }

// CreateThread allocates a new thread at basePriority, schedulable only
// on CPUs in affinity's bitmask (bit i set means CPU i is eligible), and
// makes it Ready. fn runs on first dispatch; the thread terminates, and
// its dispatcher header becomes permanently signaled, when fn returns.
func (sys *System) CreateThread(basePriority int32, affinity uint64, idealCPU int, fn func(*Thread)) *Thread {
	if affinity == 0 {
		affinity = ^uint64(0)
	}
	t := &Thread{
		Header:       newDispatcher(sys, KindThread),
		Tid:          atomic.AddUint64(&sys.nextTid, 1),
		BasePriority: basePriority,
		Priority:     basePriority,
		Affinity:     affinity,
		IdealCPU:     idealCPU,
		sys:          sys,
		runGate:      make(chan struct{}),
		yieldedCh:    make(chan yieldReason),
		apcMu:        newSpinlockLite(),
		fn:           fn,
	}
	t.setState(ThreadInitialized)
	go sys.threadMain(t)
	sys.ReadyThread(t)
	return t
}

func (sys *System) threadMain(t *Thread) {
	<-t.runGate
	t.drainKernelApcs()
	t.fn(t)

	sys.dispatcherLock.Lock()
	sys.signalThreadExitLocked(t)
	sys.dispatcherLock.Unlock()

	t.yieldedCh <- yieldExit
}

// threadYields is the other half of Thread.Yield/threadParkForWait: it
// hands control back to the dispatch loop that is running t and blocks
// until that loop (or another CPU's) dispatches t again.
func (sys *System) threadYields(t *Thread, reason yieldReason) {
	t.yieldedCh <- reason
	<-t.runGate
	t.drainKernelApcs()
	t.drainUserApcsIfAlertable()
}

func (sys *System) threadParkForWait(t *Thread) {
	sys.threadYields(t, yieldWait)
}

// threadUnparkAfterWait exists as the named counterpart callers expect
// after a wait completes; the actual redispatch happens inside
// threadYields once the scheduler next picks t, so there is nothing
// further to do here.
func (sys *System) threadUnparkAfterWait(t *Thread) {}

// ReadyThread transitions t to Ready and inserts it into its priority's
// run queue, waking an idle CPU or preempting a lower-priority runner
// compatible with t's affinity.
func (sys *System) ReadyThread(t *Thread) {
	sys.readyLock.Lock()
	t.setState(ThreadReady)
	t.waitStartTick = sys.machine.TickCount()
	re := &readyEntry{thread: t}
	re.entry.SetOwner(re)
	rtl.InsertTailList(&sys.readyQueues[t.Priority], &re.entry)
	sys.readyBitmap.Set(int(t.Priority))
	sys.readyCond.Broadcast()
	sys.readyLock.Unlock()

	sys.maybePreempt(t)
}

// ReadyThreadIfWaiting readies t only if it is currently parked in a
// wait (spec.md §4.2: queuing a kernel APC to a waiting thread must
// wake it so the APC runs before the thread resumes its wait).
func (sys *System) ReadyThreadIfWaiting(t *Thread) {
	if t.State() == ThreadWaiting {
		sys.ReadyThread(t)
	}
}

// maybePreempt requests preemption on any CPU currently running a
// thread of strictly lower priority than t that t is eligible to run on.
func (sys *System) maybePreempt(t *Thread) {
	for _, cpu := range sys.cpus {
		if t.Affinity&(1<<uint(cpu.id)) == 0 {
			continue
		}
		cur := cpu.current
		if cur != nil && cur.Priority < t.Priority {
			cur.requestPreempt()
		}
	}
}

// pickNextLocked removes and returns the highest-priority thread
// eligible to run on cpu, or nil if none is ready. Must be called with
// readyLock held.
func (sys *System) pickNextLocked(cpu *cpuState) *Thread {
	for prio := HighestPriority; prio >= LowestPriority; prio-- {
		if !sys.readyBitmap.Test(prio) {
			continue
		}
		head := &sys.readyQueues[prio]
		var chosen *rtl.ListEntry
		for e := head.Next(head); e != nil; e = e.Next(head) {
			re := e.Owner().(*readyEntry)
			if re.thread.Affinity&(1<<uint(cpu.id)) != 0 && !re.thread.Suspended() {
				chosen = e
				break
			}
		}
		if chosen == nil {
			continue
		}
		re := chosen.Owner().(*readyEntry)
		rtl.RemoveEntryList(chosen)
		if rtl.IsListEmpty(head) {
			sys.readyBitmap.Clear(prio)
		}
		return re.thread
	}
	return nil
}

// dispatchLoop is the per-CPU scheduling loop: pick a Ready thread, run
// it until it yields, decide what happens to it, repeat. It is the
// generalization of the teacher's per-mount request-processing loop
// (fuse/mountstate.go's loop()) to per-CPU thread dispatch.
func (sys *System) dispatchLoop(cpu *cpuState) {
	for {
		sys.readyLock.Lock()
		var t *Thread
		for {
			select {
			case <-sys.stopCh:
				sys.readyLock.Unlock()
				return
			default:
			}
			t = sys.pickNextLocked(cpu)
			if t != nil {
				break
			}
			sys.readyCond.Wait()
		}
		cpu.quantum = QuantumTicks
		cpu.current = t
		sys.readyLock.Unlock()

		t.setState(ThreadRunning)
		atomic.StoreInt32(&t.currentCPU, int32(cpu.id))

		t.runGate <- struct{}{}
		reason := <-t.yieldedCh

		cpu.current = nil

		switch reason {
		case yieldExit:
			t.setState(ThreadTerminated)
			continue
		case yieldWait:
			// Thread.State() was already set to ThreadWaiting by the
			// caller before it yielded; nothing further to requeue.
			sys.applyDecayOnBlock(t)
			continue
		case yieldQuantumExpired, yieldPreempted:
			sys.applyDecayOnQuantumExpiry(t)
			sys.ReadyThread(t)
		case yieldVoluntary:
			sys.ReadyThread(t)
		}
	}
}

// onTimerTick runs on every hal timer tick: it decrements each busy
// CPU's quantum and requests preemption when it runs out, and promotes
// starved Ready threads (spec.md §4.2).
func (sys *System) onTimerTick(cpuID int, tick uint64) {
	if cpuID < len(sys.cpus) {
		cpu := sys.cpus[cpuID]
		if cur := cpu.current; cur != nil {
			cpu.quantum--
			if cpu.quantum <= 0 {
				cur.requestPreempt()
			}
		}
	}
	sys.drainDpcs(cpuID)
	if cpuID == 0 {
		sys.promoteStarvedThreads()
	}
}

func (sys *System) promoteStarvedThreads() {
	now := sys.machine.TickCount()
	sys.readyLock.Lock()
	defer sys.readyLock.Unlock()
	for prio := LowestPriority; prio < StarvationPromotionPriority; prio++ {
		head := &sys.readyQueues[prio]
		for e := head.Next(head); e != nil; {
			next := e.Next(head)
			re := e.Owner().(*readyEntry)
			waited := now - re.thread.waitStartTick
			if waited > 0 && time.Duration(waited)*sys.tickInterval() > StarvationThreshold {
				rtl.RemoveEntryList(e)
				if rtl.IsListEmpty(head) {
					sys.readyBitmap.Clear(prio)
				}
				re.thread.Priority = StarvationPromotionPriority
				re.thread.boostDecayRemaining = 1
				ne := &sys.readyQueues[StarvationPromotionPriority]
				re.entry.SetOwner(re)
				rtl.InsertTailList(ne, &re.entry)
				sys.readyBitmap.Set(StarvationPromotionPriority)
			}
			e = next
		}
	}
}

func (sys *System) tickInterval() time.Duration {
	return sys.machine.TickInterval()
}

// applyDecayOnQuantumExpiry decays a boosted variable-priority thread
// back toward its base priority once its promotion quantum is spent
// (spec.md §4.2's boost/decay rule).
func (sys *System) applyDecayOnQuantumExpiry(t *Thread) {
	if t.BasePriority > DynamicPriorityCeiling {
		return // real-time: fixed priority, no decay
	}
	if t.boostDecayRemaining > 0 {
		t.boostDecayRemaining--
		if t.boostDecayRemaining == 0 {
			t.Priority = t.BasePriority
		}
	}
}

// applyDecayOnBlock runs each time a thread blocks in a wait, however
// much of its quantum it used: a variable-priority thread below
// DynamicPriorityCeiling is boosted one level and its decay countdown is
// set to two quanta, after which applyDecayOnQuantumExpiry returns it to
// its base priority. Real-time threads are left unchanged.
func (sys *System) applyDecayOnBlock(t *Thread) {
	if t.BasePriority > DynamicPriorityCeiling {
		return
	}
	if t.Priority < DynamicPriorityCeiling {
		t.Priority++
		t.boostDecayRemaining = 2
	}
}
