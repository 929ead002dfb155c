// Package hal is the hardware abstraction layer: CPU enumeration,
// per-CPU state blocks, a monotonic tick source, and a simulated
// interrupt controller driving timer ticks (inter-processor interrupts
// are not modelled). Grounded on the teacher's small-mutex-guarded state block
// style (fuse/mountstate.go) and its per-OS file split
// (fuse/mount_linux.go vs fuse/mount_darwin.go).
package hal

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Cpu is one (virtual) processor's HAL-owned state: its id and a
// running flag. The scheduler's per-CPU ready queues live in
// ke, not here; HAL only owns what a real HAL would own.
type Cpu struct {
	ID int

	mu      sync.Mutex
	running bool
}

// Machine is the whole simulated multiprocessor: a fixed set of CPUs
// plus a tick source driving timer interrupts across all of them.
type Machine struct {
	cpus []*Cpu

	tickInterval time.Duration
	ticker       *time.Ticker
	stop         chan struct{}
	wg           sync.WaitGroup

	tickCount uint64

	mu        sync.Mutex
	isrs      []func(cpu int, tick uint64)
}

// NewMachine creates a Machine with n virtual CPUs. n must be >= 1.
func NewMachine(n int, tickInterval time.Duration) *Machine {
	if n < 1 {
		n = 1
	}
	m := &Machine{tickInterval: tickInterval}
	for i := 0; i < n; i++ {
		m.cpus = append(m.cpus, &Cpu{ID: i})
	}
	return m
}

// NumCPU returns the number of virtual CPUs in the machine.
func (m *Machine) NumCPU() int { return len(m.cpus) }

// Cpu returns the HAL state block for the given CPU id.
func (m *Machine) Cpu(id int) *Cpu { return m.cpus[id] }

// OnTimerTick registers a handler invoked on every simulated timer
// interrupt, once per CPU; this is how ke wires in preemption/DPC-queue
// draining without hal depending on ke.
func (m *Machine) OnTimerTick(fn func(cpu int, tick uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isrs = append(m.isrs, fn)
}

// Start begins delivering timer interrupts at the configured interval,
// one logical tick broadcast to every CPU, until Stop is called.
func (m *Machine) Start() {
	m.ticker = time.NewTicker(m.tickInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-m.ticker.C:
				tick := atomic.AddUint64(&m.tickCount, 1)
				m.deliverTick(tick)
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Machine) deliverTick(tick uint64) {
	m.mu.Lock()
	isrs := append([]func(int, uint64){}, m.isrs...)
	m.mu.Unlock()

	for cpu := range m.cpus {
		for _, fn := range isrs {
			fn(cpu, tick)
		}
	}
}

// Stop halts timer delivery.
func (m *Machine) Stop() {
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.wg.Wait()
}

// TickCount returns the number of timer interrupts delivered so far.
func (m *Machine) TickCount() uint64 {
	return atomic.LoadUint64(&m.tickCount)
}

// TickInterval returns the configured duration between timer ticks,
// letting callers convert a tick count back into wall-clock duration.
func (m *Machine) TickInterval() time.Duration {
	return m.tickInterval
}

// Now100ns returns the current time as the 100-nanosecond ticks NT
// timestamps use, for timeout arithmetic in ke's wait primitives.
func Now100ns() int64 {
	return time.Now().UnixNano() / 100
}

// DefaultNumCPU mirrors runtime.NumCPU(), the same signal the teacher's
// worker-pool sizing and this kernel's scheduler both use to decide how
// many virtual CPUs to stand up when the caller doesn't pick a number.
func DefaultNumCPU() int {
	return runtime.NumCPU()
}
