// Package kernel wires together rtl/hal/ke/mm/ob/ex/io/cc into one
// bootable instance (spec.md §9 design note: tests construct a fresh
// kernel instance rather than sharing global state) and exposes the
// §6.1 numbered syscall dispatch table.
package kernel

import (
	"log"
	"sync"
	"time"

	"github.com/nostalgiaos/kernel/cc"
	"github.com/nostalgiaos/kernel/ex"
	"github.com/nostalgiaos/kernel/hal"
	"github.com/nostalgiaos/kernel/io"
	"github.com/nostalgiaos/kernel/ke"
	"github.com/nostalgiaos/kernel/mm"
	"github.com/nostalgiaos/kernel/ob"
)

// Config is the literal option struct kernel.New is built from,
// matching the teacher's MountOptions/nodefs.Options construction
// style (a plain struct with documented defaults) rather than a
// config-file library.
type Config struct {
	// NumCPU is the number of virtual processors to simulate. Zero
	// means hal.DefaultNumCPU().
	NumCPU int
	// PhysicalPages is the size of the simulated PFN database.
	PhysicalPages int
	// TickInterval is the simulated timer interrupt period. Zero
	// means 1ms, fast enough for tests without busy-spinning.
	TickInterval time.Duration
	// WorkerThreads sizes ex's background worker pool. Zero means 2.
	WorkerThreads int
	// LazyWriterInterval is how often cc's lazy writer sweeps dirty
	// cache views. Zero means cc.DefaultLazyWriterInterval.
	LazyWriterInterval time.Duration
	// Drives maps a drive letter ("C:") to the device name it is
	// mounted under in the object namespace (e.g. "\Device\HarddiskVolume1").
	Drives map[string]string
}

func (c Config) withDefaults() Config {
	if c.NumCPU <= 0 {
		c.NumCPU = hal.DefaultNumCPU()
	}
	if c.PhysicalPages <= 0 {
		c.PhysicalPages = 16384 // 64 MiB of 4 KiB pages
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Millisecond
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = 2
	}
	if c.LazyWriterInterval <= 0 {
		c.LazyWriterInterval = cc.DefaultLazyWriterInterval
	}
	if c.Drives == nil {
		c.Drives = map[string]string{"C:": `\Device\HarddiskVolume1`}
	}
	return c
}

// Process groups the threads spawned under one logical process, for
// SuspendProcess/ResumeProcess (spec.md §6.1) and
// ex.QuerySystemInformation's process list.
type Process struct {
	mu      sync.Mutex
	pid     uint32
	threads []*ke.Thread
}

// Kernel is a single bootable instance: every subsystem's singleton,
// wired together. Grounded on original_source/kernel/src/main.rs's
// init_phase0/init_phase1 split: phase0 brings up the data structures
// every later phase depends on, phase1 starts the goroutines that
// make the instance live.
type Kernel struct {
	Config Config

	Machine    *hal.Machine
	Scheduler  *ke.System
	Pfn        *mm.Database
	Ob         *ob.Manager
	Counters   *ex.Counters
	Workers    *ex.WorkerPool
	LazyWriter *cc.LazyWriter
	FS         *io.Manager

	mu        sync.Mutex
	nextPid   uint32
	processes map[uint32]*Process
}

// New runs InitPhase0 and InitPhase1 and returns a fully live kernel
// instance.
func New(cfg Config) *Kernel {
	k := InitPhase0(cfg)
	k.InitPhase1()
	return k
}

// InitPhase0 constructs every subsystem's data structures without
// starting any goroutines: the PFN database, the object-manager
// namespace with its built-in types, and the scheduler bound to a
// (not-yet-started) HAL machine. Mirrors the boot loader handoff point
// spec.md §1 places out of scope: everything after this point assumes
// physical memory and CPU count are already known.
func InitPhase0(cfg Config) *Kernel {
	cfg = cfg.withDefaults()

	machine := hal.NewMachine(cfg.NumCPU, cfg.TickInterval)
	sched := ke.NewSystem(machine)
	pfn := mm.NewDatabase(cfg.PhysicalPages, nil)
	obMgr := ob.NewManager()

	counters := ex.NewCounters(cfg.NumCPU, mm.PageSize, uint32(cfg.PhysicalPages))
	lazy := cc.NewLazyWriter(cfg.LazyWriterInterval)
	fs := io.NewManager(obMgr, pfn, lazy)

	return &Kernel{
		Config:     cfg,
		Machine:    machine,
		Scheduler:  sched,
		Pfn:        pfn,
		Ob:         obMgr,
		Counters:   counters,
		Workers:    nil,
		LazyWriter: lazy,
		FS:         fs,
		processes:  make(map[uint32]*Process),
	}
}

// InitPhase1 starts the goroutines InitPhase0's data structures
// require to become live: the HAL timer, the per-CPU scheduler
// dispatch loops, the worker pool, the lazy writer, and mounts the
// configured drives.
func (k *Kernel) InitPhase1() {
	k.Workers = ex.NewWorkerPool(k.Config.WorkerThreads)
	k.Machine.Start()
	k.Scheduler.Start()
	k.LazyWriter.Start()

	for letter, deviceName := range k.Config.Drives {
		k.FS.AddDrive(letter, deviceName)
	}

	k.zeroPageWorker()
	k.modifiedPageWriter()
}

// zeroPageWorker submits a recurring low-priority worker-pool item that
// migrates Free pages to Zeroed, spec.md §3.1's "background zeroing
// task".
func (k *Kernel) zeroPageWorker() {
	var run func()
	run = func() {
		k.Pfn.ZeroPage(64)
		time.AfterFunc(100*time.Millisecond, func() {
			k.Workers.Submit(0, run)
		})
	}
	k.Workers.Submit(0, run)
}

// modifiedPageWriter submits a recurring worker-pool item, every 200ms,
// that checks the PFN database's Modified count. It writes nothing and
// moves no frames: Modified frames stay on that list, and
// mm.Database.FreePage does no writeback either.
func (k *Kernel) modifiedPageWriter() {
	var run func()
	run = func() {
		for k.Pfn.CountState(mm.PfnModified) > 0 {
			// No frame is written or moved; the loop ends on its
			// first pass.
			break
		}
		time.AfterFunc(200*time.Millisecond, func() {
			k.Workers.Submit(0, run)
		})
	}
	k.Workers.Submit(0, run)
}

// Shutdown stops every goroutine InitPhase1 started. Safe to call once.
func (k *Kernel) Shutdown() {
	k.Scheduler.Stop()
	k.Machine.Stop()
	k.LazyWriter.Stop()
	k.Workers.Close()
}

// NewProcess allocates a process id to group threads under, for the
// §6.1 SuspendProcess/ResumeProcess calls and the process-list
// system-information class.
func (k *Kernel) NewProcess() *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextPid++
	p := &Process{pid: k.nextPid}
	k.processes[p.pid] = p
	return p
}

// AddThread records t as belonging to p, so SuspendProcess/ResumeProcess
// and the process-list info class can find it.
func (p *Process) AddThread(t *ke.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads = append(p.threads, t)
}

// Pid returns the process's id.
func (p *Process) Pid() uint32 { return p.pid }

// ThreadCount reports how many threads are currently tracked under p.
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

// debugPrint is the DbgPrint-style sink DebugPrint writes through,
// grounded on the teacher's own log.Printf-based diagnostics
// (fuse/api.go's Debug field) rather than a bespoke ring buffer.
func (k *Kernel) debugPrint(buf []byte) {
	log.Printf("[dbg] %s", buf)
}
