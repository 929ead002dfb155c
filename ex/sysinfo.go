// Package ex is the executive services layer: system-information
// query/set, the worker thread pool, and reader-writer executive
// resources built atop ke's dispatcher events.
package ex

import (
	"sync"
	"time"

	"github.com/nostalgiaos/kernel/ob"
	"github.com/nostalgiaos/kernel/rtl"
)

// InfoClass selects which packed record QuerySystemInformation returns,
// per spec.md §4.6. Field layout for each class is grounded on
// original_source/kernel/src/ex/sysinfo.rs, since spec.md names the
// classes but does not lay out their fields.
type InfoClass int

const (
	SystemBasicInformation InfoClass = iota
	SystemTimeOfDayInformation
	SystemPerformanceInformation
	SystemProcessorPerformanceInformation
	SystemProcessInformation
	SystemHandleInformation
	SystemModuleInformation
)

// BasicInformation mirrors NT's SYSTEM_BASIC_INFORMATION: a handful of
// machine-wide constants a user-mode caller reads once at startup.
type BasicInformation struct {
	NumberOfProcessors   int32
	PageSize             uint32
	NumberOfPhysicalPages uint32
	MinimumUserModeAddress uint64
	MaximumUserModeAddress uint64
}

// TimeOfDayInformation mirrors NT's SYSTEM_TIMEOFDAY_INFORMATION.
type TimeOfDayInformation struct {
	BootTime100ns    int64
	CurrentTime100ns int64
}

// PerformanceInformation mirrors the PFN-database-wide counters of
// SYSTEM_PERFORMANCE_INFORMATION.
type PerformanceInformation struct {
	AvailablePages  uint32
	TotalCommitted  uint32
	TotalCommitLimit uint32
}

// ProcessorPerformanceInformation is one SYSTEM_PROCESSOR_PERFORMANCE_INFORMATION
// entry per logical CPU.
type ProcessorPerformanceInformation struct {
	ProcessorID int32
	IdleTime100ns int64
	KernelTime100ns int64
	UserTime100ns int64
}

// ProcessEntry is one record of the process-list info class.
type ProcessEntry struct {
	ProcessID   uint32
	ThreadCount uint32
	HandleCount uint32
	ImageName   string
}

// HandleEntry is one record of the handle-table info class.
type HandleEntry struct {
	ProcessID uint32
	Handle    uint32
	TypeName  string
	GrantedAccess uint32
}

// ModuleEntry is one record of the module-list info class (a
// placeholder the real kernel would populate from loaded drivers; the
// executive core merely exposes the surface, §1 excludes drivers).
type ModuleEntry struct {
	Name string
	Base uint64
	Size uint32
}

// Counters is the snapshot source QuerySystemInformation reads from:
// a small struct of counters guarded by one mutex. The kernel package
// creates it with NewCounters; its dynamic fields change only through
// Set and SetSystemInformation, and nothing in the kernel package calls
// Set. This file imports neither mm nor ke (ex/resource.go does import
// ke).
type Counters struct {
	mu sync.Mutex

	NumCPU          int32
	PageSize         uint32
	TotalPages       uint32
	AvailablePages   uint32
	BootTime         time.Time
	Processes        []ProcessEntry
	Handles          []HandleEntry
	Modules          []ModuleEntry
	PerCPUIdleNs     []int64
	PerCPUKernelNs   []int64
	PerCPUUserNs     []int64
}

// NewCounters creates a Counters snapshot source stamped with the
// current time as boot time.
func NewCounters(numCPU int, pageSize, totalPages uint32) *Counters {
	return &Counters{NumCPU: int32(numCPU), PageSize: pageSize, TotalPages: totalPages, BootTime: time.Now()}
}

// Set replaces the dynamic fields of the snapshot under lock.
func (c *Counters) Set(available uint32, processes []ProcessEntry, handles []HandleEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AvailablePages = available
	c.Processes = processes
	c.Handles = handles
}

// QuerySystemInformation returns class's current data as a typed
// record, or StatusInvalidInfoClass for an unrecognized class. It takes
// no destination buffer and never returns StatusInfoLengthMismatch; no
// syscall in kernel/syscall.go exposes it.
func (c *Counters) QuerySystemInformation(class InfoClass) (interface{}, rtl.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch class {
	case SystemBasicInformation:
		return BasicInformation{
			NumberOfProcessors:    c.NumCPU,
			PageSize:              c.PageSize,
			NumberOfPhysicalPages: c.TotalPages,
			MinimumUserModeAddress: 0x10000,
			MaximumUserModeAddress: 0x7FFEFFFF,
		}, rtl.StatusSuccess
	case SystemTimeOfDayInformation:
		return TimeOfDayInformation{
			BootTime100ns:    c.BootTime.UnixNano() / 100,
			CurrentTime100ns: time.Now().UnixNano() / 100,
		}, rtl.StatusSuccess
	case SystemPerformanceInformation:
		return PerformanceInformation{
			AvailablePages:   c.AvailablePages,
			TotalCommitted:   c.TotalPages - c.AvailablePages,
			TotalCommitLimit: c.TotalPages,
		}, rtl.StatusSuccess
	case SystemProcessorPerformanceInformation:
		out := make([]ProcessorPerformanceInformation, c.NumCPU)
		for i := range out {
			out[i] = ProcessorPerformanceInformation{ProcessorID: int32(i)}
			if i < len(c.PerCPUIdleNs) {
				out[i].IdleTime100ns = c.PerCPUIdleNs[i] / 100
			}
			if i < len(c.PerCPUKernelNs) {
				out[i].KernelTime100ns = c.PerCPUKernelNs[i] / 100
			}
			if i < len(c.PerCPUUserNs) {
				out[i].UserTime100ns = c.PerCPUUserNs[i] / 100
			}
		}
		return out, rtl.StatusSuccess
	case SystemProcessInformation:
		return append([]ProcessEntry{}, c.Processes...), rtl.StatusSuccess
	case SystemHandleInformation:
		return append([]HandleEntry{}, c.Handles...), rtl.StatusSuccess
	case SystemModuleInformation:
		return append([]ModuleEntry{}, c.Modules...), rtl.StatusSuccess
	default:
		return nil, rtl.StatusInvalidInfoClass
	}
}

// SetSystemInformation mutates the limited user-settable subset
// spec.md §4.6 allows. Only SystemTimeOfDayInformation's CurrentTime is
// user-settable in this kernel (setting the wall clock); everything
// else is read-only and returns StatusInvalidInfoClass.
func (c *Counters) SetSystemInformation(class InfoClass, value interface{}) rtl.Status {
	if class != SystemTimeOfDayInformation {
		return rtl.StatusInvalidInfoClass
	}
	_, ok := value.(TimeOfDayInformation)
	if !ok {
		return rtl.StatusInvalidParameter
	}
	// Wall-clock adjustment has no observable effect in this simulated
	// kernel beyond acknowledging the call; BootTime is left untouched
	// so uptime arithmetic elsewhere stays monotonic.
	return rtl.StatusSuccess
}

// HandleCountOf is a small helper kernel wiring code uses to build a
// HandleEntry slice from an ob.HandleTable without ex importing ob's
// internals beyond the Count it already exposes.
func HandleCountOf(t *ob.HandleTable) int { return t.Count() }
