// Package io is the I/O manager: IRP-based layered dispatch, device
// object stacks, file objects, and the drive-qualified filesystem
// surface consumed by the shell and tests (spec.md §4.4, §6.2).
package io

import (
	"sync"

	"github.com/nostalgiaos/kernel/rtl"
)

// MajorFunction is an IRP's top-level operation code, the same role
// IRP_MJ_xxx plays in NT. Grounded on fuse/opcode.go's opcode-indexed
// dispatch table, which is exactly the major/minor function dispatch
// model spec.md §4.4 asks for.
type MajorFunction int

const (
	IrpMjCreate MajorFunction = iota
	IrpMjClose
	IrpMjRead
	IrpMjWrite
	IrpMjQueryInformation
	IrpMjSetInformation
	IrpMjDirectoryControl
	IrpMjFlushBuffers
	IrpMjDeviceControl
)

func (f MajorFunction) String() string {
	switch f {
	case IrpMjCreate:
		return "IRP_MJ_CREATE"
	case IrpMjClose:
		return "IRP_MJ_CLOSE"
	case IrpMjRead:
		return "IRP_MJ_READ"
	case IrpMjWrite:
		return "IRP_MJ_WRITE"
	case IrpMjQueryInformation:
		return "IRP_MJ_QUERY_INFORMATION"
	case IrpMjSetInformation:
		return "IRP_MJ_SET_INFORMATION"
	case IrpMjDirectoryControl:
		return "IRP_MJ_DIRECTORY_CONTROL"
	case IrpMjFlushBuffers:
		return "IRP_MJ_FLUSH_BUFFERS"
	case IrpMjDeviceControl:
		return "IRP_MJ_DEVICE_CONTROL"
	default:
		return "IRP_MJ_UNKNOWN"
	}
}

// ReadWriteParameters is the parameter union's read/write shape
// (spec.md §3.9).
type ReadWriteParameters struct {
	Offset int64
	Buffer []byte
}

// SetInformationParameters carries the minor-code-distinguished
// set-information payloads: truncate (EndOfFile), rename, delete.
type SetInformationParameters struct {
	EndOfFile  *int64
	RenameTo   string
	DeleteFile bool
}

// QueryDirectoryParameters carries the continuation cookie a
// query_directory IRP advances one entry per call (spec.md §4.4).
type QueryDirectoryParameters struct {
	Cookie int
}

// Irp is one I/O request packet: the unit of I/O scheduling (spec.md
// §3.9). Grounded on fuse/request.go's request struct, whose
// input/output buffers, status, and completion bookkeeping map
// one-for-one onto an IRP's fields.
type Irp struct {
	File *FileObject

	Major MajorFunction

	RW        ReadWriteParameters
	SetInfo   SetInformationParameters
	QueryDir  QueryDirectoryParameters

	Status      rtl.Status
	Information uintptr // bytes transferred, or a directory-entry handle

	// contextStack holds one cell per driver level the IRP has
	// traversed, deep enough for the longest device chain encountered
	// (spec.md §3.9).
	contextStack []interface{}

	completionMu       sync.Mutex
	completionRoutines []func(*Irp)
	completed          bool
	completeCh         chan struct{}

	cancelMu      sync.Mutex
	cancelRoutine func(*Irp)
	cancelled     bool
}

// NewIrp allocates an IRP targeting file for the given major function.
func NewIrp(file *FileObject, major MajorFunction) *Irp {
	return &Irp{File: file, Major: major, completeCh: make(chan struct{})}
}

// PushContext pushes a per-driver-level context cell, called by each
// device in the stack before forwarding the IRP further down.
func (irp *Irp) PushContext(v interface{}) {
	irp.contextStack = append(irp.contextStack, v)
}

// PopContext pops the most recently pushed context cell.
func (irp *Irp) PopContext() interface{} {
	n := len(irp.contextStack)
	if n == 0 {
		return nil
	}
	v := irp.contextStack[n-1]
	irp.contextStack = irp.contextStack[:n-1]
	return v
}

// PushCompletionRoutine registers a routine to run when the IRP
// completes. Routines run in LIFO order relative to registration
// (spec.md §4.4's "completion routines run in LIFO order"), mirroring
// the order a layered device stack's completion handlers naturally
// nest in.
func (irp *Irp) PushCompletionRoutine(fn func(*Irp)) {
	irp.completionMu.Lock()
	irp.completionRoutines = append(irp.completionRoutines, fn)
	irp.completionMu.Unlock()
}

// SetCancelRoutine installs the routine a cancellation request runs.
// Pass nil once the IRP is no longer cancellable (e.g. immediately
// before synchronous completion).
func (irp *Irp) SetCancelRoutine(fn func(*Irp)) {
	irp.cancelMu.Lock()
	defer irp.cancelMu.Unlock()
	if irp.cancelled && fn != nil {
		// A cancel already arrived; run the new routine immediately
		// rather than losing the cancellation, matching NT's
		// IoSetCancelRoutine race-closing contract.
		irp.cancelMu.Unlock()
		fn(irp)
		irp.cancelMu.Lock()
		return
	}
	irp.cancelRoutine = fn
}

// Cancel requests cancellation under the cancel spinlock; the
// registered cancel routine (if any) is responsible for completing the
// IRP with StatusCancelled (spec.md §4.4).
func (irp *Irp) Cancel() {
	irp.cancelMu.Lock()
	irp.cancelled = true
	routine := irp.cancelRoutine
	irp.cancelRoutine = nil
	irp.cancelMu.Unlock()
	if routine != nil {
		routine(irp)
	}
}

// Cancelled reports whether a cancellation request has been recorded.
func (irp *Irp) Cancelled() bool {
	irp.cancelMu.Lock()
	defer irp.cancelMu.Unlock()
	return irp.cancelled
}

// Complete marks the IRP's final status and information, then runs
// every registered completion routine in LIFO order exactly once
// (spec.md §3.9, §8's testable LIFO-ordering property), finally closing
// completeCh so a synchronous caller's Wait returns.
func (irp *Irp) Complete(status rtl.Status, information uintptr) {
	irp.completionMu.Lock()
	if irp.completed {
		irp.completionMu.Unlock()
		return
	}
	irp.completed = true
	irp.Status = status
	irp.Information = information
	routines := irp.completionRoutines
	irp.completionMu.Unlock()

	for i := len(routines) - 1; i >= 0; i-- {
		routines[i](irp)
	}
	close(irp.completeCh)
}

// Wait blocks until the IRP completes, for a caller that issued it
// asynchronously and needs the final status (e.g. a synchronous
// filesystem-surface call built atop an async-capable driver).
func (irp *Irp) Wait() rtl.Status {
	<-irp.completeCh
	return irp.Status
}
