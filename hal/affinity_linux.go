//go:build linux

package hal

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentOSThread locks the calling goroutine to its current OS
// thread and restricts that thread's CPU affinity to cpuID, the same
// way the teacher reaches for golang.org/x/sys/unix for platform-level
// control (splice/pipe.go's use of unix.Splice). This lets each virtual
// CPU's scheduler loop run on a dedicated hardware thread, the closest
// a hosted simulation gets to real per-CPU dispatch.
func PinCurrentOSThread(cpuID int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	return unix.SchedSetaffinity(0, &set)
}

// UnpinCurrentOSThread releases the OS thread lock taken by
// PinCurrentOSThread.
func UnpinCurrentOSThread() {
	runtime.UnlockOSThread()
}
