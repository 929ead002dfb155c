//go:build !linux

package hal

// PinCurrentOSThread is a no-op outside Linux: there is no portable
// CPU-affinity syscall, so virtual CPUs share the Go scheduler's normal
// goroutine placement instead of being pinned to dedicated OS threads.
func PinCurrentOSThread(cpuID int) error { return nil }

// UnpinCurrentOSThread is the no-op counterpart of PinCurrentOSThread.
func UnpinCurrentOSThread() {}
