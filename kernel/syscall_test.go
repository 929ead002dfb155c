package kernel

import (
	"testing"
	"time"

	"github.com/nostalgiaos/kernel/ke"
	"github.com/nostalgiaos/kernel/rtl"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k := New(Config{NumCPU: 1, TickInterval: time.Millisecond})
	t.Cleanup(k.Shutdown)
	return k
}

func TestSyscallGetCurrentProcessAndThreadId(t *testing.T) {
	k := newTestKernel(t)
	p := k.NewProcess()

	done := make(chan struct{})
	var gotPid uint64
	var gotTid uint64
	k.Scheduler.CreateThread(8, 0, -1, func(th *ke.Thread) {
		p.AddThread(th)
		ctx := &CallContext{Process: p, Thread: th}

		pid, status := k.Syscall(SysGetCurrentProcessId, ctx)
		if !status.Ok() {
			t.Errorf("GetCurrentProcessId: %v", status)
		}
		gotPid = pid

		tid, status := k.Syscall(SysGetCurrentThreadId, ctx)
		if !status.Ok() {
			t.Errorf("GetCurrentThreadId: %v", status)
		}
		gotTid = tid
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("syscall scenario deadlocked")
	}

	if gotPid != uint64(p.Pid()) {
		t.Fatalf("GetCurrentProcessId = %d, want %d", gotPid, p.Pid())
	}
	if gotTid == 0 {
		t.Fatalf("GetCurrentThreadId returned 0")
	}
}

// TestSyscallDebugPrintThroughDispatchTable exercises SysDebugPrint via
// the numbered Syscall surface rather than calling k.DebugPrint
// directly, the path spec.md §6.1 actually names.
func TestSyscallDebugPrintThroughDispatchTable(t *testing.T) {
	k := newTestKernel(t)
	buf := []byte("hello from ring 0")
	ctx := &CallContext{Buf: buf}

	n, status := k.Syscall(SysDebugPrint, ctx, 0, uint64(len(buf)))
	if !status.Ok() {
		t.Fatalf("SysDebugPrint: %v", status)
	}
	if n != uint64(len(buf)) {
		t.Fatalf("SysDebugPrint returned %d, want %d", n, len(buf))
	}
}

func TestSyscallDebugPrintLengthMismatchRejected(t *testing.T) {
	k := newTestKernel(t)
	ctx := &CallContext{Buf: []byte("short")}

	if _, status := k.Syscall(SysDebugPrint, ctx, 0, 999); status != rtl.StatusInvalidParameter {
		t.Fatalf("expected InvalidParameter on length mismatch, got %v", status)
	}
}

func TestSyscallSuspendResumeThreadThroughDispatchTable(t *testing.T) {
	k := newTestKernel(t)
	p := k.NewProcess()

	release := make(chan struct{})
	parked := make(chan struct{})
	th := k.Scheduler.CreateThread(8, 0, -1, func(t *ke.Thread) {
		close(parked)
		<-release
	})
	p.AddThread(th)
	<-parked

	ctx := &CallContext{Process: p}
	if _, status := k.Syscall(SysSuspendThread, ctx, 0); !status.Ok() {
		t.Fatalf("SysSuspendThread: %v", status)
	}
	if !th.Suspended() {
		t.Fatalf("thread should report Suspended after SysSuspendThread")
	}
	if _, status := k.Syscall(SysResumeThread, ctx, 0); !status.Ok() {
		t.Fatalf("SysResumeThread: %v", status)
	}
	if th.Suspended() {
		t.Fatalf("thread should no longer report Suspended after SysResumeThread")
	}
	close(release)
}

func TestSyscallUnrecognizedNumber(t *testing.T) {
	k := newTestKernel(t)
	if _, status := k.Syscall(9999, &CallContext{}); status != rtl.StatusInvalidSystemCallNumber {
		t.Fatalf("expected InvalidSystemCallNumber, got %v", status)
	}
}
