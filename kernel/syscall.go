package kernel

import (
	"github.com/nostalgiaos/kernel/ke"
	"github.com/nostalgiaos/kernel/rtl"
)

// Syscall numbers for the §6.1 numbered syscall surface. Grounded on
// fuse/opcode.go's _OP_* numbered dispatch table, generalized from a
// FUSE wire opcode to a plain Go switch on the syscall number.
const (
	SysGetCurrentProcessId = 1
	SysGetCurrentThreadId  = 2
	SysDebugPrint          = 3
	SysSuspendThread       = 4
	SysResumeThread        = 5
	SysSuspendProcess      = 6
	SysResumeProcess       = 7
)

// CallContext is the per-call identity a syscall dispatch runs under:
// which thread and process issued the call. A real kernel derives this
// from the current CPU's KPCR; this simulated one has callers pass it
// explicitly since there is no trap frame to read it from.
type CallContext struct {
	Process *Process
	Thread  *ke.Thread

	// Buf stands in for the (ptr, len) pair a trap frame would carry
	// for DebugPrint: this kernel has no user/kernel address space to
	// resolve args[0] against, so the caller resolves the buffer itself
	// and hands it across here, the same way Process/Thread substitute
	// for a trap frame's identity fields.
	Buf []byte
}

// Syscall dispatches system call number with the given arguments under
// ctx's identity. Unrecognized numbers return StatusInvalidSystemCallNumber
// per spec.md §6.1.
func (k *Kernel) Syscall(number uint32, ctx *CallContext, args ...uint64) (uint64, rtl.Status) {
	switch number {
	case SysGetCurrentProcessId:
		if ctx.Process == nil {
			return 0, rtl.StatusInvalidParameter
		}
		return uint64(ctx.Process.Pid()), rtl.StatusSuccess

	case SysGetCurrentThreadId:
		if ctx.Thread == nil {
			return 0, rtl.StatusInvalidParameter
		}
		return ctx.Thread.Tid, rtl.StatusSuccess

	case SysDebugPrint:
		return k.sysDebugPrint(ctx, args)

	case SysSuspendThread:
		return k.sysSuspendThread(ctx, args)
	case SysResumeThread:
		return k.sysResumeThread(ctx, args)
	case SysSuspendProcess:
		return k.sysSuspendProcess(ctx, args)
	case SysResumeProcess:
		return k.sysResumeProcess(ctx, args)

	default:
		return 0, rtl.StatusInvalidSystemCallNumber
	}
}

// DebugPrint is the §6.1 DebugPrint(ptr, len) call: it probes buf (the
// simulated user-mode buffer a real syscall would validate is entirely
// mapped and readable before touching it) and writes it to the kernel's
// debug output. Modeled as a direct Go slice rather than threading a
// raw pointer+length pair through Syscall's uint64 ABI, since this
// kernel has no user/kernel address space split to probe across
// (spec.md's Non-goals exclude real virtual-to-physical translation
// for user mode).
func (k *Kernel) DebugPrint(buf []byte) rtl.Status {
	if buf == nil {
		return rtl.StatusInvalidParameter
	}
	k.debugPrint(buf)
	return rtl.StatusSuccess
}

// sysDebugPrint resolves the §6.1 DebugPrint(ptr, len) pair against
// ctx.Buf in lieu of a real user-mode pointer (see CallContext.Buf) and
// probes that args[1] agrees with the buffer it was actually handed
// before writing it out.
func (k *Kernel) sysDebugPrint(ctx *CallContext, args []uint64) (uint64, rtl.Status) {
	if len(args) < 2 {
		return 0, rtl.StatusInvalidParameter
	}
	if ctx.Buf == nil || uint64(len(ctx.Buf)) != args[1] {
		return 0, rtl.StatusInvalidParameter
	}
	if status := k.DebugPrint(ctx.Buf); !status.Ok() {
		return 0, status
	}
	return args[1], rtl.StatusSuccess
}

func (k *Kernel) sysSuspendThread(ctx *CallContext, args []uint64) (uint64, rtl.Status) {
	t, status := k.threadFromHandleArg(ctx, args)
	if !status.Ok() {
		return 0, status
	}
	return uint64(t.Suspend() - 1), rtl.StatusSuccess // previous count, NT convention
}

func (k *Kernel) sysResumeThread(ctx *CallContext, args []uint64) (uint64, rtl.Status) {
	t, status := k.threadFromHandleArg(ctx, args)
	if !status.Ok() {
		return 0, status
	}
	return uint64(t.Resume()), rtl.StatusSuccess
}

func (k *Kernel) sysSuspendProcess(ctx *CallContext, args []uint64) (uint64, rtl.Status) {
	p, status := k.processFromHandleArg(ctx, args)
	if !status.Ok() {
		return 0, status
	}
	p.mu.Lock()
	threads := append([]*ke.Thread{}, p.threads...)
	p.mu.Unlock()
	for _, t := range threads {
		t.Suspend()
	}
	return 0, rtl.StatusSuccess
}

func (k *Kernel) sysResumeProcess(ctx *CallContext, args []uint64) (uint64, rtl.Status) {
	p, status := k.processFromHandleArg(ctx, args)
	if !status.Ok() {
		return 0, status
	}
	p.mu.Lock()
	threads := append([]*ke.Thread{}, p.threads...)
	p.mu.Unlock()
	for _, t := range threads {
		t.Resume()
	}
	return 0, rtl.StatusSuccess
}

// threadFromHandleArg resolves args[0] as a process-local index into
// ctx's thread list. A full build would resolve a real object handle
// through ob.Manager.ReferenceByHandle against a thread object type;
// this kernel has not registered thread/process kernel objects in the
// namespace (spec.md §1 scopes user/kernel address space translation
// out), so SuspendThread/ResumeThread instead take the target thread's
// position within ctx.Process.threads, the smallest identity scheme
// that still exercises the real ke.Thread.Suspend/Resume machinery.
func (k *Kernel) threadFromHandleArg(ctx *CallContext, args []uint64) (*ke.Thread, rtl.Status) {
	if ctx.Process == nil || len(args) < 1 {
		return nil, rtl.StatusInvalidParameter
	}
	ctx.Process.mu.Lock()
	defer ctx.Process.mu.Unlock()
	idx := int(args[0])
	if idx < 0 || idx >= len(ctx.Process.threads) {
		return nil, rtl.StatusInvalidHandle
	}
	return ctx.Process.threads[idx], rtl.StatusSuccess
}

func (k *Kernel) processFromHandleArg(ctx *CallContext, args []uint64) (*Process, rtl.Status) {
	if len(args) < 1 {
		return nil, rtl.StatusInvalidParameter
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.processes[uint32(args[0])]
	if !ok {
		return nil, rtl.StatusInvalidHandle
	}
	return p, rtl.StatusSuccess
}
