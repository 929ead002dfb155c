package ex

import (
	"sync"

	"github.com/nostalgiaos/kernel/ke"
	"github.com/nostalgiaos/kernel/rtl"
)

// Resource is an executive reader-writer lock built on ke dispatcher
// events, matching spec.md §4.2's "longer [critical sections] use
// executive resources (reader-writer semaphores) built above dispatcher
// events". Exclusive acquisition tracks recursion so the owning thread
// can reacquire without deadlocking itself, the same recursion
// bookkeeping ke.Dispatcher's mutant gives thread ownership.
type Resource struct {
	sys *ke.System

	mu sync.Mutex

	sharedCount    int32
	exclusiveOwner *ke.Thread
	recursion      int32

	// sharedReleased is set whenever the shared count drops to zero,
	// waking any thread waiting to acquire exclusive; an exclusive
	// acquirer resets it before waiting on it.
	sharedReleased *ke.Dispatcher
	// exclusiveReleased is signaled while no thread owns the resource
	// exclusively, waking both shared and exclusive waiters.
	exclusiveReleased *ke.Dispatcher
}

// NewResource creates an unowned resource.
func NewResource(sys *ke.System) *Resource {
	return &Resource{
		sys:               sys,
		sharedReleased:    sys.NewEvent(true, false),
		exclusiveReleased: sys.NewEvent(true, true),
	}
}

// AcquireShared blocks t while another thread owns the resource
// exclusively, then registers t as a shared owner. A thread waiting for
// exclusive access does not hold back new shared owners.
func (r *Resource) AcquireShared(t *ke.Thread) rtl.Status {
	for {
		if status := r.sys.WaitForSingleObject(t, r.exclusiveReleased, nil); !status.Ok() {
			return status
		}
		r.mu.Lock()
		if r.exclusiveOwner == nil {
			r.sharedCount++
			r.mu.Unlock()
			return rtl.StatusSuccess
		}
		r.mu.Unlock()
	}
}

// ReleaseShared drops one shared hold. Once the last one drops, it
// sets sharedReleased (and exclusiveReleased) so a waiting writer can
// proceed.
func (r *Resource) ReleaseShared() {
	r.mu.Lock()
	r.sharedCount--
	empty := r.sharedCount == 0
	r.mu.Unlock()
	if empty {
		r.sharedReleased.SetEvent()
		r.exclusiveReleased.SetEvent()
	}
}

// AcquireExclusive blocks t until the resource has no shared or
// exclusive owner, then grants it exclusively to t. A thread that
// already owns the resource exclusively may reacquire it, incrementing
// a recursion counter ReleaseExclusive unwinds one level at a time.
func (r *Resource) AcquireExclusive(t *ke.Thread) rtl.Status {
	r.mu.Lock()
	if r.exclusiveOwner == t {
		r.recursion++
		r.mu.Unlock()
		return rtl.StatusSuccess
	}
	r.mu.Unlock()

	for {
		if status := r.sys.WaitForSingleObject(t, r.exclusiveReleased, nil); !status.Ok() {
			return status
		}
		r.mu.Lock()
		if r.exclusiveOwner == nil && r.sharedCount == 0 {
			r.exclusiveOwner = t
			r.recursion = 1
			r.exclusiveReleased.ResetEvent()
			r.mu.Unlock()
			return rtl.StatusSuccess
		}
		shared := r.sharedCount > 0
		if shared {
			r.sharedReleased.ResetEvent()
		}
		r.mu.Unlock()

		if shared {
			r.sys.WaitForSingleObject(t, r.sharedReleased, nil)
		}
	}
}

// ReleaseExclusive unwinds one level of recursive exclusive ownership,
// handing the resource back once the last level is released. It is a
// no-op (beyond the invariant check) if t does not currently own the
// resource exclusively.
func (r *Resource) ReleaseExclusive(t *ke.Thread) rtl.Status {
	r.mu.Lock()
	if r.exclusiveOwner != t {
		r.mu.Unlock()
		return rtl.StatusInvalidParameter
	}
	r.recursion--
	if r.recursion > 0 {
		r.mu.Unlock()
		return rtl.StatusSuccess
	}
	r.exclusiveOwner = nil
	r.mu.Unlock()
	r.exclusiveReleased.SetEvent()
	return rtl.StatusSuccess
}
