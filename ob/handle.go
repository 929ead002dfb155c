package ob

import (
	"sync"

	"github.com/nostalgiaos/kernel/rtl"
)

// handleReservedBits is the number of low bits spec.md §3.6/§9 reserves
// for access flags, limiting a handle table to 2^(32-handleReservedBits)
// usable slots; the open question in spec.md §9 is resolved here as
// "enforce": HandleTable.Insert returns StatusInsufficientResources
// once the table would have to grow past that limit.
const handleReservedBits = 3

// maxHandleSlots is 2^29, the usable-slot ceiling spec.md §9 settles on.
const maxHandleSlots = 1 << (32 - handleReservedBits)

// handleSlot is one entry of a HandleTable: the object it targets, the
// access mask granted when it was opened, and caller-supplied
// attributes (e.g. inherit-on-fork), per spec.md §3.6.
type handleSlot struct {
	object  *Header
	granted AccessMask
	attrs   uint32
	occupied bool
}

// HandleTable is a per-process (or, for kernel handles, system-wide)
// table mapping small integers to (object, granted access, attributes)
// triples. Directly adapted from fuse/handle.go's portableHandleMap:
// free-list-backed slot reuse in the lowest free index, generalized
// from a single kernel-handle encoding to the R/H object-header
// reference model ob.Header provides.
type HandleTable struct {
	mu        sync.Mutex
	slots     []handleSlot
	freeList  []int
	kernel    bool // kernel handles carry the high bit set, per spec.md §4.1
}

// NewHandleTable creates an empty handle table. kernel selects whether
// this table hands out kernel handles (high bit set, system-wide table)
// or ordinary per-process handles.
func NewHandleTable(kernel bool) *HandleTable {
	return &HandleTable{kernel: kernel}
}

// encode/decode map between a table-local slot index and the Handle
// value callers see: kernel handles get their top bit set so a caller
// can distinguish the two without consulting the table, the same way
// NT's (HANDLE)0x80000004 convention works.
const kernelHandleBit = 1 << 31

func (t *HandleTable) encode(slot int) Handle {
	h := Handle(slot << handleReservedBits)
	if t.kernel {
		h |= kernelHandleBit
	}
	return h
}

func (t *HandleTable) decode(h Handle) (slot int, ok bool) {
	v := uint32(h)
	if t.kernel != (v&kernelHandleBit != 0) {
		return 0, false
	}
	v &^= kernelHandleBit
	slot = int(v >> handleReservedBits)
	return slot, true
}

// Handle is a small integer naming an object within a process (or, for
// a kernel handle, system-wide), spec.md's GLOSSARY "Handle" entry.
type Handle uint32

// InvalidHandle is never a valid table entry.
const InvalidHandle Handle = 0xFFFFFFFF

// Insert allocates the lowest free slot for obj, granting access, and
// raises obj's reference and handle counts together (spec.md §3.3's
// "opening a handle increments both"). Returns StatusInsufficientResources
// once the table has exhausted maxHandleSlots.
func (t *HandleTable) Insert(obj *Header, granted AccessMask, attrs uint32) (Handle, rtl.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var slot int
	if len(t.freeList) > 0 {
		lowest := 0
		for i, s := range t.freeList {
			if s < t.freeList[lowest] {
				lowest = i
			}
		}
		slot = t.freeList[lowest]
		t.freeList = append(t.freeList[:lowest], t.freeList[lowest+1:]...)
	} else {
		if len(t.slots) >= maxHandleSlots {
			return InvalidHandle, rtl.StatusInsufficientResources
		}
		slot = len(t.slots)
		t.slots = append(t.slots, handleSlot{})
	}

	t.slots[slot] = handleSlot{object: obj, granted: granted, attrs: attrs, occupied: true}
	obj.referenceForHandle()
	return t.encode(slot), rtl.StatusSuccess
}

// Lookup returns the object a handle targets along with its granted
// access, failing with StatusInvalidHandle if the handle is unoccupied
// or from the wrong table (spec.md §3.6 invariant).
func (t *HandleTable) Lookup(h Handle) (*Header, AccessMask, rtl.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.decode(h)
	if !ok || slot < 0 || slot >= len(t.slots) || !t.slots[slot].occupied {
		return nil, 0, rtl.StatusInvalidHandle
	}
	s := t.slots[slot]
	return s.object, s.granted, rtl.StatusSuccess
}

// Close clears h's slot, releasing it for reuse, and drops the
// reference/handle count pair Insert raised. Returns StatusInvalidHandle
// on a handle that is not currently occupied — including a
// double-close, satisfying spec.md §8's idempotence property
// close(close(h)) == InvalidHandle.
func (t *HandleTable) Close(h Handle) rtl.Status {
	t.mu.Lock()
	slot, ok := t.decode(h)
	if !ok || slot < 0 || slot >= len(t.slots) || !t.slots[slot].occupied {
		t.mu.Unlock()
		return rtl.StatusInvalidHandle
	}
	obj := t.slots[slot].object
	t.slots[slot] = handleSlot{}
	t.freeList = append(t.freeList, slot)
	t.mu.Unlock()

	obj.dereferenceForHandle()
	return rtl.StatusSuccess
}

// Duplicate creates a second handle in target (which may be t itself)
// referencing the same object as h. sameAccess requests
// DUPLICATE_SAME_ACCESS (spec.md §4.1); otherwise narrowMask further
// restricts the granted access, which must be a subset of h's own.
func (t *HandleTable) Duplicate(h Handle, target *HandleTable, sameAccess bool, narrowMask AccessMask) (Handle, rtl.Status) {
	obj, granted, status := t.Lookup(h)
	if !status.Ok() {
		return InvalidHandle, status
	}
	newGranted := granted
	if !sameAccess {
		if narrowMask&^granted != 0 {
			return InvalidHandle, rtl.StatusAccessDenied
		}
		newGranted = narrowMask
	}
	return target.Insert(obj, newGranted, 0)
}

// Count reports the number of occupied slots, for
// ex.QuerySystemInformation's handle-table dump.
func (t *HandleTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		if s.occupied {
			n++
		}
	}
	return n
}
