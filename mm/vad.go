package mm

import (
	"sync"

	"github.com/nostalgiaos/kernel/rtl"
)

// Protection is a page protection mask (spec.md §3.2).
type Protection uint32

const (
	ProtectNoAccess Protection = 0
	ProtectReadOnly Protection = 1 << iota
	ProtectReadWrite
	ProtectExecute
	ProtectGuard
)

// PageSize is the unit every VAD boundary and commit range must align
// to (spec.md §3.2 invariant: intervals are page-aligned).
const PageSize = 4096

// Vad is a virtual address descriptor: a half-open [Start, End) range
// with uniform protection and commit state (spec.md §3.2).
type Vad struct {
	Start, End uint64
	Protection Protection
	Committed  bool
	ReserveOnly bool

	section       *Section
	sectionOffset uint64
	pageTable     map[uint64]int
	private       map[uint64]bool
}

func vadCompare(a, b interface{}) int {
	va, vb := a.(*Vad), b.(*Vad)
	switch {
	case va.Start < vb.Start:
		return -1
	case va.Start > vb.Start:
		return 1
	default:
		return 0
	}
}

// AddressSpace is one process's virtual address space: an AVL tree of
// non-overlapping VADs (spec.md §3.2), built directly on rtl.AVLTree the
// way MM's real VAD tree is an AVL tree keyed by starting address.
type AddressSpace struct {
	mu    sync.Mutex
	tree  *rtl.AVLTree
	limit uint64
}

// NewAddressSpace creates an empty address space spanning [0, limit).
func NewAddressSpace(limit uint64) *AddressSpace {
	return &AddressSpace{tree: rtl.NewAVLTree(vadCompare), limit: limit}
}

// Reserve finds a hole of size bytes and inserts a reserved, uncommitted
// VAD there. topDown reverses the search direction (spec.md §4.3).
func (as *AddressSpace) Reserve(size uint64, topDown bool) (*Vad, rtl.Status) {
	if size == 0 || size%PageSize != 0 {
		return nil, rtl.StatusInvalidParameter
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	start, ok := as.findHoleLocked(size, topDown)
	if !ok {
		return nil, rtl.StatusInsufficientResources
	}
	v := &Vad{Start: start, End: start + size, ReserveOnly: true}
	as.tree.Insert(v)
	return v, rtl.StatusSuccess
}

// findHoleLocked scans in-order for the first gap of at least size
// bytes (spec.md §4.3's "lowest-address hole that fits" policy, or its
// top-down mirror).
func (as *AddressSpace) findHoleLocked(size uint64, topDown bool) (uint64, bool) {
	var gaps []struct{ start, end uint64 }
	prevEnd := uint64(0)
	as.tree.InOrder(func(v interface{}) {
		vad := v.(*Vad)
		if vad.Start > prevEnd {
			gaps = append(gaps, struct{ start, end uint64 }{prevEnd, vad.Start})
		}
		if vad.End > prevEnd {
			prevEnd = vad.End
		}
	})
	if as.limit > prevEnd {
		gaps = append(gaps, struct{ start, end uint64 }{prevEnd, as.limit})
	}

	pick := func(g struct{ start, end uint64 }) (uint64, bool) {
		if g.end-g.start < size {
			return 0, false
		}
		if topDown {
			return g.end - size, true
		}
		return g.start, true
	}

	if topDown {
		for i := len(gaps) - 1; i >= 0; i-- {
			if s, ok := pick(gaps[i]); ok {
				return s, true
			}
		}
	} else {
		for _, g := range gaps {
			if s, ok := pick(g); ok {
				return s, true
			}
		}
	}
	return 0, false
}

// Commit marks [start,end) within vad as committed with the given
// protection, splitting vad into up to three nodes so the invariant
// that intervals never overlap and stay page-aligned is preserved
// (spec.md §4.3). vad itself becomes the committed [start,end) node; the
// parts before start and after end, if any, become new nodes that keep
// vad's previous settings.
func (as *AddressSpace) Commit(vad *Vad, start, end uint64, protection Protection) rtl.Status {
	if start%PageSize != 0 || end%PageSize != 0 || start >= end {
		return rtl.StatusInvalidParameter
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if start < vad.Start || end > vad.End {
		return rtl.StatusInvalidParameter
	}

	as.tree.Delete(vad)

	if start > vad.Start {
		as.tree.Insert(&Vad{Start: vad.Start, End: start, Protection: vad.Protection, Committed: vad.Committed, ReserveOnly: vad.ReserveOnly})
	}
	if end < vad.End {
		as.tree.Insert(&Vad{Start: end, End: vad.End, Protection: vad.Protection, Committed: vad.Committed, ReserveOnly: vad.ReserveOnly})
	}
	vad.Start, vad.End = start, end
	vad.Protection = protection
	vad.Committed = true
	vad.ReserveOnly = false
	as.tree.Insert(vad)
	return rtl.StatusSuccess
}

// Decommit marks a committed VAD reserved-only again, leaving the
// address range reserved but unmapped.
func (as *AddressSpace) Decommit(vad *Vad) rtl.Status {
	as.mu.Lock()
	defer as.mu.Unlock()
	vad.Committed = false
	vad.ReserveOnly = true
	as.coalesceLocked(vad)
	return rtl.StatusSuccess
}

// Release removes vad entirely, freeing the address range for reuse.
func (as *AddressSpace) Release(vad *Vad) rtl.Status {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.tree.Delete(vad)
	return rtl.StatusSuccess
}

// Protect changes vad's protection mask in place.
func (as *AddressSpace) Protect(vad *Vad, protection Protection) rtl.Status {
	as.mu.Lock()
	defer as.mu.Unlock()
	vad.Protection = protection
	as.coalesceLocked(vad)
	return rtl.StatusSuccess
}

// coalesceLocked merges vad with an adjacent VAD of identical
// protection/commit state (spec.md §4.3's "merging on release
// coalesces same-protection adjacent VADs", generalized here to any
// operation that might create an adjacency).
func (as *AddressSpace) coalesceLocked(vad *Vad) {
	node := as.tree.Find(vad)
	if node == nil {
		return
	}
	if next := as.tree.FindPredecessorOrEqual(&Vad{Start: vad.End}); next != nil {
		if nv, ok := next.Value.(*Vad); ok && nv != vad && nv.Start == vad.End && sameShape(nv, vad) {
			as.tree.Delete(nv)
			vad.End = nv.End
		}
	}
}

func sameShape(a, b *Vad) bool {
	return a.Protection == b.Protection && a.Committed == b.Committed && a.ReserveOnly == b.ReserveOnly
}

// Find returns the VAD covering addr, or nil.
func (as *AddressSpace) Find(addr uint64) *Vad {
	as.mu.Lock()
	defer as.mu.Unlock()
	n := as.tree.FindPredecessorOrEqual(&Vad{Start: addr})
	if n == nil {
		return nil
	}
	v := n.Value.(*Vad)
	if addr >= v.Start && addr < v.End {
		return v
	}
	return nil
}

// CheckInvariants verifies the AVL balance and non-overlapping-ascending
// properties spec.md §3.2 and §8 require; intended for tests.
func (as *AddressSpace) CheckInvariants() bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	if !as.tree.CheckInvariants() {
		return false
	}
	var prevEnd uint64
	ok := true
	first := true
	as.tree.InOrder(func(v interface{}) {
		vad := v.(*Vad)
		if !first && vad.Start < prevEnd {
			ok = false
		}
		first = false
		prevEnd = vad.End
	})
	return ok
}
