package mm

import (
	"github.com/nostalgiaos/kernel/rtl"
)

// FaultAccess is the kind of access that triggered a page fault.
type FaultAccess int

const (
	FaultRead FaultAccess = iota
	FaultWrite
	FaultExecute
)

// Process owns one address space plus the PFN database it allocates
// frames from; the fault handler is a method on Process because
// resolving a fault always needs both.
type Process struct {
	Space *AddressSpace
	db    *Database
}

// NewProcess creates a process address space drawing physical frames
// from db.
func NewProcess(db *Database, limit uint64) *Process {
	return &Process{Space: NewAddressSpace(limit), db: db}
}

// HandlePageFault resolves a fault at addr, dispatching on the VAD
// covering it and the access type, per spec.md §4.3:
//   - no VAD covers addr: access violation.
//   - VAD reserved but not committed: access violation.
//   - protection forbids the access: access violation.
//   - anonymous (no section): demand-zero, a freshly zeroed frame.
//   - file-backed, read or already-private: fetch or reuse the
//     section's cached page.
//   - first write to a file-backed, writable VAD: duplicate the
//     shared frame into a private one, remap writable, drop the
//     shared reference (copy-on-write).
func (p *Process) HandlePageFault(addr uint64, access FaultAccess) rtl.Status {
	vad := p.Space.Find(addr)
	if vad == nil {
		return rtl.StatusAccessDenied
	}
	if !vad.Committed {
		return rtl.StatusAccessDenied
	}
	if !protectionAllows(vad.Protection, access) {
		return rtl.StatusAccessDenied
	}

	pageAddr := addr - addr%PageSize

	if vad.section == nil {
		if pfn := vad.ResolvedFrame(pageAddr); pfn >= 0 {
			return rtl.StatusSuccess
		}
		return p.demandZero(vad, pageAddr)
	}

	sectionOffset := vad.sectionOffset + (pageAddr - vad.Start)

	if access == FaultWrite && vad.Protection&ProtectReadWrite != 0 && !vad.isPrivate(pageAddr) {
		return p.copyOnWrite(vad, pageAddr, sectionOffset)
	}

	return p.fileBacked(vad, pageAddr, sectionOffset)
}

func protectionAllows(prot Protection, access FaultAccess) bool {
	if prot == ProtectNoAccess {
		return false
	}
	if prot&ProtectGuard != 0 {
		return false
	}
	switch access {
	case FaultWrite:
		return prot&ProtectReadWrite != 0
	case FaultExecute:
		return prot&ProtectExecute != 0
	default:
		return prot&(ProtectReadOnly|ProtectReadWrite) != 0
	}
}

func (p *Process) demandZero(vad *Vad, pageAddr uint64) rtl.Status {
	pfn, _, status := p.db.AllocatePage(true)
	if !status.Ok() && p.db.ZeroPage(1) == 1 {
		pfn, _, status = p.db.AllocatePage(true)
	}
	if !status.Ok() {
		return status
	}
	p.db.Reference(pfn)
	vad.mapPage(pageAddr, pfn)
	return rtl.StatusSuccess
}

// fileBacked resolves a read fault (or a write fault onto an already
// privatized page) against the section's page cache.
func (p *Process) fileBacked(vad *Vad, pageAddr, sectionOffset uint64) rtl.Status {
	if pfn := vad.ResolvedFrame(pageAddr); pfn >= 0 {
		return rtl.StatusSuccess
	}
	if pfn := vad.section.pagedOffset(sectionOffset); pfn >= 0 {
		p.db.Reference(pfn)
		vad.mapPage(pageAddr, pfn)
		return rtl.StatusSuccess
	}

	pfn, _, status := p.db.AllocatePage(false)
	if !status.Ok() {
		return status
	}
	buf := make([]byte, PageSize)
	if status := vad.section.readIn(sectionOffset, buf); !status.Ok() {
		p.db.FreePage(pfn, false)
		return status
	}
	p.db.SetBacking(pfn, BackingLocator{Owner: vad.section, Offset: sectionOffset})
	p.db.Reference(pfn)
	vad.section.setPagedOffset(sectionOffset, pfn)
	vad.mapPage(pageAddr, pfn)
	return rtl.StatusSuccess
}

// copyOnWrite brings pageAddr's content in if needed, then duplicates
// it into a private frame so the write applies without disturbing
// other mappers of the section, matching spec.md §4.3's COW fault:
// "duplicate the frame, remap writable, decrement shared count".
func (p *Process) copyOnWrite(vad *Vad, pageAddr, sectionOffset uint64) rtl.Status {
	if status := p.fileBacked(vad, pageAddr, sectionOffset); !status.Ok() {
		return status
	}
	shared := vad.ResolvedFrame(pageAddr)

	pfn, _, status := p.db.AllocatePage(false)
	if !status.Ok() {
		return status
	}
	buf := make([]byte, PageSize)
	if status := vad.section.readIn(sectionOffset, buf); !status.Ok() {
		p.db.FreePage(pfn, false)
		return status
	}
	p.db.Reference(pfn)
	p.db.Dereference(shared)

	vad.markPrivate(pageAddr)
	vad.mapPage(pageAddr, pfn)
	return rtl.StatusSuccess
}

// mapPage records the private frame mapping for pageAddr within vad.
func (v *Vad) mapPage(pageAddr uint64, pfn int) {
	if v.pageTable == nil {
		v.pageTable = make(map[uint64]int)
	}
	v.pageTable[pageAddr] = pfn
}

func (v *Vad) markPrivate(pageAddr uint64) {
	if v.private == nil {
		v.private = make(map[uint64]bool)
	}
	v.private[pageAddr] = true
}

func (v *Vad) isPrivate(pageAddr uint64) bool {
	return v.private != nil && v.private[pageAddr]
}

// ResolvedFrame returns the frame mapped for pageAddr within vad, or -1
// if no fault has populated it yet. Exported for tests that need to
// assert a fault produced the expected physical frame.
func (v *Vad) ResolvedFrame(pageAddr uint64) int {
	if v.pageTable == nil {
		return -1
	}
	if pfn, ok := v.pageTable[pageAddr]; ok {
		return pfn
	}
	return -1
}
