// Package mm is the memory manager: the physical page frame database,
// VAD-indexed virtual address spaces, the page fault handler, section
// objects, and the paged/non-paged pool allocators built on top of them.
package mm

import (
	"sync"

	"github.com/nostalgiaos/kernel/rtl"
)

// PfnState is one of the states a physical page frame can be in
// (spec.md §3.1). A frame appears on exactly one state list at all
// times.
type PfnState int

const (
	PfnFree PfnState = iota
	PfnZeroed
	PfnActive
	PfnModified
	PfnStandby
	PfnTransition
	PfnBad
	pfnStateCount
)

func (s PfnState) String() string {
	switch s {
	case PfnFree:
		return "Free"
	case PfnZeroed:
		return "Zeroed"
	case PfnActive:
		return "Active"
	case PfnModified:
		return "Modified"
	case PfnStandby:
		return "Standby"
	case PfnTransition:
		return "Transition"
	case PfnBad:
		return "Bad"
	default:
		return "Unknown"
	}
}

// BackingLocator names where a frame's content comes from when it is
// not resident: a section object and the byte offset within it. Left
// as an opaque owner pointer + offset pair so mm doesn't need to import
// whatever package eventually defines file-backed sections; the IO/CC
// layer casts Owner back to its own section type.
type BackingLocator struct {
	Owner  interface{}
	Offset uint64
}

// pfnEntry is one physical page frame's record. Grounded on
// fuse/bufferpool.go's per-page-count free lists, generalized from
// size-classed byte buffers to a single fixed-size frame carrying
// explicit state instead of being implicitly "in a bucket or not".
type pfnEntry struct {
	entry       rtl.ListEntry
	state       PfnState
	refCount    int32
	workingSet  uint64
	backing     BackingLocator
}

// Database is the PFN database: one entry per physical page, indexed by
// frame number, plus one intrusive list per state for O(1) allocation
// and O(1) state transitions.
type Database struct {
	mu      sync.Mutex
	frames  []pfnEntry
	lists   [pfnStateCount]rtl.ListEntry
}

// NewDatabase builds a PFN database covering numFrames physical pages,
// all initially Free. badFrames marks frames the firmware memory map
// reported as unusable.
func NewDatabase(numFrames int, badFrames []int) *Database {
	db := &Database{frames: make([]pfnEntry, numFrames)}
	for i := range db.lists {
		rtl.InitializeListHead(&db.lists[i])
	}
	for i := range db.frames {
		db.frames[i].entry.SetOwner(i)
		db.linkLocked(i, PfnFree)
	}
	for _, f := range badFrames {
		if f >= 0 && f < numFrames {
			db.unlinkLocked(f)
			db.linkLocked(f, PfnBad)
		}
	}
	return db
}

// NumFrames returns the total number of physical page frames tracked.
func (db *Database) NumFrames() int { return len(db.frames) }

func (db *Database) linkLocked(pfn int, s PfnState) {
	e := &db.frames[pfn]
	e.state = s
	rtl.InsertTailList(&db.lists[s], &e.entry)
}

func (db *Database) unlinkLocked(pfn int) {
	rtl.RemoveEntryList(&db.frames[pfn].entry)
}

func (db *Database) moveLocked(pfn int, to PfnState) {
	db.unlinkLocked(pfn)
	db.linkLocked(pfn, to)
}

// State reports a frame's current state.
func (db *Database) State(pfn int) PfnState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.frames[pfn].state
}

// AllocatePage removes one frame from the Zeroed list (if zeroRequired
// or one is available) or the Free list, marks it Active, and returns
// its frame number. Returns StatusNoMemory if neither list has an
// entry and zeroRequired forbids falling back, or if both are empty.
func (db *Database) AllocatePage(zeroRequired bool) (pfn int, zeroed bool, status rtl.Status) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if head := &db.lists[PfnZeroed]; !rtl.IsListEmpty(head) {
		pfn = head.Next(head).Owner().(int)
		db.moveLocked(pfn, PfnActive)
		return pfn, true, rtl.StatusSuccess
	}
	if !zeroRequired {
		if head := &db.lists[PfnFree]; !rtl.IsListEmpty(head) {
			pfn = head.Next(head).Owner().(int)
			db.moveLocked(pfn, PfnActive)
			return pfn, false, rtl.StatusSuccess
		}
	}
	return -1, false, rtl.StatusNoMemory
}

// FreePage returns pfn to the Modified list if dirty (it will be
// written back by the modified page writer) or Standby otherwise.
func (db *Database) FreePage(pfn int, dirty bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if dirty {
		db.moveLocked(pfn, PfnModified)
	} else {
		db.moveLocked(pfn, PfnStandby)
	}
	db.frames[pfn].refCount = 0
	db.frames[pfn].backing = BackingLocator{}
}

// Reference increments pfn's mapping count, promoting it out of
// Standby/Modified into Active on first reference (the Transition
// state: a frame being faulted back in while still holding old
// content).
func (db *Database) Reference(pfn int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e := &db.frames[pfn]
	if e.refCount == 0 && (e.state == PfnStandby || e.state == PfnModified) {
		db.moveLocked(pfn, PfnActive)
	}
	e.refCount++
}

// Dereference drops one mapping reference; pfn stays Active (and
// resident) until a later FreePage call, matching NT's deferred
// reclaim of Standby-list pages.
func (db *Database) Dereference(pfn int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.frames[pfn].refCount > 0 {
		db.frames[pfn].refCount--
	}
}

// SetBacking records where pfn's content is backed, for writeback and
// re-fault.
func (db *Database) SetBacking(pfn int, loc BackingLocator) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.frames[pfn].backing = loc
}

func (db *Database) Backing(pfn int) BackingLocator {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.frames[pfn].backing
}

// ZeroPage runs the background zeroing task's one-step body: migrate
// up to n frames from Free to Zeroed. In this simulated kernel "zeroing"
// has no separate memset cost to model; the state transition is the
// observable effect production code would rely on.
func (db *Database) ZeroPage(n int) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	moved := 0
	head := &db.lists[PfnFree]
	for moved < n {
		e := head.Next(head)
		if e == nil {
			break
		}
		pfn := e.Owner().(int)
		db.moveLocked(pfn, PfnZeroed)
		moved++
	}
	return moved
}

// CountState returns how many frames currently sit on state's list. For
// tests and diagnostics; O(n).
func (db *Database) CountState(s PfnState) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return rtl.Len(&db.lists[s])
}
