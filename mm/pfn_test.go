package mm

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestDatabaseAllocatePagePrefersZeroed(t *testing.T) {
	db := NewDatabase(4, nil)
	db.ZeroPage(2)
	if got := db.CountState(PfnZeroed); got != 2 {
		t.Fatalf("CountState(Zeroed) = %d, want 2", got)
	}

	pfn, zeroed, status := db.AllocatePage(false)
	if !status.Ok() {
		t.Fatalf("AllocatePage: %v", status)
	}
	if !zeroed {
		t.Fatalf("AllocatePage should have preferred the Zeroed list")
	}
	if db.State(pfn) != PfnActive {
		t.Fatalf("allocated frame state = %v, want Active", db.State(pfn))
	}
}

func TestDatabaseAllocatePageFallsBackToFree(t *testing.T) {
	db := NewDatabase(2, nil)
	if got := db.CountState(PfnFree); got != 2 {
		t.Fatalf("CountState(Free) = %d, want 2", got)
	}

	pfn, zeroed, status := db.AllocatePage(false)
	if !status.Ok() {
		t.Fatalf("AllocatePage: %v", status)
	}
	if zeroed {
		t.Fatalf("no Zeroed frames existed, should not report zeroed")
	}
	if db.State(pfn) != PfnActive {
		t.Fatalf("state = %v, want Active", db.State(pfn))
	}
}

func TestDatabaseAllocatePageZeroRequiredExhausted(t *testing.T) {
	db := NewDatabase(1, nil)
	if _, _, status := db.AllocatePage(true); status.Ok() {
		t.Fatalf("zeroRequired allocation should fail with no Zeroed frames")
	}
}

func TestDatabaseFreePageRoutesByDirty(t *testing.T) {
	db := NewDatabase(2, nil)
	pfn, _, _ := db.AllocatePage(false)

	db.FreePage(pfn, true)
	if db.State(pfn) != PfnModified {
		t.Fatalf("dirty free should land on Modified, got %v", db.State(pfn))
	}

	pfn2, _, _ := db.AllocatePage(false)
	db.FreePage(pfn2, false)
	if db.State(pfn2) != PfnStandby {
		t.Fatalf("clean free should land on Standby, got %v", db.State(pfn2))
	}
}

func TestDatabaseReferencePromotesFromStandby(t *testing.T) {
	db := NewDatabase(1, nil)
	pfn, _, _ := db.AllocatePage(false)
	db.FreePage(pfn, false)
	if db.State(pfn) != PfnStandby {
		t.Fatalf("expected Standby before re-reference")
	}

	db.Reference(pfn)
	if db.State(pfn) != PfnActive {
		t.Fatalf("Reference should promote Standby -> Active, got %v", db.State(pfn))
	}
}

func TestDatabaseBadFramesExcluded(t *testing.T) {
	db := NewDatabase(4, []int{1, 3})
	if db.State(1) != PfnBad || db.State(3) != PfnBad {
		t.Fatalf("bad frames not marked Bad")
	}
	if got := db.CountState(PfnFree); got != 2 {
		t.Fatalf("CountState(Free) = %d, want 2 (bad frames excluded)", got)
	}
}

func TestDatabaseEachFrameOnExactlyOneList(t *testing.T) {
	db := NewDatabase(8, []int{2})
	db.ZeroPage(3)
	db.AllocatePage(false)

	total := 0
	for s := PfnFree; s < pfnStateCount; s++ {
		total += db.CountState(s)
	}
	if total != db.NumFrames() {
		t.Fatalf("sum of state lists = %d, want %d (every frame on exactly one list)", total, db.NumFrames())
	}
}

// TestDatabaseStateCountsSnapshot diffs a full state-list census against
// an expected map with pretty.Compare, the way rtl/avl_test.go diffs a
// tree's in-order traversal, instead of asserting each CountState call
// one at a time.
func TestDatabaseStateCountsSnapshot(t *testing.T) {
	db := NewDatabase(4, []int{1})
	db.ZeroPage(1)

	pfn, _, status := db.AllocatePage(true)
	if !status.Ok() {
		t.Fatalf("AllocatePage: %v", status)
	}
	db.FreePage(pfn, true)

	got := map[string]int{}
	for s := PfnFree; s < pfnStateCount; s++ {
		got[s.String()] = db.CountState(s)
	}
	want := map[string]int{
		"Free":       2,
		"Zeroed":     0,
		"Active":     0,
		"Modified":   1,
		"Standby":    0,
		"Transition": 0,
		"Bad":        1,
	}
	if diff := pretty.Compare(got, want); diff != "" {
		t.Fatalf("state-list census mismatch (-got +want):\n%s", diff)
	}
}
