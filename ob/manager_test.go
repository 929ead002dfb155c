package ob

import (
	"sort"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"github.com/nostalgiaos/kernel/rtl"
)

var testType = &Type{
	Name:        "TestObject",
	ValidAccess: AccessGenericRead | AccessGenericWrite | AccessGenericAll,
	Mapping: GenericMapping{
		Read:  AccessGenericRead,
		Write: AccessGenericWrite,
		All:   AccessGenericRead | AccessGenericWrite | AccessGenericAll,
	},
}

func TestManagerCreateObjectInsertsIntoNamedDirectory(t *testing.T) {
	m := NewManager()
	dev := NewDirectory("Device")
	if status := m.Root.Insert("Device", dev.Header); !status.Ok() {
		t.Fatalf("insert Device dir: %v", status)
	}

	hdr, status := m.CreateObject(testType, ObjectAttributes{Name: `\Device\Foo`}, "body", nil)
	if !status.Ok() {
		t.Fatalf("CreateObject: %v", status)
	}
	if hdr.ReferenceCount() != 1 {
		t.Fatalf("new object should start with R=1, got %d", hdr.ReferenceCount())
	}

	found, status := m.ReferenceByName(ObjectAttributes{Name: `\Device\Foo`}, AccessGenericRead)
	if !status.Ok() {
		t.Fatalf("ReferenceByName: %v", status)
	}
	if found != hdr {
		t.Fatalf("ReferenceByName returned a different object")
	}
	if found.ReferenceCount() != 2 {
		t.Fatalf("ReferenceByName should add a reference, R=%d", found.ReferenceCount())
	}
}

func TestManagerReferenceByNameNotFound(t *testing.T) {
	m := NewManager()
	if _, status := m.ReferenceByName(ObjectAttributes{Name: `\NoSuchThing`}, AccessGenericRead); status != rtl.StatusObjectNameNotFound {
		t.Fatalf("expected ObjectNameNotFound, got %v", status)
	}
}

func TestHandleReferenceCountInvariant(t *testing.T) {
	m := NewManager()
	table := NewHandleTable(false)

	hdr, status := m.CreateObject(testType, ObjectAttributes{}, "body", nil)
	if !status.Ok() {
		t.Fatalf("CreateObject: %v", status)
	}

	h, status := m.InsertObject(table, hdr, AccessGenericRead, 0)
	if !status.Ok() {
		t.Fatalf("InsertObject: %v", status)
	}
	if hdr.HandleCount() > hdr.ReferenceCount() {
		t.Fatalf("H (%d) exceeds R (%d)", hdr.HandleCount(), hdr.ReferenceCount())
	}
	if hdr.HandleCount() != 1 {
		t.Fatalf("HandleCount = %d, want 1", hdr.HandleCount())
	}

	if status := m.CloseHandle(table, h); !status.Ok() {
		t.Fatalf("CloseHandle: %v", status)
	}
	if hdr.HandleCount() != 0 {
		t.Fatalf("HandleCount after close = %d, want 0", hdr.HandleCount())
	}

	// double-close is idempotent and reports InvalidHandle (spec.md §8).
	if status := m.CloseHandle(table, h); status != rtl.StatusInvalidHandle {
		t.Fatalf("second CloseHandle should be InvalidHandle, got %v", status)
	}
}

func TestDuplicateHandleThenCloseLeavesOriginalValid(t *testing.T) {
	m := NewManager()
	table := NewHandleTable(false)

	hdr, _ := m.CreateObject(testType, ObjectAttributes{}, "body", nil)
	h, status := m.InsertObject(table, hdr, AccessGenericRead, 0)
	if !status.Ok() {
		t.Fatalf("InsertObject: %v", status)
	}

	dup, status := m.DuplicateHandle(table, h, table, true, 0)
	if !status.Ok() {
		t.Fatalf("DuplicateHandle: %v", status)
	}
	if status := m.CloseHandle(table, dup); !status.Ok() {
		t.Fatalf("close duplicate: %v", status)
	}

	if _, _, status := table.Lookup(h); !status.Ok() {
		t.Fatalf("original handle should remain valid after closing the duplicate: %v", status)
	}

	// closing the (already-closed) duplicate a second time is the
	// idempotence case and must report InvalidHandle.
	if status := m.CloseHandle(table, dup); status != rtl.StatusInvalidHandle {
		t.Fatalf("duplicate(close(h)) should be InvalidHandle, got %v", status)
	}
}

func TestHandleTableWraparoundEnforced(t *testing.T) {
	table := NewHandleTable(false)
	hdr := NewHeader(testType, "probe", "body", nil)

	// Pre-seed the slot slice to the ceiling rather than looping
	// maxHandleSlots times to exhaust it for real.
	table.slots = make([]handleSlot, maxHandleSlots)
	if _, status := table.Insert(hdr, AccessGenericRead, 0); status != rtl.StatusInsufficientResources {
		t.Fatalf("expected InsufficientResources at the slot ceiling, got %v", status)
	}
}

func TestDirectoryResolvePathSymlink(t *testing.T) {
	m := NewManager()
	dev := NewDirectory("Device")
	m.Root.Insert("Device", dev.Header)

	if _, status := m.CreateObject(testType, ObjectAttributes{Name: `\Device\Real`}, "body", nil); !status.Ok() {
		t.Fatalf("create target: %v", status)
	}

	link := NewSymbolicLink("Alias", `\Device\Real`)
	m.Root.Insert("Alias", link.Header)

	resolved, status := ResolvePath(m.Root, nil, `\Alias`)
	if !status.Ok() {
		t.Fatalf("resolve through symlink: %v", status)
	}
	if resolved.Body() != "body" {
		t.Fatalf("resolved to wrong object")
	}
}

// TestDirectoryNamesSnapshot diffs a directory listing with
// pretty.Compare, the way rtl/avl_test.go diffs an AVL in-order
// traversal, instead of checking each child name one at a time.
func TestDirectoryNamesSnapshot(t *testing.T) {
	m := NewManager()
	dev := NewDirectory("Device")
	m.Root.Insert("Device", dev.Header)

	for _, name := range []string{"Foo", "Bar", "Baz"} {
		if _, status := m.CreateObject(testType, ObjectAttributes{Name: `\Device\` + name}, "body", nil); !status.Ok() {
			t.Fatalf("create %s: %v", name, status)
		}
	}

	got := dev.Names()
	sort.Strings(got)
	want := []string{"Bar", "Baz", "Foo"}
	if diff := pretty.Compare(got, want); diff != "" {
		t.Fatalf("directory listing mismatch (-got +want):\n%s", diff)
	}
}

func TestResolvePathSymlinkCycleIsBounded(t *testing.T) {
	m := NewManager()
	a := NewSymbolicLink("A", `\B`)
	b := NewSymbolicLink("B", `\A`)
	m.Root.Insert("A", a.Header)
	m.Root.Insert("B", b.Header)

	if _, status := ResolvePath(m.Root, nil, `\A`); status != rtl.StatusObjectNameNotFound {
		t.Fatalf("cyclic symlinks should fail with ObjectNameNotFound once maxSymlinkHops is exceeded, got %v", status)
	}
}
