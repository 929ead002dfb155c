package mm

import (
	"sync"

	"github.com/nostalgiaos/kernel/rtl"
)

// FileBackend is the minimal surface mm needs from whatever object
// backs a file-mapped section: read/write one PageSize-aligned chunk at
// a byte offset. The io/cc layer implements this against its cache
// manager so mm never imports io, avoiding the import cycle a direct
// dependency would create.
type FileBackend interface {
	ReadPage(offset uint64, buf []byte) rtl.Status
	WritePage(offset uint64, buf []byte) rtl.Status
	Size() uint64
}

// Section is a reference-counted object (spec.md §4.3: "sections are
// reference-counted OB objects") describing either a file-backed or a
// page-file-backed (anonymous) mapping. Views onto it are created
// through VAD commits whose BackingLocator.Owner points back at the
// Section.
type Section struct {
	mu       sync.Mutex
	refCount int32

	backend FileBackend // nil for a page-file-backed (anonymous) section
	size    uint64

	// pages maps a page-aligned offset within the section to the PFN
	// currently caching it, populated lazily by the fault handler.
	pages map[uint64]int
}

// NewFileSection creates a section backed by backend, refcounted at 1.
func NewFileSection(backend FileBackend) *Section {
	return &Section{backend: backend, size: backend.Size(), refCount: 1, pages: make(map[uint64]int)}
}

// NewPageFileSection creates an anonymous section of size bytes,
// backed only by the page file (demand-zero throughout).
func NewPageFileSection(size uint64) *Section {
	return &Section{size: size, refCount: 1, pages: make(map[uint64]int)}
}

// Reference adds a reference, for a second process mapping the same
// section or a view duplicated across a fork-like operation.
func (s *Section) Reference() {
	s.mu.Lock()
	s.refCount++
	s.mu.Unlock()
}

// Dereference drops a reference; the caller tears the section down once
// this returns zero.
func (s *Section) Dereference() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refCount--
	return s.refCount
}

// Size returns the section's length in bytes.
func (s *Section) Size() uint64 { return s.size }

// IsFileBacked reports whether the section has a backing file rather
// than being purely page-file-backed.
func (s *Section) IsFileBacked() bool { return s.backend != nil }

// pagedOffset returns the PFN cached for the page-aligned offset, or
// -1 if no frame has been faulted in for it yet.
func (s *Section) pagedOffset(offset uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pfn, ok := s.pages[offset]; ok {
		return pfn
	}
	return -1
}

func (s *Section) setPagedOffset(offset uint64, pfn int) {
	s.mu.Lock()
	s.pages[offset] = pfn
	s.mu.Unlock()
}

// readIn loads offset's page content from the backend into buf.
func (s *Section) readIn(offset uint64, buf []byte) rtl.Status {
	if s.backend == nil {
		for i := range buf {
			buf[i] = 0
		}
		return rtl.StatusSuccess
	}
	return s.backend.ReadPage(offset, buf)
}

// writeBack flushes a modified page back to the backend; a no-op for
// purely page-file-backed sections, which have nowhere else to go.
func (s *Section) writeBack(offset uint64, buf []byte) rtl.Status {
	if s.backend == nil {
		return rtl.StatusSuccess
	}
	return s.backend.WritePage(offset, buf)
}
