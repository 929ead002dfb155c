// Package ob is the object manager: object headers, the object type
// registry, the nested object directory, and per-process handle
// tables.
package ob

import (
	"log"
	"sync"
)

// Header is the common object header NT prefixes every kernel object
// with. R is the reference count (raised by ob.Reference, handle
// creation, and name lookups); H is the handle count (raised only by
// handle creation). The invariant H <= R always holds: every handle
// implies a reference, but the object can be referenced without any
// handle pointing at it (e.g. a kernel-internal pointer).
//
// Grounded on fuse/handle.go's Handled/verify invariant-checking style,
// generalized from a single lookup count to the R/H pair spec.md's
// object model requires.
type Header struct {
	mu sync.Mutex

	Type *Type
	Name string

	r int32
	h int32

	parent *Directory

	security *SecurityDescriptor

	destroy func(interface{})
	body    interface{}
}

// NewHeader initializes an object header with one reference already
// held (the reference the caller implicitly gets back from whatever
// Create call produced the object), per spec.md §4.1.
func NewHeader(t *Type, name string, body interface{}, destroy func(interface{})) *Header {
	return &Header{Type: t, Name: name, r: 1, body: body, destroy: destroy}
}

// Body returns the type-specific payload NewHeader was given.
func (h *Header) Body() interface{} { return h.body }

// verify panics on the invariant violations fuse/handle.go's own
// verify() checks for: negative counts, and H exceeding R.
func (h *Header) verify() {
	if h.r < 0 || h.h < 0 {
		log.Panicf("ob: negative refcount on %q: r=%d h=%d", h.Name, h.r, h.h)
	}
	if h.h > h.r {
		log.Panicf("ob: handle count exceeds reference count on %q: r=%d h=%d", h.Name, h.r, h.h)
	}
}

// Reference adds one reference without a corresponding handle.
func (h *Header) Reference() {
	h.mu.Lock()
	h.r++
	h.verify()
	h.mu.Unlock()
}

// Dereference drops one reference (not associated with a handle);
// once it and the handle count both reach zero, the object's destroy
// hook runs and it is unlinked from its parent directory.
func (h *Header) Dereference() {
	h.mu.Lock()
	h.r--
	h.verify()
	dead := h.r == 0
	h.mu.Unlock()
	if dead {
		h.finalize()
	}
}

// referenceForHandle raises both R and H together, the bookkeeping a
// new handle registration performs.
func (h *Header) referenceForHandle() {
	h.mu.Lock()
	h.r++
	h.h++
	h.verify()
	h.mu.Unlock()
}

// dereferenceForHandle drops both R and H together, the bookkeeping a
// handle close performs.
func (h *Header) dereferenceForHandle() {
	h.mu.Lock()
	h.r--
	h.h--
	h.verify()
	dead := h.r == 0
	h.mu.Unlock()
	if dead {
		h.finalize()
	}
}

func (h *Header) finalize() {
	if h.parent != nil {
		h.parent.unlink(h)
	}
	if h.destroy != nil {
		h.destroy(h.body)
	}
}

// ReferenceCount and HandleCount report the current R/H pair, for
// tests and ex.QuerySystemInformation's object dump.
func (h *Header) ReferenceCount() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.r
}

func (h *Header) HandleCount() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.h
}

