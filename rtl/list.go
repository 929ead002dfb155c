// Copyright 2016 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtl is the kernel's runtime library: intrusive data structures
// (lists, bitmaps, AVL trees), hex dumping and the LZNT1 codec. It has no
// dependency on any other kernel package.
package rtl

// ListEntry is an intrusive doubly-linked list node, the Go analogue of
// NT's LIST_ENTRY. Embed it as a struct field and use the package-level
// functions to link/unlink. A list head must be set up with
// InitializeListHead; an entry needs no setup before it is inserted, and
// RemoveEntryList on a zero-value entry is a no-op.
type ListEntry struct {
	flink, blink *ListEntry
	owner        interface{}
}

// InitializeListHead turns head into an empty circular list.
func InitializeListHead(head *ListEntry) {
	head.flink = head
	head.blink = head
	head.owner = nil
}

// IsListEmpty reports whether head has no entries linked into it.
func IsListEmpty(head *ListEntry) bool {
	return head.flink == head
}

// InsertHeadList links entry as the new first element after head.
func InsertHeadList(head, entry *ListEntry) {
	entry.flink = head.flink
	entry.blink = head
	head.flink.blink = entry
	head.flink = entry
}

// InsertTailList links entry as the new last element before head.
func InsertTailList(head, entry *ListEntry) {
	entry.blink = head.blink
	entry.flink = head
	head.blink.flink = entry
	head.blink = entry
}

// RemoveEntryList unlinks entry from whatever list it is a member of.
// It is a no-op to call it twice; the second call observes entry's own
// links, which RemoveEntryList resets to point to itself.
func RemoveEntryList(entry *ListEntry) bool {
	if entry.flink == nil {
		return true
	}
	blink := entry.blink
	flink := entry.flink
	blink.flink = flink
	flink.blink = blink
	entry.flink = entry
	entry.blink = entry
	return flink == blink
}

// SetOwner attaches the Go value this list entry is embedded in, so that
// walking the list can recover it without an unsafe offset computation
// (the idiomatic substitute for NT's CONTAINING_RECORD macro).
func (e *ListEntry) SetOwner(v interface{}) { e.owner = v }

// Owner returns the value previously attached with SetOwner.
func (e *ListEntry) Owner() interface{} { return e.owner }

// Next returns the next entry in the list, or nil if e is the last entry
// before head.
func (e *ListEntry) Next(head *ListEntry) *ListEntry {
	if e.flink == head {
		return nil
	}
	return e.flink
}

// Each calls fn for every entry in the list, head exclusive, in forward
// (flink) order. fn must not unlink the entry it is called with from
// this list via anything other than RemoveEntryList on that same entry;
// Each captures the next pointer before calling fn so that removal
// during iteration is safe.
func Each(head *ListEntry, fn func(*ListEntry)) {
	for e := head.flink; e != head; {
		next := e.flink
		fn(e)
		e = next
	}
}

// Len walks the list and counts its entries. O(n); intended for
// invariant-checking tests, not hot paths.
func Len(head *ListEntry) int {
	n := 0
	Each(head, func(*ListEntry) { n++ })
	return n
}
