package io

import (
	"strings"
	"sync"
	"time"

	"github.com/nostalgiaos/kernel/rtl"
)

// node is one entry of a Volume's in-memory tree: a file's bytes or a
// directory's children. Volume is the minimal backing store the device
// stack dispatches IRPs against in this kernel; spec.md §1 explicitly
// places the real on-disk FAT32 driver out of scope ("the core merely
// exposes the IRP pipeline that those subsystems drive" — §6), so this
// stands in as the one driver under the stack exercising that pipeline
// end-to-end for the §8 round-trip and scenario tests.
type node struct {
	mu sync.Mutex

	name    string
	isDir   bool
	data    []byte
	modTime time.Time

	parent   *node
	children map[string]*node
}

func newDirNode(name string, parent *node) *node {
	return &node{name: name, isDir: true, parent: parent, children: make(map[string]*node), modTime: time.Now()}
}

// Volume is one drive (e.g. "C:"): a rooted tree of nodes plus a lock
// serializing structural changes (create/delete/rename/mkdir/rmdir).
// Per-file content access is serialized at the node level so concurrent
// reads/writes to different files don't contend on the whole volume.
type Volume struct {
	mu   sync.Mutex
	root *node
}

// NewVolume creates an empty volume with just a root directory.
func NewVolume() *Volume {
	return &Volume{root: newDirNode("", nil)}
}

func splitPath(path string) []string {
	path = strings.Trim(path, `\`)
	if path == "" {
		return nil
	}
	return strings.Split(path, `\`)
}

// lookup walks path's components from the volume root, returning the
// final node and, if it doesn't exist, its would-be parent.
func (v *Volume) lookup(path string) (n, parent *node, leaf string, status rtl.Status) {
	comps := splitPath(path)
	cur := v.root
	if len(comps) == 0 {
		return cur, nil, "", rtl.StatusSuccess
	}
	for i, c := range comps {
		cur.mu.Lock()
		child, ok := cur.children[strings.ToUpper(c)]
		last := i == len(comps)-1
		if !ok {
			if last {
				p := cur
				cur.mu.Unlock()
				return nil, p, c, rtl.StatusNotFound
			}
			cur.mu.Unlock()
			return nil, nil, "", rtl.StatusNotFound
		}
		cur.mu.Unlock()
		if last {
			return child, cur, c, rtl.StatusSuccess
		}
		if !child.isDir {
			return nil, nil, "", rtl.StatusNotADirectory
		}
		cur = child
	}
	return nil, nil, "", rtl.StatusNotFound
}

// Create makes a new, empty file at path, failing with
// StatusAlreadyExists if one is already there and StatusNotADirectory
// if an ancestor component isn't a directory.
func (v *Volume) Create(path string) (*node, rtl.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()

	existing, parent, leaf, status := v.lookup(path)
	if status == rtl.StatusSuccess && existing != nil {
		return nil, rtl.StatusAlreadyExists
	}
	if status == rtl.StatusNotADirectory {
		return nil, status
	}
	if parent == nil {
		return nil, rtl.StatusNotFound
	}
	n := &node{name: leaf, parent: parent, modTime: time.Now()}
	parent.mu.Lock()
	parent.children[strings.ToUpper(leaf)] = n
	parent.mu.Unlock()
	return n, rtl.StatusSuccess
}

// Open returns the existing node at path.
func (v *Volume) Open(path string) (*node, rtl.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, _, _, status := v.lookup(path)
	if status != rtl.StatusSuccess {
		return nil, status
	}
	return n, rtl.StatusSuccess
}

// Mkdir creates a new directory at path.
func (v *Volume) Mkdir(path string) (*node, rtl.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	existing, parent, leaf, status := v.lookup(path)
	if status == rtl.StatusSuccess && existing != nil {
		return nil, rtl.StatusAlreadyExists
	}
	if status == rtl.StatusNotADirectory {
		return nil, status
	}
	if parent == nil {
		return nil, rtl.StatusNotFound
	}
	n := newDirNode(leaf, parent)
	parent.mu.Lock()
	parent.children[strings.ToUpper(leaf)] = n
	parent.mu.Unlock()
	return n, rtl.StatusSuccess
}

// Rmdir removes an empty directory at path.
func (v *Volume) Rmdir(path string) rtl.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, _, _, status := v.lookup(path)
	if !status.Ok() {
		return status
	}
	if !n.isDir {
		return rtl.StatusNotADirectory
	}
	n.mu.Lock()
	empty := len(n.children) == 0
	n.mu.Unlock()
	if !empty {
		return rtl.StatusNotEmpty
	}
	return v.unlink(n)
}

// Delete removes the file at path.
func (v *Volume) Delete(path string) rtl.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, _, _, status := v.lookup(path)
	if !status.Ok() {
		return status
	}
	if n.isDir {
		return rtl.StatusIsADirectory
	}
	return v.unlink(n)
}

func (v *Volume) unlink(n *node) rtl.Status {
	if n.parent == nil {
		return rtl.StatusAccessDenied
	}
	n.parent.mu.Lock()
	delete(n.parent.children, strings.ToUpper(n.name))
	n.parent.mu.Unlock()
	return rtl.StatusSuccess
}

// Rename moves the node at src to dst, creating dst's leaf name in
// dst's parent directory. The caller must already hold open-file
// invariants (spec.md's end-to-end scenario 2: renaming across
// directories).
func (v *Volume) Rename(src, dst string) rtl.Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	srcNode, _, _, status := v.lookup(src)
	if !status.Ok() {
		return status
	}
	_, dstParent, dstLeaf, dstStatus := v.lookup(dst)
	if dstStatus == rtl.StatusSuccess {
		return rtl.StatusObjectNameCollision
	}
	if dstStatus == rtl.StatusNotADirectory {
		return dstStatus
	}
	if dstParent == nil {
		return rtl.StatusNotFound
	}

	srcNode.parent.mu.Lock()
	delete(srcNode.parent.children, strings.ToUpper(srcNode.name))
	srcNode.parent.mu.Unlock()

	srcNode.name = dstLeaf
	srcNode.parent = dstParent
	dstParent.mu.Lock()
	dstParent.children[strings.ToUpper(dstLeaf)] = srcNode
	dstParent.mu.Unlock()
	return rtl.StatusSuccess
}

// ReadAt copies len(buf) bytes starting at offset into buf, returning
// how many bytes were actually available (short of len(buf) at EOF).
func (n *node) ReadAt(offset int64, buf []byte) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if offset >= int64(len(n.data)) {
		return 0
	}
	avail := int64(len(n.data)) - offset
	want := int64(len(buf))
	if want > avail {
		want = avail
	}
	copy(buf[:want], n.data[offset:offset+want])
	return int(want)
}

// WriteAt writes buf at offset, extending the file (zero-filling any
// gap) as needed.
func (n *node) WriteAt(offset int64, buf []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:end], buf)
	n.modTime = time.Now()
}

// Truncate sets the file's size to size, zero-extending or discarding
// trailing bytes.
func (n *node) Truncate(size int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if size <= int64(len(n.data)) {
		n.data = n.data[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, n.data)
	n.data = grown
}

// Size reports the file's current length.
func (n *node) Size() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return int64(len(n.data))
}

// ChildNames returns dir's child names in map iteration order, which
// can differ from call to call; callers sort if they need a stable
// order. Used by Manager.Readdir.
func (n *node) ChildNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.children))
	for _, c := range n.children {
		names = append(names, c.name)
	}
	return names
}
