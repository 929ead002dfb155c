package io

import (
	"github.com/nostalgiaos/kernel/cc"
	"github.com/nostalgiaos/kernel/mm"
	"github.com/nostalgiaos/kernel/ob"
	"github.com/nostalgiaos/kernel/rtl"
)

// FileType is the object type every open file handle targets (spec.md
// §3.10: "File objects are object-manager objects with type File").
var FileType = &ob.Type{
	Name:        "File",
	ValidAccess: ob.AccessGenericRead | ob.AccessGenericWrite | ob.AccessGenericAll,
	Mapping: ob.GenericMapping{
		Read:  ob.AccessGenericRead,
		Write: ob.AccessGenericWrite,
		All:   ob.AccessGenericRead | ob.AccessGenericWrite | ob.AccessGenericAll,
	},
}

// OpenFlags selects the cache/write-through behavior of an open file
// (spec.md §3.10).
type OpenFlags uint32

const (
	FlagSynchronous OpenFlags = 1 << iota
	FlagWriteThrough
	FlagCached
)

// FileObject is one open instance of a file (spec.md §3.10): a handle
// target pointing at the device, the underlying volume node, a
// handle-local byte offset, and — once first read/written cached — a
// cc.CacheMap.
type FileObject struct {
	Header *ob.Header

	device *DeviceObject
	node   *node
	path   string

	flags  OpenFlags
	offset int64

	cache *cc.CacheMap
}

// nodeBackend adapts a volume node to mm.FileBackend so a CacheMap can
// be built directly over it.
type nodeBackend struct{ n *node }

func (b nodeBackend) ReadPage(offset uint64, buf []byte) rtl.Status {
	b.n.ReadAt(int64(offset), buf)
	return rtl.StatusSuccess
}
func (b nodeBackend) WritePage(offset uint64, buf []byte) rtl.Status {
	b.n.WriteAt(int64(offset), buf)
	return rtl.StatusSuccess
}
func (b nodeBackend) Size() uint64 { return uint64(b.n.Size()) }

// ensureCache lazily acquires a cache map on first cached read/write,
// per spec.md §4.4.
func (f *FileObject) ensureCache(db *mm.Database) *cc.CacheMap {
	if f.cache == nil {
		f.cache = cc.NewCacheMap(nodeBackend{f.node}, db)
	}
	return f.cache
}
