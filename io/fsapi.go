package io

import (
	"sort"
	"strings"
	"sync"

	"github.com/nostalgiaos/kernel/cc"
	"github.com/nostalgiaos/kernel/mm"
	"github.com/nostalgiaos/kernel/ob"
	"github.com/nostalgiaos/kernel/rtl"
)

// Whence selects seek's reference point (spec.md §6.2).
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// CreateFlags distinguishes "open existing" from "create" at the
// §6.2 open/create surface.
type CreateFlags uint32

const (
	FlagOpenExisting CreateFlags = iota
	FlagCreateNew
	FlagCreateAlways
)

// FileInfo is fstat's result record (spec.md §6.2).
type FileInfo struct {
	Size       int64
	IsDir      bool
	Attributes uint32
	BlockSize  uint32
	BlockCount uint32
}

// DirEntry is one readdir result record (spec.md §6.2).
type DirEntry struct {
	Name   string
	Size   int64
	IsDir  bool
	Cookie int
}

const blockSize = 4096

// Manager is the §6.2 filesystem surface: drive-qualified paths
// (C:\TEST.TXT) resolved through per-drive Volumes, open files tracked
// as ob.Header-wrapped FileObjects in a handle table, optionally
// cached through cc.CacheMap. Grounded on fuse/server.go's
// dispatch-loop-drives-completion structure: Read, Write, Truncate and
// Sync build an Irp, dispatch it to the drive's DeviceObject, and wait
// for completion, the synchronous half of spec.md §4.4's IRP
// lifecycle. Open, Create, Close, Seek, Delete, Mkdir, Rmdir, Rename,
// Fstat, Readdir and Copy build no IRP; they act on the drive's Volume,
// the handle table or the open FileObject directly.
type Manager struct {
	mu      sync.Mutex
	drives  map[string]*DeviceObject
	ob      *ob.Manager
	db      *mm.Database
	handles *ob.HandleTable
	lazy    *cc.LazyWriter
}

// NewManager creates an empty filesystem manager backed by db for
// cache-view page accounting and obMgr for file-object handle
// lifetime. lazy, if non-nil, has every cached file's CacheMap
// registered with it on open and unregistered on close.
func NewManager(obMgr *ob.Manager, db *mm.Database, lazy *cc.LazyWriter) *Manager {
	return &Manager{
		drives:  make(map[string]*DeviceObject),
		ob:      obMgr,
		db:      db,
		handles: ob.NewHandleTable(false),
		lazy:    lazy,
	}
}

// AddDrive mounts a fresh in-memory volume as drive (e.g. "C:"),
// backed by a device object named \Device\HarddiskVolumeN per
// spec.md §6.3's object-namespace examples.
func (m *Manager) AddDrive(drive, deviceName string) *DeviceObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev := NewDeviceObject(deviceName, nil)
	dev.Volume = NewVolume()
	m.installHandlers(dev)
	m.drives[strings.ToUpper(drive)] = dev
	return dev
}

// installHandlers registers this manager's major-function handlers on
// dev, the way a real filesystem driver's DriverEntry wires its own
// dispatch table. Handlers operate on irp.File directly rather than
// re-resolving a path, since by the time an IRP reaches the device the
// file object is already open.
func (m *Manager) installHandlers(dev *DeviceObject) {
	dev.SetDispatch(IrpMjRead, func(_ *DeviceObject, irp *Irp) {
		f := irp.File
		var n int
		if f.flags&FlagCached != 0 {
			n = f.ensureCache(m.db).Read(uint64(irp.RW.Offset), irp.RW.Buffer)
		} else {
			n = f.node.ReadAt(irp.RW.Offset, irp.RW.Buffer)
		}
		irp.Complete(rtl.StatusSuccess, uintptr(n))
	})
	dev.SetDispatch(IrpMjWrite, func(_ *DeviceObject, irp *Irp) {
		f := irp.File
		if f.flags&FlagCached != 0 {
			cache := f.ensureCache(m.db)
			cache.Write(uint64(irp.RW.Offset), irp.RW.Buffer)
			if f.flags&FlagWriteThrough != 0 {
				cache.Flush()
			}
		} else {
			f.node.WriteAt(irp.RW.Offset, irp.RW.Buffer)
		}
		irp.Complete(rtl.StatusSuccess, uintptr(len(irp.RW.Buffer)))
	})
	dev.SetDispatch(IrpMjSetInformation, func(_ *DeviceObject, irp *Irp) {
		f := irp.File
		if irp.SetInfo.EndOfFile != nil {
			size := *irp.SetInfo.EndOfFile
			if f.cache != nil {
				f.cache.Truncate(uint64(size))
			}
			f.node.Truncate(size)
		}
		irp.Complete(rtl.StatusSuccess, 0)
	})
	dev.SetDispatch(IrpMjFlushBuffers, func(_ *DeviceObject, irp *Irp) {
		f := irp.File
		if f.cache == nil {
			irp.Complete(rtl.StatusSuccess, 0)
			return
		}
		irp.Complete(f.cache.Flush(), 0)
	})
}

func (m *Manager) splitDrivePath(path string) (dev *DeviceObject, rel string, status rtl.Status) {
	i := strings.IndexByte(path, ':')
	if i < 0 {
		return nil, "", rtl.StatusInvalidParameter
	}
	drive := strings.ToUpper(path[:i+1])
	rel = strings.TrimPrefix(path[i+1:], `\`)

	m.mu.Lock()
	dev, ok := m.drives[drive]
	m.mu.Unlock()
	if !ok {
		return nil, "", rtl.StatusNotFound
	}
	return dev, rel, rtl.StatusSuccess
}

// Open opens an existing file at path with the given flags, returning
// a handle into this manager's handle table.
func (m *Manager) Open(path string, flags OpenFlags) (ob.Handle, rtl.Status) {
	return m.openOrCreate(path, flags, FlagOpenExisting)
}

// Create creates a file at path; if a file already exists there, it is
// opened and truncated to zero length.
func (m *Manager) Create(path string, flags OpenFlags) (ob.Handle, rtl.Status) {
	return m.openOrCreate(path, flags, FlagCreateNew)
}

func (m *Manager) openOrCreate(path string, flags OpenFlags, create CreateFlags) (ob.Handle, rtl.Status) {
	dev, rel, status := m.splitDrivePath(path)
	if !status.Ok() {
		return ob.InvalidHandle, status
	}

	var n *node
	if create == FlagOpenExisting {
		n, status = dev.Volume.Open(rel)
	} else {
		n, status = dev.Volume.Create(rel)
		if status == rtl.StatusAlreadyExists {
			n, status = dev.Volume.Open(rel)
			if status.Ok() {
				n.Truncate(0)
			}
		}
	}
	if !status.Ok() {
		return ob.InvalidHandle, status
	}

	f := &FileObject{device: dev, node: n, path: path, flags: flags}
	hdr, status := m.ob.CreateObject(FileType, ob.ObjectAttributes{}, f, m.destroyFile)
	if !status.Ok() {
		return ob.InvalidHandle, status
	}

	// CreateObject hands back the creation reference (R=1, H=0, spec.md
	// §3.3). Insert raises both counts for the new handle; drop the
	// creation reference afterward so the handle's own reference is the
	// only one left, the way NT's ObInsertObject consumes the creator's
	// reference. Otherwise Close never drops R to zero and destroyFile
	// never runs.
	h, status := m.handles.Insert(hdr, ob.AccessGenericRead|ob.AccessGenericWrite, 0)
	if !status.Ok() {
		hdr.Dereference()
		return ob.InvalidHandle, status
	}
	hdr.Dereference()
	return h, rtl.StatusSuccess
}

func (m *Manager) destroyFile(body interface{}) {
	f := body.(*FileObject)
	if f.cache != nil {
		if m.lazy != nil {
			m.lazy.Unregister(f.cache)
		}
		f.cache.Close()
	}
}

func (m *Manager) lookup(h ob.Handle) (*FileObject, rtl.Status) {
	hdr, _, status := m.handles.Lookup(h)
	if !status.Ok() {
		return nil, status
	}
	f, ok := hdr.Body().(*FileObject)
	if !ok {
		return nil, rtl.StatusObjectTypeMismatch
	}
	return f, rtl.StatusSuccess
}

func (m *Manager) makeIrp(f *FileObject, major MajorFunction) *Irp {
	return NewIrp(f, major)
}

func (m *Manager) dispatchSync(f *FileObject, irp *Irp) rtl.Status {
	f.device.Dispatch(irp)
	irp.Wait()
	return irp.Status
}

// Read reads into buf from h's current offset, advancing it by the
// number of bytes actually read. Cached reads go through a lazily
// acquired cc.CacheMap (spec.md §4.4); uncached reads hit the volume
// node directly.
func (m *Manager) Read(h ob.Handle, buf []byte) (int, rtl.Status) {
	f, status := m.lookup(h)
	if !status.Ok() {
		return 0, status
	}
	if f.flags&FlagCached != 0 {
		m.registerForLazyWriter(f)
	}

	irp := m.makeIrp(f, IrpMjRead)
	irp.RW = ReadWriteParameters{Offset: f.offset, Buffer: buf}
	status = m.dispatchSync(f, irp)
	if !status.Ok() {
		return 0, status
	}
	n := int(irp.Information)
	f.offset += int64(n)
	return n, rtl.StatusSuccess
}

// Write writes buf at h's current offset, advancing it.
func (m *Manager) Write(h ob.Handle, buf []byte) (int, rtl.Status) {
	f, status := m.lookup(h)
	if !status.Ok() {
		return 0, status
	}
	if f.flags&FlagCached != 0 {
		m.registerForLazyWriter(f)
	}

	irp := m.makeIrp(f, IrpMjWrite)
	irp.RW = ReadWriteParameters{Offset: f.offset, Buffer: buf}
	status = m.dispatchSync(f, irp)
	if !status.Ok() {
		return 0, status
	}
	n := int(irp.Information)
	f.offset += int64(n)
	return n, rtl.StatusSuccess
}

func (m *Manager) registerForLazyWriter(f *FileObject) {
	cache := f.ensureCache(m.db)
	if m.lazy != nil {
		m.lazy.Register(cache)
	}
}

// Seek repositions h's handle-local offset (spec.md §6.2).
func (m *Manager) Seek(h ob.Handle, offset int64, whence Whence) (int64, rtl.Status) {
	f, status := m.lookup(h)
	if !status.Ok() {
		return 0, status
	}

	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = f.offset
	case SeekEnd:
		if f.cache != nil {
			base = int64(f.cache.Size())
		} else {
			base = f.node.Size()
		}
	default:
		return 0, rtl.StatusInvalidParameter
	}

	f.offset = base + offset
	return f.offset, rtl.StatusSuccess
}

// Truncate sets h's underlying file to size bytes (spec.md §6.2, §8
// scenario 3).
func (m *Manager) Truncate(h ob.Handle, size int64) rtl.Status {
	f, status := m.lookup(h)
	if !status.Ok() {
		return status
	}
	irp := m.makeIrp(f, IrpMjSetInformation)
	irp.SetInfo = SetInformationParameters{EndOfFile: &size}
	return m.dispatchSync(f, irp)
}

// Close closes h, dropping the file object's reference/handle count
// pair and flushing/releasing its cache map if it had one.
func (m *Manager) Close(h ob.Handle) rtl.Status {
	return m.handles.Close(h)
}

// Delete removes the file at path.
func (m *Manager) Delete(path string) rtl.Status {
	dev, rel, status := m.splitDrivePath(path)
	if !status.Ok() {
		return status
	}
	return dev.Volume.Delete(rel)
}

// Mkdir creates a directory at path.
func (m *Manager) Mkdir(path string) rtl.Status {
	dev, rel, status := m.splitDrivePath(path)
	if !status.Ok() {
		return status
	}
	_, status = dev.Volume.Mkdir(rel)
	return status
}

// Rmdir removes the empty directory at path.
func (m *Manager) Rmdir(path string) rtl.Status {
	dev, rel, status := m.splitDrivePath(path)
	if !status.Ok() {
		return status
	}
	return dev.Volume.Rmdir(rel)
}

// Rename moves src to dst. Both must name the same drive; cross-drive
// rename is not modeled (spec.md's Non-goals exclude real driver-level
// volume semantics beyond what the core needs to test itself).
func (m *Manager) Rename(src, dst string) rtl.Status {
	srcDev, srcRel, status := m.splitDrivePath(src)
	if !status.Ok() {
		return status
	}
	dstDev, dstRel, status := m.splitDrivePath(dst)
	if !status.Ok() {
		return status
	}
	if srcDev != dstDev {
		return rtl.StatusNotSupported
	}
	return srcDev.Volume.Rename(srcRel, dstRel)
}

// Fstat returns h's current size/type/attribute information.
func (m *Manager) Fstat(h ob.Handle) (FileInfo, rtl.Status) {
	f, status := m.lookup(h)
	if !status.Ok() {
		return FileInfo{}, status
	}
	size := f.node.Size()
	if f.cache != nil {
		size = int64(f.cache.Size())
	}
	blocks := (size + blockSize - 1) / blockSize
	return FileInfo{
		Size:       size,
		IsDir:      f.node.isDir,
		BlockSize:  blockSize,
		BlockCount: uint32(blocks),
	}, rtl.StatusSuccess
}

// Sync drains h's pending dirty pages synchronously (spec.md §4.4).
func (m *Manager) Sync(h ob.Handle) rtl.Status {
	f, status := m.lookup(h)
	if !status.Ok() {
		return status
	}
	irp := m.makeIrp(f, IrpMjFlushBuffers)
	return m.dispatchSync(f, irp)
}

// Readdir returns the cookie'th entry, in name order, of the directory
// at path, per spec.md §6.2's continuation-cookie protocol: callers start
// at cookie 0 and pass back the returned Cookie until StatusNoMoreEntries.
func (m *Manager) Readdir(path string, cookie int) (DirEntry, rtl.Status) {
	dev, rel, status := m.splitDrivePath(path)
	if !status.Ok() {
		return DirEntry{}, status
	}
	dirNode, status := dev.Volume.Open(rel)
	if !status.Ok() {
		return DirEntry{}, status
	}
	if !dirNode.isDir {
		return DirEntry{}, rtl.StatusNotADirectory
	}

	names := dirNode.ChildNames()
	sort.Strings(names)
	if cookie < 0 || cookie >= len(names) {
		return DirEntry{}, rtl.StatusNoMoreEntries
	}
	name := names[cookie]
	child, status := dev.Volume.Open(rel + `\` + name)
	if !status.Ok() {
		return DirEntry{}, status
	}
	return DirEntry{Name: name, Size: child.Size(), IsDir: child.isDir, Cookie: cookie + 1}, rtl.StatusSuccess
}

// Copy copies src's contents to dst, creating dst if needed, and
// returns the number of bytes copied. Both files are opened cached, and
// cc.CacheMap.AliasPage copies src's cache view into dst's a page at a
// time, with no user buffer in between; the two cache maps share no
// pages.
func (m *Manager) Copy(src, dst string) (int64, rtl.Status) {
	srcH, status := m.Open(src, FlagCached)
	if !status.Ok() {
		return 0, status
	}
	defer m.Close(srcH)

	dstH, status := m.Create(dst, FlagCached)
	if !status.Ok() {
		return 0, status
	}
	defer m.Close(dstH)

	srcF, _ := m.lookup(srcH)
	dstF, _ := m.lookup(dstH)
	srcCache := srcF.ensureCache(m.db)
	dstCache := dstF.ensureCache(m.db)

	size := int64(srcCache.Size())
	var copied int64
	for copied < size {
		length := mm.PageSize
		if remaining := size - copied; int64(length) > remaining {
			length = int(remaining)
		}
		dstCache.AliasPage(srcCache, uint64(copied), uint64(copied), length)
		copied += int64(length)
	}
	dstCache.Flush()
	return copied, rtl.StatusSuccess
}
