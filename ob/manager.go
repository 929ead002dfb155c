package ob

import "github.com/nostalgiaos/kernel/rtl"

// ObjectAttributes bundles the inputs NtCreateXxx/NtOpenXxx-style calls
// take for name resolution: the path itself, and an optional directory
// it is relative to (nil means "path must be absolute"), per spec.md
// §4.1.
type ObjectAttributes struct {
	Name       string
	RootDir    *Directory
	Security   *SecurityDescriptor
}

// SecurityDescriptor is the pluggable access-check surface
// spec.md §4.1 calls for: AccessCheck decides whether requested is
// granted to the object it is attached to. A nil *SecurityDescriptor
// grants everything the object type allows, matching objects created
// without an explicit descriptor.
type SecurityDescriptor struct {
	AccessCheck func(requested AccessMask) bool
}

func (sd *SecurityDescriptor) check(requested AccessMask) rtl.Status {
	if sd == nil || sd.AccessCheck == nil {
		return rtl.StatusSuccess
	}
	if sd.AccessCheck(requested) {
		return rtl.StatusSuccess
	}
	return rtl.StatusAccessDenied
}

// Manager is the object manager: the type registry, the root of the
// `\` namespace, and the system-wide kernel handle table, tying
// together Header/Type/Directory/HandleTable into the single contract
// spec.md §4.1 names (create_type, create_object, reference_by_name,
// reference_by_handle, insert_object, duplicate_handle, close_handle,
// dereference).
type Manager struct {
	Types *TypeRegistry
	Root  *Directory

	kernelHandles *HandleTable
}

// NewManager boots a fresh object manager with an empty root directory,
// the way kernel.InitPhase0 wants a clean namespace per test instance
// (spec.md §9 design note: tests construct a fresh kernel instance
// rather than sharing global state).
func NewManager() *Manager {
	m := &Manager{
		Types:         NewTypeRegistry(),
		Root:          NewRootDirectory(),
		kernelHandles: NewHandleTable(true),
	}
	m.Types.Register(DirectoryType)
	m.Types.Register(SymbolicLinkType)
	return m
}

// CreateType registers a new object type. Thin wrapper over
// TypeRegistry.Register kept on Manager so callers have one entry
// point for the whole OB contract.
func (m *Manager) CreateType(t *Type) { m.Types.Register(t) }

// CreateObject builds a new object header of type t, wraps body, and —
// if attrs names a path — inserts it into the directory the path
// resolves to (creating no intermediate directories; the parent must
// already exist). Returns the new header with one reference already
// held, per spec.md §3.3.
func (m *Manager) CreateObject(t *Type, attrs ObjectAttributes, body interface{}, destroy func(interface{})) (*Header, rtl.Status) {
	name := attrs.Name
	parentDir := attrs.RootDir
	leaf := name

	if name != "" {
		parent, leafName, status := m.resolveParent(attrs)
		if !status.Ok() {
			return nil, status
		}
		parentDir = parent
		leaf = leafName
	}

	h := NewHeader(t, leaf, body, destroy)
	h.security = attrs.Security

	if parentDir != nil && leaf != "" {
		if status := parentDir.Insert(leaf, h); !status.Ok() {
			return nil, status
		}
	}
	return h, rtl.StatusSuccess
}

// resolveParent splits attrs.Name into (parent directory, leaf name),
// resolving every component but the last.
func (m *Manager) resolveParent(attrs ObjectAttributes) (*Directory, string, rtl.Status) {
	path := attrs.Name
	idx := lastSeparator(path)
	if idx < 0 {
		root := attrs.RootDir
		if root == nil {
			if isAbsolute(path) {
				return m.Root, trimLeadingSep(path), rtl.StatusSuccess
			}
			return nil, "", rtl.StatusObjectNameNotFound
		}
		return root, path, rtl.StatusSuccess
	}

	dirPath, leaf := path[:idx], path[idx+1:]
	parentHeader, status := m.referenceByNameRaw(attrs.RootDir, dirPath)
	if !status.Ok() {
		return nil, "", status
	}
	parentDir, ok := parentHeader.Body().(*Directory)
	if !ok {
		return nil, "", rtl.StatusObjectTypeMismatch
	}
	return parentDir, leaf, rtl.StatusSuccess
}

func isAbsolute(path string) bool { return len(path) > 0 && path[0] == '\\' }

func trimLeadingSep(path string) string {
	if isAbsolute(path) {
		return path[1:]
	}
	return path
}

func lastSeparator(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '\\' {
			return i
		}
	}
	return -1
}

func (m *Manager) referenceByNameRaw(relativeTo *Directory, path string) (*Header, rtl.Status) {
	if path == "" || path == `\` {
		return m.Root.Header, rtl.StatusSuccess
	}
	return ResolvePath(m.Root, relativeTo, path)
}

// ReferenceByName resolves attrs.Name to an object, adding a reference
// on success (spec.md §4.1). desiredAccess is checked against the
// object's type-valid mask (after generic-rights translation) and its
// security descriptor.
func (m *Manager) ReferenceByName(attrs ObjectAttributes, desiredAccess AccessMask) (*Header, rtl.Status) {
	h, status := m.referenceByNameRaw(attrs.RootDir, attrs.Name)
	if !status.Ok() {
		return nil, status
	}
	if status := m.checkAccess(h, desiredAccess); !status.Ok() {
		return nil, status
	}
	h.Reference()
	return h, rtl.StatusSuccess
}

func (m *Manager) checkAccess(h *Header, desiredAccess AccessMask) rtl.Status {
	granted := h.Type.MapGenericAccess(desiredAccess)
	if granted&^h.Type.ValidAccess != 0 {
		return rtl.StatusAccessDenied
	}
	return h.security.check(granted)
}

// InsertObject installs obj into the caller's handle table at the
// lowest free slot, per spec.md §4.1; this is the non-name-resolving
// half of "open a handle to an object you already have a pointer to".
func (m *Manager) InsertObject(table *HandleTable, obj *Header, desiredAccess AccessMask, attrs uint32) (Handle, rtl.Status) {
	if status := m.checkAccess(obj, desiredAccess); !status.Ok() {
		return InvalidHandle, status
	}
	return table.Insert(obj, m.grantedAccess(obj, desiredAccess), attrs)
}

func (m *Manager) grantedAccess(obj *Header, desiredAccess AccessMask) AccessMask {
	return obj.Type.MapGenericAccess(desiredAccess)
}

// ReferenceByHandle resolves a handle from table to its object,
// enforcing that desiredAccess is a subset of what was granted at open
// time (spec.md §3.6 invariant).
func (m *Manager) ReferenceByHandle(table *HandleTable, h Handle, desiredAccess AccessMask) (*Header, rtl.Status) {
	obj, granted, status := table.Lookup(h)
	if !status.Ok() {
		return nil, status
	}
	if desiredAccess&^granted != 0 {
		return nil, rtl.StatusAccessDenied
	}
	obj.Reference()
	return obj, rtl.StatusSuccess
}

// DuplicateHandle duplicates h from src into dst (which may be the
// same table, aliasing spec.md §4.1's intra-process duplication case).
func (m *Manager) DuplicateHandle(src *HandleTable, h Handle, dst *HandleTable, sameAccess bool, narrowMask AccessMask) (Handle, rtl.Status) {
	return src.Duplicate(h, dst, sameAccess, narrowMask)
}

// CloseHandle closes h in table, per spec.md §4.1.
func (m *Manager) CloseHandle(table *HandleTable, h Handle) rtl.Status {
	return table.Close(h)
}

// Dereference drops a pointer reference obtained from CreateObject or
// ReferenceByName/ReferenceByHandle.
func (m *Manager) Dereference(h *Header) { h.Dereference() }

// KernelHandles returns the system-wide kernel handle table, for
// objects callers want addressable without a process (device objects,
// the lazy writer's file handles).
func (m *Manager) KernelHandles() *HandleTable { return m.kernelHandles }
