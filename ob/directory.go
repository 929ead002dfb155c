package ob

import (
	"strings"

	"github.com/nostalgiaos/kernel/rtl"
)

// maxSymlinkHops bounds how many parse-hook substitutions a single path
// resolution may follow before giving up, preventing symbolic-link
// cycles from looping forever (spec.md §4.1).
const maxSymlinkHops = 32

// DirectoryType is the object type every Directory is created against.
// Directories are themselves OB objects (spec.md §3.5): they can be
// named, opened by handle, and nested inside other directories.
var DirectoryType = &Type{
	Name:        "Directory",
	ValidAccess: AccessGenericRead | AccessGenericWrite | AccessGenericAll,
	Mapping: GenericMapping{
		Read:  AccessGenericRead,
		Write: AccessGenericWrite,
		All:   AccessGenericRead | AccessGenericWrite | AccessGenericAll,
	},
}

// Directory is a named container of (name, object) entries, unique by
// case-insensitive name (spec.md §3.5). Grounded on nodefs/inode.go's
// parent/child tree walking, generalized from a filesystem inode tree
// to the object-manager namespace rooted at `\`.
type Directory struct {
	Header *Header

	children map[string]*Header
}

// NewDirectory creates an unlinked directory object named name. Use
// Directory.CreateSubdirectory, or Insert into a parent directory
// yourself, to attach it to the namespace.
func NewDirectory(name string) *Directory {
	d := &Directory{children: make(map[string]*Header)}
	d.Header = NewHeader(DirectoryType, name, d, nil)
	return d
}

// NewRootDirectory creates the `\` directory: a directory whose own
// header has no parent, the root every absolute path resolves from.
func NewRootDirectory() *Directory {
	return NewDirectory(`\`)
}

func normalizeKey(name string) string { return strings.ToLower(name) }

// Insert adds a child entry. It fails with StatusObjectNameCollision if
// an entry with the same case-insensitive name already exists.
func (d *Directory) Insert(name string, h *Header) rtl.Status {
	key := normalizeKey(name)
	if _, exists := d.children[key]; exists {
		return rtl.StatusObjectNameCollision
	}
	if d.children == nil {
		d.children = make(map[string]*Header)
	}
	d.children[key] = h
	h.parent = d
	return rtl.StatusSuccess
}

// lookupChild returns the child header named name, if any.
func (d *Directory) lookupChild(name string) (*Header, bool) {
	h, ok := d.children[normalizeKey(name)]
	return h, ok
}

// unlink removes h from d's children. Called by Header.finalize once an
// object's reference count drops to zero.
func (d *Directory) unlink(h *Header) {
	for k, v := range d.children {
		if v == h {
			delete(d.children, k)
			return
		}
	}
}

// Names returns the directory's current child names, for
// ex.QuerySystemInformation dumps and tests. Unordered.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.children))
	for _, h := range d.children {
		names = append(names, h.Name)
	}
	return names
}

// SymbolicLinkType is the object type whose Parse hook substitutes a
// target path and restarts resolution there (spec.md §4.1).
var SymbolicLinkType = &Type{
	Name:        "SymbolicLink",
	ValidAccess: AccessGenericRead | AccessGenericAll,
}

// SymbolicLink is a named object whose body is the target path string
// object resolution should restart at.
type SymbolicLink struct {
	Header *Header
	Target string
}

// NewSymbolicLink creates a symbolic link object named name pointing at
// target, which may itself be relative to the directory it is inserted
// into.
func NewSymbolicLink(name, target string) *SymbolicLink {
	s := &SymbolicLink{Target: target}
	s.Header = NewHeader(SymbolicLinkType, name, s, nil)
	return s
}

// splitFirstComponent splits a path of the form "foo\bar\baz" (no
// leading separator) into its first component and the remainder.
func splitFirstComponent(path string) (first, rest string) {
	i := strings.IndexByte(path, '\\')
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

// ResolvePath walks path from root (if path starts with `\`) or from
// relativeTo (if not), deferring to a type's Parse hook when traversal
// enters an object whose type declares one, and substituting symbolic
// link targets (capped at maxSymlinkHops to break cycles). It returns
// the resolved object header, or a failure status per spec.md §4.1:
// StatusObjectNameNotFound (no such child), StatusObjectTypeMismatch
// (a non-directory, non-parse-hook object found mid-path).
func ResolvePath(root, relativeTo *Directory, path string) (*Header, rtl.Status) {
	cur := relativeTo
	if strings.HasPrefix(path, `\`) {
		cur = root
		path = strings.TrimPrefix(path, `\`)
	}
	if cur == nil {
		return nil, rtl.StatusObjectNameNotFound
	}

	hops := 0
	for {
		if strings.HasPrefix(path, `\`) {
			cur = root
			path = strings.TrimPrefix(path, `\`)
		}
		if path == "" {
			return cur.Header, rtl.StatusSuccess
		}

		comp, rest := splitFirstComponent(path)
		child, ok := cur.lookupChild(comp)
		if !ok {
			return nil, rtl.StatusObjectNameNotFound
		}

		if rest == "" {
			if link, isLink := child.Body().(*SymbolicLink); isLink {
				hops++
				if hops > maxSymlinkHops {
					return nil, rtl.StatusObjectNameNotFound
				}
				path = link.Target
				continue
			}
			return child, rtl.StatusSuccess
		}

		if childDir, ok := child.Body().(*Directory); ok {
			cur = childDir
			path = rest
			continue
		}

		if link, isLink := child.Body().(*SymbolicLink); isLink {
			hops++
			if hops > maxSymlinkHops {
				return nil, rtl.StatusObjectNameNotFound
			}
			path = link.Target + `\` + rest
			continue
		}

		if child.Type.Parse != nil {
			resolved, remainder, ok := child.Type.Parse(child.Body(), rest)
			if !ok {
				return nil, rtl.StatusObjectNameNotFound
			}
			if remainder == "" {
				if h, isHeader := resolved.(*Header); isHeader {
					return h, rtl.StatusSuccess
				}
				return nil, rtl.StatusObjectTypeMismatch
			}
			if nextDir, ok := resolved.(*Directory); ok {
				cur = nextDir
				path = remainder
				continue
			}
			return nil, rtl.StatusObjectTypeMismatch
		}

		return nil, rtl.StatusObjectTypeMismatch
	}
}
