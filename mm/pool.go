package mm

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

// PoolType distinguishes the paged pool (may be backed by pageable
// memory, swappable under pressure) from the non-paged pool (must stay
// resident, used for anything touched at raised IRQL) per spec.md §4.3.
type PoolType int

const (
	PagedPool PoolType = iota
	NonPagedPool
)

func (p PoolType) String() string {
	if p == NonPagedPool {
		return "NonPagedPool"
	}
	return "PagedPool"
}

// granularity is the pool's allocation unit; every bucket holds blocks
// that are a multiple of this size, the way BufferPoolImpl buckets by
// PAGESIZE multiples.
const granularity = 16

// lookasideCapacity caps how many blocks a per-CPU lookaside list keeps
// before spilling back to the shared buckets, bounding per-CPU memory
// pinned in the cache.
const lookasideCapacity = 64

// Pool is a size-class bucketed free-list allocator with a per-CPU
// lookaside cache in front of it, adapted from fuse/bufferpool.go's
// BufferPoolImpl: buffersBySize becomes bucketsBySize keyed by
// granularity-multiples instead of PAGESIZE-multiples, and
// outstandingBuffers becomes outstanding, unchanged in spirit.
type Pool struct {
	kind PoolType

	lock          sync.Mutex
	bucketsBySize [][][]byte
	outstanding   map[uintptr]bool
	createdBlocks int

	lookaside []lookasideList
}

type lookasideList struct {
	mu    sync.Mutex
	class int
	free  [][]byte
}

// NewPool creates an allocator of the given pool type with one
// lookaside list per CPU, sized for the smallest size class (the
// allocation pattern NT's ExAllocateFromPPLookasideList targets).
func NewPool(kind PoolType, numCPU int) *Pool {
	p := &Pool{
		kind:          kind,
		bucketsBySize: make([][][]byte, 0, 32),
		outstanding:   make(map[uintptr]bool),
		lookaside:     make([]lookasideList, numCPU),
	}
	for i := range p.lookaside {
		p.lookaside[i].class = 1
	}
	return p
}

func (p *Pool) String() string {
	p.lock.Lock()
	defer p.lock.Unlock()

	var parts []string
	for class, blocks := range p.bucketsBySize {
		if len(blocks) > 0 {
			parts = append(parts, fmt.Sprintf("%d=%d", class, len(blocks)))
		}
	}
	return fmt.Sprintf("%s created:%d outstanding:%d %s",
		p.kind, p.createdBlocks, len(p.outstanding), strings.Join(parts, ", "))
}

func (p *Pool) getBucketLocked(class int) []byte {
	for ; class < len(p.bucketsBySize); class++ {
		bucket := p.bucketsBySize[class]
		if len(bucket) > 0 {
			last := bucket[len(bucket)-1]
			p.bucketsBySize[class] = bucket[:len(bucket)-1]
			return last
		}
	}
	return nil
}

func (p *Pool) addBucketLocked(slice []byte, class int) {
	for len(p.bucketsBySize) <= class {
		p.bucketsBySize = append(p.bucketsBySize, make([][]byte, 0))
	}
	p.bucketsBySize[class] = append(p.bucketsBySize[class], slice)
}

// Allocate returns a block of at least size bytes. cpu selects which
// per-CPU lookaside list is tried first; pass -1 to skip it and go
// straight to the shared buckets.
func (p *Pool) Allocate(size uint32, cpu int) []byte {
	sz := int(size)
	if sz < granularity {
		sz = granularity
	}
	if sz%granularity != 0 {
		sz += granularity - sz%granularity
	}
	class := sz / granularity

	if cpu >= 0 && cpu < len(p.lookaside) && class == p.lookaside[cpu].class {
		if b := p.lookasideGet(cpu); b != nil {
			b = b[:size]
			p.track(b)
			return b
		}
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	b := p.getBucketLocked(class)
	if b == nil {
		p.createdBlocks++
		b = make([]byte, size, class*granularity)
	} else {
		b = b[:size]
	}
	p.outstanding[blockKey(b)] = true
	return b
}

// Free returns a block to the allocator. It is not an error to call
// Free on a slice obtained elsewhere; such slices are silently dropped,
// matching fuse/bufferpool.go's FreeBuffer contract.
func (p *Pool) Free(slice []byte, cpu int) {
	if len(slice) == 0 || cap(slice)%granularity != 0 || cap(slice) == 0 {
		return
	}
	class := cap(slice) / granularity
	full := slice[:cap(slice)]

	p.lock.Lock()
	tracked := p.outstanding[blockKey(full)]
	p.lock.Unlock()
	if !tracked {
		return
	}

	if cpu >= 0 && cpu < len(p.lookaside) && class == p.lookaside[cpu].class {
		if p.lookasidePut(cpu, full) {
			p.untrack(full)
			return
		}
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	key := blockKey(full)
	if p.outstanding[key] {
		p.addBucketLocked(full, class)
		delete(p.outstanding, key)
	}
}

func (p *Pool) lookasideGet(cpu int) []byte {
	l := &p.lookaside[cpu]
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.free) == 0 {
		return nil
	}
	b := l.free[len(l.free)-1]
	l.free = l.free[:len(l.free)-1]
	return b
}

func (p *Pool) lookasidePut(cpu int, slice []byte) bool {
	l := &p.lookaside[cpu]
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.free) >= lookasideCapacity {
		return false
	}
	l.free = append(l.free, slice)
	return true
}

func (p *Pool) track(b []byte) {
	p.lock.Lock()
	p.outstanding[blockKey(b)] = true
	p.lock.Unlock()
}

func (p *Pool) untrack(b []byte) {
	p.lock.Lock()
	delete(p.outstanding, blockKey(b))
	p.lock.Unlock()
}

func blockKey(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
