package mm

import "testing"

func TestPoolAllocateRoundsToGranularity(t *testing.T) {
	p := NewPool(NonPagedPool, 4)
	b := p.Allocate(10, -1)
	if len(b) != 10 {
		t.Fatalf("len(b) = %d, want 10", len(b))
	}
	if cap(b)%granularity != 0 {
		t.Fatalf("cap(b) = %d, not a multiple of granularity", cap(b))
	}
}

func TestPoolFreeThenAllocateReusesBlock(t *testing.T) {
	p := NewPool(PagedPool, 4)
	b := p.Allocate(64, -1)
	addr := &b[0]
	p.Free(b, -1)

	b2 := p.Allocate(64, -1)
	if &b2[0] != addr {
		t.Fatalf("expected the freed block to be reused")
	}
}

func TestPoolFreeForeignSliceIsIgnored(t *testing.T) {
	p := NewPool(PagedPool, 1)
	foreign := make([]byte, granularity)
	p.Free(foreign, -1)
	if p.createdBlocks != 0 {
		t.Fatalf("freeing an untracked slice should not affect pool bookkeeping")
	}
}

func TestPoolLookasideRoundTrip(t *testing.T) {
	p := NewPool(NonPagedPool, 2)
	b := p.Allocate(granularity, 0)
	addr := &b[0]
	p.Free(b, 0)

	b2 := p.Allocate(granularity, 0)
	if &b2[0] != addr {
		t.Fatalf("expected the lookaside list to serve the reused block")
	}
}

func TestPoolLookasideSpillsToSharedBuckets(t *testing.T) {
	p := NewPool(NonPagedPool, 1)
	blocks := make([][]byte, lookasideCapacity+8)
	for i := range blocks {
		blocks[i] = p.Allocate(granularity, 0)
	}
	for _, b := range blocks {
		p.Free(b, 0)
	}
	p.lock.Lock()
	spilled := 0
	if len(p.bucketsBySize) > 1 {
		spilled = len(p.bucketsBySize[1])
	}
	p.lock.Unlock()
	if spilled != 8 {
		t.Fatalf("expected 8 blocks past the lookaside capacity in the shared bucket, got %d", spilled)
	}
	if p.String() == "" {
		t.Fatalf("String should report pool state")
	}
}
