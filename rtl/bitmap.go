package rtl

import "math/bits"

// Bitmap is a fixed-width bit vector with scan-for-set/scan-for-clear
// support, the same shape as NT's RTL_BITMAP. The scheduler uses one to
// find the highest-priority nonempty ready queue; cc uses one per cache
// view to track dirty pages.
type Bitmap struct {
	bits []uint64
	size int
}

// NewBitmap allocates a bitmap of the given bit length, initially all
// clear.
func NewBitmap(size int) *Bitmap {
	return &Bitmap{
		bits: make([]uint64, (size+63)/64),
		size: size,
	}
}

// Len returns the number of bits in the bitmap.
func (b *Bitmap) Len() int { return b.size }

// Set sets bit i.
func (b *Bitmap) Set(i int) {
	b.checkRange(i)
	b.bits[i/64] |= 1 << uint(i%64)
}

// Clear clears bit i.
func (b *Bitmap) Clear(i int) {
	b.checkRange(i)
	b.bits[i/64] &^= 1 << uint(i%64)
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool {
	b.checkRange(i)
	return b.bits[i/64]&(1<<uint(i%64)) != 0
}

func (b *Bitmap) checkRange(i int) {
	if i < 0 || i >= b.size {
		panic("rtl: bitmap index out of range")
	}
}

// HighestSet returns the index of the highest set bit, or -1 if the
// bitmap is all clear. The scheduler uses this to pick the highest
// nonempty priority level in O(words) time.
func (b *Bitmap) HighestSet() int {
	for w := len(b.bits) - 1; w >= 0; w-- {
		if b.bits[w] != 0 {
			bit := 63 - bits.LeadingZeros64(b.bits[w])
			idx := w*64 + bit
			if idx < b.size {
				return idx
			}
		}
	}
	return -1
}

// LowestSet returns the index of the lowest set bit, or -1 if the
// bitmap is all clear.
func (b *Bitmap) LowestSet() int {
	for w := 0; w < len(b.bits); w++ {
		if b.bits[w] != 0 {
			bit := bits.TrailingZeros64(b.bits[w])
			idx := w*64 + bit
			if idx < b.size {
				return idx
			}
		}
	}
	return -1
}

// FindClearRun finds the first run of n consecutive clear bits at or
// after start, returning its starting index or -1 if no such run
// exists.
func (b *Bitmap) FindClearRun(start, n int) int {
	if n <= 0 {
		return start
	}
	run := 0
	runStart := -1
	for i := start; i < b.size; i++ {
		if !b.Test(i) {
			if run == 0 {
				runStart = i
			}
			run++
			if run == n {
				return runStart
			}
		} else {
			run = 0
		}
	}
	return -1
}

// PopCount returns the number of set bits.
func (b *Bitmap) PopCount() int {
	n := 0
	for _, w := range b.bits {
		n += bits.OnesCount64(w)
	}
	return n
}
