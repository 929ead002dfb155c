package mm

import (
	"github.com/nostalgiaos/kernel/rtl"
)

// memoryBackend is a FileBackend over an in-memory byte slice, used by
// section and fault tests in place of a real file object.
type memoryBackend struct {
	data []byte
}

func newMemoryBackend(size int) *memoryBackend {
	b := &memoryBackend{data: make([]byte, size)}
	for i := range b.data {
		b.data[i] = byte(i)
	}
	return b
}

func (m *memoryBackend) ReadPage(offset uint64, buf []byte) rtl.Status {
	n := copy(buf, m.data[offset:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return rtl.StatusSuccess
}

func (m *memoryBackend) WritePage(offset uint64, buf []byte) rtl.Status {
	copy(m.data[offset:], buf)
	return rtl.StatusSuccess
}

func (m *memoryBackend) Size() uint64 { return uint64(len(m.data)) }
