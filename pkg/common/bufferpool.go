package common

import (
	"sync"
)

// BufferPool recycles fixed-size frame buffers between the PDU codec and
// the links.
type BufferPool struct {
	pool sync.Pool
}

// Frame buffer sizes.
const (
	SmallBufferSize  = 128   // control PDUs
	MediumBufferSize = 1500  // data PDUs within a typical link MTU
	LargeBufferSize  = 65536 // maximum UDP datagram
)

var (
	SmallBufferPool  = NewBufferPool(SmallBufferSize)
	MediumBufferPool = NewBufferPool(MediumBufferSize)
	LargeBufferPool  = NewBufferPool(LargeBufferSize)
)

// NewBufferPool creates a pool handing out buffers of the given size.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Get retrieves a zeroed buffer. Return it with Put.
func (bp *BufferPool) Get() []byte {
	bufPtr := bp.pool.Get().(*[]byte)
	return (*bufPtr)[:cap(*bufPtr)]
}

// Put clears buf and returns it to the pool.
func (bp *BufferPool) Put(buf []byte) {
	clear(buf)
	bp.pool.Put(&buf)
}

// GetBuffer returns a buffer of length size from the smallest global pool
// that fits. Larger requests are allocated directly.
func GetBuffer(size int) []byte {
	switch {
	case size <= SmallBufferSize:
		return SmallBufferPool.Get()[:size]
	case size <= MediumBufferSize:
		return MediumBufferPool.Get()[:size]
	case size <= LargeBufferSize:
		return LargeBufferPool.Get()[:size]
	}
	return make([]byte, size)
}

// PutBuffer returns a buffer obtained from GetBuffer to its pool.
func PutBuffer(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case SmallBufferSize:
		SmallBufferPool.Put(buf[:SmallBufferSize])
	case MediumBufferSize:
		MediumBufferPool.Put(buf[:MediumBufferSize])
	case LargeBufferSize:
		LargeBufferPool.Put(buf[:LargeBufferSize])
	}
}
