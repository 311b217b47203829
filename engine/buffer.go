// Package engine holds the streaming primitives shared by the storage facade
// (chunked copies, buffer reuse, checksums) and the mirror that copies
// entries between two providers with a resizable worker pool.
package engine

import (
	"sync"
)

// ChunkSize is the fixed read size of every streamed copy.
const ChunkSize = 16 * 1024

// BufferPool recycles ChunkSize byte buffers so concurrent reads do not
// allocate a new chunk per call.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a pool of ChunkSize buffers.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, ChunkSize)
				return &b
			},
		},
	}
}

// Get retrieves a reusable chunk buffer from the pool.
// The caller should defer calling Put on this buffer once finished.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns the buffer to the pool. Buffers of any other size are dropped.
func (bp *BufferPool) Put(b *[]byte) {
	if b != nil && len(*b) == ChunkSize {
		bp.pool.Put(b)
	}
}
