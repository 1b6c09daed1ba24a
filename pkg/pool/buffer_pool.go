// Package pool provides reusable buffers for the stream writers, which
// encode one small frame per relayed fragment.
package pool

import (
	"bytes"
	"sync"
)

const (
	// FrameBufferSize fits a typical SSE or WebSocket frame (1KB).
	FrameBufferSize = 1024
	// MaxRetainedSize caps what is returned to the pool so one huge reply
	// does not pin memory (64KB).
	MaxRetainedSize = 64 * 1024
)

// BufferPool hands out reset *bytes.Buffer values. A nil pool allocates.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, FrameBufferSize))
			},
		},
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	if p == nil {
		return bytes.NewBuffer(make([]byte, 0, FrameBufferSize))
	}
	b := p.pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns b to the pool. b must not be used afterwards.
func (p *BufferPool) Put(b *bytes.Buffer) {
	if p == nil || b == nil || b.Cap() > MaxRetainedSize {
		return
	}
	b.Reset()
	p.pool.Put(b)
}

// Frames is the process-wide pool used by the HTTP stream writers.
var Frames = NewBufferPool()
