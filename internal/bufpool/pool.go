// Package bufpool provides pooled scratch buffers for probe responses and
// emulated command data.
package bufpool

import "sync"

// Size-bucketed pools with power-of-2 sizes (512B, 4KB, 64KB).
// Requests above the largest bucket are allocated directly and never pooled.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size thresholds
const (
	size512 = 512
	size4k  = 4 * 1024
	size64k = 64 * 1024
)

var globalPool = struct {
	pool512 sync.Pool
	pool4k  sync.Pool
	pool64k sync.Pool
}{
	pool512: sync.Pool{New: func() any { b := make([]byte, size512); return &b }},
	pool4k:  sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool64k: sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
}

// Get returns a zeroed buffer of exactly size bytes.
// Caller must call Put when done.
func Get(size int) []byte {
	var buf []byte
	switch {
	case size <= 0:
		return nil
	case size <= size512:
		buf = (*globalPool.pool512.Get().(*[]byte))[:size]
	case size <= size4k:
		buf = (*globalPool.pool4k.Get().(*[]byte))[:size]
	case size <= size64k:
		buf = (*globalPool.pool64k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
	clear(buf)
	return buf
}

// Put returns a buffer to the pool.
// The buffer's capacity determines which pool it goes to.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size512:
		globalPool.pool512.Put(&buf)
	case size4k:
		globalPool.pool4k.Put(&buf)
	case size64k:
		globalPool.pool64k.Put(&buf)
		// Buffers with non-standard capacity are not returned to pool
	}
}
