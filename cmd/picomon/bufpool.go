package main

import (
	"sync"
	"sync/atomic"
)

// bufPool hands out fixed-size byte slices and tracks how many are checked
// out, so tests can assert that every exit path returned its buffers.
type bufPool struct {
	size        int
	pool        sync.Pool
	outstanding atomic.Int64
}

func newBufPool(size int) *bufPool {
	p := &bufPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// get returns a slice of len == size.
func (p *bufPool) get() []byte {
	bp := p.pool.Get().(*[]byte)
	p.outstanding.Add(1)
	return (*bp)[:p.size]
}

// put returns b to the pool. b must have come from get.
func (p *bufPool) put(b []byte) {
	p.outstanding.Add(-1)
	b = b[:cap(b)]
	p.pool.Put(&b)
}

// Outstanding reports buffers taken and not yet returned.
func (p *bufPool) Outstanding() int64 {
	return p.outstanding.Load()
}
