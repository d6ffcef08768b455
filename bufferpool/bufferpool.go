// Package bufferpool implements the record store's reusable scratch buffers.
//
// Every DescriptorStore operation that needs scratch space (a read buffer, a
// swap temporary, a read-modify-write buffer) borrows one from a Pool rather
// than allocating. The spec models this as "per-thread" buffers; Go has no stable
// notion of an OS thread from application code, so a Pool instead hands out
// a bounded number of concurrently-held slots (its "concurrency") via a
// counting semaphore. Two concurrent Acquire calls are always backed by
// distinct buffers — the property callers actually rely on, e.g. when a sort
// swap needs to compare two records at once.
package bufferpool

import (
	"context"

	"github.com/valyala/bytebufferpool"
)

// Pool hands out fixed-size scratch buffers, bounded to `concurrency`
// simultaneously outstanding slots.
type Pool struct {
	size  int
	slots chan *bytebufferpool.ByteBuffer
}

// New creates a Pool of reusable buffers of the given size, with room for
// `concurrency` buffers to be held at once. concurrency must be >= 1; a
// sort that swaps via two simultaneously-held buffers additionally
// requires concurrency >= 2.
func New(size, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Pool{
		size:  size,
		slots: make(chan *bytebufferpool.ByteBuffer, concurrency),
	}
	for i := 0; i < concurrency; i++ {
		buf := new(bytebufferpool.ByteBuffer)
		buf.Set(make([]byte, size))
		p.slots <- buf
	}
	return p
}

// Size returns the fixed width of buffers this pool hands out.
func (p *Pool) Size() int { return p.size }

// Concurrency returns the number of slots this pool was constructed with.
func (p *Pool) Concurrency() int { return cap(p.slots) }

// Buffer is a borrowed, pool-owned scratch buffer. It must be returned via
// Release; it must not be retained past the call that acquired it.
type Buffer struct {
	pool *Pool
	buf  *bytebufferpool.ByteBuffer
}

// Bytes returns the buffer's backing slice, rewound to length Pool.Size().
func (b *Buffer) Bytes() []byte { return b.buf.B }

// Release returns the buffer to its pool. Calling Release twice, or using
// Bytes() after Release, is a programmer error.
func (b *Buffer) Release() {
	b.pool.slots <- b.buf
}

// Acquire blocks until a slot is free (or ctx is done) and returns a buffer
// of Pool.Size() bytes, rewound to zero but not necessarily zeroed.
func (p *Pool) Acquire(ctx context.Context) (*Buffer, error) {
	select {
	case buf := <-p.slots:
		buf.Reset()
		buf.Set(make([]byte, p.size))
		return &Buffer{pool: p, buf: buf}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcquireTwo is a convenience for the common case of needing two distinct
// scratch buffers at once (e.g. comparing or swapping two records). It
// acquires them in a fixed order to avoid pool starvation deadlocks when
// Pool.Concurrency() == 2.
func (p *Pool) AcquireTwo(ctx context.Context) (a, b *Buffer, err error) {
	a, err = p.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	b, err = p.Acquire(ctx)
	if err != nil {
		a.Release()
		return nil, nil, err
	}
	return a, b, nil
}

// Allocate returns a one-shot buffer of the requested size that does not
// come from the fixed-size slot pool and does not need to be released. It
// is used for bulk operations (e.g. bulkSwap of n records) whose size is
// not known until the call.
func Allocate(size int) []byte {
	return make([]byte, size)
}
