package smartfifo

import (
	"sync/atomic"

	"github.com/syncbench/syncbench/pkg/util/debug"
)

// chunk is a fixed-capacity buffer in the FIFO's forward-only chain.
//
// nb packs two facts into one word so consumers learn about new elements and
// new chunks from a single acquire load: bit 0 says whether next is set, the
// remaining bits count elements available for claiming.
type chunk[T any] struct {
	elems []T
	n     int // appended elements, producer-side (guarded by the producer lock)
	read  int // claim cursor, consumer-side (guarded by the consumer lock)

	nb   atomic.Uint64
	next atomic.Pointer[chunk[T]]
	refs atomic.Int32
}

const (
	nbHasNext   = uint64(1)
	nbElemShift = 1
)

func newChunk[T any](size int) *chunk[T] {
	c := &chunk[T]{elems: make([]T, size)}
	c.refs.Store(1)
	return c
}

// sealedChunk wraps an externally prepared, fully written buffer so it can be
// appended wholesale via PushChunk.
func sealedChunk[T any](elems []T) *chunk[T] {
	c := &chunk[T]{elems: elems, n: len(elems)}
	c.refs.Store(1)
	c.nb.Store(uint64(len(elems)) << nbElemShift)
	return c
}

// empty reports whether the chunk has no claimable elements, and whether a
// successor chunk exists.
func (c *chunk[T]) empty() (empty, hasNext bool) {
	nb := c.nb.Load()
	return nb>>nbElemShift == 0, nb&nbHasNext != 0
}

// push appends one element. If the chunk is full, a fresh chunk is allocated,
// the element goes there, and the new chunk is linked and announced; the
// return value is then the new tail. Producer lock held.
func (c *chunk[T]) push(v T) *chunk[T] {
	if c.n == len(c.elems) {
		next := newChunk[T](len(c.elems))
		next.push(v)
		c.next.Store(next)
		c.nb.Add(nbHasNext)
		return next
	}
	c.elems[c.n] = v
	c.n++
	c.nb.Add(1 << nbElemShift)
	return nil
}

// append links an already sealed chunk behind c. c is frozen at its current
// fill: the tail pointer moves on, so no further elements land here.
// Producer lock held.
func (c *chunk[T]) append(next *chunk[T]) {
	c.next.Store(next)
	c.nb.Add(nbHasNext)
}

// claim takes up to *want elements, advancing the claim cursor and
// incrementing the reference count on behalf of the returned range. Consumer
// lock held. The range stays valid until released.
func (c *chunk[T]) claim(want *int) chunkRange[T] {
	c.refs.Add(1)

	nb := c.nb.Load()
	avail := int(nb >> nbElemShift)
	if avail > *want {
		avail = *want
	}

	start := c.read
	c.read += avail
	*want -= avail

	c.nb.Add(^uint64(uint64(avail)<<nbElemShift - 1)) // fetch_sub(avail << shift)

	return chunkRange[T]{c: c, start: start, n: avail}
}

// release drops one reference. The chunk's storage is surrendered once nobody
// points at it and nothing claimable remains.
func (c *chunk[T]) release() {
	refs := c.refs.Add(-1)
	if debug.Enabled && refs < 0 {
		panic("smartfifo: chunk released more times than referenced")
	}
	if refs == 0 && c.nb.Load()>>nbElemShift == 0 {
		metricChunksFreed.Inc()
	}
}

// chunkRange is a claimed contiguous run inside one chunk.
type chunkRange[T any] struct {
	c     *chunk[T]
	start int
	n     int
}
