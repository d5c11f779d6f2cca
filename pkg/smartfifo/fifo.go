// Package smartfifo implements a bounded-allocation MPMC queue carried by a
// forward-only chain of fixed-size chunks.
//
// Producers append under a short tail lock; consumers claim contiguous
// ranges of elements under a head lock and hand the claimed ranges around by
// reference, so element data is never copied out of the chunks. Chunk
// visibility and element visibility ride on a single packed atomic per
// chunk.
package smartfifo

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricChunksAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncbench",
		Subsystem: "smartfifo",
		Name:      "chunks_allocated_total",
		Help:      "Number of FIFO chunks allocated.",
	})

	metricChunksFreed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncbench",
		Subsystem: "smartfifo",
		Name:      "chunks_freed_total",
		Help:      "Number of FIFO chunks whose storage was surrendered.",
	})
)

const (
	doneShift = 32
	prodMask  = uint64(1)<<doneShift - 1
)

// FIFO is the shared queue body. Create views with NewProducerView and
// NewConsumerView, or drive it directly.
type FIFO[T any] struct {
	// Low 32 bits count registered producers, high 32 bits count
	// terminated producers. Equality means end of stream.
	producersDone atomic.Uint64

	head *chunk[T] // consumer lock
	tail *chunk[T] // producer lock

	prodMtx sync.Mutex
	consMtx sync.Mutex

	// wake holds at most one token, like a binary semaphore: a push posts it
	// if absent, the single blocked consumer (consumers serialise on
	// consMtx) takes it.
	wake chan struct{}

	chunkSize int
}

// New creates a FIFO with the given chunk capacity.
func New[T any](chunkSize int) *FIFO[T] {
	if chunkSize < 1 {
		panic("smartfifo: chunk size must be >= 1")
	}
	c := newChunk[T](chunkSize)
	metricChunksAllocated.Inc()
	return &FIFO[T]{
		head:      c,
		tail:      c,
		wake:      make(chan struct{}, 1),
		chunkSize: chunkSize,
	}
}

// AddProducer registers a producer. Termination requires one
// TerminateProducer call per registration.
func (f *FIFO[T]) AddProducer() {
	f.producersDone.Add(1)
}

// TerminateProducer marks one producer as done. When the last producer
// terminates, a blocked consumer (there is at most one, the rest queue on
// the consumer lock) is woken to observe the end of stream.
func (f *FIFO[T]) TerminateProducer() {
	nd := f.producersDone.Add(1 << doneShift)
	done, producers := nd>>doneShift, nd&prodMask
	if done > producers {
		panic(fmt.Sprintf("smartfifo: %d terminations for %d producers", done, producers))
	}
	if done == producers {
		f.signal()
	}
}

// Terminated reports whether every registered producer has terminated.
func (f *FIFO[T]) Terminated() bool {
	nd := f.producersDone.Load()
	return nd>>doneShift == nd&prodMask
}

func (f *FIFO[T]) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Push appends one element and wakes a blocked consumer if any.
func (f *FIFO[T]) Push(v T) {
	f.prodMtx.Lock()
	if next := f.tail.push(v); next != nil {
		metricChunksAllocated.Inc()
		f.tail = next
	}
	f.prodMtx.Unlock()

	f.signal()
}

// PushChunk freezes the current tail at its fill level and appends the given
// pre-filled buffer as a whole chunk. The slice is owned by the FIFO
// afterwards.
func (f *FIFO[T]) PushChunk(elems []T) {
	next := sealedChunk(elems)
	metricChunksAllocated.Inc()

	f.prodMtx.Lock()
	if f.tail.next.Load() != nil {
		f.prodMtx.Unlock()
		panic("smartfifo: tail is not the tail")
	}
	f.tail.append(next)
	f.tail = next
	f.prodMtx.Unlock()

	f.signal()
}

// Pop claims up to n elements. It blocks while the queue is empty and not
// terminated. After termination it drains whatever remains; the returned
// Elements is empty exactly at end of stream.
//
// A single claim spans at most two adjacent chunks.
func (f *FIFO[T]) Pop(n int) *Elements[T] {
	f.consMtx.Lock()
	defer f.consMtx.Unlock()

	for {
		empty, hasNext := f.head.empty()
		if !empty {
			break
		}
		if hasNext {
			f.advanceHead()
			continue
		}
		if f.Terminated() {
			// Re-check: a producer may have raced its last elements in
			// between the emptiness check and termination.
			if empty, hasNext = f.head.empty(); empty && !hasNext {
				return &Elements[T]{}
			}
			continue
		}
		// Holding consMtx while blocked is deliberate: only one consumer
		// ever waits on the semaphore, producers never touch consMtx.
		<-f.wake
	}

	remaining := n
	var ranges []chunkRange[T]

	if r := f.head.claim(&remaining); r.n > 0 {
		ranges = append(ranges, r)
	} else {
		r.c.release()
	}

	if remaining > 0 {
		if empty, hasNext := f.head.empty(); empty && hasNext {
			f.advanceHead()
			if r := f.head.claim(&remaining); r.n > 0 {
				ranges = append(ranges, r)
			} else {
				r.c.release()
			}
		}
	}

	return &Elements[T]{ranges: ranges}
}

// advanceHead moves to the successor chunk. Consumer lock held; the caller
// has observed hasNext.
func (f *FIFO[T]) advanceHead() {
	next := f.head.next.Load()
	f.head.release()
	f.head = next
}

// Elements is a claimed batch: an iterator over at most two contiguous
// ranges. Call Release once consumed so chunk storage can be surrendered.
type Elements[T any] struct {
	ranges []chunkRange[T]
	ri, ei int
}

// Empty reports end of stream when returned by Pop.
func (e *Elements[T]) Empty() bool {
	return len(e.ranges) == 0
}

// Len returns the total number of claimed elements.
func (e *Elements[T]) Len() int {
	n := 0
	for _, r := range e.ranges {
		n += r.n
	}
	return n
}

// Next yields the next claimed element.
func (e *Elements[T]) Next() (T, bool) {
	var zero T
	for e.ri < len(e.ranges) {
		r := e.ranges[e.ri]
		if e.ei < r.n {
			v := r.c.elems[r.start+e.ei]
			e.ei++
			return v, true
		}
		e.ri++
		e.ei = 0
	}
	return zero, false
}

// Release drops the batch's chunk references.
func (e *Elements[T]) Release() {
	for _, r := range e.ranges {
		r.c.release()
	}
	e.ranges = nil
}
