// Package naivequeue implements a bounded MPMC queue built from one shared
// ring (the master) and per-participant local rings (the views).
//
// Views batch their traffic: a producer view fills its local ring and drains
// it into the master in one critical section; a consumer view refills its
// local ring with one batched dequeue. The batch size is the view's step,
// which an observer may retune while the queue runs.
package naivequeue

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/syncbench/syncbench/pkg/util"
)

var metricMasterDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "syncbench",
	Subsystem: "naivequeue",
	Name:      "master_depth",
	Help:      "Elements resident in the master ring.",
}, []string{"queue"})

// Master is the shared centrepiece: a bounded ring, one lock, and the two
// condition variables views block on.
type Master[T any] struct {
	mtx      sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	ring *util.Ring[T]

	producers int
	done      int

	depth prometheus.Gauge
}

// NewMaster creates a master ring of the given capacity shared by the given
// number of producers. name labels the queue's metrics.
func NewMaster[T any](name string, capacity, producers int) *Master[T] {
	if producers < 1 {
		panic("naivequeue: at least one producer required")
	}

	m := &Master[T]{
		ring:      util.NewRing[T](capacity),
		producers: producers,
		depth:     metricMasterDepth.WithLabelValues(name),
	}
	m.notEmpty = sync.NewCond(&m.mtx)
	m.notFull = sync.NewCond(&m.mtx)
	return m
}

// Cap returns the master ring capacity.
func (m *Master[T]) Cap() int { return m.ring.Cap() }

// Len returns the resident element count.
func (m *Master[T]) Len() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.ring.Len()
}

// Dequeue transfers up to limit elements into the caller's local ring,
// waiting while the master is empty and producers remain. Returns the number
// transferred, or -1 if the master is empty and fully terminated.
func (m *Master[T]) Dequeue(into *util.Ring[T], limit int) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for m.ring.Empty() && !m.terminated() {
		m.notEmpty.Wait()
	}

	if m.ring.Empty() && m.terminated() {
		return -1
	}

	n := 0
	for ; n < limit && !m.ring.Empty() && !into.Full(); n++ {
		v, _ := m.ring.Pop()
		into.Push(v)
	}

	if n > 0 {
		m.depth.Set(float64(m.ring.Len()))
		m.notFull.Broadcast()
	}
	return n
}

// Enqueue transfers up to limit elements from the caller's local ring into
// the master, waiting while the master is full.
func (m *Master[T]) Enqueue(from *util.Ring[T], limit int) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for m.ring.Full() {
		m.notFull.Wait()
	}

	n := 0
	for ; n < limit && !m.ring.Full() && !from.Empty(); n++ {
		v, _ := from.Pop()
		m.ring.Push(v)
	}

	if n > 0 {
		m.depth.Set(float64(m.ring.Len()))
		m.notEmpty.Broadcast()
	}
	return n
}

// Terminate marks one producer as done; the final termination wakes every
// blocked consumer so they can observe the end of stream.
func (m *Master[T]) Terminate() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.done++
	if m.done > m.producers {
		panic(fmt.Sprintf("naivequeue: %d terminations for %d producers", m.done, m.producers))
	}
	if m.terminated() {
		m.notEmpty.Broadcast()
	}
}

// Terminated reports whether every producer has terminated.
func (m *Master[T]) Terminated() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.terminated()
}

func (m *Master[T]) terminated() bool {
	return m.done == m.producers
}
