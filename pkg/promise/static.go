package promise

import (
	"time"

	"github.com/syncbench/syncbench/pkg/threadreg"
)

// Promise is the static-step variant: the publication step is fixed at
// construction. One producer, any number of consumers.
type Promise[T any] struct {
	core

	values []T
	step   int64

	// Producer-private cursors.
	last  int64 // last written index
	pub   int64 // last published index
	final bool
}

// New creates a promise for indices 0..maxIndex with the given publication
// step and consumer count. Panics if step < 1.
func New[T any](maxIndex, step, threads int, opts ...Option) *Promise[T] {
	if step < 1 {
		panic("promise: step must be >= 1")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Promise[T]{
		core:   newCore(maxIndex, threads, o),
		values: make([]T, maxIndex+1),
		step:   int64(step),
		last:   -1,
		pub:    -1,
	}
}

// Get blocks until index is published, then returns its value. id is the
// caller's registry identity; repeated gets for covered indices are served
// from the per-consumer cache without touching the shared index.
func (p *Promise[T]) Get(id threadreg.ID, index int) T {
	p.wait(id, index)
	return p.values[index]
}

// Set writes values[index] and publishes if a full step has accumulated
// since the last publication. Producer only.
func (p *Promise[T]) Set(index int, v T) {
	p.assertSettable(index, p.last)

	var begin time.Time
	if p.stats != nil {
		begin = time.Now()
	}

	p.values[index] = v
	p.last = int64(index)

	if p.step == 1 || int64(index)-p.pub >= p.step {
		p.pub = int64(index)
		p.publish(int64(index))
	}

	if p.stats != nil {
		p.stats.SetNanos[index] = time.Since(begin).Nanoseconds()
	}
}

// SetImmediate writes and publishes unconditionally, regardless of step.
func (p *Promise[T]) SetImmediate(index int, v T) {
	p.assertSettable(index, p.last)

	p.values[index] = v
	p.last = int64(index)
	p.pub = int64(index)
	p.publish(int64(index))
}

// SetFinal is SetImmediate plus an end-of-production mark.
func (p *Promise[T]) SetFinal(index int, v T) {
	p.SetImmediate(index, v)
	p.final = true
}

// Final reports whether SetFinal has been called.
func (p *Promise[T]) Final() bool {
	return p.final
}

// Step returns the fixed publication step.
func (p *Promise[T]) Step() int {
	return int(p.step)
}

// VoidPromise is the payload-free specialisation: it synchronizes on indices
// alone.
type VoidPromise struct {
	p Promise[struct{}]
}

// NewVoid creates a void promise. Same preconditions as New.
func NewVoid(maxIndex, step, threads int, opts ...Option) *VoidPromise {
	return &VoidPromise{p: *New[struct{}](maxIndex, step, threads, opts...)}
}

// Get blocks until index is published.
func (v *VoidPromise) Get(id threadreg.ID, index int) {
	v.p.wait(id, index)
}

func (v *VoidPromise) Set(index int)          { v.p.Set(index, struct{}{}) }
func (v *VoidPromise) SetImmediate(index int) { v.p.SetImmediate(index, struct{}{}) }
func (v *VoidPromise) SetFinal(index int)     { v.p.SetFinal(index, struct{}{}) }
func (v *VoidPromise) Final() bool            { return v.p.Final() }
func (v *VoidPromise) Step() int              { return v.p.Step() }
func (v *VoidPromise) Current() int           { return v.p.Current() }
func (v *VoidPromise) MaxIndex() int          { return v.p.MaxIndex() }
func (v *VoidPromise) Stats() *Stats          { return v.p.Stats() }
