// Package promise implements forward-only, index-addressed rendezvous objects
// for staged parallel pipelines.
//
// A promise is shared between exactly one producer and any number of
// consumers. The producer sets values at strictly increasing indices; a
// consumer asks for an index and blocks until the producer has published at
// least that far. Publication is batched: under a step of k the producer
// makes its progress visible only every k sets, trading wake-up frequency
// for synchronization cost.
package promise

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/syncbench/syncbench/pkg/threadreg"
	"github.com/syncbench/syncbench/pkg/util/debug"
)

// WaitMode selects how consumers wait for publication.
type WaitMode int

const (
	// Passive parks the consumer on a condition variable.
	Passive WaitMode = iota
	// Active spins on an atomic load.
	Active
)

func (m WaitMode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("waitmode(%d)", int(m))
	}
}

// Yield to the scheduler periodically so an active waiter cannot starve the
// producer on an oversubscribed machine.
const activeSpinYield = 1 << 10

// Stats carries optional debug counters. Enabled with WithStats; nil
// otherwise so the data path pays nothing.
type Stats struct {
	StrongGets atomic.Uint64
	WeakGets   atomic.Uint64
	WaitLoops  atomic.Uint64

	// SetNanos[i] is the duration of Set(i), producer-written only.
	SetNanos []int64
}

type options struct {
	wait        WaitMode
	stats       bool
	timerBudget time.Duration
}

type Option func(*options)

// WithWaitMode selects spinning or parking consumers. Default is Passive.
func WithWaitMode(m WaitMode) Option {
	return func(o *options) { o.wait = m }
}

// WithStats enables debug counters.
func WithStats() Option {
	return func(o *options) { o.stats = true }
}

// WithTimerBudget sets the inter-set budget for timer-driven promises. When
// the rolling average time between sets exceeds the budget, the step shrinks.
func WithTimerBudget(d time.Duration) Option {
	return func(o *options) { o.timerBudget = d }
}

// core holds the index machinery shared by the static and dynamic variants.
type core struct {
	maxIndex int
	mode     WaitMode

	// Highest published index, -1 before the first publication.
	current atomic.Int64

	// Per-consumer cache of the last observed published index, indexed by
	// registry ID. Each slot is owned by a single consumer goroutine.
	weak []int64

	// Held by pointer: core is built by value and copied into its owner, and
	// cond must lock the same mutex the owner's methods lock.
	mtx  *sync.Mutex
	cond *sync.Cond

	stats *Stats
}

func newCore(maxIndex, threads int, o options) core {
	if maxIndex < 0 {
		panic("promise: maxIndex must be >= 0")
	}
	if threads < 1 {
		panic("promise: threads must be >= 1")
	}

	c := core{
		maxIndex: maxIndex,
		mode:     o.wait,
		weak:     make([]int64, threads),
		mtx:      &sync.Mutex{},
	}
	c.current.Store(-1)
	for i := range c.weak {
		c.weak[i] = -1
	}
	c.cond = sync.NewCond(c.mtx)

	if o.stats {
		c.stats = &Stats{SetNanos: make([]int64, maxIndex+1)}
	}
	return c
}

// wait blocks until the published index covers index, then refreshes the
// caller's weak cache. The weak-cache fast path performs no atomic loads.
func (c *core) wait(id threadreg.ID, index int) {
	if debug.Enabled && index > c.maxIndex {
		panic(fmt.Sprintf("promise: get(%d) beyond max index %d", index, c.maxIndex))
	}

	if c.weak[id] >= int64(index) {
		if c.stats != nil {
			c.stats.WeakGets.Inc()
		}
		return
	}

	if c.stats != nil {
		c.stats.StrongGets.Inc()
	}

	want := int64(index)
	if c.mode == Active {
		cur := c.current.Load()
		for spins := 1; cur < want; spins++ {
			if c.stats != nil {
				c.stats.WaitLoops.Inc()
			}
			if spins%activeSpinYield == 0 {
				runtime.Gosched()
			}
			cur = c.current.Load()
		}
	} else if c.current.Load() < want {
		c.mtx.Lock()
		for c.current.Load() < want {
			c.cond.Wait()
		}
		c.mtx.Unlock()
	}

	c.weak[id] = c.current.Load()
}

// publish release-stores the published index and wakes passive waiters.
// The producer only ever publishes increasing indices.
func (c *core) publish(index int64) {
	if c.mode == Passive {
		c.mtx.Lock()
		c.current.Store(index)
		c.cond.Broadcast()
		c.mtx.Unlock()
		return
	}
	c.current.Store(index)
}

// publishMax advances the published index to at least index. Used by unblock
// paths that race with the producer's own publications.
func (c *core) publishMax(index int64) {
	if c.mode == Passive {
		c.mtx.Lock()
		if c.current.Load() < index {
			c.current.Store(index)
			c.cond.Broadcast()
		}
		c.mtx.Unlock()
		return
	}
	for {
		cur := c.current.Load()
		if cur >= index || c.current.CompareAndSwap(cur, index) {
			return
		}
	}
}

// Current returns the highest published index, -1 before the first
// publication.
func (c *core) Current() int {
	return int(c.current.Load())
}

// MaxIndex returns the inclusive upper bound of valid indices.
func (c *core) MaxIndex() int {
	return c.maxIndex
}

// Stats returns the debug counters, nil unless WithStats was given.
func (c *core) Stats() *Stats {
	return c.stats
}

// assertSettable enforces monotone, in-range, set-once indices in debug
// builds. last is the producer's previously written index.
func (c *core) assertSettable(index int, last int64) {
	if !debug.Enabled {
		return
	}
	if index < 0 || index > c.maxIndex {
		panic(fmt.Sprintf("promise: set(%d) outside [0, %d]", index, c.maxIndex))
	}
	if int64(index) <= last {
		panic(fmt.Sprintf("promise: set(%d) after set(%d), indices must increase", index, last))
	}
}
