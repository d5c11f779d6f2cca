package promise

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/syncbench/syncbench/pkg/threadreg"
	"github.com/syncbench/syncbench/pkg/util/debug"
)

// Mode describes who may retune a dynamic promise's step, and whether a step
// decrease unblocks consumers waiting on already-written indices.
type Mode int

const (
	// ModeProducerOnly allows only the producer to call SetStep.
	ModeProducerOnly Mode = iota
	// ModeProducerOnlyUnblock additionally publishes buffered progress when
	// the step decreases.
	ModeProducerOnlyUnblock
	// ModeConsumerOnly allows only consumers to call SetStep; concurrent
	// callers serialise on a lock.
	ModeConsumerOnly
	ModeConsumerOnlyUnblock
	// ModeBoth allows either side to call SetStep.
	ModeBoth
	ModeBothUnblock
	// ModeTimer retunes the step from the producer's observed inter-set
	// interval; SetStep is not available.
	ModeTimer
	ModeTimerUnblock
	// ModeNever accepts SetStep calls and ignores them. The step behaves as
	// if it were static.
	ModeNever
)

func (m Mode) String() string {
	switch m {
	case ModeProducerOnly:
		return "producer_only"
	case ModeProducerOnlyUnblock:
		return "producer_only_unblock"
	case ModeConsumerOnly:
		return "consumer_only"
	case ModeConsumerOnlyUnblock:
		return "consumer_only_unblock"
	case ModeBoth:
		return "both"
	case ModeBothUnblock:
		return "both_unblock"
	case ModeTimer:
		return "timer"
	case ModeTimerUnblock:
		return "timer_unblock"
	case ModeNever:
		return "never"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Unblocks reports whether a step decrease publishes buffered progress.
func (m Mode) Unblocks() bool {
	switch m {
	case ModeProducerOnlyUnblock, ModeConsumerOnlyUnblock, ModeBothUnblock, ModeTimerUnblock:
		return true
	}
	return false
}

// locked reports whether SetStep callers must serialise on a lock.
func (m Mode) locked() bool {
	switch m {
	case ModeConsumerOnly, ModeConsumerOnlyUnblock, ModeBoth, ModeBothUnblock:
		return true
	}
	return false
}

const defaultTimerBudget = 100 * time.Microsecond

// DynPromise is the dynamic-step variant: the publication step can be
// retuned at runtime according to the promise's Mode.
type DynPromise[T any] struct {
	core

	values []T
	mode   Mode

	step    atomic.Uint32
	stepMtx sync.Mutex

	// Producer-private cursors. pub starts at 0, so under step k the first
	// publication happens at set(k): the first window is one set longer
	// than the static family's, whose cursor starts at -1.
	last int64
	pub  int64

	// Highest written index, release-stored on every Set so unblock paths
	// can publish it from another goroutine.
	written     atomic.Int64
	lastUnblock atomic.Int64

	final bool

	// Timer-driven retuning state, producer-private.
	timerBudget time.Duration
	lastSet     time.Time
	avgGap      time.Duration
}

// NewDyn creates a dynamic-step promise. Panics if startStep < 1.
func NewDyn[T any](maxIndex, startStep, threads int, mode Mode, opts ...Option) *DynPromise[T] {
	if startStep < 1 {
		panic("promise: step must be >= 1")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.timerBudget <= 0 {
		o.timerBudget = defaultTimerBudget
	}

	p := &DynPromise[T]{
		core:        newCore(maxIndex, threads, o),
		values:      make([]T, maxIndex+1),
		mode:        mode,
		last:        -1,
		timerBudget: o.timerBudget,
	}
	p.step.Store(uint32(startStep))
	p.written.Store(-1)
	p.lastUnblock.Store(-1)
	return p
}

func (p *DynPromise[T]) Mode() Mode { return p.mode }

// Step returns the current step.
func (p *DynPromise[T]) Step() int { return int(p.step.Load()) }

// Get blocks until index is published, then returns its value.
func (p *DynPromise[T]) Get(id threadreg.ID, index int) T {
	p.wait(id, index)
	return p.values[index]
}

// Set writes values[index] and publishes if a full step of set calls has
// accumulated since the last publication. Producer only.
func (p *DynPromise[T]) Set(index int, v T) {
	p.assertSettable(index, p.last)

	var begin time.Time
	if p.stats != nil {
		begin = time.Now()
	}

	p.values[index] = v
	p.last = int64(index)
	p.written.Store(int64(index))

	if p.mode == ModeTimer || p.mode == ModeTimerUnblock {
		p.timerTick()
	}

	step := int64(p.step.Load())
	if step == 1 || int64(index)-p.pub >= step {
		p.pub = int64(index)
		p.publishMax(int64(index))
	}

	if p.stats != nil {
		p.stats.SetNanos[index] = time.Since(begin).Nanoseconds()
	}
}

// SetImmediate writes and publishes unconditionally.
func (p *DynPromise[T]) SetImmediate(index int, v T) {
	p.assertSettable(index, p.last)

	p.values[index] = v
	p.last = int64(index)
	p.written.Store(int64(index))
	p.pub = int64(index)
	p.publishMax(int64(index))
}

// SetFinal is SetImmediate plus an end-of-production mark.
func (p *DynPromise[T]) SetFinal(index int, v T) {
	p.SetImmediate(index, v)
	p.final = true
}

func (p *DynPromise[T]) Final() bool { return p.final }

// SetStep retunes the step. Who may call it depends on the mode; a decrease
// in an unblock mode immediately publishes the highest written index so
// consumers blocked on already-written values wake up.
func (p *DynPromise[T]) SetStep(newStep int) {
	if newStep < 1 {
		panic("promise: step must be >= 1")
	}

	switch p.mode {
	case ModeNever:
		return
	case ModeTimer, ModeTimerUnblock:
		if debug.Enabled {
			panic("promise: timer-driven promises retune themselves")
		}
		return
	}

	if p.mode.locked() {
		p.stepMtx.Lock()
		defer p.stepMtx.Unlock()
	}

	old := p.step.Swap(uint32(newStep))

	if p.mode.Unblocks() && uint32(newStep) < old {
		p.unblock()
	}
}

// LastUnblockIndex returns the index snapshot taken by the most recent
// unblock publication, -1 if none happened.
func (p *DynPromise[T]) LastUnblockIndex() int {
	return int(p.lastUnblock.Load())
}

// unblock publishes everything written so far.
func (p *DynPromise[T]) unblock() {
	w := p.written.Load()
	if w < 0 {
		return
	}
	p.lastUnblock.Store(w)
	p.publishMax(w)
}

// timerTick shrinks the step when the rolling inter-set interval exceeds the
// budget. Producer-private state only.
func (p *DynPromise[T]) timerTick() {
	now := time.Now()
	if !p.lastSet.IsZero() {
		gap := now.Sub(p.lastSet)
		if p.avgGap == 0 {
			p.avgGap = gap
		} else {
			p.avgGap = (7*p.avgGap + gap) / 8
		}

		if p.avgGap > p.timerBudget {
			if cur := p.step.Load(); cur > 1 {
				p.step.Store(cur / 2)
				if p.mode == ModeTimerUnblock {
					p.unblock()
				}
			}
			p.avgGap = 0
		}
	}
	p.lastSet = now
}
