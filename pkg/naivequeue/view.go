package naivequeue

import (
	"time"

	"go.uber.org/atomic"

	"github.com/syncbench/syncbench/pkg/util"
)

// Role distinguishes producer and consumer views.
type Role int

const (
	Producer Role = iota
	Consumer
)

func (r Role) String() string {
	if r == Producer {
		return "producer"
	}
	return "consumer"
}

// Recorder receives timing samples from a view: the work interval between
// successive operations, and the cost of each batched master exchange. The
// observer implements it; a nil Recorder disables sampling.
type Recorder interface {
	RecordWork(role Role, d time.Duration)
	RecordCost(role Role, d time.Duration)
}

// ViewConfig configures a participant's batching.
type ViewConfig struct {
	// Step is the batch size exchanged with the master, and the local ring
	// capacity.
	Step int
	// ReconfigureAt/NewStep describe a one-shot retune after ReconfigureAt
	// operations through the view.
	ReconfigureAt int
	NewStep       int
}

// View is a per-participant handle. Not safe for concurrent use: one
// goroutine owns one view.
type View[T any] struct {
	master *Master[T]
	role   Role
	local  *util.Ring[T]

	// step is written by the observer (release) and read by the owner at
	// batch boundaries (acquire).
	step atomic.Int32

	cfg    ViewConfig
	ops    int
	rec    Recorder
	lastOp time.Time
}

// NewView creates a view onto m. rec may be nil.
func NewView[T any](m *Master[T], role Role, cfg ViewConfig, rec Recorder) *View[T] {
	if cfg.Step < 1 {
		panic("naivequeue: step must be >= 1")
	}

	v := &View[T]{
		master: m,
		role:   role,
		local:  util.NewRing[T](cfg.Step),
		cfg:    cfg,
		rec:    rec,
	}
	v.step.Store(int32(cfg.Step))
	return v
}

// Step returns the view's current batch size.
func (v *View[T]) Step() int { return int(v.step.Load()) }

// SetStep publishes a new batch size; the view picks it up at its next batch
// boundary. Called by the observer.
func (v *View[T]) SetStep(step int) {
	if step < 1 {
		step = 1
	}
	v.step.Store(int32(step))
}

// LocalLen returns the resident local element count.
func (v *View[T]) LocalLen() int { return v.local.Len() }

// Push appends to the local ring; a full local ring is drained into the
// master as one batch.
func (v *View[T]) Push(x T) {
	v.recordWork()

	if v.local.Full() {
		v.flush()
	}
	v.local.Push(x)
	if v.local.Len() >= v.Step() || v.local.Full() {
		v.flush()
	}

	v.tick()
}

// Pop returns the next element, refilling the local ring with one batched
// dequeue when it runs dry. ok is false at end of stream.
func (v *View[T]) Pop() (T, bool) {
	v.recordWork()

	if v.local.Empty() {
		step := v.applyStep()

		begin := time.Now()
		n := v.master.Dequeue(v.local, step)
		if v.rec != nil && n > 0 {
			v.rec.RecordCost(v.role, time.Since(begin))
		}
		if n < 0 {
			var zero T
			return zero, false
		}
	}

	v.tick()
	return v.local.Pop()
}

// Terminate drains any residual local elements into the master, then counts
// this producer as done.
func (v *View[T]) Terminate() {
	for !v.local.Empty() {
		v.master.Enqueue(v.local, v.local.Len())
	}
	v.master.Terminate()
}

// flush is the producer batch boundary: drain the whole local ring into the
// master, then apply any pending step change.
func (v *View[T]) flush() {
	begin := time.Now()
	for !v.local.Empty() {
		v.master.Enqueue(v.local, v.local.Len())
	}
	if v.rec != nil {
		v.rec.RecordCost(v.role, time.Since(begin))
	}

	v.applyStep()
}

// applyStep resizes the local ring to the current step if it changed.
// Shrinks that would drop elements keep the old capacity (the next boundary
// retries). Returns the step in effect.
func (v *View[T]) applyStep() int {
	step := v.Step()
	if step != v.local.Cap() {
		if err := v.local.Resize(step); err != nil {
			return v.local.Cap()
		}
	}
	return step
}

func (v *View[T]) recordWork() {
	if v.rec == nil {
		return
	}
	now := time.Now()
	if !v.lastOp.IsZero() {
		v.rec.RecordWork(v.role, now.Sub(v.lastOp))
	}
	v.lastOp = now
}

func (v *View[T]) tick() {
	v.ops++
	if v.cfg.ReconfigureAt > 0 && v.ops == v.cfg.ReconfigureAt && v.cfg.NewStep > 0 {
		v.SetStep(v.cfg.NewStep)
	}
}
