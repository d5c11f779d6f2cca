package observer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/syncbench/syncbench/pkg/naivequeue"
)

type fakeView struct {
	mtx  sync.Mutex
	step int
	sets int
}

func newFakeView(step int) *fakeView { return &fakeView{step: step} }

func (f *fakeView) Step() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.step
}

func (f *fakeView) SetStep(s int) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.step = s
	f.sets++
}

// fill feeds exactly window samples into each of the four rings.
func fill(o *Observer, window int, tp, tc, cp, cs time.Duration) {
	for i := 0; i < window; i++ {
		o.RecordWork(naivequeue.Producer, tp)
		o.RecordWork(naivequeue.Consumer, tc)
		o.RecordCost(naivequeue.Producer, cp)
		o.RecordCost(naivequeue.Consumer, cs)
	}
}

// A producer ten times slower than the consumer: the producer step grows to
// amortise its master exchanges, the consumer step stays at its floor.
func TestSlowProducerGrowsProducerStep(t *testing.T) {
	o := New("tuned", Config{Window: 16, MaxStep: 64})

	prod := newFakeView(4)
	cons := newFakeView(4)
	o.Watch(naivequeue.Producer, prod)
	o.Watch(naivequeue.Consumer, cons)

	fill(o, 16, 10*time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond)

	require.Equal(t, 1, prod.sets, "rings full exactly once must tune exactly once")
	assert.Greater(t, prod.Step(), 4, "the bound side's step must grow")
	assert.LessOrEqual(t, cons.Step(), 4, "the fast side must not grow")
}

func TestSlowConsumerGrowsConsumerStep(t *testing.T) {
	o := New("tuned", Config{Window: 16, MaxStep: 64})

	prod := newFakeView(4)
	cons := newFakeView(4)
	o.Watch(naivequeue.Producer, prod)
	o.Watch(naivequeue.Consumer, cons)

	fill(o, 16, time.Millisecond, 10*time.Millisecond, time.Millisecond, time.Millisecond)

	assert.Greater(t, cons.Step(), 4)
	assert.LessOrEqual(t, prod.Step(), 4)
}

// Invariant: every published step lands in [1, MaxStep].
func TestStepsAreClamped(t *testing.T) {
	o := New("clamped", Config{Window: 4, MaxStep: 8})

	prod := newFakeView(2)
	cons := newFakeView(2)
	o.Watch(naivequeue.Producer, prod)
	o.Watch(naivequeue.Consumer, cons)

	fill(o, 4, time.Second, time.Microsecond, time.Second, time.Nanosecond)

	assert.Equal(t, 8, prod.Step(), "huge ratios clamp to MaxStep")
	assert.GreaterOrEqual(t, cons.Step(), 1)
	assert.LessOrEqual(t, cons.Step(), 8)
}

func TestRingsResetAfterTuning(t *testing.T) {
	const window = 8

	o := New("reset", Config{Window: window, MaxStep: 64})
	prod := newFakeView(4)
	o.Watch(naivequeue.Producer, prod)

	fill(o, window, 10*time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond)
	require.Equal(t, 1, prod.sets)

	// A partial refill must not trigger a second tune.
	fill(o, window-1, 10*time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond)
	require.Equal(t, 1, prod.sets)

	o.RecordWork(naivequeue.Producer, 10*time.Millisecond)
	o.RecordWork(naivequeue.Consumer, time.Millisecond)
	o.RecordCost(naivequeue.Producer, time.Millisecond)
	o.RecordCost(naivequeue.Consumer, time.Millisecond)
	require.Equal(t, 2, prod.sets, "a complete refill tunes again")
}

func TestNoTuneBeforeAllRingsFull(t *testing.T) {
	o := New("partial", Config{Window: 4, MaxStep: 64})
	prod := newFakeView(4)
	o.Watch(naivequeue.Producer, prod)

	// Leave the consumer cost ring empty.
	for i := 0; i < 10; i++ {
		o.RecordWork(naivequeue.Producer, time.Millisecond)
		o.RecordWork(naivequeue.Consumer, time.Millisecond)
		o.RecordCost(naivequeue.Producer, time.Millisecond)
	}
	assert.Equal(t, 0, prod.sets)
}

// End to end: real views under observer control keep conservation, and every
// step the observer publishes stays in range.
func TestObservedQueueEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const n = 5000

	o := New("e2e", Config{Window: 32, MaxStep: 16})
	m := naivequeue.NewMaster[int]("e2e", 16, 1)

	done := make(chan int)
	go func() {
		v := naivequeue.NewView(m, naivequeue.Consumer, naivequeue.ViewConfig{Step: 2}, o)
		o.Watch(naivequeue.Consumer, v)
		count := 0
		for {
			if _, ok := v.Pop(); !ok {
				break
			}
			count++
		}
		done <- count
	}()

	p := naivequeue.NewView(m, naivequeue.Producer, naivequeue.ViewConfig{Step: 2}, o)
	o.Watch(naivequeue.Producer, p)
	for i := 0; i < n; i++ {
		p.Push(i)
		require.GreaterOrEqual(t, p.Step(), 1)
		require.LessOrEqual(t, p.Step(), 16)
	}
	p.Terminate()

	require.Equal(t, n, <-done)
}
