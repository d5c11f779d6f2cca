package promise

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProducerOnlyUnblock, step 4 -> 1: sets 0..3 stay buffered, the step
// decrease publishes index 3 immediately, then every set publishes.
func TestDynamicStepUnblockScenario(t *testing.T) {
	p := NewDyn[int](7, 4, 2, ModeProducerOnlyUnblock)

	for i := 0; i < 4; i++ {
		p.Set(i, i)
		require.Equal(t, -1, p.Current(), "no publication may happen under step 4")
	}

	p.SetStep(1)
	require.Equal(t, 3, p.Current(), "shrinking the step must publish buffered progress")
	require.Equal(t, 3, p.LastUnblockIndex())

	for i := 4; i < 8; i++ {
		p.Set(i, i)
		require.Equal(t, i, p.Current())
	}

	for i := 0; i < 8; i++ {
		assert.Equal(t, i, p.Get(consumer, i))
	}
}

func TestDynamicNoUnblockKeepsBuffered(t *testing.T) {
	p := NewDyn[int](7, 4, 1, ModeProducerOnly)

	for i := 0; i < 4; i++ {
		p.Set(i, i)
	}
	p.SetStep(1)
	assert.Equal(t, -1, p.Current(), "without unblock, the decrease publishes nothing")

	// the new step takes effect on the next set
	p.Set(4, 4)
	assert.Equal(t, 4, p.Current())
}

func TestDynamicStepIncrease(t *testing.T) {
	p := NewDyn[int](9, 1, 1, ModeProducerOnlyUnblock)

	p.Set(0, 0)
	require.Equal(t, 0, p.Current())

	p.SetStep(4)
	require.Equal(t, 0, p.Current(), "an increase never unblocks")

	p.Set(1, 1)
	p.Set(2, 2)
	p.Set(3, 3)
	require.Equal(t, 0, p.Current())
	p.Set(4, 4)
	require.Equal(t, 4, p.Current())
}

func TestConsumerUnblockWakesWaiter(t *testing.T) {
	p := NewDyn[int](7, 8, 1, ModeConsumerOnlyUnblock)

	for i := 0; i < 5; i++ {
		p.Set(i, i*2)
	}

	got := make(chan int)
	go func() {
		got <- p.Get(consumer, 4)
	}()

	select {
	case <-got:
		t.Fatal("get(4) must block while index 4 is unpublished")
	case <-time.After(50 * time.Millisecond):
	}

	// A consumer-side step decrease frees the waiter.
	p.SetStep(1)

	select {
	case v := <-got:
		assert.Equal(t, 8, v)
	case <-time.After(time.Second):
		t.Fatal("step decrease did not unblock the waiting consumer")
	}
}

func TestModeNeverIgnoresSetStep(t *testing.T) {
	p := NewDyn[int](7, 4, 1, ModeNever)
	for i := 0; i < 4; i++ {
		p.Set(i, i)
	}
	p.SetStep(1)
	assert.Equal(t, -1, p.Current())
	assert.Equal(t, 4, p.Step())
}

func TestTimerModeRejectsSetStep(t *testing.T) {
	p := NewDyn[int](7, 4, 1, ModeTimer)
	assert.Panics(t, func() {
		p.SetStep(1)
	})
}

func TestTimerModeShrinksStepWhenSetsAreSlow(t *testing.T) {
	p := NewDyn[int](63, 16, 1, ModeTimer, WithTimerBudget(time.Microsecond))

	for i := 0; i < 8; i++ {
		p.Set(i, i)
		time.Sleep(time.Millisecond)
	}

	assert.Less(t, p.Step(), 16, "slow sets must shrink a timer-driven step")
	assert.GreaterOrEqual(t, p.Step(), 1)
}

func TestTimerUnblockPublishesOnShrink(t *testing.T) {
	p := NewDyn[int](63, 16, 1, ModeTimerUnblock, WithTimerBudget(time.Microsecond))

	for i := 0; i < 8; i++ {
		p.Set(i, i)
		time.Sleep(time.Millisecond)
	}

	require.Less(t, p.Step(), 16)
	assert.GreaterOrEqual(t, p.LastUnblockIndex(), 0, "the shrink must have published buffered progress")
	assert.GreaterOrEqual(t, p.Current(), p.LastUnblockIndex())
}

func TestDynamicSetImmediate(t *testing.T) {
	p := NewDyn[int](7, 8, 1, ModeBoth)
	p.Set(0, 0)
	require.Equal(t, -1, p.Current())
	p.SetImmediate(1, 1)
	require.Equal(t, 1, p.Current())
	p.SetFinal(2, 2)
	require.Equal(t, 2, p.Current())
	require.True(t, p.Final())
}

func TestDynamicInvalidStepPanics(t *testing.T) {
	assert.Panics(t, func() { NewDyn[int](3, 0, 1, ModeBoth) })

	p := NewDyn[int](3, 2, 1, ModeBoth)
	assert.Panics(t, func() { p.SetStep(0) })
}
