package smartfifo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func drain[T any](f *FIFO[T], batch int) []T {
	var out []T
	for {
		e := f.Pop(batch)
		if e.Empty() {
			return out
		}
		for {
			v, ok := e.Next()
			if !ok {
				break
			}
			out = append(out, v)
		}
		e.Release()
	}
}

func TestPushPopSingleChunk(t *testing.T) {
	f := New[int](16)
	f.AddProducer()

	for i := 0; i < 10; i++ {
		f.Push(i)
	}
	f.TerminateProducer()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, drain(f, 4))
}

func TestPopSpansTwoChunks(t *testing.T) {
	f := New[int](4)
	f.AddProducer()
	for i := 0; i < 6; i++ {
		f.Push(i)
	}

	e := f.Pop(6)
	require.Equal(t, 6, e.Len(), "a claim may span two adjacent chunks")
	for i := 0; i < 6; i++ {
		v, ok := e.Next()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := e.Next()
	require.False(t, ok)
	e.Release()

	f.TerminateProducer()
	assert.Empty(t, drain(f, 4))
}

func TestChunkSizeOneDegeneratesToHandoff(t *testing.T) {
	f := New[int](1)
	f.AddProducer()
	for i := 0; i < 100; i++ {
		f.Push(i)
	}
	f.TerminateProducer()

	got := drain(f, 1)
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := New[int](8)
	f.AddProducer()

	got := make(chan int)
	go func() {
		e := f.Pop(1)
		v, ok := e.Next()
		require.True(t, ok)
		e.Release()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("pop returned before any push")
	case <-time.After(50 * time.Millisecond):
	}

	f.Push(42)
	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("push did not wake the blocked consumer")
	}

	f.TerminateProducer()
}

func TestTerminationWakesConsumer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := New[int](8)
	f.AddProducer()

	done := make(chan struct{})
	go func() {
		e := f.Pop(1)
		assert.True(t, e.Empty())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	f.TerminateProducer()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("termination did not unblock the consumer")
	}
}

// One producer, three consumers: the union of popped values is exactly the
// pushed set, no duplicates, no gaps, and the residual after clean shutdown
// is zero.
func TestFanOutConservation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const n = 10_001 // 0..10_000 inclusive
	f := New[int](16)
	f.AddProducer()

	var (
		mtx    sync.Mutex
		popped = make(map[int]int)
		wg     sync.WaitGroup
	)

	for c := 0; c < 3; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := NewConsumerView(f, ViewConfig{Batch: 8})
			var local []int
			for {
				x, ok := v.Pop()
				if !ok {
					break
				}
				local = append(local, x)
			}
			mtx.Lock()
			for _, x := range local {
				popped[x]++
			}
			mtx.Unlock()
		}()
	}

	for i := 0; i < n; i++ {
		f.Push(i)
	}
	f.TerminateProducer()
	wg.Wait()

	require.Len(t, popped, n)
	for i := 0; i < n; i++ {
		require.Equal(t, 1, popped[i], "value %d", i)
	}
}

// Per-producer FIFO order must hold across any interleaving of consumers.
func TestPerProducerOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	type item struct {
		producer int
		seq      int
	}

	const (
		producers = 4
		consumers = 2
		perProd   = 5000
	)

	f := New[item](32)
	// Register before any consumer starts: zero registered producers reads
	// as already terminated.
	for p := 0; p < producers; p++ {
		f.AddProducer()
	}

	var (
		mtx  sync.Mutex
		seen = make([][]int, producers) // seq history per producer, per pop order
		wg   sync.WaitGroup
	)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local []item
			for {
				e := f.Pop(16)
				if e.Empty() {
					break
				}
				for {
					v, ok := e.Next()
					if !ok {
						break
					}
					local = append(local, v)
				}
				e.Release()
			}
			mtx.Lock()
			for _, it := range local {
				seen[it.producer] = append(seen[it.producer], it.seq)
			}
			mtx.Unlock()
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProd; i++ {
				f.Push(item{producer: p, seq: i})
			}
			f.TerminateProducer()
		}(p)
	}

	pwg.Wait()
	wg.Wait()

	total := 0
	for p := 0; p < producers; p++ {
		total += len(seen[p])
	}
	require.Equal(t, producers*perProd, total)

	// Each consumer preserved claim order; merged per-consumer histories do
	// not, so only check conservation per producer here. The strict order
	// check runs with a single consumer below.
	for p := 0; p < producers; p++ {
		require.Len(t, seen[p], perProd)
	}
}

func TestPerProducerOrderSingleConsumer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	type item struct {
		producer int
		seq      int
	}

	const (
		producers = 4
		perProd   = 5000
	)

	f := New[item](32)
	for p := 0; p < producers; p++ {
		f.AddProducer()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProd; i++ {
				f.Push(item{producer: p, seq: i})
			}
			f.TerminateProducer()
		}(p)
	}

	next := make([]int, producers)
	for {
		e := f.Pop(16)
		if e.Empty() {
			break
		}
		for {
			v, ok := e.Next()
			if !ok {
				break
			}
			require.Equal(t, next[v.producer], v.seq,
				"producer %d out of order", v.producer)
			next[v.producer]++
		}
		e.Release()
	}
	pwg.Wait()

	for p := 0; p < producers; p++ {
		assert.Equal(t, perProd, next[p])
	}
}

func TestProducerViewBatchesIntoChunks(t *testing.T) {
	f := New[int](64)
	v := NewProducerView(f, ViewConfig{Batch: 8})

	for i := 0; i < 20; i++ {
		v.Push(i)
	}
	v.Terminate() // flushes the 4 leftovers

	got := drain(f, 16)
	require.Len(t, got, 20)
	for i, x := range got {
		assert.Equal(t, i, x)
	}
}

func TestViewReconfiguration(t *testing.T) {
	f := New[int](64)
	v := NewProducerView(f, ViewConfig{Batch: 4, ReconfigureAt: 8, NewBatch: 2})

	for i := 0; i < 12; i++ {
		v.Push(i)
	}
	v.Terminate()

	assert.Equal(t, 2, v.cfg.Batch, "one-shot retune after the trigger")
	got := drain(f, 8)
	require.Len(t, got, 12)
}

func TestDoubleTerminatePanics(t *testing.T) {
	f := New[int](8)
	f.AddProducer()
	f.TerminateProducer()
	assert.Panics(t, func() {
		f.TerminateProducer()
	})
}
