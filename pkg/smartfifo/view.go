package smartfifo

// ViewConfig carries a participant's batching thresholds. ReconfigureAt and
// NewBatch describe an optional one-shot retune: after ReconfigureAt
// operations through the view, the batch size becomes NewBatch.
type ViewConfig struct {
	Batch         int
	ReconfigureAt int
	NewBatch      int
}

func (cfg *ViewConfig) applyDefaults() {
	if cfg.Batch < 1 {
		cfg.Batch = 1
	}
}

// ProducerView is a per-producer handle. With a batch size above one it
// accumulates elements locally and hands them to the FIFO as sealed chunks,
// keeping the tail lock out of the per-element path.
type ProducerView[T any] struct {
	fifo *FIFO[T]
	cfg  ViewConfig
	buf  []T
	ops  int
}

// NewProducerView registers a producer and returns its view.
func NewProducerView[T any](f *FIFO[T], cfg ViewConfig) *ProducerView[T] {
	cfg.applyDefaults()
	f.AddProducer()
	return &ProducerView[T]{fifo: f, cfg: cfg}
}

func (v *ProducerView[T]) Push(x T) {
	if v.cfg.Batch <= 1 {
		v.fifo.Push(x)
	} else {
		if v.buf == nil {
			v.buf = make([]T, 0, v.cfg.Batch)
		}
		v.buf = append(v.buf, x)
		if len(v.buf) >= v.cfg.Batch {
			v.fifo.PushChunk(v.buf)
			v.buf = nil
		}
	}
	v.tick()
}

// Flush hands any locally buffered elements to the FIFO.
func (v *ProducerView[T]) Flush() {
	if len(v.buf) > 0 {
		v.fifo.PushChunk(v.buf)
		v.buf = nil
	}
}

// Terminate flushes the local buffer and marks this producer done.
func (v *ProducerView[T]) Terminate() {
	v.Flush()
	v.fifo.TerminateProducer()
}

func (v *ProducerView[T]) tick() {
	v.ops++
	if v.cfg.ReconfigureAt > 0 && v.ops == v.cfg.ReconfigureAt && v.cfg.NewBatch > 0 {
		v.cfg.Batch = v.cfg.NewBatch
	}
}

// ConsumerView is a per-consumer handle that claims batches from the FIFO
// and serves them element-wise.
type ConsumerView[T any] struct {
	fifo *FIFO[T]
	cfg  ViewConfig
	cur  *Elements[T]
	ops  int
}

func NewConsumerView[T any](f *FIFO[T], cfg ViewConfig) *ConsumerView[T] {
	cfg.applyDefaults()
	return &ConsumerView[T]{fifo: f, cfg: cfg}
}

// Pop returns the next element, claiming a fresh batch when the current one
// is exhausted. ok is false at end of stream.
func (v *ConsumerView[T]) Pop() (T, bool) {
	var zero T
	for {
		if v.cur != nil {
			if x, ok := v.cur.Next(); ok {
				v.tick()
				return x, true
			}
			v.cur.Release()
			v.cur = nil
		}

		e := v.fifo.Pop(v.cfg.Batch)
		if e.Empty() {
			return zero, false
		}
		v.cur = e
	}
}

// Close releases any partially consumed batch.
func (v *ConsumerView[T]) Close() {
	if v.cur != nil {
		v.cur.Release()
		v.cur = nil
	}
}

func (v *ConsumerView[T]) tick() {
	v.ops++
	if v.cfg.ReconfigureAt > 0 && v.ops == v.cfg.ReconfigureAt && v.cfg.NewBatch > 0 {
		v.cfg.Batch = v.cfg.NewBatch
	}
}
