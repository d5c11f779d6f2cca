package stencil

import (
	"time"

	"github.com/syncbench/syncbench/pkg/promise"
)

const defaultMonitorInterval = time.Millisecond

// monitored wraps the dynamic-step family with an out-of-band controller:
// a goroutine polls each promise's published index and retunes its step.
// A promise whose publication stalled between polls gets its step halved so
// blocked consumers recover; one that kept advancing earns a bigger step.
type monitored struct {
	inner    *promiseSync
	interval time.Duration
	maxStep  int

	promises []*dynVoid
	last     []int
}

// NewMonitored synchronizes on observer-retuned dynamic promises.
func NewMonitored(cfg Config, step int, opts ...promise.Option) Synchronizer {
	m := &monitored{
		interval: defaultMonitorInterval,
		maxStep:  cfg.DimY,
	}

	m.inner = &promiseSync{
		name: "dsp_monitor",
		factory: func() linePromise {
			// BothUnblock so a halved step frees stranded consumers at once.
			return &dynVoid{p: promise.NewDyn[struct{}](cfg.DimY-1, step, cfg.Threads, promise.ModeBothUnblock, opts...)}
		},
		onIteration: func(iterations [][]linePromise) {
			for _, boundary := range iterations {
				for _, p := range boundary {
					if d, ok := p.(*dynVoid); ok {
						m.promises = append(m.promises, d)
					}
				}
			}
			m.last = make([]int, len(m.promises))
			for i := range m.last {
				m.last[i] = -1
			}
		},
	}
	return m
}

func (m *monitored) Name() string { return "dsp_monitor" }

func (m *monitored) StatsSummary() (StatsSummary, bool) { return m.inner.StatsSummary() }

func (m *monitored) Run(c *Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go m.loop(stop, done)

	err := m.inner.Run(c)

	close(stop)
	<-done
	return err
}

func (m *monitored) loop(stop, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			for i, p := range m.promises {
				cur := p.p.Current()
				if cur >= p.p.MaxIndex() {
					continue // this boundary is finished
				}

				step := p.Step()
				if cur == m.last[i] {
					if step > 1 {
						p.SetStep(step / 2)
					}
				} else if step < m.maxStep {
					p.SetStep(step + 1)
				}
				m.last[i] = cur
			}
		}
	}
}
