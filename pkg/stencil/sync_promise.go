package stencil

import (
	"time"

	"github.com/syncbench/syncbench/pkg/promise"
	"github.com/syncbench/syncbench/pkg/threadreg"
)

// linePromise is the rendezvous a worker drives for one boundary and one
// iteration: indices are y-lines.
type linePromise interface {
	Get(id threadreg.ID, y int)
	Set(y int)
	SetFinal(y int)
}

// promiseFactory builds one fresh rendezvous per (iteration, boundary).
type promiseFactory func() linePromise

// promiseSync runs the stencil with one linePromise per boundary per
// iteration. All promise-backed synchronizers are this loop with a
// different factory.
type promiseSync struct {
	name    string
	factory promiseFactory

	// retained for monitor-driven variants; nil otherwise
	onIteration func(iterations [][]linePromise)

	all [][]linePromise
}

// StatsSummary aggregates debug counters across every promise of a run.
type StatsSummary struct {
	StrongGets uint64 `json:"strong_gets"`
	WeakGets   uint64 `json:"weak_gets"`
	WaitLoops  uint64 `json:"wait_loops"`
}

// StatsSummary sums the counters of all stats-enabled promises. ok is false
// when the run carried no counters.
func (s *promiseSync) StatsSummary() (StatsSummary, bool) {
	var (
		sum StatsSummary
		any bool
	)
	for _, boundary := range s.all {
		for _, p := range boundary {
			for _, st := range promiseStats(p) {
				if st == nil {
					continue
				}
				any = true
				sum.StrongGets += st.StrongGets.Load()
				sum.WeakGets += st.WeakGets.Load()
				sum.WaitLoops += st.WaitLoops.Load()
			}
		}
	}
	return sum, any
}

func promiseStats(p linePromise) []*promise.Stats {
	switch v := p.(type) {
	case *promise.VoidPromise:
		return []*promise.Stats{v.Stats()}
	case *dynVoid:
		return []*promise.Stats{v.p.Stats()}
	case *promiseOfArray:
		return []*promise.Stats{v.p.Stats()}
	case *arrayOfPromises:
		stats := make([]*promise.Stats, 0, len(v.ps))
		for _, lp := range v.ps {
			stats = append(stats, lp.Stats())
		}
		return stats
	}
	return nil
}

func (s *promiseSync) Name() string { return s.name }

func (s *promiseSync) Run(c *Context) error {
	iters := c.Cfg.Iterations
	threads := c.Cfg.Threads

	// Boundary b sits between workers b-1 (producer) and b (consumer).
	// Everything is allocated before the workers spawn, so every promise is
	// visible to its consumer before any kernel runs.
	promises := make([][]linePromise, iters)
	for i := 1; i < iters; i++ {
		promises[i] = make([]linePromise, threads)
		for b := 1; b < threads; b++ {
			promises[i][b] = s.factory()
		}
	}

	s.all = promises
	if s.onIteration != nil {
		s.onIteration(promises)
	}

	lastY := c.Cfg.DimY - 1

	return c.RunWorkers(func(t int, id threadreg.ID) error {
		x0, x1 := c.Slab(t)
		for i := 1; i < iters; i++ {
			begin := time.Now()

			var src, dst linePromise
			if t > 0 {
				src = promises[i][t]
			}
			if t < threads-1 {
				dst = promises[i][t+1]
			}

			for y := 0; y <= lastY; y++ {
				if src != nil {
					src.Get(id, y)
				}
				c.M.ComputeLine(i, y, x0, x1)
				if dst != nil {
					if y == lastY {
						dst.SetFinal(y)
					} else {
						dst.Set(y)
					}
				}
			}

			c.RecordIteration(t, i, time.Since(begin))
		}
		return nil
	})
}

// NewStaticStepPlus synchronizes on static-step void promises.
func NewStaticStepPlus(cfg Config, step int, opts ...promise.Option) Synchronizer {
	return &promiseSync{
		name: "static_step_plus",
		factory: func() linePromise {
			return promise.NewVoid(cfg.DimY-1, step, cfg.Threads, opts...)
		},
	}
}

// arrayOfPromises keeps one single-index promise per line.
type arrayOfPromises struct {
	ps []*promise.VoidPromise
}

func (a *arrayOfPromises) Get(id threadreg.ID, y int) { a.ps[y].Get(id, 0) }
func (a *arrayOfPromises) Set(y int)                  { a.ps[y].SetImmediate(0) }
func (a *arrayOfPromises) SetFinal(y int)             { a.ps[y].SetFinal(0) }

// NewArrayOfPromises synchronizes each line on its own promise.
func NewArrayOfPromises(cfg Config, opts ...promise.Option) Synchronizer {
	return &promiseSync{
		name: "array_of_promises",
		factory: func() linePromise {
			a := &arrayOfPromises{ps: make([]*promise.VoidPromise, cfg.DimY)}
			for y := range a.ps {
				a.ps[y] = promise.NewVoid(0, 1, cfg.Threads, opts...)
			}
			return a
		},
	}
}

// promiseOfArray publishes a whole slab in one shot: consumers of any line
// wait for the single publication.
type promiseOfArray struct {
	p *promise.VoidPromise
}

func (a *promiseOfArray) Get(id threadreg.ID, _ int) { a.p.Get(id, 0) }

func (a *promiseOfArray) Set(int) {
	// nothing to publish until the slab is complete
}

func (a *promiseOfArray) SetFinal(int) { a.p.SetFinal(0) }

// NewPromiseOfArray synchronizes a whole iteration slab on one publication.
func NewPromiseOfArray(cfg Config, opts ...promise.Option) Synchronizer {
	return &promiseSync{
		name: "promise_of_array",
		factory: func() linePromise {
			return &promiseOfArray{p: promise.NewVoid(0, 1, cfg.Threads, opts...)}
		},
	}
}

// dynVoid adapts the payload-free dynamic promise to the line interface.
type dynVoid struct {
	p *promise.DynPromise[struct{}]
}

func (d *dynVoid) Get(id threadreg.ID, y int) { d.p.Get(id, y) }
func (d *dynVoid) Set(y int)                  { d.p.Set(y, struct{}{}) }
func (d *dynVoid) SetFinal(y int)             { d.p.SetFinal(y, struct{}{}) }
func (d *dynVoid) SetStep(step int)           { d.p.SetStep(step) }
func (d *dynVoid) Step() int                  { return d.p.Step() }

// DynName maps a dynamic mode to its synchronizer name.
func DynName(mode promise.Mode) string {
	switch mode {
	case promise.ModeProducerOnly:
		return "dsp_prod_only"
	case promise.ModeProducerOnlyUnblock:
		return "dsp_prod_unblocks"
	case promise.ModeConsumerOnly:
		return "dsp_cons_only"
	case promise.ModeConsumerOnlyUnblock:
		return "dsp_cons_unblocks"
	case promise.ModeBoth:
		return "dsp_both"
	case promise.ModeBothUnblock:
		return "dsp_both_unblocks"
	case promise.ModeTimer:
		return "dsp_prod_timer"
	case promise.ModeTimerUnblock:
		return "dsp_prod_timer_unblocks"
	case promise.ModeNever:
		return "dsp_never"
	default:
		return "dsp_unknown"
	}
}

// NewDynamicStep synchronizes on dynamic-step promises in the given mode.
func NewDynamicStep(cfg Config, step int, mode promise.Mode, opts ...promise.Option) Synchronizer {
	return &promiseSync{
		name: DynName(mode),
		factory: func() linePromise {
			return &dynVoid{p: promise.NewDyn[struct{}](cfg.DimY-1, step, cfg.Threads, mode, opts...)}
		},
	}
}
