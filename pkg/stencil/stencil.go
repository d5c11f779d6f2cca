// Package stencil drives a worker pool through the outer iterations of a
// 3-D heat stencil. Workers own disjoint slabs along X; the loop-carried
// x-dependency makes each worker consume its left neighbour's progress,
// which is where the synchronizer families under test come in.
package stencil

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/syncbench/syncbench/pkg/threadreg"
	"github.com/syncbench/syncbench/pkg/watchdog"
)

// Config sizes one run.
type Config struct {
	Threads    int
	Iterations int // outer iterations, including the generated iteration 0
	DimX       int
	DimY       int
	DimZ       int
}

func (cfg Config) Validate() error {
	if cfg.Threads < 1 {
		return errors.New("threads must be >= 1")
	}
	if cfg.Iterations < 2 {
		return errors.New("iterations must be >= 2")
	}
	if cfg.DimX < cfg.Threads {
		return fmt.Errorf("dim x %d smaller than %d threads", cfg.DimX, cfg.Threads)
	}
	if cfg.DimY < 1 || cfg.DimZ < 1 {
		return errors.New("dims must be positive")
	}
	return nil
}

// Result carries one run's measurements.
type Result struct {
	// ThreadSeconds is the total kernel wall-clock per worker.
	ThreadSeconds []float64
	// IterationSeconds[t][i] is worker t's wall-clock for iteration i
	// (index 0 unused: iteration 0 is input).
	IterationSeconds [][]float64
}

// Context is what a synchronizer needs to run: the workspace, the registry
// for consumer identities, and the optional watchdog to keep fed.
type Context struct {
	Cfg      Config
	M        *Matrix
	Registry *threadreg.Registry
	Dog      *watchdog.Watchdog

	expected *Matrix
	res      Result
}

// NewContext builds a run context with a freshly generated workspace.
func NewContext(cfg Config, dog *watchdog.Watchdog) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := NewMatrix(cfg.Iterations, cfg.DimX, cfg.DimY, cfg.DimZ)
	m.Generate()

	ctx := &Context{
		Cfg:      cfg,
		M:        m,
		Registry: threadreg.New(),
		Dog:      dog,
		expected: m.Reference(),
	}
	ctx.res.ThreadSeconds = make([]float64, cfg.Threads)
	ctx.res.IterationSeconds = make([][]float64, cfg.Threads)
	for t := range ctx.res.IterationSeconds {
		ctx.res.IterationSeconds[t] = make([]float64, cfg.Iterations)
	}
	return ctx, nil
}

// Slab returns worker t's x range [x0, x1). The remainder spreads over the
// first workers.
func (c *Context) Slab(t int) (x0, x1 int) {
	base := c.Cfg.DimX / c.Cfg.Threads
	extra := c.Cfg.DimX % c.Cfg.Threads

	x0 = t*base + min(t, extra)
	x1 = x0 + base
	if t < extra {
		x1++
	}
	return x0, x1
}

// RunWorkers spawns one goroutine per worker, registers it, times it, and
// propagates panics as run-aborting errors.
func (c *Context) RunWorkers(body func(t int, id threadreg.ID) error) error {
	var g errgroup.Group
	for t := 0; t < c.Cfg.Threads; t++ {
		t := t // each goroutine keeps its own worker index
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker %d panicked: %v", t, r)
				}
			}()

			id := c.Registry.Register()
			begin := time.Now()
			err = body(t, id)
			c.res.ThreadSeconds[t] = time.Since(begin).Seconds()
			return err
		})
	}
	return g.Wait()
}

// RecordIteration stores worker t's duration for iteration i. Each worker
// writes only its own slot.
func (c *Context) RecordIteration(t, i int, d time.Duration) {
	c.res.IterationSeconds[t][i] = d.Seconds()
	if c.Dog != nil {
		c.Dog.Reset()
	}
}

// Result returns the measurements collected so far.
func (c *Context) Result() Result {
	return c.res
}

// AssertOK compares the workspace against the sequential reference.
func (c *Context) AssertOK() error {
	if !c.M.Equal(c.expected) {
		return errors.New("stencil: workspace differs from the sequential reference")
	}
	return nil
}

// Synchronizer is one strategy for ordering the workers' loop-carried
// dependencies.
type Synchronizer interface {
	Name() string
	Run(*Context) error
}
