package stencil

import (
	"runtime"
	"time"

	"go.uber.org/atomic"

	"github.com/syncbench/syncbench/pkg/threadreg"
)

// Sequential computes every iteration on a single worker. The baseline and
// the source of truth the parallel synchronizers are checked against.
type Sequential struct{}

func (Sequential) Name() string { return "sequential" }

func (Sequential) Run(c *Context) error {
	for i := 1; i < c.Cfg.Iterations; i++ {
		begin := time.Now()
		c.M.ComputeIteration(i)
		c.RecordIteration(0, i, time.Since(begin))
	}
	return nil
}

// AltBit orders neighbours with one alternating flag per boundary: a worker
// flips its right flag after finishing an iteration, and its right
// neighbour consumes the flip before starting the same iteration.
type AltBit struct{}

func (AltBit) Name() string { return "alt_bit" }

func (AltBit) Run(c *Context) error {
	flags := make([]atomic.Bool, c.Cfg.Threads)

	syncLeft := func(t int) {
		if t == 0 {
			return
		}
		for !flags[t-1].Load() {
			runtime.Gosched()
		}
		flags[t-1].Store(false)
	}
	syncRight := func(t int) {
		if t == c.Cfg.Threads-1 {
			return
		}
		for flags[t].Load() {
			runtime.Gosched()
		}
		flags[t].Store(true)
	}

	return c.RunWorkers(func(t int, _ threadreg.ID) error {
		x0, x1 := c.Slab(t)
		for i := 1; i < c.Cfg.Iterations; i++ {
			begin := time.Now()

			syncLeft(t)
			for y := 0; y < c.Cfg.DimY; y++ {
				c.M.ComputeLine(i, y, x0, x1)
			}
			syncRight(t)

			c.RecordIteration(t, i, time.Since(begin))
		}
		return nil
	})
}

// Counter orders neighbours with one monotone iteration counter per worker:
// a worker may run iteration i once its left neighbour's counter reaches i.
type Counter struct{}

func (Counter) Name() string { return "counter" }

func (Counter) Run(c *Context) error {
	counters := make([]atomic.Int64, c.Cfg.Threads)

	return c.RunWorkers(func(t int, _ threadreg.ID) error {
		x0, x1 := c.Slab(t)
		for i := 1; i < c.Cfg.Iterations; i++ {
			begin := time.Now()

			if t > 0 {
				for counters[t-1].Load() < int64(i) {
					runtime.Gosched()
				}
			}
			for y := 0; y < c.Cfg.DimY; y++ {
				c.M.ComputeLine(i, y, x0, x1)
			}
			counters[t].Store(int64(i))

			c.RecordIteration(t, i, time.Since(begin))
		}
		return nil
	})
}
