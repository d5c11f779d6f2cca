package app

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"

	"github.com/syncbench/syncbench/pkg/stencil"
	"github.com/syncbench/syncbench/pkg/util/log"
	"github.com/syncbench/syncbench/pkg/watchdog"
)

// App wires one driver invocation: load the simulation, run every
// synchronizer under the watchdog, write results.
type App struct {
	cfg Config
	sim *Simulation
	dog *watchdog.Watchdog
}

func New(cfg Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sim, err := LoadSimulation(cfg.SimulationFile, cfg.ExpandEnv)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg: cfg,
		sim: sim,
		dog: watchdog.New(watchdog.Config{
			PollInterval: cfg.WatchdogPoll,
			Limit:        cfg.WatchdogLimit,
		}),
	}, nil
}

// Run executes every configured run. The watchdog covers the whole driver
// lifetime; a synchronizer that stops making progress kills the process.
func (a *App) Run() error {
	if err := services.StartAndAwaitRunning(context.Background(), a.dog); err != nil {
		return errors.Wrap(err, "failed to start watchdog")
	}
	defer func() {
		if err := services.StopAndAwaitTerminated(context.Background(), a.dog); err != nil {
			level.Warn(log.Logger).Log("msg", "watchdog did not stop cleanly", "err", err)
		}
	}()

	stencilCfg := stencil.Config{
		Threads:    a.cfg.Threads,
		Iterations: a.sim.Iterations + 1, // +1 for the generated input iteration
		DimX:       a.cfg.MatrixX,
		DimY:       a.cfg.MatrixY,
		DimZ:       a.cfg.MatrixZ,
	}

	records := make([]RunRecord, 0, len(a.sim.Runs))
	iterations := make([]IterationRecord, 0, len(a.sim.Runs))

	for _, run := range a.sim.Runs {
		rec, iter, err := a.runOne(stencilCfg, run)
		if err != nil {
			return errors.Wrapf(err, "run %s failed", run.Synchronizer)
		}
		records = append(records, rec)
		iterations = append(iterations, iter)
	}

	if err := writeJSON(a.cfg.RunsOutput, records); err != nil {
		return err
	}
	if a.cfg.IterationsOutput != "" {
		if err := writeJSON(a.cfg.IterationsOutput, iterations); err != nil {
			return err
		}
	}

	level.Info(log.Logger).Log("msg", "all runs finished")
	level.Info(log.Logger).Log("summary", "\n"+summaryTable(records))
	return nil
}

func (a *App) runOne(cfg stencil.Config, run Run) (RunRecord, IterationRecord, error) {
	rec := RunRecord{
		ID:           uuid.NewString(),
		Synchronizer: run.Synchronizer,
		Function:     "heat",
		Extras:       run.Extras,
	}
	iter := IterationRecord{ID: rec.ID, Synchronizer: run.Synchronizer}

	for loop := 0; loop < a.sim.Loops; loop++ {
		s, err := stencil.NewSynchronizer(run.Synchronizer, cfg, run.Extras)
		if err != nil {
			return rec, iter, err
		}

		c, err := stencil.NewContext(cfg, a.dog)
		if err != nil {
			return rec, iter, err
		}

		level.Info(log.Logger).Log("msg", "starting run", "synchronizer", run.Synchronizer, "loop", loop)

		begin := time.Now()
		if err := s.Run(c); err != nil {
			return rec, iter, err
		}
		elapsed := time.Since(begin)

		if err := c.AssertOK(); err != nil {
			return rec, iter, errors.Wrapf(err, "synchronizer %s produced a wrong result", run.Synchronizer)
		}

		rec.Seconds = append(rec.Seconds, elapsed.Seconds())

		res := c.Result()
		iter.Seconds = res.IterationSeconds

		rec.Threads = rec.Threads[:0]
		for t, secs := range res.ThreadSeconds {
			rec.Threads = append(rec.Threads, ThreadRecord{Thread: t, Seconds: secs})
		}

		if sp, ok := s.(interface {
			StatsSummary() (stencil.StatsSummary, bool)
		}); ok {
			if sum, any := sp.StatsSummary(); any {
				rec.Stats = &sum
			}
		}

		level.Info(log.Logger).Log("msg", "run finished",
			"synchronizer", run.Synchronizer, "loop", loop, "seconds", elapsed.Seconds())
	}

	return rec, iter, nil
}
