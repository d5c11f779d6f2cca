package app

import (
	"fmt"
	"os"

	"github.com/drone/envsubst"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/syncbench/syncbench/pkg/stencil"
)

// Simulation is the parsed simulation file: the stencil depth, how often to
// repeat every run, and which synchronizers to measure.
type Simulation struct {
	// Iterations is the number of computed stencil iterations per run, on
	// top of the generated input iteration.
	Iterations int `json:"iterations"`
	// Loops repeats every run for repeated measurements. Defaults to 1.
	Loops int   `json:"loops,omitempty"`
	Runs  []Run `json:"runs"`
}

// Run selects one synchronizer and its tuning knobs.
type Run struct {
	Synchronizer string         `json:"synchronizer"`
	Extras       stencil.Extras `json:"extras"`
}

// LoadSimulation reads, optionally env-expands, and validates a simulation
// file.
func LoadSimulation(path string, expandEnv bool) (*Simulation, error) {
	buff, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read simulation file %s", path)
	}

	if expandEnv {
		s, err := envsubst.EvalEnv(string(buff))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to expand env vars in %s", path)
		}
		buff = []byte(s)
	}

	sim := &Simulation{}
	if err := jsoniter.Unmarshal(buff, sim); err != nil {
		return nil, errors.Wrapf(err, "failed to parse simulation file %s", path)
	}

	if err := sim.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid simulation file %s", path)
	}
	return sim, nil
}

func (s *Simulation) Validate() error {
	if s.Iterations < 1 {
		return fmt.Errorf("iterations must be >= 1, got %d", s.Iterations)
	}
	if s.Loops == 0 {
		s.Loops = 1
	}
	if s.Loops < 1 {
		return fmt.Errorf("loops must be >= 1, got %d", s.Loops)
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("no runs configured")
	}
	for i, r := range s.Runs {
		if r.Synchronizer == "" {
			return fmt.Errorf("run %d has no synchronizer", i)
		}
		if _, err := stencil.NewSynchronizer(r.Synchronizer, stencil.Config{
			Threads: 1, Iterations: 2, DimX: 1, DimY: 1, DimZ: 1,
		}, r.Extras); err != nil {
			return fmt.Errorf("run %d: %w (valid: %v)", i, err, stencil.Names())
		}
	}
	return nil
}
