package stencil

import (
	"fmt"
	"sort"

	"github.com/syncbench/syncbench/pkg/promise"
)

// Extras carries the per-run tuning knobs from the simulation file.
type Extras struct {
	// Step is the initial publication step for the promise families.
	Step int `json:"step,omitempty"`
	// Active selects spinning consumers instead of parking ones.
	Active bool `json:"active,omitempty"`
	// Stats enables the promise debug counters.
	Stats bool `json:"stats,omitempty"`
}

func (e Extras) step() int {
	if e.Step < 1 {
		return 1
	}
	return e.Step
}

func (e Extras) promiseOpts() []promise.Option {
	var opts []promise.Option
	if e.Active {
		opts = append(opts, promise.WithWaitMode(promise.Active))
	}
	if e.Stats {
		opts = append(opts, promise.WithStats())
	}
	return opts
}

type constructor func(cfg Config, e Extras) Synchronizer

var synchronizers = map[string]constructor{
	"sequential": func(Config, Extras) Synchronizer { return Sequential{} },
	"alt_bit":    func(Config, Extras) Synchronizer { return AltBit{} },
	"counter":    func(Config, Extras) Synchronizer { return Counter{} },

	"static_step_plus": func(cfg Config, e Extras) Synchronizer {
		return NewStaticStepPlus(cfg, e.step(), e.promiseOpts()...)
	},
	"array_of_promises": func(cfg Config, e Extras) Synchronizer {
		return NewArrayOfPromises(cfg, e.promiseOpts()...)
	},
	"promise_of_array": func(cfg Config, e Extras) Synchronizer {
		return NewPromiseOfArray(cfg, e.promiseOpts()...)
	},

	"dsp_prod_only":           dynConstructor(promise.ModeProducerOnly),
	"dsp_prod_unblocks":       dynConstructor(promise.ModeProducerOnlyUnblock),
	"dsp_cons_only":           dynConstructor(promise.ModeConsumerOnly),
	"dsp_cons_unblocks":       dynConstructor(promise.ModeConsumerOnlyUnblock),
	"dsp_both":                dynConstructor(promise.ModeBoth),
	"dsp_both_unblocks":       dynConstructor(promise.ModeBothUnblock),
	"dsp_prod_timer":          dynConstructor(promise.ModeTimer),
	"dsp_prod_timer_unblocks": dynConstructor(promise.ModeTimerUnblock),
	"dsp_never":               dynConstructor(promise.ModeNever),

	"dsp_monitor": func(cfg Config, e Extras) Synchronizer {
		return NewMonitored(cfg, e.step(), e.promiseOpts()...)
	},
}

func dynConstructor(mode promise.Mode) constructor {
	return func(cfg Config, e Extras) Synchronizer {
		return NewDynamicStep(cfg, e.step(), mode, e.promiseOpts()...)
	}
}

// NewSynchronizer resolves a simulation-file name.
func NewSynchronizer(name string, cfg Config, e Extras) (Synchronizer, error) {
	c, ok := synchronizers[name]
	if !ok {
		return nil, fmt.Errorf("unknown synchronizer %q", name)
	}
	return c(cfg, e), nil
}

// Names lists the valid synchronizer names, sorted.
func Names() []string {
	names := make([]string, 0, len(synchronizers))
	for n := range synchronizers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
