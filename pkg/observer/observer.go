// Package observer retunes queue view batching online.
//
// Views report two kinds of samples: the work interval between their
// successive operations, and the wall-clock cost of each batched exchange
// with the master. Once every sample ring is full the observer applies a
// cost model and publishes new steps; views pick them up at their next batch
// boundary. The observer never blocks the data path: a contended lock skips
// the sample.
package observer

import (
	"context"
	"sync"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/syncbench/syncbench/pkg/naivequeue"
	"github.com/syncbench/syncbench/pkg/util/log"
)

var (
	metricTunings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncbench",
		Subsystem: "observer",
		Name:      "tunings_total",
		Help:      "Number of step retunes published.",
	})

	metricSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncbench",
		Subsystem: "observer",
		Name:      "samples_skipped_total",
		Help:      "Samples dropped because the observer lock was contended.",
	})
)

const (
	DefaultWindow  = 100
	DefaultMaxStep = 64
)

// Tunable is the view surface the observer drives.
type Tunable interface {
	Step() int
	SetStep(int)
}

type Config struct {
	// Window is the sample ring size; tuning happens when all four rings
	// hold Window samples.
	Window int
	// MaxStep clamps published steps to [1, MaxStep].
	MaxStep int
	// LogInterval is the cadence of the background state log. Zero disables.
	LogInterval time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = DefaultMaxStep
	}
}

// A tune can fire on every batch boundary of a hot queue; cap what reaches
// the log.
const tuneLogsPerSecond = 10

// Observer watches one queue. It implements naivequeue.Recorder.
type Observer struct {
	services.Service

	cfg  Config
	name string

	// logger is rate limited: tuning decisions arrive at data-path cadence.
	logger kitlog.Logger

	mtx       sync.Mutex
	prodWork  sampleRing
	consWork  sampleRing
	prodCost  sampleRing
	consCost  sampleRing
	producers []Tunable
	consumers []Tunable
}

// New creates an observer for the queue called name.
func New(name string, cfg Config) *Observer {
	cfg.applyDefaults()

	o := &Observer{
		cfg:    cfg,
		name:   name,
		logger: log.NewRateLimitedLogger(tuneLogsPerSecond, level.Debug(log.Logger)),
	}
	o.prodWork.init(cfg.Window)
	o.consWork.init(cfg.Window)
	o.prodCost.init(cfg.Window)
	o.consCost.init(cfg.Window)
	o.Service = services.NewBasicService(nil, o.running, nil)
	return o
}

// Watch registers a view for step publication. Call before traffic starts.
func (o *Observer) Watch(role naivequeue.Role, v Tunable) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	if role == naivequeue.Producer {
		o.producers = append(o.producers, v)
	} else {
		o.consumers = append(o.consumers, v)
	}
}

// RecordWork ingests an inter-operation interval sample.
func (o *Observer) RecordWork(role naivequeue.Role, d time.Duration) {
	if !o.mtx.TryLock() {
		metricSkipped.Inc()
		return
	}
	defer o.mtx.Unlock()

	if role == naivequeue.Producer {
		o.prodWork.add(d)
	} else {
		o.consWork.add(d)
	}
	o.maybeTune()
}

// RecordCost ingests a batched-exchange cost sample.
func (o *Observer) RecordCost(role naivequeue.Role, d time.Duration) {
	if !o.mtx.TryLock() {
		metricSkipped.Inc()
		return
	}
	defer o.mtx.Unlock()

	if role == naivequeue.Producer {
		o.prodCost.add(d)
	} else {
		o.consCost.add(d)
	}
	o.maybeTune()
}

// maybeTune applies the cost model when every ring is full. Lock held.
//
// The side whose work interval is larger is the pipeline bound; its lock
// acquisitions are the scarce resource, so its step grows until the exchange
// cost is amortised against the opposite side's pace. The faster side only
// needs enough batching to cover its own exchange cost.
func (o *Observer) maybeTune() {
	if !(o.prodWork.full() && o.consWork.full() && o.prodCost.full() && o.consCost.full()) {
		return
	}

	tp := o.prodWork.mean()
	tc := o.consWork.mean()
	cp := o.prodCost.mean()
	cs := o.consCost.mean()

	var prodStep, consStep int
	if tp >= tc {
		prodStep = o.clamp(ratio(tp, tc) + ratio(cp, tc))
		consStep = o.clamp(ratio(cs, tc))
	} else {
		consStep = o.clamp(ratio(tc, tp) + ratio(cs, tp))
		prodStep = o.clamp(ratio(cp, tp))
	}

	for _, v := range o.producers {
		v.SetStep(prodStep)
	}
	for _, v := range o.consumers {
		v.SetStep(consStep)
	}

	o.prodWork.reset()
	o.consWork.reset()
	o.prodCost.reset()
	o.consCost.reset()

	metricTunings.Inc()
	o.logger.Log(
		"msg", "retuned queue steps",
		"queue", o.name,
		"t_prod", tp, "t_cons", tc,
		"cost_prod", cp, "cost_cons", cs,
		"prod_step", prodStep, "cons_step", consStep,
	)
}

func (o *Observer) clamp(step int) int {
	if step < 1 {
		return 1
	}
	if step > o.cfg.MaxStep {
		return o.cfg.MaxStep
	}
	return step
}

// ratio returns ceil(a/b), 1 when b is zero.
func ratio(a, b time.Duration) int {
	if b <= 0 {
		return 1
	}
	return int((a + b - 1) / b)
}

// running periodically logs the published steps; purely observational.
func (o *Observer) running(ctx context.Context) error {
	if o.cfg.LogInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	t := time.NewTicker(o.cfg.LogInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			o.mtx.Lock()
			var prodStep, consStep int
			if len(o.producers) > 0 {
				prodStep = o.producers[0].Step()
			}
			if len(o.consumers) > 0 {
				consStep = o.consumers[0].Step()
			}
			o.mtx.Unlock()
			o.logger.Log(
				"msg", "observer state",
				"queue", o.name,
				"prod_step", prodStep,
				"cons_step", consStep,
			)
		}
	}
}

// sampleRing is a fixed-size overwrite ring of duration samples.
type sampleRing struct {
	buf []time.Duration
	n   int // valid samples
	idx int // next write
}

func (r *sampleRing) init(size int) {
	r.buf = make([]time.Duration, size)
}

func (r *sampleRing) add(d time.Duration) {
	r.buf[r.idx] = d
	r.idx = (r.idx + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *sampleRing) full() bool {
	return r.n == len(r.buf)
}

func (r *sampleRing) mean() time.Duration {
	if r.n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < r.n; i++ {
		sum += r.buf[i]
	}
	return sum / time.Duration(r.n)
}

func (r *sampleRing) reset() {
	r.n, r.idx = 0, 0
}
