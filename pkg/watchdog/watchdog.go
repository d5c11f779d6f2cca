// Package watchdog aborts the process when monitored workers stop making
// progress. Synchronizer bugs tend to show up as silent deadlocks; the
// watchdog turns them into a diagnostic and a non-zero exit instead of a
// stuck benchmark.
package watchdog

import (
	"context"
	"os"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/syncbench/syncbench/pkg/util/log"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultLimit        = 10 * time.Minute
)

var (
	metricResets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncbench",
		Name:      "watchdog_resets_total",
		Help:      "Number of liveness ticks received from monitored workers.",
	})

	metricSilence = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncbench",
		Name:      "watchdog_silence_seconds",
		Help:      "Time since the last liveness tick.",
	})
)

type Config struct {
	PollInterval time.Duration
	Limit        time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
}

// Watchdog is a background service. Monitored workers call Reset on every
// unit of progress; if no Reset arrives for longer than cfg.Limit the
// watchdog prints a diagnostic and terminates the process.
type Watchdog struct {
	services.Service

	cfg   Config
	ticks atomic.Uint64

	// fatal is called to abort the process. Replaceable for tests.
	fatal func(code int)
}

func New(cfg Config) *Watchdog {
	cfg.applyDefaults()

	w := &Watchdog{
		cfg:   cfg,
		fatal: os.Exit,
	}
	w.Service = services.NewBasicService(nil, w.running, nil)
	return w
}

// NewWithFatal is New with a replacement abort function. Tests use it to
// observe the abort instead of dying.
func NewWithFatal(cfg Config, fatal func(code int)) *Watchdog {
	w := New(cfg)
	w.fatal = fatal
	return w
}

// Reset signals liveness. Safe to call from any goroutine at any rate.
func (w *Watchdog) Reset() {
	w.ticks.Inc()
	metricResets.Inc()
}

func (w *Watchdog) running(ctx context.Context) error {
	t := time.NewTicker(w.cfg.PollInterval)
	defer t.Stop()

	var (
		lastSeen = w.ticks.Load()
		silence  time.Duration
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			now := w.ticks.Load()
			if now != lastSeen {
				lastSeen = now
				silence = 0
			} else {
				silence += w.cfg.PollInterval
			}
			metricSilence.Set(silence.Seconds())

			if silence > w.cfg.Limit {
				level.Error(log.Logger).Log(
					"msg", "no progress within the quiescence budget, aborting",
					"silence", silence,
					"limit", w.cfg.Limit,
				)
				w.fatal(1)
				return nil
			}
		}
	}
}
