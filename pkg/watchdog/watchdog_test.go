package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWatchdogAbortsOnSilence(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const limit = 200 * time.Millisecond

	fired := make(chan int, 1)
	w := NewWithFatal(Config{
		PollInterval: 20 * time.Millisecond,
		Limit:        limit,
	}, func(code int) {
		fired <- code
	})

	require.NoError(t, services.StartAndAwaitRunning(context.Background(), w))
	defer func() {
		require.NoError(t, services.StopAndAwaitTerminated(context.Background(), w))
	}()

	select {
	case code := <-fired:
		require.Equal(t, 1, code)
	case <-time.After(5 * limit):
		t.Fatal("watchdog did not abort within 5x the limit")
	}
}

func TestWatchdogStaysQuietWhileResetTicks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fired := make(chan int, 1)
	w := NewWithFatal(Config{
		PollInterval: 10 * time.Millisecond,
		Limit:        50 * time.Millisecond,
	}, func(code int) {
		fired <- code
	})

	require.NoError(t, services.StartAndAwaitRunning(context.Background(), w))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(5 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				w.Reset()
			}
		}
	}()

	select {
	case <-fired:
		t.Fatal("watchdog aborted despite steady liveness ticks")
	case <-time.After(300 * time.Millisecond):
	}

	close(stop)
	<-done
	require.NoError(t, services.StopAndAwaitTerminated(context.Background(), w))
}

func TestWatchdogCleanStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w := New(Config{PollInterval: 10 * time.Millisecond, Limit: time.Hour})
	require.NoError(t, services.StartAndAwaitRunning(context.Background(), w))
	require.NoError(t, services.StopAndAwaitTerminated(context.Background(), w))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultLimit, cfg.Limit)
}
