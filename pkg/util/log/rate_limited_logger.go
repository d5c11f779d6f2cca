package log

import (
	kitlog "github.com/go-kit/log"
	"golang.org/x/time/rate"
)

// RateLimitedLogger drops log lines beyond the configured rate. It protects
// the process from log floods when a hot loop decides to complain.
type RateLimitedLogger struct {
	limiter *rate.Limiter
	logger  kitlog.Logger
}

// NewRateLimitedLogger returns a logger that allows logsPerSecond lines per second.
func NewRateLimitedLogger(logsPerSecond int, logger kitlog.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		limiter: rate.NewLimiter(rate.Limit(logsPerSecond), logsPerSecond),
		logger:  logger,
	}
}

func (l *RateLimitedLogger) Log(keyvals ...any) error {
	if l.limiter.Allow() {
		return l.logger.Log(keyvals...)
	}
	return nil
}
