package log

import (
	"fmt"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the global logger for the process. It is a no-op until
// InitLogger is called, which the driver does before any worker spawns.
var Logger = kitlog.NewNopLogger()

// InitLogger initialises the global logger at the requested level.
// Output is logfmt on stderr so that result JSON on stdout stays clean.
func InitLogger(logLevel string) error {
	l := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))

	var opt level.Option
	switch logLevel {
	case "debug":
		opt = level.AllowDebug()
	case "info", "":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return fmt.Errorf("unknown log level %q", logLevel)
	}

	l = level.NewFilter(l, opt)
	Logger = kitlog.With(l, "ts", kitlog.DefaultTimestampUTC)

	return nil
}
