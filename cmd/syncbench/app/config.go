package app

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"

	"github.com/syncbench/syncbench/pkg/watchdog"
)

// ThreadsEnvVar names the required worker-count environment variable.
const ThreadsEnvVar = "SYNCBENCH_NUM_THREADS"

// Config is the driver configuration: defaults, overlaid by the optional
// -config.file JSON, overlaid by flags, plus the worker count from the
// environment.
type Config struct {
	LogLevel string `json:"log_level,omitempty"`

	SimulationFile   string `json:"simulation_file,omitempty"`
	RunsOutput       string `json:"runs_output,omitempty"`
	IterationsOutput string `json:"iterations_output,omitempty"`
	ExpandEnv        bool   `json:"simulation_expand_env,omitempty"`

	Threads int `json:"-"`

	MatrixX int `json:"matrix_x,omitempty"`
	MatrixY int `json:"matrix_y,omitempty"`
	MatrixZ int `json:"matrix_z,omitempty"`

	WatchdogPoll  time.Duration `json:"watchdog_poll,omitempty"`
	WatchdogLimit time.Duration `json:"watchdog_limit,omitempty"`
}

// RegisterFlagsAndApplyDefaults wires the config into fs.
func (cfg *Config) RegisterFlagsAndApplyDefaults(fs *flag.FlagSet) {
	fs.StringVar(&cfg.LogLevel, "log.level", "info", "Log level: debug, info, warn, error.")
	fs.StringVar(&cfg.SimulationFile, "simulation.file", "", "Path to the JSON simulation file (required).")
	fs.StringVar(&cfg.RunsOutput, "output.runs", "", "Path for per-run results JSON. Defaults to stdout.")
	fs.StringVar(&cfg.IterationsOutput, "output.iterations", "", "Path for per-iteration results JSON. Disabled when empty.")
	fs.BoolVar(&cfg.ExpandEnv, "simulation.expand-env", false, "Expand ${VAR} references in the simulation file.")

	fs.IntVar(&cfg.MatrixX, "matrix.x", 64, "Workspace X dimension.")
	fs.IntVar(&cfg.MatrixY, "matrix.y", 32, "Workspace Y dimension.")
	fs.IntVar(&cfg.MatrixZ, "matrix.z", 16, "Workspace Z dimension.")

	fs.DurationVar(&cfg.WatchdogPoll, "watchdog.poll", watchdog.DefaultPollInterval, "Watchdog poll interval.")
	fs.DurationVar(&cfg.WatchdogLimit, "watchdog.limit", watchdog.DefaultLimit, "Quiescence budget before the run is aborted.")
}

// LoadThreadsFromEnv reads the required worker count. An absent or invalid
// value is a configuration error.
func (cfg *Config) LoadThreadsFromEnv() error {
	v, ok := os.LookupEnv(ThreadsEnvVar)
	if !ok {
		return fmt.Errorf("%s is not set", ThreadsEnvVar)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fmt.Errorf("%s must be a positive integer, got %q", ThreadsEnvVar, v)
	}
	cfg.Threads = n
	return nil
}

// Validate collects every configuration problem at once.
func (cfg *Config) Validate() error {
	var err error
	if cfg.SimulationFile == "" {
		err = multierr.Append(err, fmt.Errorf("-simulation.file is required"))
	}
	if cfg.Threads < 1 {
		err = multierr.Append(err, fmt.Errorf("worker count must be positive"))
	}
	if cfg.MatrixX < cfg.Threads {
		err = multierr.Append(err, fmt.Errorf("matrix.x %d cannot be split over %d workers", cfg.MatrixX, cfg.Threads))
	}
	if cfg.MatrixY < 1 || cfg.MatrixZ < 1 {
		err = multierr.Append(err, fmt.Errorf("matrix dimensions must be positive"))
	}
	return err
}
