package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/config"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable that overrides the config path.
const configEnv = "BTLESNIFFER_CONFIG"

// options are the parsed command-line arguments.
type options struct {
	configPath      string
	verbosity       int
	debug           bool
	thresholdRSSI   *int
	minimumInterval *time.Duration
}

// counter is a boolean-style flag that counts how often it was given.
type counter int

func (c *counter) String() string   { return strconv.Itoa(int(*c)) }
func (c *counter) IsBoolFlag() bool { return true }

func (c *counter) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if v {
		*c++
	}
	return nil
}

// parseFlags parses args (without the program name).
//
// Usage errors wrap config.ErrInvalidArgument. A help request returns
// flag.ErrHelp after printing usage to output.
func parseFlags(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("btlesniffer", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		opts      options
		verbosity counter
		threshold int
		interval  float64
	)
	fs.StringVar(&opts.configPath, "config", "", "configuration file `PATH` (default $"+configEnv+" or "+defaultConfigPath+")")
	fs.Var(&verbosity, "v", "increase log verbosity (repeatable: -v info, -v -v debug)")
	fs.Var(&verbosity, "verbose", "same as -v")
	fs.BoolVar(&opts.debug, "d", false, "debug logging with source locations")
	fs.BoolVar(&opts.debug, "debug", false, "same as -d")
	fs.IntVar(&threshold, "threshold-rssi", 0, "weakest signal in `DBM` that triggers a connection attempt")
	fs.Float64Var(&interval, "minimum-interval", 0, "minimum `SECONDS` between attempts on one device")

	fs.Usage = func() {
		fmt.Fprintln(output, "usage: btlesniffer [-h] [-v] [-d] [--minimum-interval SECONDS] [--threshold-rssi DBM] [--config PATH]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(expandShortFlags(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidArgument, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", config.ErrInvalidArgument, fs.Arg(0))
	}

	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold-rssi":
			opts.thresholdRSSI = &threshold
		case "minimum-interval":
			d, err := secondsToDuration(interval)
			if err != nil {
				visitErr = fmt.Errorf("%w: --minimum-interval: %w", config.ErrInvalidArgument, err)
				return
			}
			opts.minimumInterval = &d
		}
	})
	if visitErr != nil {
		return nil, visitErr
	}
	opts.verbosity = int(verbosity)

	return &opts, nil
}

// maxIntervalSeconds is the largest interval a time.Duration can hold.
const maxIntervalSeconds = float64(math.MaxInt64 / int64(time.Second))

// secondsToDuration converts a flag value in seconds. The sign is left to
// config validation.
func secondsToDuration(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("%v is not a number of seconds", secs)
	}
	if math.Abs(secs) > maxIntervalSeconds {
		return 0, fmt.Errorf("%v seconds is out of range (max %.0f)", secs, maxIntervalSeconds)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// expandShortFlags turns "-vv" into "-v -v" and "-vd" into "-v -d".
func expandShortFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if len(arg) > 2 && arg[0] == '-' && arg[1] != '-' && strings.Trim(arg[1:], "vd") == "" {
			for _, c := range arg[1:] {
				out = append(out, "-"+string(c))
			}
			continue
		}
		out = append(out, arg)
	}
	return out
}

// overrides maps the flags onto configuration overrides.
func (o *options) overrides() config.Overrides {
	ov := config.Overrides{
		ThresholdRSSI:   o.thresholdRSSI,
		MinimumInterval: o.minimumInterval,
		LogSource:       o.debug,
	}
	switch {
	case o.debug || o.verbosity >= 2:
		ov.LogLevel = "debug"
	case o.verbosity == 1:
		ov.LogLevel = "info"
	}
	return ov
}

// resolveConfigPath picks the config file from the flag, then the
// environment, then the default path. A missing file at the default path
// yields "" so that built-in defaults are used; an explicitly named file must
// exist.
func resolveConfigPath(flagPath string) (string, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return defaultConfigPath, nil
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: config file: %w", config.ErrInvalidArgument, err)
	}
	return path, nil
}
