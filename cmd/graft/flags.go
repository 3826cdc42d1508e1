package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/logger"
)

var (
	adaptersDir string
	hostPreset  string
	hostLayers  int64
	hostSeed    int64
	logLevel    string
	logFormat   string
	debug       bool
)

func hostFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Usage:       "reference host preset (small, base)",
			Value:       "small",
			Destination: &hostPreset,
		},
		&cli.Int64Flag{
			Name:        "layers",
			Usage:       "override the preset's encoder layer count",
			Destination: &hostLayers,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "host weight seed",
			Value:       1,
			Destination: &hostSeed,
		},
	}
}

func adaptersDirFlag(required bool) cli.Flag {
	usage := "directory holding saved adapters"
	if !required {
		usage += " (optional)"
	}
	return &cli.StringFlag{
		Name:        "dir",
		Aliases:     []string{"d"},
		Usage:       usage + "; defaults to $" + envGraftAdaptersDir,
		Destination: &adaptersDir,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging applies config file defaults for the global flags and puts the
// resulting logger on ctx.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyGlobalConfig(cmd, LoadConfig())
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.ForFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
