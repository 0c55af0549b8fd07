package suite

// This file contains the command line of a suite executable.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"
)

// signalGrace is how long an interrupted run has to tear its target down
// before the process exits.
const signalGrace = 30 * time.Second

// Main runs the suite with the command line arguments of the process and
// exits with a non-zero status on error.
func (s *Suite) Main() {
	if err := s.App().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// App returns the command line application that runs the suite.
func (s *Suite) App() *cli.App {
	return &cli.App{
		Name:      s.name,
		Usage:     "Run the " + s.name + " test suite",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "diagnostic-level",
				Aliases: []string{"d"},
				Usage:   "Highest level of diagnostics written to the TAP stream",
				Value:   DefaultConfig().DiagnosticLevel,
			},
			&cli.BoolFlag{
				Name:    "build",
				Aliases: []string{"b"},
				Usage:   "Build the target before running it",
			},
			&cli.BoolFlag{
				Name:    "ioc",
				Aliases: []string{"i"},
				Usage:   "Start the IOCs of the target",
			},
			&cli.BoolFlag{
				Name:    "gui",
				Aliases: []string{"g"},
				Usage:   "Start the GUIs of the target",
			},
			&cli.BoolFlag{
				Name:    "simulation",
				Aliases: []string{"e"},
				Usage:   "Start the simulations of the target",
			},
			&cli.StringFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "Run only the named target",
			},
			&cli.StringSliceFlag{
				Name:    "case",
				Aliases: []string{"c"},
				Usage:   "Run only the named case (repeatable)",
			},
			&cli.StringFlag{
				Name:    "result-socket",
				Aliases: []string{"r"},
				Usage:   "Unix socket of the result aggregator",
			},
			&cli.StringFlag{
				Name:    "xml",
				Aliases: []string{"x"},
				Usage:   "Write a JUnit XML report to this file",
			},
			&cli.BoolFlag{
				Name:  "hudson",
				Usage: "Run as a CI job",
			},
			&cli.StringFlag{
				Name:  "targets",
				Usage: "Load additional targets from a YAML file",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose (debug) logging",
			},
		},
		Before: func(ctx *cli.Context) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if ctx.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			s.logger = log.Output(zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: time.RFC3339Nano,
			})
			return nil
		},
		Action: s.action,
	}
}

// ConfigFromFlags builds the run configuration from a parsed command line.
func ConfigFromFlags(ctx *cli.Context) Config {
	return Config{
		DiagnosticLevel: ctx.Int("diagnostic-level"),
		DoBuild:         ctx.Bool("build"),
		RunIOC:          ctx.Bool("ioc"),
		RunGUI:          ctx.Bool("gui"),
		RunSim:          ctx.Bool("simulation"),
		UnderHudson:     ctx.Bool("hudson"),
		Target:          ctx.String("target"),
		Cases:           ctx.StringSlice("case"),
		ResultSocket:    ctx.String("result-socket"),
		XMLPath:         ctx.String("xml"),
	}
}

func (s *Suite) action(ctx *cli.Context) error {
	if ctx.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", ctx.Args().Slice())
	}
	if path := ctx.String("targets"); path != "" {
		if err := s.AddTargetsFromFile(path); err != nil {
			return err
		}
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, unix.SIGINT, unix.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	defer close(finished)
	go s.watchInterrupt(runCtx, finished)

	return s.Run(runCtx, ConfigFromFlags(ctx))
}

// watchInterrupt makes sure an interrupted run exits. The run sees the
// cancelled context and destroys its target. If it has not finished within
// the grace period, the current target is destroyed here and the process
// exits.
func (s *Suite) watchInterrupt(ctx context.Context, finished <-chan struct{}) {
	select {
	case <-finished:
		return
	case <-ctx.Done():
	}
	s.logger.Warn().Msg("Interrupted, tearing down target")
	select {
	case <-finished:
		return
	case <-time.After(signalGrace):
	}
	if tgt := s.Current(); tgt != nil {
		if err := tgt.Destroy(context.Background(), s); err != nil {
			s.logger.Error().Err(err).Msg("Failed to destroy target")
		}
	}
	os.Exit(1)
}
