package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "hiltest"

type App struct {
	logger zerolog.Logger
	out    io.Writer
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		out:    os.Stdout,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run the hardware-in-the-loop test suites of a tree of modules",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Discover and run test suites (default)",
		Action: app.run,
		Flags:  runFlags(),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "discover",
		Usage:  "List the suite commands a run would execute",
		Action: app.discover,
		Flags:  runFlags(),
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "list",
		Usage:  "List previous runs",
		Action: app.list,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "module",
				Aliases: []string{"m"},
				Usage:   "Only show runs that ran suites of this module",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "view",
		Usage:     "View the results of a previous run",
		ArgsUsage: "[ID|INDEX] [MODULE...]",
		Action:    app.view,
		Description: `View the results of a previous run.

Arguments:
  0           View last run (default)
  -1          View 2nd last run
  -2          View 3rd last run
  <id>        View run matching the ID prefix
  MODULE...   Only show the logs of these modules

Examples:
  hiltest view              # View last run
  hiltest view -1           # View 2nd last run
  hiltest view 3f2a motor   # View the motor logs of run 3f2a...

Display Priority:
  1. Summary log of all result streams
  2. Suite output logs
  3. Per-suite status table`,
	})
	// Running is what hiltest does without a command.
	app.cli.Action = app.run
	app.cli.Flags = append(app.cli.Flags, runFlags()...)
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		if len(commit) > 8 {
			commit = commit[:8]
		}
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "search",
			Aliases: []string{"s"},
			Usage:   "Directory of modules to search for suites",
			Value:   ".",
		},
		&cli.StringFlag{
			Name:    "module",
			Aliases: []string{"m"},
			Usage:   "Run only the suites of this module",
		},
		&cli.StringFlag{
			Name:    "target",
			Aliases: []string{"t"},
			Usage:   "Run only the named target of each suite",
		},
		&cli.StringSliceFlag{
			Name:    "case",
			Aliases: []string{"c"},
			Usage:   "Run only the named case (repeatable)",
		},
		&cli.IntFlag{
			Name:    "processes",
			Aliases: []string{"p"},
			Usage:   "Number of suites to run in parallel",
			Value:   1,
		},
		&cli.IntFlag{
			Name:    "diagnostic-level",
			Aliases: []string{"d"},
			Usage:   "Diagnostic level passed to every suite",
		},
		&cli.StringFlag{
			Name:    "summary-log",
			Aliases: []string{"l"},
			Usage:   "Collect the result streams of all suites in this file",
		},
		&cli.BoolFlag{
			Name:    "xml",
			Aliases: []string{"x"},
			Usage:   "Make every suite write a JUnit XML report",
		},
		&cli.BoolFlag{
			Name:    "log-output",
			Aliases: []string{"q"},
			Usage:   "Write the output of every suite to a log file next to it and echo results",
		},
		&cli.BoolFlag{
			Name:    "build",
			Aliases: []string{"b"},
			Usage:   "Build modules before running their suites",
		},
		&cli.BoolFlag{
			Name:    "ioc",
			Aliases: []string{"i"},
			Usage:   "Start the IOCs of each target",
		},
		&cli.BoolFlag{
			Name:    "gui",
			Aliases: []string{"g"},
			Usage:   "Start the GUIs of each target",
		},
		&cli.BoolFlag{
			Name:    "simulation",
			Aliases: []string{"e"},
			Usage:   "Start the simulations of each target",
		},
		&cli.BoolFlag{
			Name:  "hudson",
			Usage: "Run as a CI job",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"f"},
			Usage:   "Read defaults from a configuration file",
		},
		&cli.DurationFlag{
			Name:  "suite-timeout",
			Usage: "Kill a suite that runs for longer than this (0 for no limit)",
		},
		&cli.BoolFlag{
			Name:  "no-history",
			Usage: "Do not record the run in the history",
		},
	}
}
