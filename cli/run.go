package cli

// This file contains the run and discover commands, which hand the suites
// below the search directory to the scheduler.

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/perfgo/hiltest/model"
	"github.com/perfgo/hiltest/scheduler"
)

// schedulerConfig builds the scheduler configuration from the command line
// and, when given, the configuration file.
func (a *App) schedulerConfig(ctx *cli.Context) (scheduler.Config, error) {
	if ctx.NArg() > 0 {
		return scheduler.Config{}, fmt.Errorf("too many arguments: %v", ctx.Args().Slice())
	}
	cfg := scheduler.Config{
		SearchDir:       ctx.String("search"),
		Module:          ctx.String("module"),
		Target:          ctx.String("target"),
		Cases:           ctx.StringSlice("case"),
		Processes:       ctx.Int("processes"),
		DiagnosticLevel: ctx.Int("diagnostic-level"),
		Build:           ctx.Bool("build"),
		IOC:             ctx.Bool("ioc"),
		GUI:             ctx.Bool("gui"),
		Simulation:      ctx.Bool("simulation"),
		Hudson:          ctx.Bool("hudson"),
		XML:             ctx.Bool("xml"),
		LogOutput:       ctx.Bool("log-output"),
		Echo:            ctx.Bool("log-output"),
		SummaryLog:      ctx.String("summary-log"),
		SuiteTimeout:    ctx.Duration("suite-timeout"),
	}
	if path := ctx.String("config"); path != "" {
		fc, err := scheduler.ReadConfigFile(path)
		if err != nil {
			return scheduler.Config{}, err
		}
		a.logger.Debug().Str("file", path).Int("exports", len(fc.Exports)).Msg("Read configuration file")
		fc.Apply(&cfg, ctx.IsSet)
	}
	return cfg, nil
}

func (a *App) discover(ctx *cli.Context) error {
	cfg, err := a.schedulerConfig(ctx)
	if err != nil {
		return err
	}
	s, err := scheduler.New(a.logger, cfg)
	if err != nil {
		return err
	}
	cmds, err := s.Discover()
	if err != nil {
		return err
	}
	if len(cmds) == 0 {
		fmt.Fprintf(a.out, "No suites found below %s\n", cfg.SearchDir)
		return nil
	}
	for _, c := range cmds {
		fmt.Fprintf(a.out, "%s  (in %s)\n", c, c.Dir)
	}
	return nil
}

func (a *App) run(ctx *cli.Context) error {
	startTime := time.Now()

	cfg, err := a.schedulerConfig(ctx)
	if err != nil {
		return err
	}
	s, err := scheduler.New(a.logger, cfg, scheduler.WithOutput(a.out))
	if err != nil {
		return err
	}
	cmds, err := s.Discover()
	if err != nil {
		return err
	}
	if len(cmds) == 0 {
		a.logger.Warn().Str("search", cfg.SearchDir).Msg("No suites found")
		return nil
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, unix.SIGINT, unix.SIGTERM)
	defer stop()
	report, runErr := s.Run(runCtx, cmds)
	if report == nil {
		return runErr
	}

	exitCode := 0
	if runErr != nil || report.Failed() {
		exitCode = 1
	}
	fmt.Fprintf(a.out, "%s, %d suite(s), in %s\n", report.Total, len(cmds), time.Since(startTime).Round(time.Millisecond))

	if !ctx.Bool("no-history") {
		h := model.History{
			ID:        uuid.NewString(),
			Type:      model.HistoryTypeRun,
			Timestamp: startTime,
			Args:      os.Args,
			ExitCode:  exitCode,
			Duration:  time.Since(startTime),
		}
		if err := a.recordRun(&h, s.Config(), report); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record run")
		}
	}

	if runErr != nil {
		return runErr
	}
	if exitCode != 0 {
		return cli.Exit("", exitCode)
	}
	return nil
}
