package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/perfgo/hiltest/commlink"
	"github.com/perfgo/hiltest/tap"
)

// DefaultGrace is how long the aggregator keeps accepting after the last
// suite exits. A suite may connect late or close its stream just after it
// exits.
const DefaultGrace = 500 * time.Millisecond

// CommandResult is the outcome of one suite process.
type CommandResult struct {
	Command  Command       `json:"command"`
	ExitCode int           `json:"exit_code"`
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of a scheduler run.
type Report struct {
	Commands []CommandResult `json:"commands"`
	Clients  []ClientResult  `json:"clients"`
	Total    tap.Summary     `json:"total"`
}

// Failed reports whether a suite failed to run or a case failed.
func (r *Report) Failed() bool {
	if r.Total.Failed > 0 || r.Total.Missing() > 0 {
		return true
	}
	for _, c := range r.Commands {
		if c.Error != "" {
			return true
		}
	}
	return false
}

// Scheduler runs suite commands on a pool of workers and aggregates their
// results.
type Scheduler struct {
	logger zerolog.Logger
	cfg    Config
	out    io.Writer
	clk    clock.Clock
	grace  time.Duration

	mu      sync.Mutex
	queue   []queued
	results []CommandResult
}

type queued struct {
	index int
	cmd   Command
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithOutput sets where suites write their output when it is not logged to
// a file, and where echoed results go. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Scheduler) { s.out = w }
}

// WithClock sets the clock used to time suites.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clk = clk }
}

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.grace = d }
}

// New returns a scheduler for cfg. Without a socket path in cfg, the socket
// is created in the working directory.
func New(logger zerolog.Logger, cfg Config, opts ...Option) (*Scheduler, error) {
	if cfg.SocketPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.SocketPath = filepath.Join(wd, SocketName)
	}
	if cfg.Processes < 1 {
		cfg.Processes = 1
	}
	s := &Scheduler{
		logger: logger,
		cfg:    cfg,
		out:    os.Stdout,
		clk:    clock.NewClock(),
		grace:  DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration with defaults filled in.
func (s *Scheduler) Config() Config { return s.cfg }

// Discover returns the commands for the suites below the search directory.
func (s *Scheduler) Discover() ([]Command, error) {
	return Discover(s.cfg)
}

// Run runs cmds and returns once every suite has exited and every result
// stream has been collected.
func (s *Scheduler) Run(ctx context.Context, cmds []Command) (*Report, error) {
	var echo io.Writer
	if s.cfg.Echo {
		echo = s.out
	}
	agg, err := Listen(s.logger, s.cfg.SocketPath, s.cfg.SummaryLog, echo)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.queue = s.queue[:0]
	for i, c := range cmds {
		s.queue = append(s.queue, queued{index: i, cmd: c})
	}
	s.results = make([]CommandResult, len(cmds))
	s.mu.Unlock()

	workers := min(s.cfg.Processes, max(len(cmds), 1))
	s.logger.Info().Int("suites", len(cmds)).Int("workers", workers).Msg("Running suites")

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return s.work(ctx)
		})
	}
	runErr := g.Wait()

	select {
	case <-s.clk.After(s.grace):
	case <-ctx.Done():
	}
	clients := agg.Close()

	report := &Report{Commands: s.results, Clients: clients}
	for _, c := range clients {
		report.Total.Add(c.Summary)
	}
	s.logger.Info().Str("summary", report.Total.String()).Int("clients", len(clients)).Msg("Finished suites")
	return report, runErr
}

func (s *Scheduler) next() (queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return queued{}, false
	}
	q := s.queue[0]
	s.queue = s.queue[1:]
	return q, true
}

func (s *Scheduler) work(ctx context.Context) error {
	for {
		q, ok := s.next()
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res := s.runOne(ctx, q.cmd)
		s.mu.Lock()
		s.results[q.index] = res
		s.mu.Unlock()
	}
}

func (s *Scheduler) runOne(ctx context.Context, cmd Command) (res CommandResult) {
	logger := s.logger.With().Str("module", cmd.Module).Str("suite", cmd.Suite).Logger()
	res = CommandResult{Command: cmd}
	start := s.clk.Now()
	defer func() { res.Duration = s.clk.Since(start) }()

	out := s.out
	if cmd.Log != "" {
		f, err := os.Create(cmd.Log)
		if err != nil {
			logger.Warn().Err(err).Str("file", cmd.Log).Msg("Failed to create suite log")
		} else {
			defer f.Close()
			out = f
		}
	}

	runCtx := ctx
	if s.cfg.SuiteTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.SuiteTimeout)
		defer cancel()
	}

	p, err := commlink.Spawn(cmd.Suite, cmd.String(), cmd.Dir,
		commlink.WithStdout(out), commlink.WithLogger(logger))
	if err != nil {
		res.ExitCode = -1
		res.Error = err.Error()
		logger.Error().Err(err).Msg("Failed to start suite")
		return res
	}

	waited := make(chan error, 1)
	go func() { waited <- p.Wait() }()

	select {
	case err = <-waited:
	case <-runCtx.Done():
		res.TimedOut = ctx.Err() == nil
		if kerr := p.Kill(); kerr != nil {
			logger.Warn().Err(kerr).Msg("Failed to kill suite")
		}
		err = <-waited
		if res.TimedOut {
			err = fmt.Errorf("suite timed out after %s", s.cfg.SuiteTimeout)
		}
	}

	if err != nil {
		res.Error = err.Error()
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		logger.Warn().Err(err).Int("exit_code", res.ExitCode).Msg("Suite failed")
	} else {
		logger.Info().Msg("Suite finished")
	}
	return res
}
