// Package suite runs a collection of test cases against each target of a
// test environment and reports the results as TAP.
package suite

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"slices"
	"sync"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/perfgo/hiltest/entity"
	"github.com/perfgo/hiltest/tap"
	"github.com/perfgo/hiltest/target"
)

const banner = "=============================="

// Config selects what a run does.
type Config struct {
	DiagnosticLevel int
	DoBuild         bool
	RunIOC          bool
	RunGUI          bool
	RunSim          bool
	UnderHudson     bool
	// Target limits the run to the target of that name.
	Target string
	// Cases limits the run to the named cases.
	Cases []string
	// ResultSocket is the Unix socket of the result aggregator.
	ResultSocket string
	XMLPath      string
}

// DefaultConfig returns the configuration of a run without flags.
func DefaultConfig() Config {
	return Config{DiagnosticLevel: 9}
}

func (c Config) flags() entity.Flags {
	return entity.Flags{
		UnderHudson: c.UnderHudson,
		RunSim:      c.RunSim,
		RunIOC:      c.RunIOC,
		RunGUI:      c.RunGUI,
	}
}

// Case is one test case.
type Case struct {
	Name        string
	Description string
	Func        func(t *T)
}

func (c Case) description() string {
	if c.Description != "" {
		return c.Description
	}
	return c.Name
}

// Suite is a set of test cases and the targets they run against.
type Suite struct {
	name    string
	logger  zerolog.Logger
	out     io.Writer
	clk     clock.Clock
	ca      ChannelAccess
	targets []*target.Target
	cases   []Case

	mu       sync.Mutex
	cfg      Config
	current  *target.Target
	result   *tap.Result
	held     []string
	holding  bool
	sink     io.Writer
	sinkConn net.Conn
}

// Option configures a Suite.
type Option func(*Suite)

// WithLogger sets the logger handed to entities.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Suite) { s.logger = logger }
}

// WithOutput sets where the TAP stream is written. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Suite) { s.out = w }
}

// WithClock sets the clock used to time cases.
func WithClock(clk clock.Clock) Option {
	return func(s *Suite) { s.clk = clk }
}

// WithChannelAccess sets the client used by the PV helpers of T.
func WithChannelAccess(ca ChannelAccess) Option {
	return func(s *Suite) { s.ca = ca }
}

// New returns an empty suite.
func New(name string, opts ...Option) *Suite {
	s := &Suite{
		name:   name,
		logger: zerolog.Nop(),
		out:    os.Stdout,
		clk:    clock.NewClock(),
		ca:     NewCommandLineCA(),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Suite) Name() string { return s.name }

// AddTarget adds targets to run the cases against.
func (s *Suite) AddTarget(targets ...*target.Target) {
	s.targets = append(s.targets, targets...)
}

// AddTargetsFromFile adds the targets defined in a YAML file.
func (s *Suite) AddTargetsFromFile(path string) error {
	targets, err := target.LoadFile(s.logger, path)
	if err != nil {
		return err
	}
	s.AddTarget(targets...)
	return nil
}

// AddCase adds test cases. They run in the order they are added.
func (s *Suite) AddCase(cases ...Case) {
	s.cases = append(s.cases, cases...)
}

// Targets returns the targets of the suite.
func (s *Suite) Targets() []*target.Target { return s.targets }

func (s *Suite) selectedCases(cfg Config) []Case {
	if len(cfg.Cases) == 0 {
		return s.cases
	}
	var out []Case
	for _, c := range s.cases {
		if slices.Contains(cfg.Cases, c.Name) {
			out = append(out, c)
		}
	}
	return out
}

// Diagnostic writes text as TAP comments while a result is open and level
// is within the configured diagnostic level. Text written while a target is
// being prepared is held and written after the plan line.
func (s *Suite) Diagnostic(text string, level int) {
	s.mu.Lock()
	r, max := s.result, s.cfg.DiagnosticLevel
	if r == nil && s.holding && level <= max {
		s.held = append(s.held, text)
	}
	s.mu.Unlock()
	if r != nil && level <= max {
		r.Diagnostic(text)
	}
}

func (s *Suite) Logger() zerolog.Logger { return s.logger }

// Current returns the target being run, or nil between targets.
func (s *Suite) Current() *target.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// connectResultServer opens the result stream. An unreachable server is
// logged and the run continues without it.
func (s *Suite) connectResultServer(path string) {
	if path == "" {
		return
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		s.logger.Warn().Err(err).Str("socket", path).Msg("Failed to connect to result server")
		return
	}
	s.mu.Lock()
	s.sink = conn
	s.sinkConn = conn
	s.mu.Unlock()
}

func (s *Suite) closeResultServer() {
	s.mu.Lock()
	conn := s.sinkConn
	s.sink, s.sinkConn = nil, nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Run runs the selected cases against each selected target in turn. A
// target that fails to prepare has all of its cases reported as failed.
// Every target is destroyed after its run.
func (s *Suite) Run(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	s.connectResultServer(cfg.ResultSocket)
	defer s.closeResultServer()

	cases := s.selectedCases(cfg)
	for _, tgt := range s.targets {
		if cfg.Target != "" && cfg.Target != tgt.Name() {
			continue
		}
		if err := s.runTarget(ctx, cfg, tgt, cases); err != nil {
			return err
		}
	}
	return nil
}

func (s *Suite) runTarget(ctx context.Context, cfg Config, tgt *target.Target, cases []Case) error {
	logger := s.logger.With().Str("suite", s.name).Str("target", tgt.Name()).Logger()
	s.mu.Lock()
	s.current = tgt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	logger.Info().Msg("Preparing target")
	s.mu.Lock()
	s.holding = true
	s.mu.Unlock()
	prepErr := tgt.Prepare(ctx, cfg.DoBuild, cfg.flags(), cfg.DiagnosticLevel, s)

	opts := []tap.Option{tap.WithOutput(s.out), tap.WithClock(s.clk), tap.WithLogger(logger)}
	s.mu.Lock()
	if s.sink != nil {
		opts = append(opts, tap.WithSink(s.sink))
	}
	s.mu.Unlock()
	if cfg.XMLPath != "" {
		opts = append(opts, tap.WithXML(cfg.XMLPath))
	}

	result := tap.New(s.name, len(cases), opts...)
	s.mu.Lock()
	s.result = result
	held := s.held
	s.held, s.holding = nil, false
	s.mu.Unlock()
	for _, text := range held {
		result.Diagnostic(text)
	}

	s.Diagnostic(banner, 0)
	s.Diagnostic(fmt.Sprintf("***** %s *****", s.name), 0)

	if prepErr != nil {
		logger.Error().Err(prepErr).Msg("Target preparation failed")
		s.Diagnostic(fmt.Sprintf("Target %s preparation failed: %v", tgt.Name(), prepErr), 0)
		for _, c := range cases {
			result.StartTest()
			result.AddFailure(c.Name, c.description(), "PreparationError: "+prepErr.Error())
		}
	} else {
		for _, c := range cases {
			if ctx.Err() != nil {
				break
			}
			s.runCase(ctx, c, result)
		}
	}

	s.Diagnostic(banner, 0)
	if err := result.Report(); err != nil {
		logger.Warn().Err(err).Msg("Failed to write report")
	}
	if report := tgt.CoverageReport(ctx); report != "" {
		s.Diagnostic(report, 0)
	}

	s.mu.Lock()
	s.result = nil
	s.mu.Unlock()

	if err := tgt.Destroy(context.WithoutCancel(ctx), s); err != nil {
		logger.Warn().Err(err).Msg("Failed to destroy target")
	}
	return ctx.Err()
}

func (s *Suite) runCase(ctx context.Context, c Case, result *tap.Result) {
	n := result.StartTest()
	s.logger.Debug().Str("case", c.Name).Int("number", n).Msg("Running case")

	t := &T{suite: s, ctx: ctx, name: c.Name, ThrowFail: true}
	if traceback, failed := t.run(c.Func); failed {
		result.AddFailure(c.Name, c.description(), traceback)
		return
	}
	result.AddSuccess(c.Name, c.description())
}
