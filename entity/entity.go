// Package entity defines the units a test target is assembled from and the
// five phase lifecycle they are driven through.
package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/perfgo/hiltest/commlink"
)

// Phase orders the lifecycle hooks of all entities of a target. Every hook of
// one phase completes before any hook of the next phase starts.
type Phase int

const (
	VeryEarly Phase = iota
	Early
	Normal
	Late
	VeryLate
)

// Phases lists all phases in execution order.
var Phases = []Phase{VeryEarly, Early, Normal, Late, VeryLate}

func (p Phase) String() string {
	switch p {
	case VeryEarly:
		return "very-early"
	case Early:
		return "early"
	case Normal:
		return "normal"
	case Late:
		return "late"
	case VeryLate:
		return "very-late"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Flags selects which kinds of processes a run starts.
type Flags struct {
	UnderHudson bool
	RunSim      bool
	RunIOC      bool
	RunGUI      bool
}

// Env is what entities see of the suite running them.
type Env interface {
	// Diagnostic emits text as a TAP comment when level is within the
	// suite's diagnostic level.
	Diagnostic(text string, level int)
	Logger() zerolog.Logger
}

// Entity is one unit of test environment setup. Each hook is called once
// per phase and ignores the phases it has nothing to do in.
type Entity interface {
	Name() string
	Build(ctx context.Context, phase Phase, env Env) error
	Run(ctx context.Context, phase Phase, flags Flags, env Env) error
	Prepare(ctx context.Context, phase Phase, diagLevel int, env Env) error
	Destroy(ctx context.Context, phase Phase, env Env) error
}

// CoverageReporter is implemented by entities that can report what the
// tests exercised.
type CoverageReporter interface {
	CoverageReport(ctx context.Context) string
}

// Base provides the name and no-op hooks. Entities embed it and override the
// hooks they need.
type Base struct {
	name string
}

// NewBase returns a Base called name.
func NewBase(name string) Base {
	return Base{name: name}
}

func (b Base) Name() string { return b.name }

func (Base) Build(context.Context, Phase, Env) error { return nil }

func (Base) Run(context.Context, Phase, Flags, Env) error { return nil }

func (Base) Prepare(context.Context, Phase, int, Env) error { return nil }

func (Base) Destroy(context.Context, Phase, Env) error { return nil }

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// runCommand runs a shell command in dir to completion. Its output goes to
// stderr so it never mixes with the TAP stream.
func runCommand(ctx context.Context, env Env, name, command, dir string) error {
	logger := env.Logger()
	p, err := commlink.Spawn(name, command, dir, commlink.WithLogger(logger))
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("command %q failed: %w", command, err)
		}
		return nil
	case <-ctx.Done():
		if kerr := p.Kill(); kerr != nil {
			logger.Warn().Err(kerr).Str("name", name).Msg("Failed to kill command")
		}
		return ctx.Err()
	}
}
