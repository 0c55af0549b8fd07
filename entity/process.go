package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perfgo/hiltest/commlink"
)

// GUI starts an operator screen in the late phase, after the IOC is up.
type GUI struct {
	Base
	opts options

	mu      sync.Mutex
	process *commlink.Process
}

// NewGUI returns a GUI entity running cmd.
func NewGUI(name, cmd string, opts ...Option) *GUI {
	o := buildOptions(options{
		dir:    ".",
		runCmd: cmd,
		settle: 10 * time.Second,
	}, opts)
	return &GUI{Base: NewBase(name), opts: o}
}

func (g *GUI) Run(ctx context.Context, phase Phase, flags Flags, env Env) error {
	if phase != Late || !flags.RunGUI || g.opts.runCmd == "" {
		return nil
	}
	p, err := spawn(env, g.Name(), g.opts)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.process = p
	g.mu.Unlock()
	return pause(ctx, g.opts.settle)
}

func (g *GUI) Destroy(ctx context.Context, phase Phase, env Env) error {
	if phase != Normal {
		return nil
	}
	g.mu.Lock()
	p := g.process
	g.process = nil
	g.mu.Unlock()
	return kill(env, p)
}

func spawn(env Env, name string, o options) (*commlink.Process, error) {
	p, err := commlink.Spawn(name, o.runCmd, o.dir, commlink.WithLogger(env.Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return p, nil
}

func kill(env Env, p *commlink.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil {
		logger := env.Logger()
		logger.Warn().Err(err).Str("entity", p.Name()).Msg("Failed to kill process")
		return fmt.Errorf("failed to kill %s: %w", p.Name(), err)
	}
	return nil
}
