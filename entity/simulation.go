package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perfgo/hiltest/commlink"
	"github.com/perfgo/hiltest/sim"
)

// Simulation starts a device simulator in the early phase and connects to
// its back door, either a JSON-RPC object or a diagnostic line port.
type Simulation struct {
	Base
	opts options

	mu      sync.Mutex
	env     Env
	process *commlink.Process
	rpc     *sim.RPCClient
	diag    *sim.DiagChannel
}

// NewSimulation returns a Simulation entity. Without WithRunCommand the
// simulator is expected to be running already.
func NewSimulation(name string, opts ...Option) *Simulation {
	o := buildOptions(options{
		dir:         ".",
		settle:      10 * time.Second,
		pythonShell: true,
	}, opts)
	return &Simulation{Base: NewBase(name), opts: o}
}

func (s *Simulation) Run(ctx context.Context, phase Phase, flags Flags, env Env) error {
	if phase != Early || !flags.RunSim || s.opts.runCmd == "" {
		return nil
	}
	p, err := spawn(env, s.Name(), s.opts)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.process = p
	s.mu.Unlock()
	return pause(ctx, s.opts.settle)
}

// Prepare connects the back door and resets coverage tracking. A simulator
// that cannot be reached is logged and left unconnected.
func (s *Simulation) Prepare(ctx context.Context, phase Phase, diagLevel int, env Env) error {
	s.mu.Lock()
	s.env = env
	s.mu.Unlock()
	if phase != Early {
		return nil
	}

	logger := env.Logger().With().Str("entity", s.Name()).Logger()
	var backend sim.Backend
	switch {
	case s.opts.rpcPort != 0:
		c, err := sim.DialRPC(ctx, logger, s.Name(), s.opts.rpcPort)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to simulation")
			return nil
		}
		s.mu.Lock()
		s.rpc = c
		s.mu.Unlock()
		backend = c
	case s.opts.diagPort != 0:
		c, err := sim.DialDiag(ctx, logger, s.Name(), s.opts.diagPort, s.opts.pythonShell)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to simulation")
			return nil
		}
		s.mu.Lock()
		s.diag = c
		s.mu.Unlock()
		backend = c
	default:
		return nil
	}

	if err := backend.ClearCoverage(); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear simulation coverage")
	}
	if err := backend.SetDiagLevel(diagLevel); err != nil {
		logger.Warn().Err(err).Msg("Failed to set simulation diagnostic level")
	}
	return nil
}

func (s *Simulation) Destroy(_ context.Context, phase Phase, env Env) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch phase {
	case Early:
		if s.rpc != nil {
			s.rpc.Close()
			s.rpc = nil
		}
		if s.diag != nil {
			s.diag.Close()
			s.diag = nil
		}
	case Late:
		p := s.process
		s.process = nil
		return kill(env, p)
	}
	return nil
}

func (s *Simulation) diagnostic(text string) {
	if s.env != nil {
		s.env.Diagnostic(text, 2)
	}
}

// Command sends a line command through the diagnostic port. It does nothing
// when the port is not connected.
func (s *Simulation) Command(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diag == nil {
		return nil
	}
	s.diagnostic(fmt.Sprintf("Command[%s]: %s", s.Name(), text))
	return s.diag.Command(text)
}

// RecvResponse returns the arguments of the next response named rsp. With
// numArgs >= 0 responses with another argument count are rejected.
func (s *Simulation) RecvResponse(rsp string, numArgs int) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diag == nil {
		return nil, false
	}
	result, ok := s.diag.RecvResponse(rsp, numArgs)
	if ok {
		s.diagnostic(fmt.Sprintf("Response[%s]: %v", s.Name(), result))
	} else {
		s.diagnostic(fmt.Sprintf("Response[%s]: None", s.Name()))
	}
	return result, ok
}

// RPC returns the simulation object client, or nil without an RPC port.
func (s *Simulation) RPC() *sim.RPCClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpc
}

func (s *Simulation) backend() sim.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.rpc != nil:
		return s.rpc
	case s.diag != nil:
		return s.diag
	}
	return nil
}

func (s *Simulation) CoverageReport(context.Context) string {
	b := s.backend()
	if b == nil {
		return ""
	}
	return sim.CoverageReport(s.Name(), b)
}
