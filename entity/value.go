package entity

import (
	"context"
	"fmt"
	"os"
)

// Environment sets a process environment variable in the very early phase,
// before any child process is started.
type Environment struct {
	Base
	value string
}

// NewEnvironment returns an entity that sets the variable name to value.
func NewEnvironment(name, value string) *Environment {
	return &Environment{Base: NewBase(name), value: value}
}

func (e *Environment) Run(_ context.Context, phase Phase, _ Flags, env Env) error {
	if phase != VeryEarly {
		return nil
	}
	logger := env.Logger()
	logger.Debug().Str("name", e.Name()).Str("value", e.value).Msg("Setting environment variable")
	if err := os.Setenv(e.Name(), e.value); err != nil {
		return fmt.Errorf("failed to set %s: %w", e.Name(), err)
	}
	return nil
}

// Value returns the value the variable is set to.
func (e *Environment) Value() string { return e.value }

// Parameter holds a named value test cases look up.
type Parameter struct {
	Base
	value string
}

func NewParameter(name, value string) *Parameter {
	return &Parameter{Base: NewBase(name), value: value}
}

func (p *Parameter) Value() string { return p.value }
