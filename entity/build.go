package entity

import (
	"context"
	"fmt"
)

// Build compiles a support module before the IOC that links it.
type Build struct {
	Base
	opts options
}

// NewBuild returns a Build entity. By default it runs
// "make clean uninstall; make" in the current directory in the early phase.
func NewBuild(name string, opts ...Option) *Build {
	o := buildOptions(options{
		dir:        ".",
		buildCmd:   "make clean uninstall; make",
		buildPhase: Early,
	}, opts)
	return &Build{Base: NewBase(name), opts: o}
}

// NewModule is NewBuild under the name older target definitions use.
func NewModule(name string, opts ...Option) *Build {
	return NewBuild(name, opts...)
}

func (b *Build) Build(ctx context.Context, phase Phase, env Env) error {
	if b.opts.buildCmd == "" || phase != b.opts.buildPhase {
		return nil
	}
	logger := env.Logger()
	logger.Info().
		Str("entity", b.Name()).
		Str("command", b.opts.buildCmd).
		Str("dir", b.opts.dir).
		Msg("Building module")
	if err := runCommand(ctx, env, b.Name(), b.opts.buildCmd, b.opts.dir); err != nil {
		return fmt.Errorf("failed to build %s: %w", b.Name(), err)
	}
	return nil
}
