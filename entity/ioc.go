package entity

// This file contains the IOC entity and its boot state machine for Linux soft
// IOCs and embedded vxWorks and RTEMS boards.

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/perfgo/hiltest/commlink"
)

// Kind is the operating system an IOC runs on.
type Kind int

const (
	Linux Kind = iota
	VxWorks
	RTEMS
)

func (k Kind) String() string {
	switch k {
	case Linux:
		return "linux"
	case VxWorks:
		return "vxworks"
	case RTEMS:
		return "rtems"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{Linux, VxWorks, RTEMS} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown ioc kind %q", s)
}

// State is where an IOC is in its boot sequence.
type State int

const (
	Idle State = iota
	Building
	Booting
	Running
	Stopped
)

func (s State) String() string {
	return [...]string{"idle", "building", "booting", "running", "stopped"}[s]
}

// Resetter forces a board reset.
type Resetter interface {
	Reset(ctx context.Context) error
}

const (
	autoBootBanner = "Press any key to stop auto-boot"
	startupBanner  = "Done executing startup script"
)

// IOC builds and boots an IOC. Embedded boards are driven through their
// telnet console, Linux IOCs run as a child process whose output is captured.
type IOC struct {
	Base
	kind Kind
	opts options

	mu      sync.Mutex
	state   State
	telnet  *commlink.Telnet
	process *commlink.AsyncProcess
}

// NewIOC returns an IOC entity of the given kind. bootCmd is the start
// command of a Linux IOC and the image name of an embedded one.
func NewIOC(name string, kind Kind, bootCmd string, opts ...Option) *IOC {
	o := buildOptions(options{
		dir:          ".",
		buildCmd:     "make clean uninstall; make",
		buildPhase:   Late,
		runCmd:       bootCmd,
		settle:       10 * time.Second,
		automaticRun: true,
		resetPause:   time.Second,
		autoBootWait: 60 * time.Second,
		startupWait:  120 * time.Second,
	}, opts)
	return &IOC{Base: NewBase(name), kind: kind, opts: o}
}

// Kind returns the operating system of the IOC.
func (i *IOC) Kind() Kind { return i.kind }

// State returns the current boot state.
func (i *IOC) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *IOC) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

func (i *IOC) Build(ctx context.Context, phase Phase, env Env) error {
	if i.opts.buildCmd == "" || phase != i.opts.buildPhase {
		return nil
	}
	i.setState(Building)
	defer i.setState(Idle)
	logger := env.Logger()
	logger.Info().Str("entity", i.Name()).Str("dir", i.opts.dir).Msg("Building IOC")
	if err := runCommand(ctx, env, i.Name(), i.opts.buildCmd, i.opts.dir); err != nil {
		return fmt.Errorf("failed to build ioc %s: %w", i.Name(), err)
	}
	return nil
}

func (i *IOC) Run(ctx context.Context, phase Phase, flags Flags, env Env) error {
	if phase != Normal || !flags.RunIOC || !i.opts.automaticRun {
		return nil
	}
	if err := i.Start(ctx, env, i.opts.noStartupWait); err != nil {
		return err
	}
	if i.kind == Linux {
		return pause(ctx, i.opts.settle)
	}
	return nil
}

func (i *IOC) Destroy(ctx context.Context, phase Phase, env Env) error {
	if phase != Late {
		return nil
	}
	return i.Stop(env)
}

// Start boots the IOC. Banners that do not arrive in time are reported as
// diagnostics and the boot carries on unless strict boot is enabled.
func (i *IOC) Start(ctx context.Context, env Env, noStartupScriptWait bool) error {
	i.setState(Booting)
	var err error
	switch i.kind {
	case VxWorks:
		err = i.bootVxWorks(ctx, env, noStartupScriptWait)
	case RTEMS:
		err = i.bootRTEMS(ctx, env)
	default:
		err = i.bootLinux(env)
	}
	if err != nil {
		i.setState(Stopped)
		return err
	}
	i.setState(Running)
	return nil
}

// bootLinux starts the IOC process. A process left from an earlier start is
// killed first.
func (i *IOC) bootLinux(env Env) error {
	i.mu.Lock()
	old := i.process
	i.process = nil
	i.mu.Unlock()
	if old != nil {
		logger := env.Logger()
		logger.Info().Str("entity", i.Name()).Int("pid", old.Pid()).Msg("Stopping previous IOC process")
		if err := old.Kill(); err != nil {
			return fmt.Errorf("failed to stop previous ioc %s: %w", i.Name(), err)
		}
	}

	opts := []commlink.Option{commlink.WithLogger(env.Logger())}
	if i.opts.logFile != "" {
		opts = append(opts, commlink.WithLogFile(i.opts.logFile))
	}
	p, err := commlink.StartAsync(i.Name(), i.opts.runCmd, i.opts.dir, opts...)
	if err != nil {
		return fmt.Errorf("failed to start ioc %s: %w", i.Name(), err)
	}
	i.mu.Lock()
	i.process = p
	i.mu.Unlock()
	return nil
}

// openConsole connects to the board console, replacing any earlier session.
func (i *IOC) openConsole(ctx context.Context, env Env) (*commlink.Telnet, error) {
	if i.opts.telnetHost == "" {
		return nil, fmt.Errorf("ioc %s has no telnet console configured", i.Name())
	}
	opts := []commlink.Option{commlink.WithLogger(env.Logger())}
	if i.opts.logFile != "" {
		opts = append(opts, commlink.WithLogFile(i.opts.logFile))
	}
	t, err := commlink.DialTelnet(ctx, i.opts.telnetHost, i.opts.telnetPort, opts...)
	if err != nil {
		return nil, err
	}
	i.mu.Lock()
	old := i.telnet
	i.telnet = t
	i.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return t, nil
}

// reset forces the board to reboot. A power switch beats a crate monitor,
// and without either the reboot command is typed on the console.
func (i *IOC) reset(ctx context.Context, env Env, t *commlink.Telnet, rebootCmd string) error {
	logger := env.Logger().With().Str("entity", i.Name()).Logger()
	logger.Info().Msg("Resetting IOC")
	switch {
	case i.opts.powerSwitch != nil:
		return i.opts.powerSwitch.Reset(ctx)
	case i.opts.crateMonitor != nil:
		return i.opts.crateMonitor.Reset(ctx)
	}
	if err := pause(ctx, i.opts.resetPause); err != nil {
		return err
	}
	if err := t.Write("\r"); err != nil {
		return err
	}
	if err := pause(ctx, i.opts.resetPause); err != nil {
		return err
	}
	return t.Write(rebootCmd)
}

// expect waits for a console banner and applies the strictness policy.
func (i *IOC) expect(ctx context.Context, env Env, t *commlink.Telnet, banner string, timeout time.Duration) error {
	logger := env.Logger().With().Str("entity", i.Name()).Str("banner", banner).Logger()
	logger.Info().Dur("timeout", timeout).Msg("Waiting for console")
	ok := t.WaitFor(ctx, []string{banner}, timeout)
	env.Diagnostic(fmt.Sprintf("%s: waiting for %q ok=%t", i.Name(), banner, ok), 2)
	if ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if i.opts.strictBoot {
		return fmt.Errorf("ioc %s: timeout waiting for %q", i.Name(), banner)
	}
	logger.Warn().Msg("Console banner not seen, continuing")
	return nil
}

func (i *IOC) bootVxWorks(ctx context.Context, env Env, noStartupScriptWait bool) error {
	if r := i.opts.redirector; r != nil {
		ok, err := r.Program(ctx, env, i.Name(), i.opts.dir, i.opts.runCmd)
		if err != nil {
			if i.opts.strictBoot {
				return err
			}
			logger := env.Logger()
			logger.Warn().Err(err).Str("entity", i.Name()).Msg("Failed to program redirector")
		} else if !ok {
			env.Diagnostic(fmt.Sprintf("%s: redirector did not take the new boot path", i.Name()), 1)
		}
	}

	t, err := i.openConsole(ctx, env)
	if err != nil {
		return err
	}
	if err := i.reset(ctx, env, t, "reboot\r"); err != nil {
		return fmt.Errorf("failed to reset ioc %s: %w", i.Name(), err)
	}
	if err := i.expect(ctx, env, t, autoBootBanner, i.opts.autoBootWait); err != nil {
		return err
	}
	if noStartupScriptWait {
		return nil
	}
	return i.expect(ctx, env, t, startupBanner, i.opts.startupWait)
}

func (i *IOC) bootRTEMS(ctx context.Context, env Env) error {
	b := i.opts.rtems
	if b == nil {
		b = &RTEMSBoot{}
	}
	b.setDefaults()

	t, err := i.openConsole(ctx, env)
	if err != nil {
		return err
	}
	if err := i.reset(ctx, env, t, "reset\r"); err != nil {
		return fmt.Errorf("failed to reset ioc %s: %w", i.Name(), err)
	}
	if err := i.expect(ctx, env, t, b.Prompt, b.PromptWait); err != nil {
		return err
	}
	if err := b.stage(ctx, env, i.opts.dir); err != nil {
		return fmt.Errorf("failed to stage boot image of %s: %w", i.Name(), err)
	}

	// Drop the first prompt so the next wait sees the one printed after the
	// image has loaded.
	t.ClearReceivedText()
	if err := t.Write(b.loadCommand(i.opts.runCmd)); err != nil {
		return err
	}
	if err := i.expect(ctx, env, t, b.Prompt, b.PromptWait); err != nil {
		return err
	}
	if err := pause(ctx, i.opts.resetPause); err != nil {
		return err
	}
	return t.Write("go\r")
}

// Stop kills a Linux IOC process. Embedded boards are left running so they
// can be inspected; only the console session is closed.
func (i *IOC) Stop(env Env) error {
	i.mu.Lock()
	p, t := i.process, i.telnet
	i.process, i.telnet = nil, nil
	i.mu.Unlock()

	if p == nil && t == nil {
		return nil
	}
	i.setState(Stopped)
	if t != nil {
		t.Close()
	}
	if p != nil {
		logger := env.Logger()
		logger.Info().Str("entity", i.Name()).Int("pid", p.Pid()).Msg("Stopping IOC")
		if err := p.Kill(); err != nil {
			return fmt.Errorf("failed to stop ioc %s: %w", i.Name(), err)
		}
	}
	return nil
}

// Telnet returns the console session, or nil when there is none.
func (i *IOC) Telnet() *commlink.Telnet {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.telnet
}

// Process returns the Linux IOC process, or nil when it is not running.
func (i *IOC) Process() *commlink.AsyncProcess {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.process
}

func (i *IOC) requireProcess() (*commlink.AsyncProcess, error) {
	p := i.Process()
	if p == nil {
		return nil, fmt.Errorf("ioc %s has no running process", i.Name())
	}
	return p, nil
}

// SendSignal delivers sig to the IOC process.
func (i *IOC) SendSignal(sig os.Signal) error {
	p, err := i.requireProcess()
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// VerifyStdout waits up to wait for pattern to appear on the IOC's stdout.
func (i *IOC) VerifyStdout(ctx context.Context, pattern string, wait time.Duration, discard bool) (bool, error) {
	p, err := i.requireProcess()
	if err != nil {
		return false, err
	}
	return p.WaitForStdout(ctx, pattern, wait, discard)
}

// VerifyStderr waits up to wait for pattern to appear on the IOC's stderr.
func (i *IOC) VerifyStderr(ctx context.Context, pattern string, wait time.Duration, discard bool) (bool, error) {
	p, err := i.requireProcess()
	if err != nil {
		return false, err
	}
	return p.WaitForStderr(ctx, pattern, wait, discard)
}

// WriteStdin types text into the IOC shell.
func (i *IOC) WriteStdin(text string) error {
	p, err := i.requireProcess()
	if err != nil {
		return err
	}
	return p.Write(text)
}

func (i *IOC) ReadStdout() string {
	if p := i.Process(); p != nil {
		return p.Stdout()
	}
	return ""
}

func (i *IOC) ReadStderr() string {
	if p := i.Process(); p != nil {
		return p.Stderr()
	}
	return ""
}

func (i *IOC) ClearStdout() {
	if p := i.Process(); p != nil {
		p.ClearStdout()
	}
}

func (i *IOC) ClearStderr() {
	if p := i.Process(); p != nil {
		p.ClearStderr()
	}
}
