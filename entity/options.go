package entity

import (
	"time"
)

// options holds the settings of every entity kind. Each constructor reads
// only the fields that apply to it.
type options struct {
	dir        string
	buildCmd   string
	buildPhase Phase
	runCmd     string
	settle     time.Duration
	logFile    string

	// IOC
	automaticRun  bool
	strictBoot    bool
	telnetHost    string
	telnetPort    int
	powerSwitch   Resetter
	crateMonitor  Resetter
	resetPause    time.Duration
	autoBootWait  time.Duration
	startupWait   time.Duration
	noStartupWait bool
	redirector    *Redirector
	rtems         *RTEMSBoot

	// Simulation
	rpcPort     int
	diagPort    int
	pythonShell bool
}

// Option configures an entity.
type Option func(*options)

// WithDir sets the working directory of build and run commands.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithBuildCommand sets the shell command used to build the entity. An empty
// command disables the build.
func WithBuildCommand(cmd string) Option {
	return func(o *options) { o.buildCmd = cmd }
}

// WithBuildPhase selects the phase the build runs in.
func WithBuildPhase(p Phase) Option {
	return func(o *options) { o.buildPhase = p }
}

// WithRunCommand sets the shell command that starts a simulation or GUI.
func WithRunCommand(cmd string) Option {
	return func(o *options) { o.runCmd = cmd }
}

// WithSettleTime sets how long to wait after starting a process before the
// next hook runs.
func WithSettleTime(d time.Duration) Option {
	return func(o *options) { o.settle = d }
}

// WithLogFile mirrors the output of a boot console or IOC process to path.
func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}

// WithManualRun stops the IOC from booting in the normal run phase; the
// test cases call Start themselves.
func WithManualRun() Option {
	return func(o *options) { o.automaticRun = false }
}

// WithStrictBoot turns boot banners that never arrive into errors.
func WithStrictBoot() Option {
	return func(o *options) { o.strictBoot = true }
}

// WithTelnet sets the console server port of an embedded IOC.
func WithTelnet(host string, port int) Option {
	return func(o *options) {
		o.telnetHost = host
		o.telnetPort = port
	}
}

// WithPowerSwitch resets the board by power cycling it.
func WithPowerSwitch(r Resetter) Option {
	return func(o *options) { o.powerSwitch = r }
}

// WithCrateMonitor resets the board through its crate monitor. A power
// switch takes precedence when both are configured.
func WithCrateMonitor(r Resetter) Option {
	return func(o *options) { o.crateMonitor = r }
}

// WithBootTimeouts sets how long to wait for the auto-boot banner and for the
// end of the startup script.
func WithBootTimeouts(autoBoot, startup time.Duration) Option {
	return func(o *options) {
		o.autoBootWait = autoBoot
		o.startupWait = startup
	}
}

// WithResetPause sets the gap between keystrokes of a manual reset.
func WithResetPause(d time.Duration) Option {
	return func(o *options) { o.resetPause = d }
}

// WithoutStartupScriptWait skips waiting for the vxWorks startup script.
func WithoutStartupScriptWait() Option {
	return func(o *options) { o.noStartupWait = true }
}

// WithRedirector programs the boot image redirector before a vxWorks boot.
func WithRedirector(r *Redirector) Option {
	return func(o *options) { o.redirector = r }
}

// WithRTEMSBoot sets how an RTEMS image is staged and loaded.
func WithRTEMSBoot(b *RTEMSBoot) Option {
	return func(o *options) { o.rtems = b }
}

// WithRPCPort connects to the simulation object on a JSON-RPC port.
func WithRPCPort(port int) Option {
	return func(o *options) { o.rpcPort = port }
}

// WithDiagPort connects to the line command port of a simulation.
// pythonShell tells whether the simulator runs an interactive interpreter.
func WithDiagPort(port int, pythonShell bool) Option {
	return func(o *options) {
		o.diagPort = port
		o.pythonShell = pythonShell
	}
}

func buildOptions(defaults options, opts []Option) options {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
