package commlink

import (
	"io"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
)

type options struct {
	logger       zerolog.Logger
	logFile      string
	clk          clock.Clock
	pollInterval time.Duration
	dialTimeout  time.Duration
	echo         bool
	stdout       io.Writer
}

func defaultOptions() options {
	return options{
		logger:      zerolog.Nop(),
		clk:         clock.NewClock(),
		dialTimeout: 10 * time.Second,
		echo:        true,
	}
}

// Option configures a Telnet or AsyncProcess channel.
type Option func(*options)

// WithLogger sets the logger used for status messages and echoed output.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogFile appends all received bytes to path, syncing after every write.
func WithLogFile(path string) Option {
	return func(o *options) {
		o.logFile = path
	}
}

// WithClock replaces the clock used for polling.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clk = clk
	}
}

// WithPollInterval overrides the channel's default poll resolution.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithDialTimeout bounds how long connecting to a telnet port may take.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WithoutEcho stops received output from being echoed through the logger.
func WithoutEcho() Option {
	return func(o *options) {
		o.echo = false
	}
}

// WithStdout makes a spawned Process write its stdout and stderr to w
// instead of stderr.
func WithStdout(w io.Writer) Option {
	return func(o *options) {
		o.stdout = w
	}
}
