package commlink

// This file contains process spawning: plain background processes for GUIs
// and simulators, and AsyncProcess which captures stdout and stderr for
// pattern matching.

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"
)

// Process is a spawned shell command running in its own process group.
type Process struct {
	opts options
	name string
	cmd  *exec.Cmd

	mu     sync.Mutex
	killed bool

	exited  chan struct{}
	waitErr error
}

func newCommand(command, dir string) *exec.Cmd {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	setProcessGroup(cmd)
	return cmd
}

// Spawn starts command through the shell in dir. Its output goes to the
// writer given by WithStdout, or to stderr. Stdout of a suite process is
// reserved for the TAP stream.
func Spawn(name, command, dir string, opts ...Option) (*Process, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cmd := newCommand(command, dir)
	out := o.stdout
	if out == nil {
		out = os.Stderr
	}
	cmd.Stdout = out
	cmd.Stderr = out

	p := &Process{opts: o, name: name, cmd: cmd}
	if err := p.start(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Process) start() error {
	p.opts.logger.Info().
		Str("name", p.name).
		Str("command", p.cmd.String()).
		Str("dir", p.cmd.Dir).
		Msg("Starting process")
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.name, err)
	}
	p.exited = make(chan struct{})
	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	}()
	return nil
}

// Name returns the name the process was spawned with.
func (p *Process) Name() string {
	return p.name
}

// Pid returns the process id of the shell, which is also its process group id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit status.
func (p *Process) Wait() error {
	<-p.exited
	return p.waitErr
}

// Signal delivers sig to the shell.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Kill terminates the process and all of its descendants, then reaps it.
// Killing a process that was already killed or has exited does nothing; its
// pid may belong to another process by then.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed || p.Exited() {
		return nil
	}
	p.killed = true

	p.opts.logger.Info().Str("name", p.name).Int("pid", p.Pid()).Msg("Killing process tree")
	err := KillTree(p.Pid())
	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		p.opts.logger.Warn().Str("name", p.name).Int("pid", p.Pid()).Msg("Process did not exit after kill")
	}
	return err
}

// AsyncProcess is a spawned shell command whose stdout and stderr are
// captured into separate buffers by one reader goroutine per stream.
type AsyncProcess struct {
	*Process

	stdin   io.WriteCloser
	stdout  Buffer
	stderr  Buffer
	log     *logFile
	readers sync.WaitGroup
}

// StartAsync starts command through the shell in dir with all three standard
// streams connected to the returned AsyncProcess.
func StartAsync(name, command, dir string, opts ...Option) (*AsyncProcess, error) {
	o := defaultOptions()
	o.pollInterval = ProcessPollInterval
	for _, opt := range opts {
		opt(&o)
	}

	cmd := newCommand(command, dir)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	a := &AsyncProcess{
		Process: &Process{opts: o, name: name, cmd: cmd},
		stdin:   stdin,
	}
	if o.logFile != "" {
		o.logger.Info().Str("file", o.logFile).Msg("Opening process log file")
		if a.log, err = openLogFile(o.logFile); err != nil {
			return nil, err
		}
	}

	// Pipes must be drained before Wait is called, so the readers start
	// before the waiter goroutine in start.
	if err := cmd.Start(); err != nil {
		if a.log != nil {
			a.log.close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	o.logger.Info().
		Str("name", name).
		Str("command", command).
		Str("dir", dir).
		Int("pid", cmd.Process.Pid).
		Msg("Started process")

	a.readers.Add(2)
	go a.drain(stdout, &a.stdout, "stdout")
	go a.drain(stderr, &a.stderr, "stderr")

	a.exited = make(chan struct{})
	go func() {
		a.readers.Wait()
		a.waitErr = cmd.Wait()
		if a.log != nil {
			a.log.close()
		}
		close(a.exited)
	}()
	return a, nil
}

func (a *AsyncProcess) drain(r io.Reader, buf *Buffer, stream string) {
	defer a.readers.Done()
	c := &capture{
		buf:    buf,
		logger: a.opts.logger,
		name:   a.name,
		stream: stream,
		echo:   a.opts.echo,
		log:    a.log,
	}
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		c.record(chunk[:n])
		if err != nil {
			return
		}
	}
}

// WaitForStdout polls stdout once per poll interval until pattern matches or
// timeout elapses. With discard, the matched prefix is consumed.
func (a *AsyncProcess) WaitForStdout(ctx context.Context, pattern string, timeout time.Duration, discard bool) (bool, error) {
	return a.waitFor(ctx, &a.stdout, pattern, timeout, discard)
}

// WaitForStderr is WaitForStdout for the stderr stream.
func (a *AsyncProcess) WaitForStderr(ctx context.Context, pattern string, timeout time.Duration, discard bool) (bool, error) {
	return a.waitFor(ctx, &a.stderr, pattern, timeout, discard)
}

func (a *AsyncProcess) waitFor(ctx context.Context, buf *Buffer, pattern string, timeout time.Duration, discard bool) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return poll(ctx, a.opts.clk, a.opts.pollInterval, timeout, func() bool {
		return buf.Match(re, discard)
	}), nil
}

// Write sends text to the process's stdin.
func (a *AsyncProcess) Write(text string) error {
	if a.Exited() {
		return fmt.Errorf("process %s has exited", a.name)
	}
	if _, err := io.WriteString(a.stdin, text); err != nil {
		return fmt.Errorf("failed to write to %s: %w", a.name, err)
	}
	a.opts.logger.Debug().Str("name", a.name).Str("text", text).Msg("Wrote to stdin")
	return nil
}

// Stdout returns the captured stdout text.
func (a *AsyncProcess) Stdout() string { return a.stdout.String() }

// Stderr returns the captured stderr text.
func (a *AsyncProcess) Stderr() string { return a.stderr.String() }

// ClearStdout discards the captured stdout text.
func (a *AsyncProcess) ClearStdout() { a.stdout.Reset() }

// ClearStderr discards the captured stderr text.
func (a *AsyncProcess) ClearStderr() { a.stderr.Reset() }
