package scheduler

// This file contains the receiving end of the result socket.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/perfgo/hiltest/tap"
)

// ClientResult is the TAP stream received from one suite process.
type ClientResult struct {
	ID      int
	Summary tap.Summary
}

// Aggregator accepts connections on a Unix socket and collects the TAP
// stream of each into a summary log. The streams of clients never
// interleave in the log.
type Aggregator struct {
	logger     zerolog.Logger
	path       string
	summaryLog string
	echo       io.Writer

	ln       net.Listener
	handlers sync.WaitGroup
	done     chan struct{}

	mu      sync.Mutex
	clients int
	results []ClientResult

	logMu sync.Mutex
}

// Listen removes any stale socket at path and starts accepting
// connections. With summaryLog empty, streams are only summarised. A
// non-nil echo receives every line tagged with its client number.
func Listen(logger zerolog.Logger, path, summaryLog string, echo io.Writer) (*Aggregator, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	a := &Aggregator{
		logger:     logger,
		path:       path,
		summaryLog: summaryLog,
		echo:       echo,
		ln:         ln,
		done:       make(chan struct{}),
	}
	logger.Info().Str("socket", path).Msg("Listening for results")
	go a.accept()
	return a, nil
}

// Path returns the socket path.
func (a *Aggregator) Path() string { return a.path }

// Accepted returns the number of clients accepted so far.
func (a *Aggregator) Accepted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clients
}

func (a *Aggregator) accept() {
	defer close(a.done)
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.logger.Warn().Err(err).Msg("Failed to accept result client")
			}
			return
		}
		a.mu.Lock()
		a.clients++
		id := a.clients
		a.mu.Unlock()

		a.handlers.Add(1)
		go func() {
			defer a.handlers.Done()
			a.handle(id, conn)
		}()
	}
}

func (a *Aggregator) handle(id int, conn net.Conn) {
	defer conn.Close()
	logger := a.logger.With().Int("client", id).Logger()
	logger.Debug().Msg("Result client connected")

	var tmp *os.File
	tmpName := fmt.Sprintf("%s.%d", a.summaryLog, id)
	if a.summaryLog != "" {
		var err error
		if tmp, err = os.Create(tmpName); err != nil {
			logger.Warn().Err(err).Str("file", tmpName).Msg("Failed to create client log")
		}
	}

	var stream bytes.Buffer
	w := io.Writer(&stream)
	if tmp != nil {
		w = io.MultiWriter(&stream, tmp)
	}
	if a.echo != nil {
		pr, pw := io.Pipe()
		echoed := make(chan struct{})
		go func() {
			defer close(echoed)
			a.echoLines(id, pr)
		}()
		defer func() {
			pw.Close()
			<-echoed
		}()
		w = io.MultiWriter(w, pw)
	}
	if _, err := io.Copy(w, conn); err != nil {
		logger.Warn().Err(err).Msg("Failed to read result stream")
	}

	summary, err := tap.Summarize(bytes.NewReader(stream.Bytes()))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to summarise result stream")
	}
	a.mu.Lock()
	a.results = append(a.results, ClientResult{ID: id, Summary: summary})
	a.mu.Unlock()
	logger.Debug().Str("summary", summary.String()).Msg("Result client finished")

	if tmp != nil {
		tmp.Close()
		a.appendLog(logger, tmpName)
	}
}

func (a *Aggregator) echoLines(id int, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fmt.Fprintf(a.echo, "[%d] %s\n", id, line)
		}
	}
	io.Copy(io.Discard, r)
}

// appendLog copies a client log onto the end of the summary log and
// removes it.
func (a *Aggregator) appendLog(logger zerolog.Logger, name string) {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	defer os.Remove(name)

	src, err := os.Open(name)
	if err != nil {
		logger.Warn().Err(err).Str("file", name).Msg("Failed to open client log")
		return
	}
	defer src.Close()
	dst, err := os.OpenFile(a.summaryLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn().Err(err).Str("file", a.summaryLog).Msg("Failed to open summary log")
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		logger.Warn().Err(err).Str("file", a.summaryLog).Msg("Failed to append to summary log")
	}
}

// Close stops accepting, waits for every accepted client to finish and
// removes the socket. It returns the result of each client in the order
// they finished.
func (a *Aggregator) Close() []ClientResult {
	a.ln.Close()
	<-a.done
	a.handlers.Wait()
	os.Remove(a.path)

	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ClientResult(nil), a.results...)
}
