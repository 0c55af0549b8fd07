package sim

// This file contains the diagnostic socket back door: commands go out one per
// line and responses come back as whitespace separated tokens, each response
// terminated by the ">>>" shell prompt.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

const (
	prompt = ">>>"

	// readTimeout is how long a receive waits for more bytes before deciding
	// the simulator has finished talking.
	readTimeout = 100 * time.Millisecond
)

// DiagChannel is a connection to the diagnostic port of a simulation.
type DiagChannel struct {
	logger      zerolog.Logger
	name        string
	pythonShell bool

	mu      sync.Mutex
	conn    net.Conn
	tokens  []string
	partial string
}

// DialDiag connects to the diagnostic port on localhost and discards the
// banner the simulator prints on connection. When pythonShell is set the
// simulator runs an interactive interpreter and commands are wrapped in a
// self.command(...) call.
func DialDiag(ctx context.Context, logger zerolog.Logger, name string, port int, pythonShell bool) (*DiagChannel, error) {
	var d net.Dialer
	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to simulation %s at %s: %w", name, addr, err)
	}
	c := &DiagChannel{
		logger:      logger,
		name:        name,
		pythonShell: pythonShell,
		conn:        conn,
	}
	if err := c.swallowInput(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info().Str("simulation", name).Str("addr", addr).Msg("Connected to simulation diagnostic port")
	return c, nil
}

// Command sends one command line.
func (c *DiagChannel) Command(text string) error {
	line := text + "\n"
	if c.pythonShell {
		line = "self.command(" + pyRepr(text) + ")\n"
	}
	c.logger.Debug().Str("simulation", c.name).Str("command", text).Msg("Sending simulation command")

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("failed to send command to simulation %s: %w", c.name, err)
	}
	return nil
}

// RecvResponse reads whatever the simulator has sent and returns the
// arguments of the first response introduced by keyword rsp. Responses before
// it are dropped. With numArgs >= 0 a response with a different number of
// arguments is rejected.
func (c *DiagChannel) RecvResponse(rsp string, numArgs int) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readTokens(); err != nil {
		c.logger.Warn().Err(err).Str("simulation", c.name).Msg("Failed to read simulation response")
	}
	result, ok, rest := extractResponse(c.tokens, rsp, numArgs)
	c.tokens = rest
	c.logger.Debug().Str("simulation", c.name).Strs("response", result).Bool("found", ok).Msg("Received simulation response")
	return result, ok
}

// readTokens drains the socket until it stays quiet for readTimeout.
func (c *DiagChannel) readTokens() error {
	buf := make([]byte, 1024)
	for {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.addText(string(buf[:n]))
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				c.flushPartial()
				return nil
			}
			c.flushPartial()
			return err
		}
	}
}

// addText splits text into tokens, holding back a trailing fragment that may
// continue in the next read.
func (c *DiagChannel) addText(text string) {
	text = c.partial + text
	c.partial = ""
	if text != "" && !unicode.IsSpace(rune(text[len(text)-1])) {
		i := strings.LastIndexFunc(text, unicode.IsSpace)
		c.partial = text[i+1:]
		text = text[:i+1]
	}
	c.tokens = append(c.tokens, strings.Fields(text)...)
}

func (c *DiagChannel) flushPartial() {
	if c.partial != "" {
		c.tokens = append(c.tokens, c.partial)
		c.partial = ""
	}
}

func (c *DiagChannel) swallowInput() error {
	buf := make([]byte, 1024)
	for {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to read from simulation %s: %w", c.name, err)
		}
	}
}

// query sends cmd and waits for the response of the same name.
func (c *DiagChannel) query(cmd string) ([]string, error) {
	if err := c.Command(cmd); err != nil {
		return nil, err
	}
	result, ok := c.RecvResponse(cmd, -1)
	if !ok {
		return nil, ErrNoResponse
	}
	return result, nil
}

func (c *DiagChannel) Branches() ([]string, error) { return c.query("covbranches") }

func (c *DiagChannel) Coverage() ([]string, error) { return c.query("coverage") }

func (c *DiagChannel) ClearCoverage() error { return c.Command("covclear") }

func (c *DiagChannel) SetDiagLevel(level int) error {
	return c.Command("diaglevel " + strconv.Itoa(level))
}

func (c *DiagChannel) Close() error {
	return c.conn.Close()
}

// extractResponse finds the first response starting with keyword rsp in
// tokens. Every response runs up to and including the next prompt token. It
// returns the response arguments and the tokens left after it; when no
// response is found all tokens are consumed.
func extractResponse(tokens []string, rsp string, numArgs int) ([]string, bool, []string) {
	for len(tokens) > 0 && tokens[0] != rsp {
		for len(tokens) > 0 && tokens[0] != prompt {
			tokens = tokens[1:]
		}
		if len(tokens) > 0 {
			tokens = tokens[1:]
		}
	}
	if len(tokens) == 0 {
		return nil, false, nil
	}

	tokens = tokens[1:]
	result := []string{}
	for len(tokens) > 0 && tokens[0] != prompt {
		result = append(result, tokens[0])
		tokens = tokens[1:]
	}
	if len(tokens) > 0 {
		tokens = tokens[1:]
	}
	if numArgs >= 0 && len(result) != numArgs {
		return nil, false, tokens
	}
	return result, true, tokens
}

// pyRepr quotes s the way the Python interpreter prints a str, so the
// simulator shell reads back exactly s.
func pyRepr(s string) string {
	quote := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, "\"") {
		quote = '"'
	}
	var sb strings.Builder
	sb.WriteByte(quote)
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == quote || b == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(b)
		case b == '\n':
			sb.WriteString(`\n`)
		case b == '\r':
			sb.WriteString(`\r`)
		case b == '\t':
			sb.WriteString(`\t`)
		case b < 0x20 || b >= 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, b)
		default:
			sb.WriteByte(b)
		}
	}
	sb.WriteByte(quote)
	return sb.String()
}
