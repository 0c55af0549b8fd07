package commlink

// This file contains the telnet console channel used to boot and talk to
// embedded targets.

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Telnet protocol bytes (RFC 854).
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
)

// Telnet is a telnet session whose received text accumulates in a buffer
// filled by a background reader.
type Telnet struct {
	opts options
	addr string
	conn net.Conn
	buf  Buffer
	log  *logFile

	writeMu sync.Mutex
	done    chan struct{}
}

// DialTelnet opens a telnet session to host:port and starts the background
// reader. All options negotiated by the peer are refused, which leaves the
// session in plain NVT mode as consoles expect.
func DialTelnet(ctx context.Context, host string, port int, opts ...Option) (*Telnet, error) {
	o := defaultOptions()
	o.pollInterval = TelnetPollInterval
	for _, opt := range opts {
		opt(&o)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	o.logger.Info().Str("addr", addr).Msg("Opening telnet port")

	dialer := net.Dialer{Timeout: o.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open telnet connection to %s: %w", addr, err)
	}

	t := &Telnet{
		opts: o,
		addr: addr,
		conn: conn,
		done: make(chan struct{}),
	}
	if o.logFile != "" {
		o.logger.Info().Str("file", o.logFile).Msg("Opening telnet log file")
		if t.log, err = openLogFile(o.logFile); err != nil {
			conn.Close()
			return nil, err
		}
	}

	go t.receive()
	return t, nil
}

func (t *Telnet) receive() {
	defer close(t.done)

	c := &capture{
		buf:    &t.buf,
		logger: t.opts.logger,
		name:   t.addr,
		stream: "telnet",
		echo:   t.opts.echo,
		log:    t.log,
	}
	var filter iacFilter
	chunk := make([]byte, 4096)
	for {
		n, err := t.conn.Read(chunk)
		if n > 0 {
			data, reply := filter.feed(chunk[:n])
			if len(reply) > 0 {
				t.writeRaw(reply)
			}
			c.record(data)
		}
		if err != nil {
			t.opts.logger.Debug().Err(err).Str("addr", t.addr).Msg("Telnet receiver stopped")
			return
		}
	}
}

// WaitFor polls the received text every 100ms until any of items appears or
// timeout elapses. Text already received counts, and the buffer is left
// untouched.
func (t *Telnet) WaitFor(ctx context.Context, items []string, timeout time.Duration) bool {
	return poll(ctx, t.opts.clk, t.opts.pollInterval, timeout, func() bool {
		return t.buf.ContainsAny(items)
	})
}

// Write sends text to the console.
func (t *Telnet) Write(text string) error {
	escaped := bytes.ReplaceAll([]byte(text), []byte{telnetIAC}, []byte{telnetIAC, telnetIAC})
	return t.writeRaw(escaped)
}

func (t *Telnet) writeRaw(p []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.conn.Write(p); err != nil {
		return fmt.Errorf("failed to write to telnet %s: %w", t.addr, err)
	}
	return nil
}

// ReceivedText returns everything received since the last clear.
func (t *Telnet) ReceivedText() string {
	return t.buf.String()
}

// ClearReceivedText empties the receive buffer.
func (t *Telnet) ClearReceivedText() {
	t.buf.Reset()
}

// Close ends the session and waits for the reader to exit.
func (t *Telnet) Close() error {
	err := t.conn.Close()
	<-t.done
	if t.log != nil {
		t.log.close()
	}
	return err
}

// iacFilter strips telnet commands from a byte stream and produces the
// replies refusing every option the peer asks for. Its state carries over
// between chunks so sequences split across reads are handled.
type iacFilter struct {
	state int
	verb  byte
}

const (
	iacData = iota
	iacCommand
	iacOption
	iacSub
	iacSubCommand
)

func (f *iacFilter) feed(p []byte) (data, reply []byte) {
	for _, b := range p {
		switch f.state {
		case iacData:
			if b == telnetIAC {
				f.state = iacCommand
			} else {
				data = append(data, b)
			}
		case iacCommand:
			switch b {
			case telnetIAC:
				data = append(data, b)
				f.state = iacData
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				f.verb = b
				f.state = iacOption
			case telnetSB:
				f.state = iacSub
			default:
				f.state = iacData
			}
		case iacOption:
			switch f.verb {
			case telnetDO:
				reply = append(reply, telnetIAC, telnetWONT, b)
			case telnetWILL:
				reply = append(reply, telnetIAC, telnetDONT, b)
			}
			f.state = iacData
		case iacSub:
			if b == telnetIAC {
				f.state = iacSubCommand
			}
		case iacSubCommand:
			if b == telnetSE {
				f.state = iacData
			} else {
				f.state = iacSub
			}
		}
	}
	return data, reply
}
