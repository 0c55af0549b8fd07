package commlink

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// capture records received chunks of one stream: it appends them to a
// Buffer, echoes them through the logger and mirrors them to an optional
// log file shared between streams of the same channel.
type capture struct {
	buf    *Buffer
	logger zerolog.Logger
	name   string
	stream string
	echo   bool
	log    *logFile
}

func (c *capture) record(p []byte) {
	if len(p) == 0 {
		return
	}
	c.buf.Write(p)
	if c.echo {
		for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\n") {
			if line == "" {
				continue
			}
			c.logger.Info().
				Str("name", c.name).
				Str("stream", c.stream).
				Msg(strings.TrimRight(line, "\r"))
		}
	}
	if c.log != nil {
		if err := c.log.write(p); err != nil {
			c.logger.Warn().Err(err).Str("name", c.name).Msg("Failed to write capture log")
		}
	}
}

// logFile is an append-only file synced to disk after every write so that
// console output survives a crash of the test process.
type logFile struct {
	mu sync.Mutex
	f  *os.File
}

func openLogFile(path string) (*logFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &logFile{f: f}, nil
}

func (l *logFile) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	if _, err := l.f.Write(p); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *logFile) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
