// Package commlink provides the byte-stream channels used to talk to
// targets: telnet consoles and asynchronously running processes. Every
// channel keeps everything it receives in a Buffer so that callers can poll
// for expected output with a timeout.
package commlink

import (
	"regexp"
	"strings"
	"sync"
)

// Buffer accumulates received text. It is safe for concurrent use by one
// writer goroutine and any number of readers.
type Buffer struct {
	mu   sync.Mutex
	text strings.Builder
}

// Write appends p to the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.Write(p)
}

// String returns a copy of the accumulated text.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.String()
}

// Reset discards all accumulated text.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}

// ContainsAny reports whether any of the substrings occurs in the buffer.
func (b *Buffer) ContainsAny(items []string) bool {
	text := b.String()
	for _, item := range items {
		if strings.Contains(text, item) {
			return true
		}
	}
	return false
}

// Match searches the buffer for re. If discard is set and re matches, the
// text up to the end of the match is removed so later searches only see
// newer output.
func (b *Buffer) Match(re *regexp.Regexp, discard bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	text := b.text.String()
	loc := re.FindStringIndex(text)
	if loc == nil {
		return false
	}
	if discard {
		rest := text[loc[1]:]
		b.text.Reset()
		b.text.WriteString(rest)
	}
	return true
}
