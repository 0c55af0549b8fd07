package scheduler

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// clientStream is the TAP stream of a suite with n cases, the last one
// failing.
func clientStream(name string, n int) []string {
	lines := []string{fmt.Sprintf("1..%d", n)}
	for i := 1; i < n; i++ {
		lines = append(lines, fmt.Sprintf("ok %d - %s : case %d", i, name, i))
	}
	lines = append(lines, fmt.Sprintf("# AssertionError: %s", name), fmt.Sprintf("not ok %d - %s : case %d", n, name, n))
	return lines
}

func TestAggregator_NoInterleaving(t *testing.T) {
	dir := t.TempDir()
	socket := filepath.Join(dir, SocketName)
	summaryLog := filepath.Join(dir, "summary.log")
	var echo lockedBuffer

	// A stale socket from an earlier run is replaced.
	require.NoError(t, os.WriteFile(socket, nil, 0o644))

	agg, err := Listen(zerolog.Nop(), socket, summaryLog, &echo)
	require.NoError(t, err)
	assert.Equal(t, socket, agg.Path())

	const clients = 6
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conn, err := net.Dial("unix", socket)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			// Write line by line with pauses so that streams overlap in time.
			for _, line := range clientStream(fmt.Sprintf("suite%d", c), 4) {
				_, err := conn.Write([]byte(line + "\n"))
				assert.NoError(t, err)
				time.Sleep(5 * time.Millisecond)
			}
		}(c)
	}
	wg.Wait()
	require.Eventually(t, func() bool { return agg.Accepted() == clients }, 5*time.Second, 10*time.Millisecond)
	results := agg.Close()

	require.Len(t, results, clients)
	for _, r := range results {
		assert.Equal(t, 4, r.Summary.Planned)
		assert.Equal(t, 3, r.Summary.Passed)
		assert.Equal(t, []int{4}, r.Summary.Failing)
	}

	data, err := os.ReadFile(summaryLog)
	require.NoError(t, err)
	log := string(data)
	for c := 0; c < clients; c++ {
		block := strings.Join(clientStream(fmt.Sprintf("suite%d", c), 4), "\n") + "\n"
		assert.Contains(t, log, block, "stream of suite%d is not contiguous", c)
	}
	assert.Len(t, strings.Split(strings.TrimSpace(log), "\n"), clients*6)

	// Client logs are removed once appended.
	matches, err := filepath.Glob(summaryLog + ".*")
	require.NoError(t, err)
	assert.Empty(t, matches)

	assert.Contains(t, echo.String(), "] 1..4\n")
	assert.Equal(t, clients*6, strings.Count(echo.String(), "\n"))
	_, err = os.Stat(socket)
	assert.True(t, os.IsNotExist(err))
}

func TestAggregator_WithoutSummaryLog(t *testing.T) {
	socket := filepath.Join(t.TempDir(), SocketName)
	agg, err := Listen(zerolog.Nop(), socket, "", nil)
	require.NoError(t, err)

	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	_, err = conn.Write([]byte("1..1\nok 1 - c : d\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return agg.Accepted() == 1 }, 5*time.Second, 10*time.Millisecond)
	results := agg.Close()
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].ID)
	assert.Equal(t, 1, results[0].Summary.Passed)
}

func TestListen_BadPath(t *testing.T) {
	_, err := Listen(zerolog.Nop(), filepath.Join(t.TempDir(), "missing", SocketName), "", nil)
	assert.Error(t, err)
}
