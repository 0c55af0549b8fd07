package commlink

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncProcess_WaitForStdoutAndStderr(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ioc.log")
	p, err := StartAsync("ioc", "echo 'iocInit done'; echo 'warning: no pv' 1>&2; cat", t.TempDir(),
		WithoutEcho(), WithPollInterval(10*time.Millisecond), WithLogFile(logPath))
	require.NoError(t, err)
	defer p.Kill()

	ctx := context.Background()
	found, err := p.WaitForStdout(ctx, `iocInit \w+`, 2*time.Second, true)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = p.WaitForStderr(ctx, "no pv", 2*time.Second, false)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Contains(t, p.Stderr(), "warning")

	// The matched text was consumed, so a second wait does not see it.
	found, err = p.WaitForStdout(ctx, `iocInit`, 50*time.Millisecond, false)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, p.Write("dbl\n"))
	found, err = p.WaitForStdout(ctx, "^\\s*dbl", 2*time.Second, false)
	require.NoError(t, err)
	assert.True(t, found)

	p.ClearStdout()
	assert.Empty(t, p.Stdout())

	require.NoError(t, p.Kill())
	assert.True(t, p.Exited())
	assert.Error(t, p.Write("more\n"))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "iocInit done")
	assert.Contains(t, string(data), "warning: no pv")
}

func TestAsyncProcess_InvalidPattern(t *testing.T) {
	p, err := StartAsync("ioc", "cat", t.TempDir(), WithoutEcho())
	require.NoError(t, err)
	defer p.Kill()

	_, err = p.WaitForStdout(context.Background(), "(", time.Second, false)
	assert.Error(t, err)
}

func TestAsyncProcess_WaitHonoursContext(t *testing.T) {
	p, err := StartAsync("ioc", "cat", t.TempDir(), WithoutEcho(), WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	defer p.Kill()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	found, err := p.WaitForStdout(ctx, "never", time.Minute, false)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSpawn_OutputAndExit(t *testing.T) {
	var out bytes.Buffer
	p, err := Spawn("sim", "echo simulator up; exit 3", t.TempDir(), WithStdout(&out))
	require.NoError(t, err)

	err = p.Wait()
	assert.Error(t, err)
	assert.True(t, p.Exited())
	assert.Equal(t, "simulator up\n", out.String())
	assert.Equal(t, "sim", p.Name())

	// Killing a process that already exited is harmless.
	assert.NoError(t, p.Kill())
	assert.NoError(t, p.Kill())
}

func TestProcess_KillAfterExitSignalsNothing(t *testing.T) {
	var logs bytes.Buffer
	p, err := Spawn("sim", "exit 0", t.TempDir(), WithStdout(&discardWriter{}), WithLogger(zerolog.New(&logs)))
	require.NoError(t, err)
	require.NoError(t, p.Wait())

	require.NoError(t, p.Kill())
	assert.NotContains(t, logs.String(), "Killing process tree")
}

func TestSpawn_RunsInDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	p, err := Spawn("pwd", "pwd", dir, WithStdout(&out))
	require.NoError(t, err)
	require.NoError(t, p.Wait())

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
