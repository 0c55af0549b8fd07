package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/hiltest/suite"
	"github.com/perfgo/hiltest/target"
)

const helperEnv = "HILTEST_HELPER_SUITE"

// TestMain doubles the test binary as a suite executable, so that the
// scheduler can be tested against real suite processes.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperSuite(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runHelperSuite(args []string) int {
	s := suite.New("HelperSuite", suite.WithOutput(os.Stdout))
	s.AddTarget(target.New("local"))
	s.AddCase(
		suite.Case{Name: "pass", Func: func(t *suite.T) { t.Verify(1, 1) }},
		suite.Case{Name: "fail", Func: func(t *suite.T) { t.Verify(5, 6) }},
	)
	if err := s.App().Run(append([]string{"helper"}, args...)); err != nil {
		return 1
	}
	return 0
}

// helperSuite writes a suite script that execs the test binary as a suite.
func helperSuite(t *testing.T, path string) {
	t.Helper()
	bin, err := os.Executable()
	require.NoError(t, err)
	writeSuite(t, path, helperEnv+"=1 exec '"+bin+"' \"$@\"")
}

func newTestScheduler(t *testing.T, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(t.TempDir(), SocketName)
	}
	s, err := New(zerolog.Nop(), cfg, append([]Option{WithGrace(100 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestScheduler_EndToEnd(t *testing.T) {
	root := t.TempDir()
	helperSuite(t, filepath.Join(root, "motor", "etc", "test", "motortest"))
	helperSuite(t, filepath.Join(root, "vacuum", "dls", "test", "gauges"))
	summaryLog := filepath.Join(t.TempDir(), "summary.log")

	cfg := DefaultConfig()
	cfg.SearchDir = root
	cfg.Processes = 2
	cfg.SummaryLog = summaryLog
	cfg.XML = true
	cfg.LogOutput = true
	var out lockedBuffer
	s := newTestScheduler(t, cfg, WithOutput(&out))

	cmds, err := s.Discover()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0].Args, s.Config().SocketPath)

	report, err := s.Run(context.Background(), cmds)
	require.NoError(t, err)

	require.Len(t, report.Commands, 2)
	for _, c := range report.Commands {
		assert.Empty(t, c.Error)
		assert.Equal(t, 0, c.ExitCode)
	}
	require.Len(t, report.Clients, 2)
	assert.Equal(t, 4, report.Total.Planned)
	assert.Equal(t, 2, report.Total.Passed)
	assert.Equal(t, 2, report.Total.Failed)
	assert.True(t, report.Failed())

	data, err := os.ReadFile(summaryLog)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "# ***** HelperSuite *****\n"))
	assert.Equal(t, 2, strings.Count(string(data), "# AssertionError: 5 != 6\nnot ok 2 - fail : fail\n"))

	// Suite output went to the per-suite logs, and each suite wrote its report.
	for _, rel := range []string{"motor/etc/test/motortest", "vacuum/dls/test/gauges"} {
		log, err := os.ReadFile(filepath.Join(root, rel+".log"))
		require.NoError(t, err)
		assert.Contains(t, string(log), "ok 1 - pass : pass\n")
		assert.FileExists(t, filepath.Join(root, rel+".xml"))
	}
	assert.NotContains(t, out.String(), "ok 1 - pass")
}

func TestScheduler_Parallelism(t *testing.T) {
	root := t.TempDir()
	running := filepath.Join(t.TempDir(), "running")
	require.NoError(t, os.Mkdir(running, 0o755))
	counts := filepath.Join(t.TempDir(), "counts")

	body := `touch "$RUNNING/$$"
ls "$RUNNING" | wc -l >> "$COUNTS"
sleep 0.3
rm "$RUNNING/$$"`
	for _, m := range []string{"a", "b", "c", "d"} {
		writeSuite(t, filepath.Join(root, m, "etc", "test", "suite"), body)
	}

	cfg := DefaultConfig()
	cfg.SearchDir = root
	cfg.Processes = 2
	cfg.Env = []string{"RUNNING=" + running, "COUNTS=" + counts}
	s := newTestScheduler(t, cfg, WithOutput(&lockedBuffer{}))
	cmds, err := s.Discover()
	require.NoError(t, err)
	require.Len(t, cmds, 4)

	report, err := s.Run(context.Background(), cmds)
	require.NoError(t, err)
	require.Len(t, report.Commands, 4)
	for i, c := range report.Commands {
		assert.Equal(t, cmds[i].Module, c.Command.Module)
		assert.Empty(t, c.Error)
	}

	data, err := os.ReadFile(counts)
	require.NoError(t, err)
	fields := strings.Fields(string(data))
	require.Len(t, fields, 4)
	highest := 0
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 2)
		highest = max(highest, n)
	}
	assert.Equal(t, 2, highest)
}

func TestScheduler_FailuresAndTimeout(t *testing.T) {
	root := t.TempDir()
	writeSuite(t, filepath.Join(root, "crash", "etc", "test", "suite"), "exit 3")
	writeSuite(t, filepath.Join(root, "hang", "etc", "test", "suite"), "sleep 30")

	cfg := DefaultConfig()
	cfg.SearchDir = root
	cfg.SuiteTimeout = 300 * time.Millisecond
	s := newTestScheduler(t, cfg, WithOutput(&lockedBuffer{}))
	cmds, err := s.Discover()
	require.NoError(t, err)

	start := time.Now()
	report, err := s.Run(context.Background(), cmds)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	require.Len(t, report.Commands, 2)
	crash, hang := report.Commands[0], report.Commands[1]
	assert.Equal(t, 3, crash.ExitCode)
	assert.False(t, crash.TimedOut)
	assert.True(t, hang.TimedOut)
	assert.Contains(t, hang.Error, "timed out")
	assert.Empty(t, report.Clients)
	assert.True(t, report.Failed())
}

func TestScheduler_Cancelled(t *testing.T) {
	root := t.TempDir()
	for _, m := range []string{"a", "b", "c"} {
		writeSuite(t, filepath.Join(root, m, "etc", "test", "suite"), "sleep 30")
	}
	cfg := DefaultConfig()
	cfg.SearchDir = root
	s := newTestScheduler(t, cfg, WithOutput(&lockedBuffer{}))
	cmds, err := s.Discover()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	report, err := s.Run(ctx, cmds)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, report)
	assert.False(t, report.Commands[0].TimedOut)
	assert.NotEmpty(t, report.Commands[0].Error)
	assert.Empty(t, report.Commands[1].Command.Module)
}
