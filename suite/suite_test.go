package suite

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/hiltest/entity"
	"github.com/perfgo/hiltest/target"
)

func newTestSuite(out io.Writer, opts ...Option) *Suite {
	clk := fakeclock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return New("MotorSuite", append([]Option{WithOutput(out), WithClock(clk)}, opts...)...)
}

func motorCases() []Case {
	return []Case{
		{Name: "home", Description: "home the axis", Func: func(t *T) {
			t.Verify(t.Param("axis"), "X")
		}},
		{Name: "move", Description: "move to 6", Func: func(t *T) {
			t.Verify(5, 6)
		}},
		{Name: "stop", Func: func(t *T) {
			t.Verify(int32(3), 3.0)
		}},
	}
}

func TestSuite_Run(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("local", entity.NewParameter("axis", "X")))
	s.AddCase(motorCases()...)

	require.NoError(t, s.Run(context.Background(), DefaultConfig()))

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "1..3\n# ==============================\n# ***** MotorSuite *****\nok 1 - home : home the axis\n"), text)
	assert.Contains(t, text, "# Traceback (most recent call last):\n")
	assert.Contains(t, text, "suite_test.go:")
	assert.Contains(t, text, "# AssertionError: 5 != 6\nnot ok 2 - move : move to 6\nok 3 - stop : stop\n")
	assert.True(t, strings.HasSuffix(text, "# ==============================\n# FAILED test 2\n# Passed 2/3 tests, 66.67% okay, in 0.00s\n"), text)
	assert.Nil(t, s.Current())
	assert.Equal(t, target.Destroyed, s.Targets()[0].State())
}

func TestSuite_PreparationFailure(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("broken",
		entity.NewBuild("support", entity.WithDir(t.TempDir()), entity.WithBuildCommand("exit 2"))))
	s.AddCase(motorCases()...)

	cfg := DefaultConfig()
	cfg.DoBuild = true
	require.NoError(t, s.Run(context.Background(), cfg))

	text := out.String()
	assert.Contains(t, text, "not ok 1 - home : home the axis\n")
	assert.Contains(t, text, "not ok 2 - move : move to 6\n")
	assert.Contains(t, text, "not ok 3 - stop : stop\n")
	assert.Contains(t, text, "# PreparationError: ")
	assert.Contains(t, text, "# FAILED tests 1,2,3\n# Passed 0/3 tests, 0.00% okay")
	assert.Equal(t, target.Destroyed, s.Targets()[0].State())
}

func TestSuite_Selection(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(
		target.New("first", entity.NewParameter("axis", "X")),
		target.New("second", entity.NewParameter("axis", "X")),
	)
	s.AddCase(motorCases()...)

	cfg := DefaultConfig()
	cfg.Target = "second"
	cfg.Cases = []string{"home", "stop"}
	require.NoError(t, s.Run(context.Background(), cfg))

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "1..2\n"))
	assert.Contains(t, text, "ok 1 - home : home the axis\nok 2 - stop : stop\n")
	assert.NotContains(t, text, "move")
	assert.Equal(t, target.Unprepared, s.Targets()[0].State())
	assert.Equal(t, target.Destroyed, s.Targets()[1].State())
}

func TestSuite_DiagnosticLevel(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("local"))
	s.AddCase(Case{Name: "talk", Func: func(t *T) {
		t.Diagnostic("shown", 1)
		t.Diagnostic("hidden", 2)
	}})

	cfg := DefaultConfig()
	cfg.DiagnosticLevel = 1
	require.NoError(t, s.Run(context.Background(), cfg))

	assert.Contains(t, out.String(), "# shown\nok 1 - talk : talk\n")
	assert.NotContains(t, out.String(), "hidden")

	// Outside of a run diagnostics have nowhere to go.
	s.Diagnostic("late", 0)
	assert.NotContains(t, out.String(), "late")
}

// bootNotes emits diagnostics from its run hook like an IOC waiting for
// console banners.
type bootNotes struct {
	entity.Base
}

func (bootNotes) Run(_ context.Context, phase entity.Phase, _ entity.Flags, env entity.Env) error {
	if phase == entity.Normal {
		env.Diagnostic(`ioc: waiting for "Press any key to stop auto-boot..." ok=false`, 0)
		env.Diagnostic("ioc: console chatter", 5)
	}
	return nil
}

func TestSuite_DiagnosticsDuringPreparation(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("local", bootNotes{Base: entity.NewBase("ioc")}))
	s.AddCase(Case{Name: "noop", Func: func(*T) {}})

	cfg := DefaultConfig()
	cfg.DiagnosticLevel = 2
	require.NoError(t, s.Run(context.Background(), cfg))

	text := out.String()
	assert.True(t, strings.HasPrefix(text,
		"1..1\n# ioc: waiting for \"Press any key to stop auto-boot...\" ok=false\n# ==============================\n"), text)
	assert.NotContains(t, text, "console chatter")

	// Held text is written once per preparation.
	out.Reset()
	cfg.DiagnosticLevel = 0
	require.NoError(t, s.Run(context.Background(), cfg))
	assert.Equal(t, 1, strings.Count(out.String(), "auto-boot"))
}

func TestSuite_PanicAndSoftFailure(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("local"))
	reached := false
	s.AddCase(
		Case{Name: "panics", Func: func(t *T) {
			var m map[string]int
			m["x"] = 1
		}},
		Case{Name: "soft", Func: func(t *T) {
			t.ThrowFail = false
			t.Verify(1, 2)
			t.Verify(3, 3)
			reached = true
		}},
	)
	require.NoError(t, s.Run(context.Background(), DefaultConfig()))

	text := out.String()
	assert.Contains(t, text, "# panic: assignment to entry in nil map\nnot ok 1 - panics : panics\n")
	assert.Contains(t, text, "# FAIL: 1 != 2\n")
	assert.Contains(t, text, "# AssertionError: 1 != 2\nnot ok 2 - soft : soft\n")
	assert.True(t, reached)
}

func TestSuite_ResultServer(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "resultServer")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			received <- ""
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- string(data)
	}()

	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("local", entity.NewParameter("axis", "X")))
	s.AddCase(motorCases()...)

	cfg := DefaultConfig()
	cfg.ResultSocket = socket
	require.NoError(t, s.Run(context.Background(), cfg))

	select {
	case got := <-received:
		assert.Equal(t, out.String(), got)
	case <-time.After(5 * time.Second):
		t.Fatal("result server received nothing")
	}
}

func TestSuite_UnreachableResultServer(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("local"))
	s.AddCase(Case{Name: "noop", Func: func(*T) {}})

	cfg := DefaultConfig()
	cfg.ResultSocket = filepath.Join(t.TempDir(), "missing")
	require.NoError(t, s.Run(context.Background(), cfg))
	assert.Contains(t, out.String(), "ok 1 - noop : noop\n")
}

func TestSuite_Cancelled(t *testing.T) {
	var out bytes.Buffer
	s := newTestSuite(&out)
	s.AddTarget(target.New("local"))
	ctx, cancel := context.WithCancel(context.Background())
	s.AddCase(
		Case{Name: "first", Func: func(*T) { cancel() }},
		Case{Name: "second", Func: func(*T) {}},
	)

	err := s.Run(ctx, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, out.String(), "second")
	assert.Equal(t, target.Destroyed, s.Targets()[0].State())
}

func TestSuite_AddTargetsFromFile(t *testing.T) {
	s := New("S")
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  - name: local
    entities:
      - kind: parameter
        name: axis
        value: "X"
`), 0o644))
	require.NoError(t, s.AddTargetsFromFile(path))
	require.Len(t, s.Targets(), 1)
	assert.Equal(t, "local", s.Targets()[0].Name())

	assert.Error(t, s.AddTargetsFromFile(filepath.Join(t.TempDir(), "none.yaml")))
}
