package suite

// This file contains T, the handle a test case uses to make checks and to
// reach the entities of the running target.

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/perfgo/hiltest/entity"
	"github.com/perfgo/hiltest/sim"
	"github.com/perfgo/hiltest/target"
)

// T is passed to each case. Its methods must be called from the goroutine
// running the case.
type T struct {
	suite *Suite
	ctx   context.Context
	name  string

	// ThrowFail makes a failed check end the case at once. When false the
	// failure is logged as a diagnostic and the case carries on, still
	// being reported as failed.
	ThrowFail bool

	failures []string
}

// run calls f and returns the traceback of the failures it records, if any.
func (t *T) run(f func(*T)) (tb string, failed bool) {
	t.failures = nil
	defer func() {
		v := recover()
		switch e := v.(type) {
		case nil:
		case *AssertionError:
			t.failures = append(t.failures, e.Traceback())
		default:
			t.failures = append(t.failures, panicTraceback(v))
		}
		if len(t.failures) > 0 {
			tb, failed = strings.Join(t.failures, "\n"), true
		}
	}()
	f(t)
	return "", false
}

// Context returns the context of the run. It is cancelled when the suite is
// interrupted.
func (t *T) Context() context.Context { return t.ctx }

// Name returns the name of the case.
func (t *T) Name() string { return t.name }

func (t *T) target() *target.Target { return t.suite.Current() }

// Fail records a failure with msg.
func (t *T) Fail(msg string) {
	err := newAssertionError(msg)
	if t.ThrowFail {
		panic(err)
	}
	t.Diagnostic("FAIL: "+msg, 1)
	t.failures = append(t.failures, err.Traceback())
}

// Failf is Fail with a format string.
func (t *T) Failf(format string, args ...any) {
	t.Fail(fmt.Sprintf(format, args...))
}

// Failed reports whether the case has recorded a failure.
func (t *T) Failed() bool { return len(t.failures) > 0 }

// Verify fails unless got equals want. Numbers of different types compare
// by value.
func (t *T) Verify(got, want any) bool {
	if equal(got, want) {
		return true
	}
	t.Failf("%v != %v", got, want)
	return false
}

// VerifyInRange fails unless lo <= got <= hi.
func (t *T) VerifyInRange(got, lo, hi float64) bool {
	if got >= lo && got <= hi {
		return true
	}
	t.Failf("%v not in %v..%v", got, lo, hi)
	return false
}

func equal(a, b any) bool {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// Diagnostic writes text to the TAP stream if level is within the
// diagnostic level of the run.
func (t *T) Diagnostic(text string, level int) {
	t.suite.Diagnostic(text, level)
}

// Sleep pauses the case for d or until the run is interrupted.
func (t *T) Sleep(d time.Duration) {
	select {
	case <-t.ctx.Done():
	case <-t.suite.clk.After(d):
	}
}

// Param returns the value of the parameter or environment entity called
// name, failing if the target has none.
func (t *T) Param(name string) string {
	v, ok := t.target().Param(name)
	if !ok {
		t.Failf("No parameter %s", name)
	}
	return v
}

// Entity returns the entity called name, or nil.
func (t *T) Entity(name string) entity.Entity {
	return t.target().Entity(name)
}

// IOC returns the IOC entity called name, failing if there is none.
func (t *T) IOC(name string) *entity.IOC {
	ioc, ok := t.Entity(name).(*entity.IOC)
	if !ok {
		t.Failf("No IOC %s", name)
	}
	return ioc
}

// Simulation returns the RPC client of the simulation device called dev,
// or nil.
func (t *T) Simulation(dev string) *sim.RPCClient {
	return t.target().Simulation(dev)
}

// SimulationDevicePresent reports whether the target has an entity called
// dev.
func (t *T) SimulationDevicePresent(dev string) bool {
	return t.target().SimulationDevicePresent(dev)
}

// Command sends a line command to a simulation device.
func (t *T) Command(dev, text string) {
	if err := t.target().Command(dev, text); err != nil {
		t.Failf("Command to %s failed: %v", dev, err)
	}
}

// RecvResponse returns the arguments of the next response rsp from a
// simulation device.
func (t *T) RecvResponse(dev, rsp string, numArgs int) ([]string, bool) {
	return t.target().RecvResponse(dev, rsp, numArgs)
}

// VerifyIocTelnet waits up to timeout for any of items on the IOC console.
func (t *T) VerifyIocTelnet(items []string, timeout time.Duration) bool {
	tel := t.target().IOCTelnet()
	if tel == nil {
		t.Fail("No telnet connection to IOC")
		return false
	}
	if tel.WaitFor(t.ctx, items, timeout) {
		return true
	}
	t.Failf("None of %q seen on IOC console", items)
	return false
}

// WriteIocTelnet sends text to the IOC console.
func (t *T) WriteIocTelnet(text string) {
	tel := t.target().IOCTelnet()
	if tel == nil {
		t.Fail("No telnet connection to IOC")
		return
	}
	if err := tel.Write(text); err != nil {
		t.Failf("Write to IOC console failed: %v", err)
	}
}

// ClearIocTelnet discards the text received on the IOC console so far.
func (t *T) ClearIocTelnet() {
	tel := t.target().IOCTelnet()
	if tel == nil {
		t.Fail("No telnet connection to IOC")
		return
	}
	tel.ClearReceivedText()
}

// VerifyIocStdout waits up to wait for pattern on the stdout of a Linux IOC.
func (t *T) VerifyIocStdout(name, pattern string, wait time.Duration, discard bool) bool {
	ioc := t.IOC(name)
	if ioc == nil {
		return false
	}
	found, err := ioc.VerifyStdout(t.ctx, pattern, wait, discard)
	return t.checkStream(name, "stdout", pattern, found, err)
}

// VerifyIocStderr is VerifyIocStdout for stderr.
func (t *T) VerifyIocStderr(name, pattern string, wait time.Duration, discard bool) bool {
	ioc := t.IOC(name)
	if ioc == nil {
		return false
	}
	found, err := ioc.VerifyStderr(t.ctx, pattern, wait, discard)
	return t.checkStream(name, "stderr", pattern, found, err)
}

func (t *T) checkStream(name, stream, pattern string, found bool, err error) bool {
	switch {
	case err != nil:
		t.Failf("%v", err)
	case !found:
		t.Failf("%q not seen on %s of %s", pattern, stream, name)
	}
	return err == nil && found
}
