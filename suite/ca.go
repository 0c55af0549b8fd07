package suite

// This file contains the process variable helpers of T and the channel
// access client they use.

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	motionStartTimeout = 10 * time.Second
	motionEndTimeout   = 100 * time.Second
	motionPoll         = 100 * time.Millisecond
)

// ChannelAccess reads and writes process variables.
type ChannelAccess interface {
	Get(ctx context.Context, pv string) (string, error)
	Put(ctx context.Context, pv, value string, wait bool) error
}

// CommandLineCA is a ChannelAccess that runs the caget and caput tools.
type CommandLineCA struct {
	GetTool string
	PutTool string
}

// NewCommandLineCA returns a client using caget and caput from PATH.
func NewCommandLineCA() *CommandLineCA {
	return &CommandLineCA{GetTool: "caget", PutTool: "caput"}
}

func (c *CommandLineCA) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s failed: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (c *CommandLineCA) Get(ctx context.Context, pv string) (string, error) {
	return c.run(ctx, c.GetTool, "-t", pv)
}

func (c *CommandLineCA) Put(ctx context.Context, pv, value string, wait bool) error {
	args := []string{"-t", pv, value}
	if wait {
		args = append([]string{"-c", "-w", "100"}, args...)
	}
	_, err := c.run(ctx, c.PutTool, args...)
	return err
}

// GetPv returns the value of pv as text.
func (t *T) GetPv(pv string) string {
	v, err := t.suite.ca.Get(t.ctx, pv)
	if err != nil {
		t.Failf("Failed to get %s: %v", pv, err)
	}
	return v
}

// PutPv writes value to pv. With wait, it returns once processing
// completes.
func (t *T) PutPv(pv string, value any, wait bool) {
	if err := t.suite.ca.Put(t.ctx, pv, fmt.Sprint(value), wait); err != nil {
		t.Failf("Failed to put %s: %v", pv, err)
	}
}

func (t *T) getFloat(pv string) (float64, bool) {
	text := t.GetPv(pv)
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		t.Failf("%s value %q is not a number", pv, text)
		return 0, false
	}
	return v, true
}

// VerifyPv fails unless pv reads as want.
func (t *T) VerifyPv(pv string, want any) bool {
	got := t.GetPv(pv)
	if got == strings.TrimSpace(fmt.Sprint(want)) {
		return true
	}
	if f, ok := toFloat(want); ok {
		if g, err := strconv.ParseFloat(got, 64); err == nil && g == f {
			return true
		}
	}
	t.Failf("%s: %v != %v", pv, got, want)
	return false
}

// VerifyPvFloat fails unless pv is within tolerance of want.
func (t *T) VerifyPvFloat(pv string, want, tolerance float64) bool {
	got, ok := t.getFloat(pv)
	if !ok {
		return false
	}
	if math.Abs(got-want) <= tolerance {
		return true
	}
	t.Failf("%s: %v != %v +/- %v", pv, got, want, tolerance)
	return false
}

// VerifyPvInRange fails unless lo <= pv <= hi.
func (t *T) VerifyPvInRange(pv string, lo, hi float64) bool {
	got, ok := t.getFloat(pv)
	if !ok {
		return false
	}
	if got >= lo && got <= hi {
		return true
	}
	t.Failf("%s: %v not in %v..%v", pv, got, lo, hi)
	return false
}

// MoveMotorTo drives a motor record to position and waits for the move to
// finish. The move must start within ten seconds and end within a hundred.
func (t *T) MoveMotorTo(motor string, position float64) bool {
	t.PutPv(motor, position, false)
	started := t.pollPv(motionStartTimeout, func() bool {
		return t.GetPv(motor+".DMOV") == "0" || t.GetPv(motor+".MOVN") == "1"
	})
	if !started && t.GetPv(motor+".DMOV") != "1" {
		t.Failf("%s did not start moving", motor)
		return false
	}
	if !t.pollPv(motionEndTimeout, func() bool { return t.GetPv(motor+".DMOV") == "1" }) {
		t.Failf("%s did not finish moving", motor)
		return false
	}
	return true
}

func (t *T) pollPv(timeout time.Duration, done func() bool) bool {
	deadline := t.suite.clk.Now().Add(timeout)
	for {
		if done() {
			return true
		}
		if !t.suite.clk.Now().Before(deadline) || t.ctx.Err() != nil {
			return false
		}
		t.Sleep(motionPoll)
	}
}
