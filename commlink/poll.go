package commlink

import (
	"context"
	"time"

	"code.cloudfoundry.org/clock"
)

const (
	// TelnetPollInterval is the resolution of Telnet.WaitFor.
	TelnetPollInterval = 100 * time.Millisecond
	// ProcessPollInterval is the resolution of AsyncProcess waits.
	ProcessPollInterval = time.Second
)

// poll evaluates cond until it returns true or timeout has been spent
// sleeping in steps of interval. cond is always evaluated at least once.
// A cancelled ctx ends the wait early and counts as not found.
func poll(ctx context.Context, clk clock.Clock, interval, timeout time.Duration, cond func() bool) bool {
	remaining := timeout
	for {
		if cond() {
			return true
		}
		if remaining <= 0 {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-clk.After(interval):
		}
		remaining -= interval
	}
}
