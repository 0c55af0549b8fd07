package power

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/perfgo/hiltest/commlink"
)

// crateResetCommand asks the monitor to pulse SYSRESET on the backplane.
const crateResetCommand = "R,7E\r"

// CrateMonitor resets a VME crate through the raw telnet port of its monitor
// card.
type CrateMonitor struct {
	logger zerolog.Logger
	host   string
	port   int
}

// NewCrateMonitor returns a CrateMonitor reachable at host:port.
func NewCrateMonitor(logger zerolog.Logger, host string, port int) *CrateMonitor {
	return &CrateMonitor{logger: logger, host: host, port: port}
}

// Reset sends the reset command. Each call uses a fresh connection because
// monitors drop idle sessions.
func (c *CrateMonitor) Reset(ctx context.Context) error {
	c.logger.Info().Str("host", c.host).Int("port", c.port).Msg("Resetting crate")
	conn, err := commlink.DialTelnet(ctx, c.host, c.port, commlink.WithLogger(c.logger), commlink.WithoutEcho())
	if err != nil {
		return fmt.Errorf("failed to connect to crate monitor: %w", err)
	}
	defer conn.Close()
	return conn.Write(crateResetCommand)
}
