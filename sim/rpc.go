package sim

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"strconv"

	"github.com/rs/zerolog"
)

// ServiceName is the name simulations register their RPC object under.
const ServiceName = "Simulation"

// Empty is the argument of RPC methods that take none.
type Empty struct{}

// RPCClient calls the simulation object exported by a simulator over a
// JSON-RPC connection.
type RPCClient struct {
	logger zerolog.Logger
	name   string
	client *rpc.Client
}

// DialRPC connects to the JSON-RPC port of a simulation on localhost.
func DialRPC(ctx context.Context, logger zerolog.Logger, name string, port int) (*RPCClient, error) {
	var d net.Dialer
	addr := net.JoinHostPort("localhost", strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to simulation %s at %s: %w", name, addr, err)
	}
	logger.Info().Str("simulation", name).Str("addr", addr).Msg("Connected to simulation RPC port")
	return &RPCClient{
		logger: logger,
		name:   name,
		client: rpc.NewClientWithCodec(newClientCodec(conn)),
	}, nil
}

func (c *RPCClient) call(method string, args, reply any) error {
	if err := c.client.Call(ServiceName+"."+method, args, reply); err != nil {
		return fmt.Errorf("failed to call %s on simulation %s: %w", method, c.name, err)
	}
	return nil
}

// Call invokes an arbitrary method of the simulation object.
func (c *RPCClient) Call(method string, args, reply any) error {
	return c.call(method, args, reply)
}

func (c *RPCClient) Branches() ([]string, error) {
	var out []string
	err := c.call("Branches", Empty{}, &out)
	return out, err
}

func (c *RPCClient) Coverage() ([]string, error) {
	var out []string
	err := c.call("Coverage", Empty{}, &out)
	return out, err
}

func (c *RPCClient) ClearCoverage() error {
	return c.call("ClearCoverage", Empty{}, &Empty{})
}

func (c *RPCClient) SetDiagLevel(level int) error {
	return c.call("SetDiagLevel", level, &Empty{})
}

func (c *RPCClient) Close() error {
	return c.client.Close()
}
