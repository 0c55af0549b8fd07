package sim

// This file contains the JSON-RPC 1.0 client codec used to talk to
// simulations. Simulators written in Python answer calls that return
// nothing with a null result, which net/rpc/jsonrpc rejects and then
// closes the connection over.

import (
	"encoding/json"
	"fmt"
	"io"
	"net/rpc"
	"sync"
)

type clientRequest struct {
	Method string `json:"method"`
	Params [1]any `json:"params"`
	ID     uint64 `json:"id"`
}

type clientResponse struct {
	ID     uint64           `json:"id"`
	Result *json.RawMessage `json:"result"`
	Error  any              `json:"error"`
}

type clientCodec struct {
	dec *json.Decoder
	enc *json.Encoder
	c   io.Closer

	req  clientRequest
	resp clientResponse

	mu      sync.Mutex
	pending map[uint64]string
}

func newClientCodec(conn io.ReadWriteCloser) rpc.ClientCodec {
	return &clientCodec{
		dec:     json.NewDecoder(conn),
		enc:     json.NewEncoder(conn),
		c:       conn,
		pending: make(map[uint64]string),
	}
}

func (c *clientCodec) WriteRequest(r *rpc.Request, param any) error {
	c.mu.Lock()
	c.pending[r.Seq] = r.ServiceMethod
	c.mu.Unlock()
	c.req.Method = r.ServiceMethod
	c.req.Params[0] = param
	c.req.ID = r.Seq
	return c.enc.Encode(&c.req)
}

func (c *clientCodec) ReadResponseHeader(r *rpc.Response) error {
	c.resp = clientResponse{}
	if err := c.dec.Decode(&c.resp); err != nil {
		return err
	}

	c.mu.Lock()
	r.ServiceMethod = c.pending[c.resp.ID]
	delete(c.pending, c.resp.ID)
	c.mu.Unlock()

	r.Error = ""
	r.Seq = c.resp.ID
	if c.resp.Error != nil {
		msg, ok := c.resp.Error.(string)
		if !ok {
			msg = fmt.Sprint(c.resp.Error)
		}
		if msg == "" {
			msg = "unspecified error"
		}
		r.Error = msg
	}
	return nil
}

// ReadResponseBody leaves x at its zero value for a null result.
func (c *clientCodec) ReadResponseBody(x any) error {
	if x == nil || c.resp.Result == nil || string(*c.resp.Result) == "null" {
		return nil
	}
	return json.Unmarshal(*c.resp.Result, x)
}

func (c *clientCodec) Close() error {
	return c.c.Close()
}
