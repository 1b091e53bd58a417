// Package client connects to a running daemon and speaks the request/
// response protocol on behalf of the command-line entry point.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/posix4e/sccache/internal/protocol"
)

// ErrConnectionFailed marks failures to reach or talk to a daemon.
// Callers can test for it with errors.Is and fall back to running the
// compiler directly, uncached.
var ErrConnectionFailed = errors.New("cannot communicate with sccache server")

const dialTimeout = 5 * time.Second

// Client is one connection to the daemon. The protocol is one request
// and one response per connection.
type Client struct {
	conn  net.Conn
	codec *protocol.Codec
}

// Connect dials a daemon on the loopback interface.
func Connect(port int) (*Client, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	return &Client{
		conn:  conn,
		codec: protocol.NewCodec(conn),
	}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Compile submits a compile request, writes the relayed console output
// to stdout/stderr, and returns the exit status the compiler produced.
func (c *Client) Compile(req protocol.CompileRequest, stdout, stderr io.Writer) (int, error) {
	err := c.codec.WriteRequest(&protocol.Request{
		Type:    protocol.RequestCompile,
		Compile: &req,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	res, err := c.codec.ReadResponse()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if res.Type != protocol.ResponseCompileFinished || res.Compile == nil {
		return 0, fmt.Errorf("%w: unexpected response %q", ErrConnectionFailed, res.Type)
	}

	if len(res.Compile.Stdout) > 0 {
		if _, err := stdout.Write(res.Compile.Stdout); err != nil {
			return 0, fmt.Errorf("failed to write compiler stdout: %w", err)
		}
	}

	if len(res.Compile.Stderr) > 0 {
		if _, err := stderr.Write(res.Compile.Stderr); err != nil {
			return 0, fmt.Errorf("failed to write compiler stderr: %w", err)
		}
	}

	return res.Compile.ExitCode, nil
}

// Stats fetches the daemon's counters.
func (c *Client) Stats() (map[string]protocol.StatValue, error) {
	if err := c.codec.WriteRequest(&protocol.Request{Type: protocol.RequestStats}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	res, err := c.codec.ReadResponse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if res.Type != protocol.ResponseStats {
		return nil, fmt.Errorf("%w: unexpected response %q", ErrConnectionFailed, res.Type)
	}

	return res.Stats, nil
}

// Shutdown asks the daemon to terminate and waits for the
// acknowledgement.
func (c *Client) Shutdown() error {
	if err := c.codec.WriteRequest(&protocol.Request{Type: protocol.RequestShutdown}); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	res, err := c.codec.ReadResponse()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if res.Type != protocol.ResponseShutdownAck {
		return fmt.Errorf("%w: unexpected response %q", ErrConnectionFailed, res.Type)
	}

	return nil
}
