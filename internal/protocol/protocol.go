// Package protocol defines the typed messages exchanged between a
// client and the daemon, framed as JSON over a local socket. Each
// connection carries exactly one request and one response.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// RequestType discriminates client requests.
type RequestType string

const (
	// RequestCompile submits a compiler invocation
	RequestCompile RequestType = "compile"

	// RequestStats asks for the daemon's counters
	RequestStats RequestType = "stats"

	// RequestShutdown asks the daemon to terminate
	RequestShutdown RequestType = "shutdown"
)

// CompileRequest carries one compiler invocation to the daemon.
type CompileRequest struct {
	// Exe is the compiler executable as the caller invoked it
	Exe string `json:"exe"`

	// Args is the ordered argument list, not including the executable
	Args []string `json:"args"`

	// Cwd is the caller's working directory
	Cwd string `json:"cwd"`

	// SearchPath optionally overrides where bare executable names are
	// resolved
	SearchPath []string `json:"search_path,omitempty"`
}

// Request is the single message a client sends on a connection.
type Request struct {
	Type    RequestType     `json:"type"`
	Compile *CompileRequest `json:"compile,omitempty"`
}

// ResponseType discriminates daemon responses.
type ResponseType string

const (
	// ResponseCompileFinished carries a relayed compile outcome
	ResponseCompileFinished ResponseType = "compile_finished"

	// ResponseStats carries the counter mapping
	ResponseStats ResponseType = "stats"

	// ResponseShutdownAck acknowledges a shutdown request
	ResponseShutdownAck ResponseType = "shutdown_ack"
)

// CompileFinished relays the compiler's outcome to the caller. ExitCode
// mirrors the compiler exactly; a negative value indicates the process
// was terminated by a signal.
type CompileFinished struct {
	ExitCode int    `json:"exit_code"`
	Stdout   []byte `json:"stdout,omitempty"`
	Stderr   []byte `json:"stderr,omitempty"`
}

// StatValue is one statistics counter: either an integer count or a
// free-form text value.
type StatValue struct {
	Kind  string `json:"kind"` // "count" or "text"
	Count uint64 `json:"count,omitempty"`
	Text  string `json:"text,omitempty"`
}

// CountStat builds an integer-valued stat.
func CountStat(n uint64) StatValue {
	return StatValue{Kind: "count", Count: n}
}

// TextStat builds a text-valued stat.
func TextStat(s string) StatValue {
	return StatValue{Kind: "text", Text: s}
}

// String renders the value for display.
func (v StatValue) String() string {
	if v.Kind == "count" {
		return fmt.Sprintf("%d", v.Count)
	}

	return v.Text
}

// Response is the single message the daemon sends back.
type Response struct {
	Type    ResponseType         `json:"type"`
	Compile *CompileFinished     `json:"compile,omitempty"`
	Stats   map[string]StatValue `json:"stats,omitempty"`
}

// Codec frames messages as newline-delimited JSON over a stream.
type Codec struct {
	enc *json.Encoder
	dec *json.Decoder
}

// NewCodec wraps a stream, typically a net.Conn.
func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		enc: json.NewEncoder(rw),
		dec: json.NewDecoder(rw),
	}
}

// WriteRequest sends a request message.
func (c *Codec) WriteRequest(req *Request) error {
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	return nil
}

// ReadRequest reads the next request message. A malformed message is an
// error, fatal to the connection but never to the daemon.
func (c *Codec) ReadRequest() (*Request, error) {
	var req Request
	if err := c.dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	return &req, nil
}

// WriteResponse sends a response message.
func (c *Codec) WriteResponse(res *Response) error {
	if err := c.enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	return nil
}

// ReadResponse reads the next response message.
func (c *Codec) ReadResponse() (*Response, error) {
	var res Response
	if err := c.dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &res, nil
}
