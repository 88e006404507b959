// Package ipc carries daemon control commands over a unix socket.
//
// The protocol is newline-delimited JSON: a client writes one request
// object per line, the server answers with one response object per
// line, in order, on the same connection. Responses always have the
// shape {success, data?, error?}; a malformed request line produces a
// failed response and leaves the connection open.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Commands understood by the daemon.
const (
	CommandStatus          = "status"
	CommandHealth          = "health"
	CommandStart           = "start"
	CommandStop            = "stop"
	CommandRestart         = "restart"
	CommandRestartPlatform = "restart-platform"
	CommandSend            = "send"
	CommandSearch          = "search"
)

// Request is one command line from a client.
type Request struct {
	Type     string `json:"type"`
	Platform string `json:"platform,omitempty"`

	// Send fields.
	Target string `json:"target,omitempty"`
	Body   string `json:"body,omitempty"`

	// Search fields.
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Response is one answer line from the server.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK wraps data in a successful response.
func OK(data interface{}) Response {
	return Response{Success: true, Data: data}
}

// Fail builds a failed response from an error.
func Fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// Failf builds a failed response from a format string.
func Failf(format string, args ...interface{}) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Handler executes one command. The daemon implements this; ctx is
// cancelled when the handler budget expires or the server stops.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) Response

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// DecodeData unmarshals a response's data field into out. The data
// travels as generic JSON, so clients re-decode into typed structs.
func DecodeData(resp Response, out interface{}) error {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
