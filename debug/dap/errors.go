package dap

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/go-dap"
)

var (
	// ErrClosed is returned for requests that could not complete because
	// the connection to the adapter was closed.
	ErrClosed = errors.New("dap: connection closed")

	// ErrNotInitialized is returned when a command is issued before the
	// initialize request has succeeded.
	ErrNotInitialized = errors.New("dap: session not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("dap: session already initialized")

	// ErrTerminated is returned for commands issued after the session ended.
	ErrTerminated = errors.New("dap: session terminated")
)

// TransportError reports a failure of the underlying byte stream or of
// its framing. It is fatal to the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dap transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RequestError is returned when the adapter answers a request with
// success=false.
type RequestError struct {
	Command string
	Message string

	// Detail is the structured error from the response body, if any.
	Detail *dap.ErrorMessage
}

func (e *RequestError) Error() string {
	msg := e.Message
	if e.Detail != nil && e.Detail.Format != "" {
		if msg == "" {
			msg = e.Detail.Format
		} else {
			msg = msg + ": " + e.Detail.Format
		}
	}
	if msg == "" {
		return fmt.Sprintf("%s request failed", e.Command)
	}
	return fmt.Sprintf("%s request failed: %s", e.Command, msg)
}

// DecodeError is returned when a successful response body does not match
// the shape expected for the command. It usually means client and adapter
// disagree on the protocol version.
type DecodeError struct {
	Command string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Command, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newRequestError(resp *Response) *RequestError {
	reqErr := &RequestError{
		Command: resp.Command,
		Message: resp.Message,
	}
	if len(resp.Body) > 0 {
		var body struct {
			Error *dap.ErrorMessage `json:"error"`
		}
		if err := json.Unmarshal(resp.Body, &body); err == nil && body.Error != nil {
			reqErr.Detail = body.Error
		}
	}
	return reqErr
}
