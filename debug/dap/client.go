package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/google/go-dap"
	"github.com/xhd2015/dap-session/debug/common"
	"github.com/xhd2015/dap-session/log"
)

const (
	ClientID   = "dap-session"
	ClientName = "DAP Session"
)

// EventHandler receives adapter events for one session. HandleEvent is
// called in wire order and never concurrently with itself. The client is
// passed so the handler can issue follow-up requests.
type EventHandler interface {
	HandleEvent(c *Client, ev *Event)
}

// ReverseRequestHandler may additionally be implemented by an EventHandler
// to answer adapter-initiated requests such as runInTerminal. A nil error
// sends a success response carrying body, otherwise a failure response
// with the error text. Without it every reverse request is refused.
type ReverseRequestHandler interface {
	HandleReverseRequest(c *Client, req *Request) (body interface{}, err error)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(c *Client, ev *Event)

func (f EventHandlerFunc) HandleEvent(c *Client, ev *Event) {
	f(c, ev)
}

// Options configures a Client.
type Options struct {
	// ID distinguishes the session among many at the caller level.
	ID string

	Logger  log.Logger
	Handler EventHandler

	// OnCommandError, if set, is told about failures of the fire-and-log
	// commands (Resume, StepOver, ...). Those failures are otherwise only logged.
	OnCommandError func(command string, err error)
}

// Client is a session with one debug adapter. It issues requests, waits
// for their correlated responses and delivers events to the handler.
type Client struct {
	id             string
	logger         log.Logger
	handler        EventHandler
	onCommandError func(command string, err error)

	transport  *Transport
	dispatcher *dispatcher
	events     *eventQueue
	adapter    adapterProcess

	mu           sync.Mutex
	state        common.State
	capabilities *dap.Capabilities
}

var _ common.Session = (*Client)(nil)

// NewClient starts a session over an externally managed transport.
func NewClient(t *Transport, opts Options) *Client {
	return newClient(t, externalAdapter{}, opts)
}

func newClient(t *Transport, adapter adapterProcess, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		id:             opts.ID,
		logger:         logger,
		handler:        opts.Handler,
		onCommandError: opts.OnCommandError,
		transport:      t,
		events:         newEventQueue(),
		adapter:        adapter,
		state:          common.StateUninitialized,
	}
	c.dispatcher = newDispatcher(t, logger, c.events, c.closed)
	c.dispatcher.start()
	go c.events.run(c.deliver)
	go c.watchAdapter()
	return c
}

// ID returns the caller-level session identity.
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Client) State() common.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns the capabilities negotiated by Initialize, and false
// before Initialize has succeeded.
func (c *Client) Capabilities() (dap.Capabilities, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capabilities == nil {
		return dap.Capabilities{}, false
	}
	return *c.capabilities, true
}

// Done is closed when the session has terminated and all pending requests
// have been resolved.
func (c *Client) Done() <-chan struct{} {
	return c.dispatcher.Done()
}

// Err returns why the connection ended, or nil while it is alive or after
// a clean close.
func (c *Client) Err() error {
	select {
	case <-c.dispatcher.Done():
		return c.dispatcher.err
	default:
		return nil
	}
}

// Request sends command with args and decodes the response body into
// result, which may be nil when the body is not needed.
//
// A response with success=false is returned as *RequestError; a body that
// does not fit result as *DecodeError. If ctx ends first the request is
// abandoned and ctx.Err() returned.
func (c *Client) Request(ctx context.Context, command string, args interface{}, result interface{}) error {
	raw, err := marshalArguments(args)
	if err != nil {
		return fmt.Errorf("marshal %s arguments: %w", command, err)
	}

	resp, err := c.dispatcher.call(ctx, command, raw)
	if err != nil {
		return err
	}
	if !resp.Success {
		return newRequestError(resp)
	}
	if result == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return &DecodeError{Command: command, Err: err}
	}
	return nil
}

// Call is the generic form of Client.Request.
func Call[T any](ctx context.Context, c *Client, command string, args interface{}) (T, error) {
	var result T
	err := c.Request(ctx, command, args, &result)
	return result, err
}

// Close closes the transport, terminates an owned adapter process and
// waits until every pending request has been resolved. It is idempotent
// and returns the error from closing the stream, if any. A stream already
// released by an exited adapter process is not an error.
func (c *Client) Close() error {
	err := c.transport.Close()
	<-c.dispatcher.Done()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown politely disconnects from an initialized adapter, asking it to
// terminate the debuggee, and then closes the session.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.State() == common.StateInitialized {
		if err := c.Disconnect(ctx, true); err != nil {
			c.logger.Debugf("session %s: disconnect: %v", c.id, err)
		}
	}
	return c.Close()
}

// closed runs on the dispatcher goroutine once the connection is gone.
func (c *Client) closed(cause error) {
	c.mu.Lock()
	c.state = common.StateTerminated
	c.mu.Unlock()

	if err := c.adapter.terminate(); err != nil {
		c.logger.Warnf("session %s: terminate adapter: %v", c.id, err)
	}
	c.events.close()

	if cause != nil {
		c.logger.Warnf("session %s closed: %v", c.id, cause)
	} else {
		c.logger.Infof("session %s closed", c.id)
	}
}

// watchAdapter turns an adapter crash into a transport closure.
func (c *Client) watchAdapter() {
	select {
	case <-c.adapter.exited():
		c.logger.Warnf("session %s: adapter process exited", c.id)
		c.transport.Close()
	case <-c.dispatcher.Done():
	}
}

// deliver runs on the event goroutine.
func (c *Client) deliver(p Payload) {
	switch m := p.(type) {
	case *Event:
		c.isolate("event "+m.Name, func() {
			if c.handler == nil {
				c.logger.Debugf("session %s: unhandled event %s", c.id, m.Name)
				return
			}
			c.handler.HandleEvent(c, m)
		})
	case *Request:
		c.answer(m)
	}
}

func (c *Client) answer(req *Request) {
	var body interface{}
	var err error

	rh, ok := c.handler.(ReverseRequestHandler)
	if ok {
		handled := false
		c.isolate("reverse request "+req.Command, func() {
			body, err = rh.HandleReverseRequest(c, req)
			handled = true
		})
		if !handled {
			err = fmt.Errorf("%s handler failed", req.Command)
		}
	} else {
		err = fmt.Errorf("unsupported request %q", req.Command)
	}

	var raw json.RawMessage
	if err == nil {
		raw, err = marshalArguments(body)
	}
	if sendErr := c.dispatcher.reply(req, raw, err); sendErr != nil {
		c.logger.Warnf("session %s: reply to %s: %v", c.id, req.Command, sendErr)
	}
}

// isolate keeps a panicking handler from taking down event delivery.
func (c *Client) isolate(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("session %s: %s handler panicked: %v\n%s", c.id, what, r, debug.Stack())
		}
	}()
	fn()
}

// checkInitialized refuses commands that need a negotiated session.
func (c *Client) checkInitialized() error {
	switch c.State() {
	case common.StateInitialized:
		return nil
	case common.StateTerminated:
		return ErrTerminated
	default:
		return ErrNotInitialized
	}
}
