package dap

import (
	"context"

	"github.com/google/go-dap"
	"github.com/xhd2015/dap-session/debug/common"
)

const granularityStatement dap.SteppingGranularity = "statement"

// initializeArguments sends the declared-off features as explicit false
// values; the outer fields shadow the omitempty ones of the embedded struct.
type initializeArguments struct {
	dap.InitializeRequestArguments

	LinesStartAt1                bool `json:"linesStartAt1"`
	ColumnsStartAt1              bool `json:"columnsStartAt1"`
	SupportsVariablePaging       bool `json:"supportsVariablePaging"`
	SupportsRunInTerminalRequest bool `json:"supportsRunInTerminalRequest"`
	SupportsMemoryReferences     bool `json:"supportsMemoryReferences"`
	SupportsProgressReporting    bool `json:"supportsProgressReporting"`
	SupportsInvalidatedEvent     bool `json:"supportsInvalidatedEvent"`
}

func newInitializeArguments(adapterID string) *initializeArguments {
	return &initializeArguments{
		InitializeRequestArguments: dap.InitializeRequestArguments{
			ClientID:             ClientID,
			ClientName:           ClientName,
			AdapterID:            adapterID,
			Locale:               "en-us",
			PathFormat:           "path",
			SupportsVariableType: true,
		},
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
	}
}

// Initialize negotiates capabilities with the adapter. It must succeed
// before any other command. adapterID names the adapter, e.g. "go" or "debugpy".
func (c *Client) Initialize(ctx context.Context, adapterID string) (*dap.Capabilities, error) {
	c.mu.Lock()
	switch c.state {
	case common.StateUninitialized:
		c.state = common.StateInitializing
	case common.StateTerminated:
		c.mu.Unlock()
		return nil, ErrTerminated
	default:
		c.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	c.mu.Unlock()

	var caps dap.Capabilities
	err := c.Request(ctx, "initialize", newInitializeArguments(adapterID), &caps)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == common.StateTerminated {
		if err == nil {
			err = ErrTerminated
		}
		return nil, err
	}
	if err != nil {
		// allow another attempt
		c.state = common.StateUninitialized
		return nil, err
	}
	c.state = common.StateInitialized
	c.capabilities = &caps

	out := caps
	return &out, nil
}

// Launch asks the adapter to start the debuggee. args are adapter specific
// and passed through unchanged.
func (c *Client) Launch(ctx context.Context, args interface{}) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.Request(ctx, "launch", args, nil)
}

// Attach asks the adapter to attach to a running debuggee.
func (c *Client) Attach(ctx context.Context, args interface{}) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.Request(ctx, "attach", args, nil)
}

// ConfigurationDone tells the adapter that initial configuration, such as
// breakpoints, is complete.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.Request(ctx, "configurationDone", nil, nil)
}

// SetBreakpoints replaces all breakpoints of the file at path and returns
// the adapter's view of them, which may differ from what was asked for.
func (c *Client) SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	args := dap.SetBreakpointsArguments{
		Source: dap.Source{
			Path: path,
		},
		Breakpoints: breakpoints,
	}
	var body dap.SetBreakpointsResponseBody
	if err := c.Request(ctx, "setBreakpoints", args, &body); err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// Resume continues execution of the thread.
func (c *Client) Resume(ctx context.Context, threadID int) {
	c.fireAndLog(ctx, "continue", dap.ContinueArguments{
		ThreadId: threadID,
	})
}

// StepOver executes one statement of the thread.
func (c *Client) StepOver(ctx context.Context, threadID int) {
	c.fireAndLog(ctx, "next", dap.NextArguments{
		ThreadId:    threadID,
		Granularity: granularityStatement,
	})
}

// StepIn steps into the function called by the current statement.
func (c *Client) StepIn(ctx context.Context, threadID int) {
	c.fireAndLog(ctx, "stepIn", dap.StepInArguments{
		ThreadId:    threadID,
		Granularity: granularityStatement,
	})
}

// StepOut runs until the current function returns.
func (c *Client) StepOut(ctx context.Context, threadID int) {
	c.fireAndLog(ctx, "stepOut", dap.StepOutArguments{
		ThreadId:    threadID,
		Granularity: granularityStatement,
	})
}

// StepBack steps one statement backwards, for adapters that support it.
func (c *Client) StepBack(ctx context.Context, threadID int) {
	c.fireAndLog(ctx, "stepBack", dap.StepBackArguments{
		ThreadId:    threadID,
		Granularity: granularityStatement,
	})
}

// Restart currently issues the stepBack request with the thread's id.
//
// TODO: switch to the "restart" command once the intended protocol command
// is confirmed with the adapters in use.
func (c *Client) Restart(ctx context.Context, threadID int) {
	c.fireAndLog(ctx, "stepBack", dap.StepBackArguments{
		ThreadId:    threadID,
		Granularity: granularityStatement,
	})
}

// Pause suspends the thread.
func (c *Client) Pause(ctx context.Context, threadID int) {
	c.fireAndLog(ctx, "pause", dap.PauseArguments{
		ThreadId: threadID,
	})
}

// fireAndLog issues commands triggered from UI affordances, where the
// caller has nothing to do with an error. Failures are logged and reported
// to OnCommandError, never returned.
func (c *Client) fireAndLog(ctx context.Context, command string, args interface{}) {
	err := c.checkInitialized()
	if err == nil {
		err = c.Request(ctx, command, args, nil)
	}
	if err == nil {
		return
	}
	c.logger.Warnf("session %s: %s failed: %v", c.id, command, err)
	if c.onCommandError != nil {
		c.onCommandError(command, err)
	}
}

// Threads lists the debuggee's threads.
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	var body dap.ThreadsResponseBody
	if err := c.Request(ctx, "threads", nil, &body); err != nil {
		return nil, err
	}
	return body.Threads, nil
}

// StackTrace returns the stack frames of a thread.
func (c *Client) StackTrace(ctx context.Context, args dap.StackTraceArguments) (*dap.StackTraceResponseBody, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	var body dap.StackTraceResponseBody
	if err := c.Request(ctx, "stackTrace", args, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Scopes returns the variable scopes of a stack frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	var body dap.ScopesResponseBody
	if err := c.Request(ctx, "scopes", dap.ScopesArguments{FrameId: frameID}, &body); err != nil {
		return nil, err
	}
	return body.Scopes, nil
}

// Variables returns the children of a variables reference.
func (c *Client) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	var body dap.VariablesResponseBody
	args := dap.VariablesArguments{VariablesReference: variablesReference}
	if err := c.Request(ctx, "variables", args, &body); err != nil {
		return nil, err
	}
	return body.Variables, nil
}

// Evaluate evaluates an expression in the context of a stack frame.
func (c *Client) Evaluate(ctx context.Context, args dap.EvaluateArguments) (*dap.EvaluateResponseBody, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}
	var body dap.EvaluateResponseBody
	if err := c.Request(ctx, "evaluate", args, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Disconnect ends the debug session on the adapter side.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.Request(ctx, "disconnect", dap.DisconnectArguments{
		TerminateDebuggee: terminateDebuggee,
	}, nil)
}

// Terminate asks the adapter to terminate the debuggee gracefully.
func (c *Client) Terminate(ctx context.Context) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	return c.Request(ctx, "terminate", dap.TerminateArguments{}, nil)
}
