package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	godap "github.com/google/go-dap"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xhd2015/dap-session/debug"
	"github.com/xhd2015/dap-session/debug/config"
	"github.com/xhd2015/dap-session/debug/dap"
	"github.com/xhd2015/dap-session/log"
)

// DefaultStopTimeout bounds how long the execution tools wait for the
// debuggee to stop again before reporting it as running.
const DefaultStopTimeout = 10 * time.Second

type ToolOptions struct {
	Config *config.File
	Logger log.Logger
	// StopTimeout defaults to DefaultStopTimeout.
	StopTimeout time.Duration
}

// Tools serves the sessions of one session manager as MCP tools.
type Tools struct {
	sm          *dap.SessionManager
	cfg         *config.File
	logger      log.Logger
	stopTimeout time.Duration

	mu       sync.Mutex
	trackers map[string]*tracker
}

// RegisterTools registers the debug tools with the MCP server
func RegisterTools(s *server.MCPServer, sm *dap.SessionManager, opts ToolOptions) (*Tools, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("requires adapter config")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	t := &Tools{
		sm:          sm,
		cfg:         opts.Config,
		logger:      opts.Logger,
		stopTimeout: opts.StopTimeout,
		trackers:    make(map[string]*tracker),
	}

	t.registerStartDebugTool(s)
	t.registerTerminateDebugTool(s)
	t.registerListSessionsTool(s)
	t.registerSetBreakpointTool(s)
	t.registerExecutionTool(s, "continue", "Continue execution until the next stop", (*dap.Client).Resume)
	t.registerExecutionTool(s, "next", "Step over the current line", (*dap.Client).StepOver)
	t.registerExecutionTool(s, "step_in", "Step into the function call on the current line", (*dap.Client).StepIn)
	t.registerExecutionTool(s, "step_out", "Step out of the current function", (*dap.Client).StepOut)
	t.registerExecutionTool(s, "pause", "Pause a running thread", (*dap.Client).Pause)
	t.registerStackTraceTool(s)
	t.registerEvaluateTool(s)
	t.registerOutputTool(s)
	return t, nil
}

func (t *Tools) registerStartDebugTool(s *server.MCPServer) {
	tool := mcp.NewTool("start_debug",
		mcp.WithDescription("Start a debug session with a configured debug adapter"),
		mcp.WithString("adapter",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("Name of the configured adapter, one of: %s", strings.Join(t.cfg.Names(), ", "))),
		),
		mcp.WithString("request",
			mcp.Description("'launch' starts the debuggee, 'attach' connects to a running one"),
			mcp.Enum("launch", "attach"),
		),
		mcp.WithString("arguments",
			mcp.Required(),
			mcp.Description(`Launch or attach arguments as a JSON object, passed to the adapter unchanged, e.g. {"program":"./main.go"}`),
		),
		mcp.WithString("breakpoints",
			mcp.Description("Comma separated <file>:<line> breakpoints set before the debuggee runs"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, _ := request.Params.Arguments["adapter"].(string)
		req, _ := request.Params.Arguments["request"].(string)
		arguments, _ := request.Params.Arguments["arguments"].(string)
		breakpoints, _ := request.Params.Arguments["breakpoints"].(string)
		if req == "" {
			req = "launch"
		}

		adapter, err := t.cfg.Adapter(name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start debug session: %v", err)), nil
		}
		if !json.Valid([]byte(arguments)) {
			return mcp.NewToolResultError("Failed to start debug session: arguments is not valid JSON"), nil
		}
		var bps []debug.Breakpoint
		for _, loc := range strings.Split(breakpoints, ",") {
			loc = strings.TrimSpace(loc)
			if loc == "" {
				continue
			}
			bp, err := debug.ParseBreakpoint(loc)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to start debug session: %v", err)), nil
			}
			bps = append(bps, bp)
		}

		tr := newTracker()
		c, err := t.sm.CreateSession(ctx, adapter.Name, dap.Options{
			Logger:         t.logger,
			Handler:        tr,
			OnCommandError: tr.commandFailed,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start debug session: %v", err)), nil
		}
		for _, bp := range bps {
			tr.addBreakpoint(bp)
		}

		set, err := debug.Start(ctx, c, debug.StartRequest{
			AdapterID:   adapter.AdapterID,
			Request:     req,
			Arguments:   json.RawMessage(arguments),
			Breakpoints: bps,
		}, tr.initialized)
		if err != nil {
			if termErr := t.sm.TerminateSession(context.Background(), c.ID()); termErr != nil {
				t.logger.Warnf("terminate %s after failed start: %v", c.ID(), termErr)
			}
			return mcp.NewToolResultError(fmt.Sprintf("Failed to start debug session: %v", err)), nil
		}

		t.mu.Lock()
		t.trackers[c.ID()] = tr
		t.mu.Unlock()

		var sb strings.Builder
		fmt.Fprintf(&sb, "Debug session started with ID: %s\nAdapter: %s\nRequest: %s", c.ID(), adapter.Name, req)
		for _, bp := range set {
			writeBreakpoint(&sb, bp)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})
}

func (t *Tools) registerTerminateDebugTool(s *server.MCPServer) {
	tool := mcp.NewTool("terminate_debug",
		mcp.WithDescription("Terminate a debug session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the debug session to terminate"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)

		t.forget(sessionID)
		if err := t.sm.TerminateSession(ctx, sessionID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to terminate debug session: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Debug session %s terminated", sessionID)), nil
	})
}

func (t *Tools) registerListSessionsTool(s *server.MCPServer) {
	tool := mcp.NewTool("list_debug_sessions",
		mcp.WithDescription("List active debug sessions"),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions := t.sm.ListSessions()
		if len(sessions) == 0 {
			return mcp.NewToolResultText("No active debug sessions"), nil
		}

		var sb strings.Builder
		sb.WriteString("Active debug sessions:\n")
		for _, info := range sessions {
			fmt.Fprintf(&sb, "- ID: %s, Adapter: %s, State: %s\n", info.ID, info.Adapter, info.State)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})
}

func (t *Tools) registerSetBreakpointTool(s *server.MCPServer) {
	tool := mcp.NewTool("set_breakpoint",
		mcp.WithDescription("Set a breakpoint in a source file"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("Path to the source file"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("Line number"),
		),
		mcp.WithString("condition",
			mcp.Description("Only stop when this expression is true"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)
		file, _ := request.Params.Arguments["file"].(string)
		line, _ := request.Params.Arguments["line"].(float64)
		condition, _ := request.Params.Arguments["condition"].(string)

		c, tr, err := t.session(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get debug session: %v", err)), nil
		}
		bp, err := debug.ParseBreakpoint(fmt.Sprintf("%s:%d", file, int(line)))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to set breakpoint: %v", err)), nil
		}
		bp.Condition = condition

		// the adapter replaces all breakpoints of a file at once
		set, err := debug.SetBreakpoints(ctx, c, tr.addBreakpoint(bp))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to set breakpoint: %v", err)), nil
		}
		if len(set) == 0 {
			return mcp.NewToolResultError("Failed to set breakpoint: adapter returned no breakpoints"), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Breakpoints in %s:", bp.File)
		for _, b := range set {
			writeBreakpoint(&sb, b)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})
}

type executionCommand func(c *dap.Client, ctx context.Context, threadID int)

func (t *Tools) registerExecutionTool(s *server.MCPServer, name string, description string, command executionCommand) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
		mcp.WithNumber("thread_id",
			mcp.Description("Thread to act on, defaults to the thread that stopped last"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)
		threadID, _ := request.Params.Arguments["thread_id"].(float64)

		c, tr, err := t.session(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get debug session: %v", err)), nil
		}
		tid := int(threadID)
		if tid == 0 {
			tid = tr.lastThread()
		}

		changed := tr.watch()
		tr.takeCommandError()
		command(c, ctx, tid)
		if err := tr.takeCommandError(); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", name, err)), nil
		}

		select {
		case <-changed:
		case <-c.Done():
		case <-ctx.Done():
			return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", name, ctx.Err())), nil
		case <-time.After(t.stopTimeout):
			return mcp.NewToolResultText("Debuggee is running"), nil
		}
		return mcp.NewToolResultText(t.describeStop(ctx, c, tr)), nil
	})
}

func (t *Tools) describeStop(ctx context.Context, c *dap.Client, tr *tracker) string {
	stop, ended := tr.status()
	if ended || stop == nil {
		select {
		case <-c.Done():
			return "Debuggee terminated, session closed"
		default:
		}
		if ended {
			return "Debuggee terminated"
		}
		return "Debuggee is running"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Stopped: %s (thread %d)", stop.reason, stop.threadID)
	if stop.description != "" {
		fmt.Fprintf(&sb, "\n%s", stop.description)
	}
	trace, err := c.StackTrace(ctx, godap.StackTraceArguments{ThreadId: stop.threadID, Levels: 1})
	if err == nil && len(trace.StackFrames) > 0 {
		writeFrame(&sb, trace.StackFrames[0])
	}
	return sb.String()
}

func (t *Tools) registerStackTraceTool(s *server.MCPServer) {
	tool := mcp.NewTool("stack_trace",
		mcp.WithDescription("Show the call stack of a stopped thread"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
		mcp.WithNumber("thread_id",
			mcp.Description("Thread to inspect, defaults to the thread that stopped last"),
		),
		mcp.WithNumber("levels",
			mcp.Description("Maximum number of frames, 0 for all"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)
		threadID, _ := request.Params.Arguments["thread_id"].(float64)
		levels, _ := request.Params.Arguments["levels"].(float64)

		c, tr, err := t.session(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get debug session: %v", err)), nil
		}
		tid := int(threadID)
		if tid == 0 {
			tid = tr.lastThread()
		}
		trace, err := c.StackTrace(ctx, godap.StackTraceArguments{ThreadId: tid, Levels: int(levels)})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get stack trace: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Thread %d:", tid)
		for _, frame := range trace.StackFrames {
			writeFrame(&sb, frame)
		}
		return mcp.NewToolResultText(sb.String()), nil
	})
}

func (t *Tools) registerEvaluateTool(s *server.MCPServer) {
	tool := mcp.NewTool("evaluate",
		mcp.WithDescription("Evaluate an expression in the context of a stack frame"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression to evaluate"),
		),
		mcp.WithNumber("frame_id",
			mcp.Description("Stack frame to evaluate in, defaults to the top frame of the thread that stopped last"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)
		expression, _ := request.Params.Arguments["expression"].(string)
		frameID, _ := request.Params.Arguments["frame_id"].(float64)

		c, tr, err := t.session(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get debug session: %v", err)), nil
		}
		fid := int(frameID)
		if fid == 0 {
			trace, err := c.StackTrace(ctx, godap.StackTraceArguments{ThreadId: tr.lastThread(), Levels: 1})
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to get stack frame: %v", err)), nil
			}
			if len(trace.StackFrames) == 0 {
				return mcp.NewToolResultError("Failed to get stack frame: thread has no frames"), nil
			}
			fid = trace.StackFrames[0].Id
		}

		res, err := c.Evaluate(ctx, godap.EvaluateArguments{
			Expression: expression,
			FrameId:    fid,
			Context:    "repl",
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate expression: %v", err)), nil
		}
		if res.Type != "" {
			return mcp.NewToolResultText(fmt.Sprintf("Expression result: %s (%s)", res.Result, res.Type)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Expression result: %s", res.Result)), nil
	})
}

func (t *Tools) registerOutputTool(s *server.MCPServer) {
	tool := mcp.NewTool("get_output",
		mcp.WithDescription("Return and clear the debuggee output collected since the last call"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("ID of the debug session"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, _ := request.Params.Arguments["session_id"].(string)

		_, tr, err := t.session(sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get debug session: %v", err)), nil
		}
		out := tr.takeOutput()
		if out == "" {
			return mcp.NewToolResultText("No new output"), nil
		}
		return mcp.NewToolResultText(out), nil
	})
}

// session looks up a live session and its tracker.
func (t *Tools) session(id string) (*dap.Client, *tracker, error) {
	c, err := t.sm.GetSession(id)
	if err != nil {
		t.forget(id)
		return nil, nil, err
	}
	t.mu.Lock()
	tr := t.trackers[id]
	t.mu.Unlock()
	if tr == nil {
		return nil, nil, fmt.Errorf("session %s was not started by this server", id)
	}
	return c, tr, nil
}

func (t *Tools) forget(id string) {
	t.mu.Lock()
	delete(t.trackers, id)
	t.mu.Unlock()
}

func writeBreakpoint(sb *strings.Builder, bp godap.Breakpoint) {
	fmt.Fprintf(sb, "\n- ID: %d, Line: %d, Verified: %t", bp.Id, bp.Line, bp.Verified)
	if bp.Message != "" {
		fmt.Fprintf(sb, " (%s)", bp.Message)
	}
}

func writeFrame(sb *strings.Builder, frame godap.StackFrame) {
	fmt.Fprintf(sb, "\n  #%d %s line %d", frame.Id, frame.Name, frame.Line)
}
