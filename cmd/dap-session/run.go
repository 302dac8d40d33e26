package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	godap "github.com/google/go-dap"
	"github.com/xhd2015/dap-session/debug"
	"github.com/xhd2015/dap-session/debug/config"
	"github.com/xhd2015/dap-session/debug/dap"
	"github.com/xhd2015/dap-session/log"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	adapter     string
	request     string // launch or attach
	arguments   json.RawMessage
	breakpoints []debug.Breakpoint
	verbose     bool
}

// tracer prints what the debuggee does and resumes it after every stop.
type tracer struct {
	out         io.Writer
	initialized chan struct{}
	finished    chan struct{}
}

func newTracer(out io.Writer) *tracer {
	return &tracer{
		out:         out,
		initialized: make(chan struct{}),
		finished:    make(chan struct{}),
	}
}

func (t *tracer) HandleEvent(c *dap.Client, ev *dap.Event) {
	switch ev.Name {
	case "initialized":
		closeOnce(t.initialized)
	case "terminated", "exited":
		closeOnce(t.finished)
	}

	msg, err := ev.Decode()
	if err != nil {
		return
	}
	switch e := msg.(type) {
	case *godap.OutputEvent:
		fmt.Fprint(t.out, e.Body.Output)
	case *godap.StoppedEvent:
		t.printStop(c, e)
		c.Resume(context.Background(), e.Body.ThreadId)
	case *godap.ExitedEvent:
		fmt.Fprintf(t.out, "debuggee exited with code %d\n", e.Body.ExitCode)
	}
}

func (t *tracer) printStop(c *dap.Client, e *godap.StoppedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	fmt.Fprintf(t.out, "stopped: %s (thread %d)\n", e.Body.Reason, e.Body.ThreadId)
	trace, err := c.StackTrace(ctx, godap.StackTraceArguments{ThreadId: e.Body.ThreadId, Levels: 1})
	if err != nil || len(trace.StackFrames) == 0 {
		return
	}
	frame := trace.StackFrames[0]
	fmt.Fprintf(t.out, "  at %s line %d\n", frame.Name, frame.Line)

	scopes, err := c.Scopes(ctx, frame.Id)
	if err != nil {
		return
	}
	for _, scope := range scopes {
		if scope.Expensive || scope.VariablesReference == 0 {
			continue
		}
		vars, err := c.Variables(ctx, scope.VariablesReference)
		if err != nil {
			continue
		}
		for _, v := range vars {
			fmt.Fprintf(t.out, "  %s = %s\n", v.Name, v.Value)
		}
	}
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func run(ctx context.Context, cfg *config.File, logger log.Logger, opts runOptions) error {
	adapter, err := cfg.Adapter(opts.adapter)
	if err != nil {
		return err
	}

	sm := debug.NewSessionManager(cfg, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sm.Close(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	tr := newTracer(os.Stdout)
	c, err := sm.CreateSession(ctx, adapter.Name, dap.Options{
		Logger:  logger,
		Handler: tr,
		OnCommandError: func(command string, err error) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		},
	})
	if err != nil {
		return err
	}

	set, err := debug.Start(ctx, c, debug.StartRequest{
		AdapterID:   adapter.AdapterID,
		Request:     opts.request,
		Arguments:   opts.arguments,
		Breakpoints: opts.breakpoints,
	}, tr.initialized)
	for _, bp := range set {
		if !bp.Verified {
			fmt.Fprintf(os.Stderr, "breakpoint line %d not verified: %s\n", bp.Line, bp.Message)
		}
	}
	if err != nil {
		return err
	}

	select {
	case <-tr.finished:
		return nil
	case <-c.Done():
		return debug.SessionEnded(c)
	case <-ctx.Done():
		return nil
	}
}
