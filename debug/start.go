package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	godap "github.com/google/go-dap"
	"github.com/xhd2015/dap-session/debug/dap"
)

// Breakpoint is a line breakpoint in a source file.
type Breakpoint struct {
	File      string
	Line      int
	Condition string
}

// ParseBreakpoint parses <file>:<line>, making the file absolute.
func ParseBreakpoint(s string) (Breakpoint, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 {
		return Breakpoint{}, fmt.Errorf("invalid breakpoint %q, expect <file>:<line>", s)
	}
	line, err := strconv.Atoi(s[idx+1:])
	if err != nil || line <= 0 {
		return Breakpoint{}, fmt.Errorf("invalid breakpoint line in %q", s)
	}
	file, err := filepath.Abs(s[:idx])
	if err != nil {
		return Breakpoint{}, err
	}
	return Breakpoint{File: file, Line: line}, nil
}

// SetBreakpoints replaces the breakpoints of every file named in bps.
// Files are sent in name order; the adapter's answers are returned in the
// same order.
func SetBreakpoints(ctx context.Context, c *dap.Client, bps []Breakpoint) ([]godap.Breakpoint, error) {
	byFile := make(map[string][]godap.SourceBreakpoint)
	for _, bp := range bps {
		byFile[bp.File] = append(byFile[bp.File], godap.SourceBreakpoint{Line: bp.Line, Condition: bp.Condition})
	}
	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	var all []godap.Breakpoint
	for _, file := range files {
		set, err := c.SetBreakpoints(ctx, file, byFile[file])
		if err != nil {
			return all, fmt.Errorf("setBreakpoints %s: %w", file, err)
		}
		all = append(all, set...)
	}
	return all, nil
}

// StartRequest brings a fresh session to the running state.
type StartRequest struct {
	AdapterID string
	// Request is launch or attach.
	Request     string
	Arguments   json.RawMessage
	Breakpoints []Breakpoint
}

// Start runs initialize, launch or attach, and the configuration phase.
// initialized must be closed by the session's event handler when the
// adapter sends the initialized event. It returns the breakpoints as the
// adapter set them.
func Start(ctx context.Context, c *dap.Client, req StartRequest, initialized <-chan struct{}) ([]godap.Breakpoint, error) {
	if req.Request != "launch" && req.Request != "attach" {
		return nil, fmt.Errorf("unknown request %q, expect launch or attach", req.Request)
	}
	caps, err := c.Initialize(ctx, req.AdapterID)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	// some adapters only answer launch after configurationDone, so the
	// request is left running while the configuration is sent
	started := make(chan error, 1)
	go func() {
		if req.Request == "attach" {
			started <- c.Attach(ctx, req.Arguments)
		} else {
			started <- c.Launch(ctx, req.Arguments)
		}
	}()

	select {
	case <-initialized:
	case err := <-started:
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.Request, err)
		}
		// launch answered first; the initialized event follows
		select {
		case <-initialized:
		case <-c.Done():
			return nil, SessionEnded(c)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		started <- nil
	case <-c.Done():
		return nil, SessionEnded(c)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	set, err := SetBreakpoints(ctx, c, req.Breakpoints)
	if err != nil {
		return set, err
	}
	if caps.SupportsConfigurationDoneRequest {
		if err := c.ConfigurationDone(ctx); err != nil {
			return set, fmt.Errorf("configurationDone: %w", err)
		}
	}
	if err := <-started; err != nil {
		return set, fmt.Errorf("%s: %w", req.Request, err)
	}
	return set, nil
}

// SessionEnded describes why a session that is Done ended.
func SessionEnded(c *dap.Client) error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("adapter connection lost: %w", err)
	}
	return errors.New("adapter closed the session")
}
