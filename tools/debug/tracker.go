package debug

import (
	"strings"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/xhd2015/dap-session/debug"
	"github.com/xhd2015/dap-session/debug/dap"
)

// maxOutput caps the debuggee output kept between get_output calls.
const maxOutput = 64 << 10

type stopInfo struct {
	reason      string
	description string
	threadID    int
}

// tracker follows one session's events so tools can answer from the
// latest known state.
type tracker struct {
	initialized chan struct{}
	initOnce    sync.Once

	mu          sync.Mutex
	breakpoints []debug.Breakpoint
	stop        *stopInfo
	threadID    int
	ended       bool
	changed     chan struct{} // closed and replaced on every stop or end
	output      strings.Builder
	commandErr  error
}

func newTracker() *tracker {
	return &tracker{
		initialized: make(chan struct{}),
		changed:     make(chan struct{}),
	}
}

func (tr *tracker) HandleEvent(c *dap.Client, ev *dap.Event) {
	if ev.Name == "initialized" {
		tr.initOnce.Do(func() { close(tr.initialized) })
		return
	}
	msg, err := ev.Decode()
	if err != nil {
		return
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	switch e := msg.(type) {
	case *godap.StoppedEvent:
		tr.stop = &stopInfo{
			reason:      e.Body.Reason,
			description: e.Body.Description,
			threadID:    e.Body.ThreadId,
		}
		if e.Body.ThreadId != 0 {
			tr.threadID = e.Body.ThreadId
		}
		tr.notifyLocked()
	case *godap.ContinuedEvent:
		tr.stop = nil
	case *godap.TerminatedEvent, *godap.ExitedEvent:
		tr.stop = nil
		tr.ended = true
		tr.notifyLocked()
	case *godap.OutputEvent:
		if e.Body.Category == "telemetry" {
			return
		}
		if tr.output.Len()+len(e.Body.Output) <= maxOutput {
			tr.output.WriteString(e.Body.Output)
		}
	}
}

func (tr *tracker) notifyLocked() {
	close(tr.changed)
	tr.changed = make(chan struct{})
}

// watch returns a channel closed at the next stop or end.
func (tr *tracker) watch() <-chan struct{} {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.changed
}

func (tr *tracker) status() (*stopInfo, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.stop, tr.ended
}

// lastThread is the thread that stopped last, or 1 before any stop.
func (tr *tracker) lastThread() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.threadID == 0 {
		return 1
	}
	return tr.threadID
}

// addBreakpoint records bp and returns every breakpoint of its file.
func (tr *tracker) addBreakpoint(bp debug.Breakpoint) []debug.Breakpoint {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var file []debug.Breakpoint
	replaced := false
	for i, b := range tr.breakpoints {
		if b.File != bp.File {
			continue
		}
		if b.Line == bp.Line {
			tr.breakpoints[i] = bp
			b = bp
			replaced = true
		}
		file = append(file, b)
	}
	if !replaced {
		tr.breakpoints = append(tr.breakpoints, bp)
		file = append(file, bp)
	}
	return file
}

func (tr *tracker) commandFailed(command string, err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.commandErr = err
}

func (tr *tracker) takeCommandError() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	err := tr.commandErr
	tr.commandErr = nil
	return err
}

func (tr *tracker) takeOutput() string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := tr.output.String()
	tr.output.Reset()
	return out
}
