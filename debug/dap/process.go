package dap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// killWait bounds how long terminate waits for a killed adapter to be reaped.
const killWait = 5 * time.Second

// ProcessConfig describes how to start a debug adapter process.
type ProcessConfig struct {
	// Path is the executable; Args are its arguments, without Path.
	Path string
	Args []string
	Dir  string

	// Env is appended to the current environment.
	Env []string
}

// adapterProcess is who owns the adapter behind a transport: either a
// *Process this session started, or nobody (externalAdapter).
type adapterProcess interface {
	terminate() error
	exited() <-chan struct{}
}

type externalAdapter struct{}

func (externalAdapter) terminate() error        { return nil }
func (externalAdapter) exited() <-chan struct{} { return nil }

// Process is a debug adapter process started by a session.
type Process struct {
	cmd *exec.Cmd

	// Stdin is the adapter's stdin, only for stdio transports.
	Stdin io.WriteCloser
	// Stdout is the adapter's stdout. It ends once the process is gone.
	Stdout io.ReadCloser
	// Stderr is the adapter's error output.
	Stderr io.ReadCloser

	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter

	done     chan struct{}
	mu       sync.Mutex
	exitErr  error
	killOnce sync.Once
}

// StartProcess spawns the adapter. With stdio set, stdin is piped for the
// protocol; otherwise stdin is not connected.
func StartProcess(cfg ProcessConfig, stdio bool) (*Process, error) {
	if cfg.Path == "" {
		return nil, errors.New("adapter command is empty")
	}
	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	if stdio {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		p.Stdin = stdin
	}

	// io.Pipe rather than StdoutPipe: Wait then finishes copying before the
	// reader sees EOF, so trailing output is never lost.
	var stdoutR, stderrR *io.PipeReader
	stdoutR, p.stdoutW = io.Pipe()
	stderrR, p.stderrW = io.Pipe()
	cmd.Stdout = p.stdoutW
	cmd.Stderr = p.stderrW
	p.Stdout = stdoutR
	p.Stderr = stderrR

	if err := cmd.Start(); err != nil {
		if p.Stdin != nil {
			p.Stdin.Close()
		}
		p.stdoutW.Close()
		p.stderrW.Close()
		return nil, fmt.Errorf("start %s: %w", cfg.Path, err)
	}

	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	p.stdoutW.Close()
	p.stderrW.Close()
	close(p.done)
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the result of waiting for the process, once Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Kill kills the process and waits for it to be reaped. It is idempotent.
func (p *Process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		// unblock a copy goroutine stuck on output nobody reads anymore
		p.Stdout.Close()
		p.Stderr.Close()
		if p.Stdin != nil {
			p.Stdin.Close()
		}

		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = fmt.Errorf("kill adapter: %w", killErr)
			return
		}
		select {
		case <-p.done:
		case <-time.After(killWait):
			err = fmt.Errorf("adapter process %d did not exit after kill", p.Pid())
		}
	})
	return err
}

func (p *Process) terminate() error {
	return p.Kill()
}

func (p *Process) exited() <-chan struct{} {
	return p.done
}
