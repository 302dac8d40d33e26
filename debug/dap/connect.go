package dap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"nhooyr.io/websocket"
)

const (
	// DefaultConnectTimeout bounds how long a TCP bootstrap keeps retrying.
	DefaultConnectTimeout = 10 * time.Second

	minDialBackoff = 50 * time.Millisecond
	maxDialBackoff = time.Second

	// maxWebSocketMessage is the largest websocket message accepted.
	maxWebSocketMessage = 64 << 20
)

// TCPConfig describes the port a spawned adapter listens on.
type TCPConfig struct {
	Port int

	// WarmUp is waited once after spawning, before the first dial.
	WarmUp time.Duration

	// ConnectTimeout bounds the connect retries, DefaultConnectTimeout if zero.
	ConnectTimeout time.Duration
}

// LaunchTCP spawns the adapter, connects to 127.0.0.1:<port> once it
// listens, and returns a session that owns the process.
func LaunchTCP(ctx context.Context, proc ProcessConfig, tcp TCPConfig, opts Options) (*Client, error) {
	if tcp.Port <= 0 {
		return nil, fmt.Errorf("invalid adapter port %d", tcp.Port)
	}
	p, err := StartProcess(proc, false)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger != nil {
		logger.Infof("started adapter %s (pid %d)", proc.Path, p.Pid())
	}

	sinkLines := diagnosticsSink(opts)
	go DrainDiagnostics(p.Stdout, sinkLines)
	go DrainDiagnostics(p.Stderr, sinkLines)

	timeout := tcp.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if tcp.WarmUp > 0 {
		select {
		case <-time.After(tcp.WarmUp):
		case <-dialCtx.Done():
		}
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(tcp.Port))
	conn, err := dialWithBackoff(dialCtx, addr, p.Done())
	if err != nil {
		p.Kill()
		return nil, err
	}
	return newClient(NewConnTransport(conn), p, opts), nil
}

// LaunchStdio spawns the adapter and speaks the protocol over its
// stdin/stdout. Its stderr goes to the diagnostics log.
func LaunchStdio(ctx context.Context, proc ProcessConfig, opts Options) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := StartProcess(proc, true)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger.Infof("started adapter %s (pid %d)", proc.Path, p.Pid())
	}
	go DrainDiagnostics(p.Stderr, diagnosticsSink(opts))

	t := NewTransport(p.Stdout, p.Stdin, multiCloser{p.Stdin, p.Stdout})
	return newClient(t, p, opts), nil
}

// DialTCP connects to an adapter that is managed elsewhere.
func DialTCP(ctx context.Context, addr string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DAP server: %w", err)
	}
	return NewClient(NewConnTransport(conn), opts), nil
}

// DialWebSocket connects to an adapter exposed behind a websocket. Frames
// use the same Content-Length framing, carried in binary messages.
func DialWebSocket(ctx context.Context, url string, opts Options) (*Client, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DAP websocket %s: %w", url, err)
	}
	ws.SetReadLimit(maxWebSocketMessage)
	conn := websocket.NetConn(context.Background(), ws, websocket.MessageBinary)
	return NewClient(NewConnTransport(conn), opts), nil
}

// dialWithBackoff retries until the adapter accepts, ctx ends or the
// adapter process exits.
func dialWithBackoff(ctx context.Context, addr string, exited <-chan struct{}) (net.Conn, error) {
	var d net.Dialer
	backoff := minDialBackoff
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-exited:
			timer.Stop()
			return nil, fmt.Errorf("adapter exited before accepting connections on %s", addr)
		case <-ctx.Done():
			timer.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("failed to connect to DAP server at %s: %w", addr, err)
			}
			return nil, ctx.Err()
		}

		backoff *= 2
		if backoff > maxDialBackoff {
			backoff = maxDialBackoff
		}
	}
}

func diagnosticsSink(opts Options) func(line string) {
	logger := opts.Logger
	if logger == nil {
		return nil
	}
	return func(line string) {
		logger.Debugf("adapter: %s", line)
	}
}
