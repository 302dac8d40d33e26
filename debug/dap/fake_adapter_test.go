package dap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhd2015/dap-session/log"
)

const (
	testTimeout = 5 * time.Second
	testPoll    = 10 * time.Millisecond
)

// received is a client message as seen by the fake adapter.
type received struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	Arguments  json.RawMessage `json:"arguments"`
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`

	raw []byte
}

// fakeAdapter plays the adapter side of a connection in tests.
type fakeAdapter struct {
	t    *testing.T
	conn net.Conn

	mu  sync.Mutex
	seq int

	received chan *received
}

// newFakeAdapter returns a fake adapter and the client end of its connection.
func newFakeAdapter(t *testing.T) (*fakeAdapter, *Transport) {
	clientConn, adapterConn := net.Pipe()
	return newFakeAdapterConn(t, adapterConn), NewConnTransport(clientConn)
}

func newFakeAdapterConn(t *testing.T, conn net.Conn) *fakeAdapter {
	fa := &fakeAdapter{
		t:        t,
		conn:     conn,
		received: make(chan *received, 64),
	}
	go fa.readLoop()
	t.Cleanup(func() { conn.Close() })
	return fa
}

func (fa *fakeAdapter) readLoop() {
	defer close(fa.received)
	r := bufio.NewReader(fa.conn)
	for {
		content, err := dap.ReadBaseMessage(r)
		if err != nil {
			return
		}
		msg := &received{raw: content}
		if err := json.Unmarshal(content, msg); err != nil {
			fa.t.Errorf("adapter got invalid JSON %q: %v", content, err)
			return
		}
		fa.received <- msg
	}
}

// next waits for the next client message.
func (fa *fakeAdapter) next() *received {
	fa.t.Helper()
	select {
	case msg, ok := <-fa.received:
		require.True(fa.t, ok, "client connection closed")
		return msg
	case <-time.After(testTimeout):
		require.FailNow(fa.t, "timed out waiting for a client message")
		return nil
	}
}

// expectNothing asserts that the client sends nothing for a short while.
func (fa *fakeAdapter) expectNothing() {
	fa.t.Helper()
	select {
	case msg, ok := <-fa.received:
		if ok {
			assert.Failf(fa.t, "unexpected client message", "%s", msg.raw)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func (fa *fakeAdapter) writeRaw(content []byte) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	err := dap.WriteBaseMessage(fa.conn, content)
	assert.NoError(fa.t, err, "adapter write")
}

func (fa *fakeAdapter) send(msg map[string]interface{}) {
	fa.mu.Lock()
	fa.seq++
	msg["seq"] = fa.seq
	fa.mu.Unlock()

	content, err := json.Marshal(msg)
	require.NoError(fa.t, err)
	fa.writeRaw(content)
}

func (fa *fakeAdapter) respond(req *received, body interface{}) {
	msg := map[string]interface{}{
		"type":        "response",
		"request_seq": req.Seq,
		"command":     req.Command,
		"success":     true,
	}
	if body != nil {
		msg["body"] = body
	}
	fa.send(msg)
}

func (fa *fakeAdapter) fail(req *received, message string, body interface{}) {
	msg := map[string]interface{}{
		"type":        "response",
		"request_seq": req.Seq,
		"command":     req.Command,
		"success":     false,
		"message":     message,
	}
	if body != nil {
		msg["body"] = body
	}
	fa.send(msg)
}

func (fa *fakeAdapter) event(name string, body interface{}) {
	msg := map[string]interface{}{
		"type":  "event",
		"event": name,
	}
	if body != nil {
		msg["body"] = body
	}
	fa.send(msg)
}

func (fa *fakeAdapter) request(command string, args interface{}) {
	msg := map[string]interface{}{
		"type":    "request",
		"command": command,
	}
	if args != nil {
		msg["arguments"] = args
	}
	fa.send(msg)
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (log.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return log.New(buf), buf
}

// newTestClient returns a client connected to a fake adapter.
func newTestClient(t *testing.T, opts Options) (*Client, *fakeAdapter) {
	fa, tr := newFakeAdapter(t)
	c := NewClient(tr, opts)
	t.Cleanup(func() { c.Close() })
	return c, fa
}

// initialize runs the initialize handshake against the fake adapter.
func initialize(t *testing.T, c *Client, fa *fakeAdapter) {
	t.Helper()
	errc := make(chan error, 1)
	go func() {
		_, err := c.Initialize(context.Background(), "demo")
		errc <- err
	}()
	req := fa.next()
	require.Equal(t, "initialize", req.Command)
	fa.respond(req, map[string]interface{}{"supportsConfigurationDoneRequest": true})
	require.NoError(t, wait(t, errc))
}

// wait returns the next value of errc.
func wait(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(testTimeout):
		require.FailNow(t, "timed out waiting for the call to return")
		return nil
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(testTimeout):
		require.FailNow(t, "timed out waiting for close")
	}
}

func requireCommand(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}
