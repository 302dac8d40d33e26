// Package daptest provides a scripted in-memory debug adapter for tests
// of code built on top of dap.Client.
package daptest

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/go-dap"
	dapclient "github.com/xhd2015/dap-session/debug/dap"
)

// Request is a request as seen by the adapter.
type Request struct {
	Seq       int             `json:"seq"`
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments"`
}

// Event is sent by the adapter after a response.
type Event struct {
	Name string
	Body interface{}
}

// Reply is how the adapter answers one request.
type Reply struct {
	Body interface{}
	// Fail, if set, is the message of a failed response.
	Fail string
	// Events follow the response in order.
	Events []Event
}

// HandlerFunc answers a request.
type HandlerFunc func(req *Request) Reply

// Adapter answers requests with registered handlers. Commands without a
// handler succeed with an empty body; disconnect also ends the connection.
type Adapter struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	commands []string
	seq      int
}

func New() *Adapter {
	return &Adapter{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for command, replacing any previous handler.
func (a *Adapter) Handle(command string, fn HandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[command] = fn
}

// Commands returns the commands received so far, in order.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

// Connect starts serving one end of an in-memory connection and returns a
// client for the other end.
func (a *Adapter) Connect(opts dapclient.Options) *dapclient.Client {
	clientConn, adapterConn := net.Pipe()
	go a.Serve(adapterConn)
	return dapclient.NewClient(dapclient.NewConnTransport(clientConn), opts)
}

// Serve answers requests on conn until it fails or a disconnect is answered.
func (a *Adapter) Serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		content, err := dap.ReadBaseMessage(r)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(content, &req); err != nil {
			return
		}

		a.mu.Lock()
		a.commands = append(a.commands, req.Command)
		fn := a.handlers[req.Command]
		a.mu.Unlock()

		var reply Reply
		if fn != nil {
			reply = fn(&req)
		}
		if err := a.respond(conn, &req, reply); err != nil {
			return
		}
		if req.Command == "disconnect" {
			return
		}
	}
}

func (a *Adapter) respond(conn net.Conn, req *Request, reply Reply) error {
	resp := map[string]interface{}{
		"type":        "response",
		"request_seq": req.Seq,
		"command":     req.Command,
		"success":     reply.Fail == "",
	}
	if reply.Fail != "" {
		resp["message"] = reply.Fail
	}
	if reply.Body != nil {
		resp["body"] = reply.Body
	}
	if err := a.write(conn, resp); err != nil {
		return err
	}
	for _, ev := range reply.Events {
		msg := map[string]interface{}{
			"type":  "event",
			"event": ev.Name,
		}
		if ev.Body != nil {
			msg["body"] = ev.Body
		}
		if err := a.write(conn, msg); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) write(conn net.Conn, msg map[string]interface{}) error {
	a.mu.Lock()
	a.seq++
	msg["seq"] = a.seq
	a.mu.Unlock()

	content, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return dap.WriteBaseMessage(conn, content)
}
