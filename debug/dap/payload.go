package dap

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
	"github.com/tidwall/gjson"
)

// Payload is one decoded inbound protocol message: *Event, *Request or *Response.
type Payload interface {
	payload()
}

// Event is an unsolicited adapter notification.
type Event struct {
	Seq  int
	Name string
	Body json.RawMessage

	raw []byte
}

// Request is an adapter-initiated request (a reverse call such as
// runInTerminal) that must be answered with a response.
type Request struct {
	Seq       int
	Command   string
	Arguments json.RawMessage

	raw []byte
}

// Response answers a request previously sent by the client.
type Response struct {
	Seq        int
	RequestSeq int
	Command    string
	Success    bool
	Message    string
	Body       json.RawMessage
}

func (*Event) payload()    {}
func (*Request) payload()  {}
func (*Response) payload() {}

// Decode decodes the event into its go-dap type, e.g. *dap.StoppedEvent.
// Events unknown to go-dap return an error.
func (e *Event) Decode() (dap.Message, error) {
	return dap.DecodeProtocolMessage(e.raw)
}

// Decode decodes the request into its go-dap type, e.g. *dap.RunInTerminalRequest.
func (r *Request) Decode() (dap.Message, error) {
	return dap.DecodeProtocolMessage(r.raw)
}

// syntaxError marks a frame whose content is not JSON at all. The stream
// can no longer be trusted after one.
type syntaxError struct {
	content []byte
}

func (e *syntaxError) Error() string {
	const max = 64
	s := string(e.content)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return fmt.Sprintf("payload is not valid JSON: %q", s)
}

// violationError marks a well-formed JSON frame that is not a valid
// protocol message. Such frames are dropped.
type violationError struct {
	reason string
}

func (e *violationError) Error() string {
	return "protocol violation: " + e.reason
}

func decodePayload(content []byte) (Payload, error) {
	if !gjson.ValidBytes(content) {
		return nil, &syntaxError{content: content}
	}
	msg := gjson.ParseBytes(content)
	if !msg.IsObject() {
		return nil, &violationError{reason: "message is not an object"}
	}

	seq := msg.Get("seq")
	if seq.Type != gjson.Number {
		return nil, &violationError{reason: "missing seq"}
	}

	switch typ := msg.Get("type").String(); typ {
	case "event":
		name := msg.Get("event")
		if name.Type != gjson.String {
			return nil, &violationError{reason: "event without name"}
		}
		return &Event{
			Seq:  int(seq.Int()),
			Name: name.Str,
			Body: rawField(msg, "body"),
			raw:  content,
		}, nil
	case "request":
		command := msg.Get("command")
		if command.Type != gjson.String {
			return nil, &violationError{reason: "request without command"}
		}
		return &Request{
			Seq:       int(seq.Int()),
			Command:   command.Str,
			Arguments: rawField(msg, "arguments"),
			raw:       content,
		}, nil
	case "response":
		requestSeq := msg.Get("request_seq")
		if requestSeq.Type != gjson.Number {
			return nil, &violationError{reason: "response without request_seq"}
		}
		success := msg.Get("success")
		if !success.IsBool() {
			return nil, &violationError{reason: "response without success flag"}
		}
		return &Response{
			Seq:        int(seq.Int()),
			RequestSeq: int(requestSeq.Int()),
			Command:    msg.Get("command").String(),
			Success:    success.Bool(),
			Message:    msg.Get("message").String(),
			Body:       rawField(msg, "body"),
		}, nil
	default:
		return nil, &violationError{reason: fmt.Sprintf("unknown message type %q", typ)}
	}
}

func rawField(msg gjson.Result, name string) json.RawMessage {
	field := msg.Get(name)
	if !field.Exists() {
		return nil
	}
	return json.RawMessage(field.Raw)
}

// outgoingRequest is a client request on the wire. Arguments are kept
// raw so any command can be sent, not only those go-dap knows about.
type outgoingRequest struct {
	dap.Request
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// outgoingResponse answers an adapter-initiated request.
type outgoingResponse struct {
	dap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

func newOutgoingRequest(seq int, command string, args json.RawMessage) *outgoingRequest {
	return &outgoingRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  seq,
				Type: "request",
			},
			Command: command,
		},
		Arguments: args,
	}
}

func newOutgoingResponse(seq int, req *Request, body json.RawMessage, err error) *outgoingResponse {
	resp := &outgoingResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  seq,
				Type: "response",
			},
			RequestSeq: req.Seq,
			Command:    req.Command,
			Success:    err == nil,
		},
		Body: body,
	}
	if err != nil {
		resp.Message = err.Error()
		resp.Body = nil
	}
	return resp
}

// marshalArguments converts typed arguments to their raw wire form.
// json.RawMessage and []byte are passed through untouched.
func marshalArguments(args interface{}) (json.RawMessage, error) {
	switch a := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return a, nil
	case []byte:
		return json.RawMessage(a), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
