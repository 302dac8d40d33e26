package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/xhd2015/dap-session/log"
)

const (
	// cancelledTTL is how long a cancelled sequence number is remembered
	// so its late response is recognised rather than reported as a violation.
	cancelledTTL      = time.Minute
	cancelledCapacity = 1024
)

// sink receives events and adapter requests in wire order. push must not block.
type sink interface {
	push(p Payload)
}

type result struct {
	resp *Response
	err  error
}

// call is one in-flight request. reply is buffered so the dispatcher never
// blocks delivering to a caller that has gone away.
type call struct {
	seq     int
	command string
	reply   chan result
}

type inbound struct {
	payload Payload
	err     error
}

// dispatcher is the single consumer of inbound frames. The table of
// in-flight calls is owned by its run goroutine and never shared.
type dispatcher struct {
	transport *Transport
	logger    log.Logger
	sink      sink
	onClose   func(cause error)

	seq atomic.Int64

	register chan *call
	forget   chan int
	inbound  chan inbound

	// cancelled is only touched by the run goroutine
	cancelled *ttlcache.Cache[int, string]

	done chan struct{}
	err  error // valid once done is closed
}

func newDispatcher(t *Transport, logger log.Logger, s sink, onClose func(cause error)) *dispatcher {
	return &dispatcher{
		transport: t,
		logger:    logger,
		sink:      s,
		onClose:   onClose,
		register:  make(chan *call),
		forget:    make(chan int),
		inbound:   make(chan inbound),
		cancelled: ttlcache.New[int, string](
			ttlcache.WithTTL[int, string](cancelledTTL),
			ttlcache.WithCapacity[int, string](cancelledCapacity),
			ttlcache.WithDisableTouchOnHit[int, string](),
		),
		done: make(chan struct{}),
	}
}

// nextSeq returns the next outgoing sequence number, starting at 1.
func (d *dispatcher) nextSeq() int {
	return int(d.seq.Add(1))
}

func (d *dispatcher) start() {
	go d.read()
	go d.run()
}

// read decodes frames and hands them to run in wire order.
func (d *dispatcher) read() {
	defer close(d.inbound)

	for content, err := range d.transport.Messages() {
		if err != nil {
			d.inbound <- inbound{err: err}
			return
		}
		p, err := decodePayload(content)
		if err != nil {
			var synErr *syntaxError
			if errors.As(err, &synErr) {
				d.inbound <- inbound{err: &TransportError{Op: "decode", Err: err}}
				return
			}
			d.logger.Warnf("dropping message: %v", err)
			continue
		}
		d.inbound <- inbound{payload: p}
	}
}

func (d *dispatcher) run() {
	pending := make(map[int]*call)
	var cause error

	for {
		select {
		case c := <-d.register:
			pending[c.seq] = c
		case seq := <-d.forget:
			if c, ok := pending[seq]; ok {
				delete(pending, seq)
				d.cancelled.Set(seq, c.command, ttlcache.DefaultTTL)
				d.cancelled.DeleteExpired()
			}
		case in, ok := <-d.inbound:
			if !ok {
				d.teardown(cause, pending)
				return
			}
			if in.err != nil {
				// stop the stream; the reader will close inbound
				cause = in.err
				d.transport.Close()
				continue
			}
			d.route(in.payload, pending)
		}
	}
}

func (d *dispatcher) route(p Payload, pending map[int]*call) {
	switch m := p.(type) {
	case *Response:
		c, ok := pending[m.RequestSeq]
		if !ok {
			if item := d.cancelled.Get(m.RequestSeq); item != nil {
				d.logger.Debugf("dropping late %s response for cancelled request #%d", m.Command, m.RequestSeq)
				return
			}
			d.logger.Warnf("dropping %s response for unknown request #%d", m.Command, m.RequestSeq)
			return
		}
		delete(pending, m.RequestSeq)
		c.reply <- result{resp: m}
	default:
		d.sink.push(p)
	}
}

func (d *dispatcher) teardown(cause error, pending map[int]*call) {
	d.transport.Close()
	d.err = cause

	closedErr := d.closedErr(cause)
	for seq, c := range pending {
		c.reply <- result{err: closedErr}
		delete(pending, seq)
	}
	d.cancelled.DeleteAll()

	if d.onClose != nil {
		d.onClose(cause)
	}
	close(d.done)
}

func (d *dispatcher) closedErr(cause error) error {
	if cause == nil {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, cause)
}

// call sends a request and waits for its response, the end of the
// connection, or ctx. ctx also bounds the write itself.
func (d *dispatcher) call(ctx context.Context, command string, args json.RawMessage) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seq := d.nextSeq()
	content, err := json.Marshal(newOutgoingRequest(seq, command, args))
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	c := &call{
		seq:     seq,
		command: command,
		reply:   make(chan result, 1),
	}
	// registration completes before the frame is written, so the response
	// can never overtake it
	select {
	case d.register <- c:
	case <-d.done:
		return nil, d.closedErr(d.err)
	}

	if err := d.transport.SendContext(ctx, content); err != nil {
		d.abandon(seq)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		d.transport.Close()
		return nil, err
	}

	select {
	case r := <-c.reply:
		return r.resp, r.err
	case <-ctx.Done():
		d.abandon(seq)
		return nil, ctx.Err()
	}
}

// abandon drops the in-flight entry for seq; a response arriving later is
// logged and discarded.
func (d *dispatcher) abandon(seq int) {
	select {
	case d.forget <- seq:
	case <-d.done:
	}
}

// reply answers an adapter-initiated request.
func (d *dispatcher) reply(req *Request, body json.RawMessage, replyErr error) error {
	return d.transport.SendMessage(newOutgoingResponse(d.nextSeq(), req, body, replyErr))
}

// Done is closed once the connection is gone and every pending call has
// been resolved.
func (d *dispatcher) Done() <-chan struct{} {
	return d.done
}
