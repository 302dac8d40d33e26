package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
)

// Transport frames protocol messages over a byte stream using the
// Content-Length header convention shared by all debug adapters.
//
// Send may be called from many goroutines; each frame is written whole.
// Receive must only be called from one goroutine.
type Transport struct {
	reader *bufio.Reader
	closer io.Closer

	mu     sync.Mutex // serializes frames on writer
	writer *bufio.Writer

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewTransport builds a transport reading frames from r and writing frames
// to w. closer, if not nil, is closed by Close and must unblock pending reads.
func NewTransport(r io.Reader, w io.Writer, closer io.Closer) *Transport {
	return &Transport{
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
		closer: closer,
	}
}

// NewConnTransport builds a transport over a duplex connection.
func NewConnTransport(conn io.ReadWriteCloser) *Transport {
	return NewTransport(conn, conn, conn)
}

// Send writes one framed message.
func (t *Transport) Send(content []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(content)
}

// SendContext is Send bounded by ctx. If ctx ends while the frame waits
// for another writer, nothing is written. If it ends while the frame is
// partly written, the transport is closed, since the stream can no longer
// be framed.
func (t *Transport) SendContext(ctx context.Context, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Done() == nil {
		return t.Send(content)
	}

	const (
		waiting int32 = iota
		writing
		abandoned
	)
	var state atomic.Int32
	errc := make(chan error, 1)
	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !state.CompareAndSwap(waiting, writing) {
			return
		}
		errc <- t.writeLocked(content)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if state.CompareAndSwap(waiting, abandoned) {
			return ctx.Err()
		}
		select {
		case err := <-errc:
			return err
		default:
		}
		t.Close()
		return ctx.Err()
	}
}

func (t *Transport) writeLocked(content []byte) error {
	if t.closed.Load() {
		return &TransportError{Op: "write", Err: ErrClosed}
	}
	if err := dap.WriteBaseMessage(t.writer, content); err != nil {
		return t.writeError(err)
	}
	if err := t.writer.Flush(); err != nil {
		return t.writeError(err)
	}
	return nil
}

// SendMessage marshals msg to JSON and sends it.
func (t *Transport) SendMessage(msg interface{}) error {
	content, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return t.Send(content)
}

func (t *Transport) writeError(err error) error {
	if t.closed.Load() {
		err = ErrClosed
	}
	return &TransportError{Op: "write", Err: err}
}

// Receive reads the content of the next frame. It returns io.EOF when the
// stream ends cleanly between frames or after Close.
//
// A stream that ends inside a header is a framing failure wrapping
// io.ErrUnexpectedEOF.
func (t *Transport) Receive() ([]byte, error) {
	if _, err := t.reader.Peek(1); err != nil {
		if err == io.EOF || t.closed.Load() {
			return nil, io.EOF
		}
		return nil, &TransportError{Op: "read", Err: err}
	}

	content, err := dap.ReadBaseMessage(t.reader)
	if err != nil {
		if t.closed.Load() {
			return nil, io.EOF
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, &TransportError{Op: "read", Err: err}
	}
	return content, nil
}

// Messages returns the sequence of received frames. The sequence ends at
// end of stream; a read or framing failure is yielded as the last element.
// It is not restartable.
func (t *Transport) Messages() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			content, err := t.Receive()
			if err == io.EOF {
				return
			}
			if !yield(content, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the underlying stream. It is safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if t.closer != nil {
			t.closeErr = t.closer.Close()
		}
	})
	return t.closeErr
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

// DrainDiagnostics forwards each line of r to sink until r ends. It is
// used for an adapter's free-form error output, which is never parsed as
// protocol messages.
func DrainDiagnostics(r io.Reader, sink func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		if sink != nil {
			sink(scanner.Text())
		}
	}
	// a failed diagnostics stream is not fatal; keep draining so the
	// writer side never blocks on a full pipe
	io.Copy(io.Discard, r)
}

// multiCloser closes every closer, returning the first error.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
