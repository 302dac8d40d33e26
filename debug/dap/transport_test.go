package dap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(content string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(content), content)
}

func TestTransportSendFraming(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(strings.NewReader(""), &buf, nil)

	require.NoError(t, tr.Send([]byte(`{"seq":1}`)))
	assert.Equal(t, "Content-Length: 9\r\n\r\n{\"seq\":1}", buf.String())
}

func TestTransportReceiveOneByteReads(t *testing.T) {
	stream := frame(`{"seq":1,"type":"event","event":"initialized"}`) + frame(`{"seq":2}`)
	tr := NewTransport(iotest.OneByteReader(strings.NewReader(stream)), io.Discard, nil)

	content, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":1,"type":"event","event":"initialized"}`, string(content))

	content, err = tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":2}`, string(content))

	_, err = tr.Receive()
	assert.Equal(t, io.EOF, err)
}

func TestTransportSeveralFramesInOneRead(t *testing.T) {
	stream := frame(`{"a":1}`) + frame(`{"b":2}`) + frame(`{"c":"é"}`)
	tr := NewTransport(strings.NewReader(stream), io.Discard, nil)

	var got []string
	for content, err := range tr.Messages() {
		require.NoError(t, err)
		got = append(got, string(content))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":"é"}`}, got)
}

func TestTransportMalformedFrames(t *testing.T) {
	cases := []struct {
		name   string
		stream string
	}{
		{"unknown header", "Content-Type: json\r\n\r\n{}"},
		{"bad length", "Content-Length: abc\r\n\r\n{}"},
		{"truncated body", "Content-Length: 10\r\n\r\n{}"},
		{"truncated header", "Content-Len"},
		{"missing delimiter", "Content-Length: 2\r"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTransport(strings.NewReader(tc.stream), io.Discard, nil)
			_, err := tr.Receive()
			var transportErr *TransportError
			require.ErrorAs(t, err, &transportErr)
			assert.Equal(t, "read", transportErr.Op)
			assert.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestTransportEOFBetweenFramesIsClean(t *testing.T) {
	tr := NewTransport(strings.NewReader(frame(`{"seq":1}`)), io.Discard, nil)

	content, err := tr.Receive()
	require.NoError(t, err)
	assert.Equal(t, `{"seq":1}`, string(content))

	_, err = tr.Receive()
	assert.Equal(t, io.EOF, err)
}

func TestTransportEOFInsideHeader(t *testing.T) {
	stream := frame(`{"seq":1}`) + "Content-Length: 4"
	tr := NewTransport(strings.NewReader(stream), io.Discard, nil)

	_, err := tr.Receive()
	require.NoError(t, err)

	_, err = tr.Receive()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTransportMessagesYieldsFailureLast(t *testing.T) {
	stream := frame(`{"seq":1}`) + "Content-Length: 99\r\n\r\n{}"
	tr := NewTransport(strings.NewReader(stream), io.Discard, nil)

	var contents []string
	var errs []error
	for content, err := range tr.Messages() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		contents = append(contents, string(content))
	}
	assert.Equal(t, []string{`{"seq":1}`}, contents)
	require.Len(t, errs, 1)
}

func TestTransportConcurrentSends(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTransport(strings.NewReader(""), &buf, nil)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := map[string]interface{}{
				"seq":     i,
				"padding": strings.Repeat("x", i*37),
			}
			assert.NoError(t, tr.SendMessage(msg))
		}(i)
	}
	wg.Wait()

	rd := NewTransport(bytes.NewReader(buf.Bytes()), io.Discard, nil)
	seen := make(map[int]bool)
	for content, err := range rd.Messages() {
		require.NoError(t, err)
		var msg struct {
			Seq     int    `json:"seq"`
			Padding string `json:"padding"`
		}
		require.NoError(t, json.Unmarshal(content, &msg))
		assert.Len(t, msg.Padding, msg.Seq*37)
		seen[msg.Seq] = true
	}
	assert.Len(t, seen, n)
}

func randomString(rng *rand.Rand) string {
	alphabet := []rune("abcXYZ019 \"\\\r\n\t{}[]:,é漢🙂Content-Length")
	n := rng.Intn(200)
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(runes)
}

func TestTransportRoundTripArbitraryArguments(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var sent []*outgoingRequest
	var buf bytes.Buffer
	tr := NewTransport(strings.NewReader(""), &buf, nil)
	for i := 1; i <= 100; i++ {
		args, err := marshalArguments(map[string]interface{}{
			"expression": randomString(rng),
			"frameId":    rng.Intn(1000),
			"nested":     []string{randomString(rng), randomString(rng)},
		})
		require.NoError(t, err)
		req := newOutgoingRequest(i, "evaluate", args)
		sent = append(sent, req)
		require.NoError(t, tr.SendMessage(req))
	}

	rd := NewTransport(iotest.HalfReader(bytes.NewReader(buf.Bytes())), io.Discard, nil)
	i := 0
	for content, err := range rd.Messages() {
		require.NoError(t, err)
		var got outgoingRequest
		require.NoError(t, json.Unmarshal(content, &got))
		want := sent[i]
		assert.Equal(t, want.Seq, got.Seq)
		assert.Equal(t, "request", got.Type)
		assert.Equal(t, "evaluate", got.Command)
		assert.JSONEq(t, string(want.Arguments), string(got.Arguments))
		i++
	}
	assert.Equal(t, len(sent), i)
}

type closeRecorder struct {
	closed int
	err    error
}

func (c *closeRecorder) Close() error {
	c.closed++
	return c.err
}

func TestTransportClose(t *testing.T) {
	closer := &closeRecorder{err: errors.New("boom")}
	var buf bytes.Buffer
	tr := NewTransport(strings.NewReader(frame(`{}`)), &buf, closer)

	assert.False(t, tr.Closed())
	assert.EqualError(t, tr.Close(), "boom")
	assert.EqualError(t, tr.Close(), "boom")
	assert.Equal(t, 1, closer.closed)
	assert.True(t, tr.Closed())

	err := tr.Send([]byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, buf.Len())

	// reads after a local close end the stream quietly
	_, err = tr.Receive()
	require.NoError(t, err)
	_, err = tr.Receive()
	assert.Equal(t, io.EOF, err)
}

func TestMultiCloser(t *testing.T) {
	a := &closeRecorder{}
	b := &closeRecorder{err: errors.New("b failed")}
	c := &closeRecorder{err: errors.New("c failed")}

	err := multiCloser{a, nil, b, c}.Close()
	assert.EqualError(t, err, "b failed")
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Equal(t, 1, c.closed)
}

func TestDrainDiagnostics(t *testing.T) {
	var lines []string
	DrainDiagnostics(strings.NewReader("warning: one\nwarning: two\nlast"), func(line string) {
		lines = append(lines, line)
	})
	assert.Equal(t, []string{"warning: one", "warning: two", "last"}, lines)

	// a nil sink only drains
	DrainDiagnostics(strings.NewReader("ignored\n"), nil)
}
