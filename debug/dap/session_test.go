package dap

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhd2015/dap-session/debug/common"
)

// fakeConnector hands out clients connected to fresh fake adapters.
type fakeConnector struct {
	t *testing.T

	mu       sync.Mutex
	adapters map[string]*fakeAdapter
}

func (fc *fakeConnector) connect(ctx context.Context, adapter string, opts Options) (*Client, error) {
	if adapter == "broken" {
		return nil, errors.New("cannot start adapter")
	}
	fa, tr := newFakeAdapter(fc.t)
	fc.mu.Lock()
	fc.adapters[opts.ID] = fa
	fc.mu.Unlock()
	return NewClient(tr, opts), nil
}

func (fc *fakeConnector) adapter(id string) *fakeAdapter {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.adapters[id]
}

func newTestManager(t *testing.T) (*SessionManager, *fakeConnector) {
	fc := &fakeConnector{t: t, adapters: make(map[string]*fakeAdapter)}
	sm := NewSessionManager(fc.connect, nil)
	t.Cleanup(func() { sm.Close(context.Background()) })
	return sm, fc
}

func TestSessionManagerCreateAndList(t *testing.T) {
	sm, _ := newTestManager(t)

	a, err := sm.CreateSession(context.Background(), "go", Options{ID: "ignored"})
	require.NoError(t, err)
	b, err := sm.CreateSession(context.Background(), "python", Options{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.ID(), "session-"))
	assert.NotEqual(t, a.ID(), b.ID())

	got, err := sm.GetSession(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	infos := sm.ListSessions()
	require.Len(t, infos, 2)
	assert.Less(t, infos[0].ID, infos[1].ID)
	adapters := map[string]string{}
	for _, info := range infos {
		adapters[info.ID] = info.Adapter
		assert.Equal(t, common.StateUninitialized, info.State)
	}
	assert.Equal(t, "go", adapters[a.ID()])
	assert.Equal(t, "python", adapters[b.ID()])
}

func TestSessionManagerCreateFailure(t *testing.T) {
	sm, _ := newTestManager(t)

	_, err := sm.CreateSession(context.Background(), "broken", Options{})
	assert.EqualError(t, err, "create session for broken: cannot start adapter")
	assert.Empty(t, sm.ListSessions())
}

func TestSessionManagerTerminate(t *testing.T) {
	sm, fc := newTestManager(t)

	c, err := sm.CreateSession(context.Background(), "go", Options{})
	require.NoError(t, err)
	fa := fc.adapter(c.ID())
	initialize(t, c, fa)

	errc := make(chan error, 1)
	go func() {
		errc <- sm.TerminateSession(context.Background(), c.ID())
	}()
	req := fa.next()
	assert.Equal(t, "disconnect", req.Command)
	fa.respond(req, nil)
	require.NoError(t, wait(t, errc))

	_, err = sm.GetSession(c.ID())
	assert.EqualError(t, err, "session not found: "+c.ID())
	assert.EqualError(t, sm.TerminateSession(context.Background(), c.ID()), "session not found: "+c.ID())
}

func TestSessionManagerForgetsClosedSessions(t *testing.T) {
	sm, fc := newTestManager(t)

	c, err := sm.CreateSession(context.Background(), "go", Options{})
	require.NoError(t, err)

	fc.adapter(c.ID()).conn.Close()
	waitDone(t, c.Done())

	assert.Eventually(t, func() bool {
		return len(sm.ListSessions()) == 0
	}, testTimeout, testPoll)
}

func TestSessionManagerClose(t *testing.T) {
	sm, _ := newTestManager(t)

	var clients []*Client
	for i := 0; i < 3; i++ {
		c, err := sm.CreateSession(context.Background(), "go", Options{})
		require.NoError(t, err)
		clients = append(clients, c)
	}

	require.NoError(t, sm.Close(context.Background()))
	for _, c := range clients {
		waitDone(t, c.Done())
	}
	assert.Empty(t, sm.ListSessions())
}
