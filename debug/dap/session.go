package dap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/xhd2015/dap-session/debug/common"
	"github.com/xhd2015/dap-session/log"
)

// ConnectFunc starts or reaches the adapter named adapter and returns a
// session over it.
type ConnectFunc func(ctx context.Context, adapter string, opts Options) (*Client, error)

type managedSession struct {
	client  *Client
	adapter string
}

// SessionManager keeps many independent sessions by id.
type SessionManager struct {
	connect ConnectFunc
	logger  log.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewSessionManager creates a session manager that opens sessions with connect.
func NewSessionManager(connect ConnectFunc, logger log.Logger) *SessionManager {
	if logger == nil {
		logger = log.Nop()
	}
	return &SessionManager{
		connect:  connect,
		logger:   logger,
		sessions: make(map[string]*managedSession),
	}
}

// CreateSession connects to adapter and registers the new session. The
// session id is generated; opts.ID is ignored. Sessions remove themselves
// once their connection ends.
func (sm *SessionManager) CreateSession(ctx context.Context, adapter string, opts Options) (*Client, error) {
	opts.ID = fmt.Sprintf("session-%d", uuid.New().ID())
	if opts.Logger == nil {
		opts.Logger = sm.logger
	}

	client, err := sm.connect(ctx, adapter, opts)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", adapter, err)
	}

	sm.mu.Lock()
	sm.sessions[opts.ID] = &managedSession{client: client, adapter: adapter}
	sm.mu.Unlock()
	sm.logger.Infof("created session %s for adapter %s", opts.ID, adapter)

	go func() {
		<-client.Done()
		sm.remove(opts.ID, client)
	}()
	return client, nil
}

func (sm *SessionManager) remove(id string, client *Client) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[id]; ok && s.client == client {
		delete(sm.sessions, id)
	}
}

// GetSession returns a debug session by ID.
func (sm *SessionManager) GetSession(sessionID string) (*Client, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return s.client, nil
}

// ListSessions returns the live sessions ordered by id.
func (sm *SessionManager) ListSessions() []*common.SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	result := make([]*common.SessionInfo, 0, len(sm.sessions))
	for id, s := range sm.sessions {
		result = append(result, &common.SessionInfo{
			ID:      id,
			Adapter: s.adapter,
			State:   s.client.State(),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// TerminateSession shuts a session down and forgets it.
func (sm *SessionManager) TerminateSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return s.client.Shutdown(ctx)
}

// Close shuts down every session.
func (sm *SessionManager) Close(ctx context.Context) error {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*managedSession)
	sm.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.client.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
