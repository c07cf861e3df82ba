package state

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SnapshotSink receives final snapshots of ended sessions. It matches the
// archive package's Archiver without importing it, keeping the dependency
// arrow pointed outward.
type SnapshotSink interface {
	Archive(ctx context.Context, final *SessionState) error
}

// Manager orchestrates session lifecycle: create, find, touch, end. Ended
// sessions are handed to the snapshot sink fire-and-forget; archive
// failures are logged, never surfaced to the caller.
type Manager struct {
	store *Store
	sink  SnapshotSink
	log   *slog.Logger
}

// NewManager creates a lifecycle manager. A nil sink disables archival.
func NewManager(store *Store, sink SnapshotSink, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{store: store, sink: sink, log: log}
}

// Store exposes the underlying state store for direct state operations.
func (m *Manager) Store() *Store {
	return m.store
}

// EnsureSession returns the agent's active session, creating one when none
// exists. One active session per agent is enforced through the agent
// index.
func (m *Manager) EnsureSession(ctx context.Context, agentID, agentName, initialRoute string) (*SessionState, bool, error) {
	st, err := m.store.FindSessionForAgent(ctx, agentID)
	if err == nil {
		return st, false, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, false, err
	}

	st, err = m.store.InitializeSession(ctx, agentID, agentName, initialRoute)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// Touch refreshes a session's TTL and last_updated stamp.
func (m *Manager) Touch(ctx context.Context, sessionID string) (bool, error) {
	return m.store.TouchSession(ctx, sessionID)
}

// End tears down a session and hands the final snapshot to the archive
// sink. Ending a missing session returns nil without error.
func (m *Manager) End(ctx context.Context, sessionID string) (*SessionState, error) {
	final, err := m.store.EndSession(ctx, sessionID)
	if err != nil || final == nil {
		return final, err
	}

	if m.sink != nil {
		go func(snapshot *SessionState) {
			actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.sink.Archive(actx, snapshot); err != nil {
				m.log.Error("session archive failed",
					"session_id", snapshot.SessionID,
					"agent_id", snapshot.AgentID,
					"error", err)
			}
		}(final)
	}

	return final, nil
}
