package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingSink struct {
	mu       sync.Mutex
	archived []*SessionState
}

func (c *capturingSink) Archive(_ context.Context, final *SessionState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archived = append(c.archived, final)
	return nil
}

func (c *capturingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.archived)
}

func TestManager_EnsureSession(t *testing.T) {
	_, store := setupStore(t)
	m := NewManager(store, nil, nil)
	ctx := context.Background()

	st, created, err := m.EnsureSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)
	assert.True(t, created)

	// A second ensure finds the same session instead of creating one.
	again, created, err := m.EnsureSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, st.SessionID, again.SessionID)
}

func TestManager_NewSessionAfterEnd(t *testing.T) {
	_, store := setupStore(t)
	m := NewManager(store, nil, nil)
	ctx := context.Background()

	st, _, err := m.EnsureSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	_, err = m.End(ctx, st.SessionID)
	require.NoError(t, err)

	// Ended is terminal; ensure creates a fresh session.
	fresh, created, err := m.EnsureSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, st.SessionID, fresh.SessionID)
}

func TestManager_EndArchivesSnapshot(t *testing.T) {
	_, store := setupStore(t)
	sink := &capturingSink{}
	m := NewManager(store, sink, nil)
	ctx := context.Background()

	st, _, err := m.EnsureSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	final, err := m.End(ctx, st.SessionID)
	require.NoError(t, err)
	require.NotNil(t, final)

	require.Eventually(t, func() bool { return sink.count() == 1 },
		time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	got := sink.archived[0]
	sink.mu.Unlock()
	assert.Equal(t, st.SessionID, got.SessionID)
	assert.Equal(t, StatusEnded, got.Status)
}

func TestManager_EndMissingSessionDoesNotArchive(t *testing.T) {
	_, store := setupStore(t)
	sink := &capturingSink{}
	m := NewManager(store, sink, nil)

	final, err := m.End(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, final)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count())
}
