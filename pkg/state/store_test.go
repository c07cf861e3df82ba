package state

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendFromClient(client, "test:")

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return mr, NewStore(backend, TTLConfig{
		Session: 30 * time.Minute,
		Diff:    5 * time.Minute,
		Cache:   2 * time.Minute,
	})
}

func TestInitializeSession(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, "agent-1", st.AgentID)
	assert.Equal(t, StatusCreated, st.Status)

	// Synthetic t=0 session_start record.
	require.Len(t, st.History, 1)
	assert.Equal(t, 0, st.History[0].T)
	assert.Equal(t, "session_start", st.History[0].Action)
	assert.True(t, st.History[0].Success)

	// Default page state: cursor 1, empty filters, default sort.
	pagination, ok := st.Data.Get("pagination")
	require.True(t, ok)
	cursor, _ := pagination.Get("cursor")
	cv, _ := cursor.NumberVal()
	assert.Equal(t, 1.0, cv)

	filters, ok := st.Data.Get("filters")
	require.True(t, ok)
	assert.Equal(t, 0, filters.Len())

	sortv, _ := st.Data.Get("sort")
	sv, _ := sortv.StringVal()
	assert.Equal(t, "newest", sv)
}

func TestGetSessionState_NotFound(t *testing.T) {
	_, store := setupStore(t)

	_, err := store.GetSessionState(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFindSessionForAgent(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	created, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	found, err := store.FindSessionForAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, found.SessionID)

	_, err = store.FindSessionForAgent(ctx, "agent-without-session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdateStateWithDelta_MergeSemantics(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	// Object-valued keys merge one level.
	updated, err := store.UpdateStateWithDelta(ctx, st.SessionID,
		mustParse(t, `{"pagination":{"page_size":20}}`),
		ActionInfo{Action: "set_page_size", Success: true})
	require.NoError(t, err)

	pagination, _ := updated.Data.Get("pagination")
	_, hasCursor := pagination.Get("cursor")
	_, hasSize := pagination.Get("page_size")
	assert.True(t, hasCursor, "existing pagination keys survive the merge")
	assert.True(t, hasSize)

	// Array-valued keys replace wholesale.
	updated, err = store.UpdateStateWithDelta(ctx, st.SessionID,
		mustParse(t, `{"available_actions":["list_posts"]}`),
		ActionInfo{Action: "restrict_actions", Success: true})
	require.NoError(t, err)

	actions, _ := updated.Data.Get("available_actions")
	assert.Equal(t, 1, actions.Len())
}

func TestUpdateStateWithDelta_SessionNotFound(t *testing.T) {
	_, store := setupStore(t)

	_, err := store.UpdateStateWithDelta(context.Background(), "missing",
		Map(nil), ActionInfo{Action: "noop", Success: true})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdateStateWithDelta_CountersAndRecord(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	updated, err := store.UpdateStateWithDelta(ctx, st.SessionID,
		mustParse(t, `{"route":"/posts/42"}`),
		ActionInfo{Action: "get_post", Input: mustParse(t, `{"id":42}`), Success: true})
	require.NoError(t, err)

	assert.Equal(t, Stats{TotalActions: 1, SuccessfulActions: 1}, updated.Stats)
	assert.Equal(t, StatusActive, updated.Status)

	// t equals prior history length (session_start occupies t=0).
	last := updated.History[len(updated.History)-1]
	assert.Equal(t, 1, last.T)
	assert.Equal(t, "get_post", last.Action)

	updated, err = store.UpdateStateWithDelta(ctx, st.SessionID,
		Map(nil), ActionInfo{Action: "broken_op", Success: false})
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalActions: 2, SuccessfulActions: 1, FailedActions: 1}, updated.Stats)
}

func TestHistory_TrimmedToMaxPreservingOrder(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	// session_start is entry one; push the history past the bound.
	for i := 0; i < MaxHistory; i++ {
		_, err := store.UpdateStateWithDelta(ctx, st.SessionID,
			Map(nil),
			ActionInfo{Action: fmt.Sprintf("step_%d", i), Success: true})
		require.NoError(t, err)
	}

	final, err := store.GetSessionState(ctx, st.SessionID)
	require.NoError(t, err)
	require.Len(t, final.History, MaxHistory)

	// The 101st append evicted the t=0 session_start record.
	assert.Equal(t, "step_0", final.History[0].Action)
	assert.Equal(t, 1, final.History[0].T)

	// Remaining relative order is preserved.
	for i := 1; i < MaxHistory; i++ {
		assert.Equal(t, fmt.Sprintf("step_%d", i), final.History[i].Action)
	}
}

func TestGetStateDiff_LastWriterWins(t *testing.T) {
	mr, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	_, err = store.UpdateStateWithDelta(ctx, st.SessionID,
		mustParse(t, `{"route":"/posts/1"}`),
		ActionInfo{Action: "get_post", Success: true})
	require.NoError(t, err)

	_, err = store.UpdateStateWithDelta(ctx, st.SessionID,
		mustParse(t, `{"route":"/posts/2"}`),
		ActionInfo{Action: "get_post", Success: true})
	require.NoError(t, err)

	// Only the most recent delta survives in the slot.
	diff, err := store.GetStateDiff(ctx, st.SessionID)
	require.NoError(t, err)
	require.True(t, diff.HasRecentChanges)
	route, _ := diff.Diff.Delta.Get("route")
	rs, _ := route.StringVal()
	assert.Equal(t, "/posts/2", rs)
	assert.Equal(t, "get_post", diff.Diff.Action.Action)

	// A second read with no intervening update returns the same diff.
	again, err := store.GetStateDiff(ctx, st.SessionID)
	require.NoError(t, err)
	require.True(t, again.HasRecentChanges)
	assert.Equal(t, diff.Diff.Delta.Canonical(), again.Diff.Delta.Canonical())

	// After the diff TTL lapses the slot reports no recent changes while
	// the session itself lives on.
	mr.FastForward(6 * time.Minute)

	expired, err := store.GetStateDiff(ctx, st.SessionID)
	require.NoError(t, err)
	assert.False(t, expired.HasRecentChanges)
	assert.Equal(t, "no recent changes", expired.Message)

	_, err = store.GetSessionState(ctx, st.SessionID)
	assert.NoError(t, err, "session must outlive its diff slot")
}

func TestQueryCache_RoundTrip(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	filters := mustParse(t, `{"author":"ada"}`)
	results := json.RawMessage(`[{"id":"p1","title":"Hello"}]`)

	key, err := store.CacheQueryResults(ctx, st.SessionID, filters, "newest", results)
	require.NoError(t, err)
	require.NotEmpty(t, key)

	// hasValidCache returns the same key without touching the payload.
	foundKey, ok, err := store.HasValidCache(ctx, filters, "newest")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, key, foundKey)

	got, err := store.GetCachedQueryResults(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, string(results), string(got))

	// The key landed in session state through the delta path.
	latest, err := store.GetSessionState(ctx, st.SessionID)
	require.NoError(t, err)
	qc, ok := latest.Data.Get("query_cache")
	require.True(t, ok)
	storedKey, _ := qc.Get("key")
	sk, _ := storedKey.StringVal()
	assert.Equal(t, key, sk)
}

func TestQueryCache_ExpiresIndependently(t *testing.T) {
	mr, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	filters := mustParse(t, `{"author":"ada"}`)
	key, err := store.CacheQueryResults(ctx, st.SessionID, filters, "newest", json.RawMessage(`[]`))
	require.NoError(t, err)

	mr.FastForward(3 * time.Minute)

	_, ok, err := store.HasValidCache(ctx, filters, "newest")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.GetCachedQueryResults(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// The owning session is untouched by cache expiry.
	_, err = store.GetSessionState(ctx, st.SessionID)
	assert.NoError(t, err)
}

func TestTouchSession(t *testing.T) {
	mr, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	// Without the touch the session would expire at 30m.
	mr.FastForward(20 * time.Minute)

	ok, err := store.TouchSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(20 * time.Minute)

	refreshed, err := store.GetSessionState(ctx, st.SessionID)
	require.NoError(t, err)

	// History and counters are untouched.
	assert.Len(t, refreshed.History, 1)
	assert.Equal(t, Stats{}, refreshed.Stats)

	ok, err = store.TouchSession(ctx, "missing-session")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionExpiresWithIndex(t *testing.T) {
	mr, store := setupStore(t)
	ctx := context.Background()

	_, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)

	_, err = store.FindSessionForAgent(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndSession_Idempotent(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	final, err := store.EndSession(ctx, st.SessionID)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, StatusEnded, final.Status)

	// Record, index, and diff slot are gone.
	_, err = store.GetSessionState(ctx, st.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.FindSessionForAgent(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Ending again returns nil without error.
	again, err := store.EndSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Nil(t, again)

	// As does ending a session that never existed.
	never, err := store.EndSession(ctx, "never-existed")
	require.NoError(t, err)
	assert.Nil(t, never)
}

func TestGetActionHistory_MostRecentFirst(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	st, err := store.InitializeSession(ctx, "agent-1", "crawler", "/posts")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.UpdateStateWithDelta(ctx, st.SessionID,
			Map(nil), ActionInfo{Action: fmt.Sprintf("step_%d", i), Success: true})
		require.NoError(t, err)
	}

	// Full trajectory: 5 steps + session_start.
	tr, err := store.GetActionHistory(ctx, st.SessionID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, tr.Total)
	require.Len(t, tr.Records, 6)
	assert.Equal(t, "step_4", tr.Records[0].Action)
	assert.Equal(t, "session_start", tr.Records[5].Action)

	// Limit and offset slice the reversed view.
	tr, err = store.GetActionHistory(ctx, st.SessionID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, tr.Total)
	require.Len(t, tr.Records, 2)
	assert.Equal(t, "step_3", tr.Records[0].Action)
	assert.Equal(t, "step_2", tr.Records[1].Action)

	// Offset past the end yields an empty page, not an error.
	tr, err = store.GetActionHistory(ctx, st.SessionID, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, tr.Records)
}
