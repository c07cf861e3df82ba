package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TTLConfig carries the three independent expiry horizons. Cache entries
// and the diff slot are shorter-lived than the session and are never
// refreshed by session-level touches.
type TTLConfig struct {
	Session time.Duration
	Diff    time.Duration
	Cache   time.Duration
}

// DefaultTTLs returns the default expiry horizons.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Session: 30 * time.Minute,
		Diff:    5 * time.Minute,
		Cache:   2 * time.Minute,
	}
}

// Store implements the session state operations over a Backend. It holds
// no per-session locks; overlapping updates to one session race under
// read-modify-write with last-writer-wins semantics, which is accepted for
// the low per-agent concurrency this serves.
type Store struct {
	backend Backend
	ttl     TTLConfig
	now     func() time.Time
	tracer  trace.Tracer
}

// NewStore creates a session state store over the given backend.
func NewStore(backend Backend, ttl TTLConfig) *Store {
	if ttl.Session <= 0 {
		ttl = DefaultTTLs()
	}
	return &Store{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		tracer:  otel.Tracer("awiblog/state"),
	}
}

// CacheKeyFor computes the content-addressed cache key: a SHA-256 over the
// canonical serialization of (filters, sort). Map keys are sorted at every
// depth before hashing, so identical inputs always yield the same key.
func CacheKeyFor(filters Value, sort string) string {
	payload := Map(map[string]Value{
		"filters": filters,
		"sort":    String(sort),
	})
	sum := sha256.Sum256([]byte(payload.Canonical()))
	return hex.EncodeToString(sum[:])
}

// InitializeSession allocates a session for an agent: default page state,
// a synthetic t=0 session_start record, and an agent index entry sharing
// the session TTL.
func (s *Store) InitializeSession(ctx context.Context, agentID, agentName, initialRoute string) (*SessionState, error) {
	ctx, span := s.tracer.Start(ctx, "state.InitializeSession",
		trace.WithAttributes(attribute.String("agent.id", agentID)))
	defer span.End()

	now := s.now().UTC()
	st := &SessionState{
		SessionID: uuid.New().String(),
		AgentID:   agentID,
		AgentName: agentName,
		Status:    StatusCreated,
		Data:      defaultSessionData(initialRoute),
		History: []ActionRecord{{
			T:         0,
			Action:    "session_start",
			Input:     Map(map[string]Value{"route": String(initialRoute)}),
			Delta:     Map(nil),
			Timestamp: now,
			Success:   true,
		}},
		Stats:       Stats{},
		CreatedAt:   now,
		LastUpdated: now,
	}

	if err := s.backend.SaveSession(ctx, st, s.ttl.Session); err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}
	return st, nil
}

// GetSessionState retrieves a session by id.
// Returns ErrSessionNotFound when absent or expired.
func (s *Store) GetSessionState(ctx context.Context, sessionID string) (*SessionState, error) {
	return s.backend.LoadSession(ctx, sessionID)
}

// FindSessionForAgent resolves the agent index and loads the state.
// Returns ErrSessionNotFound when the agent has no active session.
func (s *Store) FindSessionForAgent(ctx context.Context, agentID string) (*SessionState, error) {
	id, err := s.backend.SessionForAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return s.backend.LoadSession(ctx, id)
}

// UpdateStateWithDelta merges a delta into the session data, appends an
// action record (t = previous history length), trims the trajectory to the
// most recent MaxHistory entries, updates the running totals, refreshes the
// session TTL, and overwrites the single-slot last diff under its own TTL.
func (s *Store) UpdateStateWithDelta(ctx context.Context, sessionID string, delta Value, info ActionInfo) (*SessionState, error) {
	ctx, span := s.tracer.Start(ctx, "state.UpdateStateWithDelta",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("action", info.Action),
		))
	defer span.End()

	st, err := s.backend.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	st.Data = Merge(st.Data, delta)

	record := ActionRecord{
		T:           len(st.History),
		Action:      info.Action,
		Input:       info.Input,
		Delta:       delta,
		Timestamp:   now,
		Success:     info.Success,
		Observation: info.Observation,
	}
	st.History = append(st.History, record)
	if len(st.History) > MaxHistory {
		st.History = st.History[len(st.History)-MaxHistory:]
	}

	st.Stats.TotalActions++
	if info.Success {
		st.Stats.SuccessfulActions++
	} else {
		st.Stats.FailedActions++
	}
	st.Status = StatusActive
	st.LastUpdated = now

	if err := s.backend.SaveSession(ctx, st, s.ttl.Session); err != nil {
		return nil, fmt.Errorf("save updated session: %w", err)
	}

	diff := &DiffRecord{
		SessionID: sessionID,
		Delta:     delta,
		Action:    record,
		Timestamp: now,
	}
	if err := s.backend.SaveDiff(ctx, diff, s.ttl.Diff); err != nil {
		return nil, fmt.Errorf("save diff slot: %w", err)
	}

	return st, nil
}

// GetStateDiff returns the last-diff slot's contents, or an explicit
// no-recent-changes result once the slot has expired. The slot is lossy
// and last-writer-wins; it is not a change log.
func (s *Store) GetStateDiff(ctx context.Context, sessionID string) (*StateDiff, error) {
	diff, err := s.backend.LoadDiff(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrDiffNotFound) {
			return &StateDiff{
				HasRecentChanges: false,
				Message:          "no recent changes",
			}, nil
		}
		return nil, err
	}
	return &StateDiff{HasRecentChanges: true, Diff: diff}, nil
}

// CacheQueryResults stores a result payload under the content-addressed
// key for (filters, sort) and records the key into session state through
// the normal delta path.
func (s *Store) CacheQueryResults(ctx context.Context, sessionID string, filters Value, sort string, results json.RawMessage) (string, error) {
	ctx, span := s.tracer.Start(ctx, "state.CacheQueryResults",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	key := CacheKeyFor(filters, sort)
	if err := s.backend.SaveCache(ctx, key, results, s.ttl.Cache); err != nil {
		return "", fmt.Errorf("cache query results: %w", err)
	}

	delta := Map(map[string]Value{
		"query_cache": Map(map[string]Value{
			"key":       String(key),
			"cached_at": String(s.now().UTC().Format(time.RFC3339)),
		}),
	})
	if _, err := s.UpdateStateWithDelta(ctx, sessionID, delta, ActionInfo{
		Action:  "cache_results",
		Input:   Map(map[string]Value{"sort": String(sort)}),
		Success: true,
	}); err != nil {
		return "", err
	}

	return key, nil
}

// GetCachedQueryResults retrieves a cached payload by key.
// Returns ErrCacheMiss when absent or expired. Cache reads never refresh
// the owning session's TTL.
func (s *Store) GetCachedQueryResults(ctx context.Context, key string) (json.RawMessage, error) {
	return s.backend.LoadCache(ctx, key)
}

// HasValidCache reports whether a live cache entry exists for (filters,
// sort) and returns its key. It is an existence check only; no payload is
// fetched, letting callers skip both the cache read and the underlying
// query when nothing is cached.
func (s *Store) HasValidCache(ctx context.Context, filters Value, sort string) (string, bool, error) {
	key := CacheKeyFor(filters, sort)
	ok, err := s.backend.CacheExists(ctx, key)
	if err != nil {
		return "", false, err
	}
	return key, ok, nil
}

// TouchSession refreshes the session TTL and last_updated without mutating
// history or counters. Returns false when the session is gone.
func (s *Store) TouchSession(ctx context.Context, sessionID string) (bool, error) {
	st, err := s.backend.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	st.LastUpdated = s.now().UTC()
	if err := s.backend.SaveSession(ctx, st, s.ttl.Session); err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return true, nil
}

// EndSession removes the session record, its agent index entry, and its
// diff slot, returning the final snapshot for archival. Ending a missing
// or already-ended session returns nil without error; the call is safe to
// repeat.
func (s *Store) EndSession(ctx context.Context, sessionID string) (*SessionState, error) {
	ctx, span := s.tracer.Start(ctx, "state.EndSession",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	st, err := s.backend.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if err := s.backend.DeleteSession(ctx, sessionID, st.AgentID); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	st.Status = StatusEnded
	st.LastUpdated = s.now().UTC()
	return st, nil
}

// GetActionHistory returns a most-recent-first slice of the trajectory
// bounded by limit and offset.
func (s *Store) GetActionHistory(ctx context.Context, sessionID string, limit, offset int) (*Trajectory, error) {
	st, err := s.backend.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	total := len(st.History)
	reversed := make([]ActionRecord, total)
	for i, r := range st.History {
		reversed[total-1-i] = r
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return &Trajectory{Records: []ActionRecord{}, Total: total}, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return &Trajectory{Records: reversed[offset:end], Total: total}, nil
}
