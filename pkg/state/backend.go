package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist or has
	// expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDiffNotFound is returned when the last-diff slot is empty or has
	// expired.
	ErrDiffNotFound = errors.New("state diff not found")
	// ErrCacheMiss is returned when a query cache entry is absent.
	ErrCacheMiss = errors.New("query cache miss")
	// ErrStoreClosed is returned when operating on a closed backend.
	ErrStoreClosed = errors.New("state backend is closed")
)

// Backend abstracts the TTL-capable key-value service behind the session
// store. It performs no per-session locking; concurrent read-modify-write
// updates race with last-writer-wins semantics.
// Implementations must be safe for concurrent use.
type Backend interface {
	// SaveSession persists the session record and its agent index entry,
	// both under the session TTL.
	SaveSession(ctx context.Context, s *SessionState, ttl time.Duration) error

	// LoadSession retrieves a session record.
	// Returns ErrSessionNotFound if the record is absent or expired.
	LoadSession(ctx context.Context, sessionID string) (*SessionState, error)

	// SessionForAgent resolves the agent index to a session id.
	// Returns ErrSessionNotFound when the agent has no active session.
	SessionForAgent(ctx context.Context, agentID string) (string, error)

	// Touch refreshes the TTL on the session record and its agent index
	// entry. Returns ErrSessionNotFound when the session is gone.
	Touch(ctx context.Context, sessionID, agentID string, ttl time.Duration) error

	// DeleteSession removes the session record, its agent index entry, and
	// its diff slot in one shot. Deleting an absent session is not an
	// error.
	DeleteSession(ctx context.Context, sessionID, agentID string) error

	// SaveDiff overwrites the single-slot last diff under its own TTL.
	SaveDiff(ctx context.Context, diff *DiffRecord, ttl time.Duration) error

	// LoadDiff retrieves the last diff for a session.
	// Returns ErrDiffNotFound once the slot has expired.
	LoadDiff(ctx context.Context, sessionID string) (*DiffRecord, error)

	// SaveCache stores a query result payload under a content-addressed
	// key with the cache TTL.
	SaveCache(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error

	// LoadCache retrieves a cached payload.
	// Returns ErrCacheMiss when the entry is absent or expired.
	LoadCache(ctx context.Context, key string) (json.RawMessage, error)

	// CacheExists reports whether a cache entry is live without fetching
	// its payload.
	CacheExists(ctx context.Context, key string) (bool, error)

	// Close releases any resources held by the backend.
	Close() error
}
