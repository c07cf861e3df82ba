package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned when operating on a closed request log.
var ErrStoreClosed = errors.New("request log is closed")

// RequestLog abstracts the append-only timestamp log the limiter evaluates.
// A single-node in-memory implementation and a shared Redis implementation
// are interchangeable without touching the tier logic.
// Implementations must be safe for concurrent use and must never reorder
// recorded timestamps.
type RequestLog interface {
	// Record appends a request timestamp for (agentID, operation).
	Record(ctx context.Context, agentID, operation string, ts time.Time) error

	// CountInWindow returns how many recorded timestamps fall at or after
	// the window start.
	CountInWindow(ctx context.Context, agentID, operation string, windowStart time.Time) (int, error)

	// OldestInWindow returns the earliest timestamp at or after the window
	// start. The bool is false when no timestamp falls inside the window.
	OldestInWindow(ctx context.Context, agentID, operation string, windowStart time.Time) (time.Time, bool, error)

	// Last returns the most recent recorded timestamp for (agentID,
	// operation). The bool is false when nothing has been recorded.
	Last(ctx context.Context, agentID, operation string) (time.Time, bool, error)

	// Evict drops all timestamps older than the cutoff and removes empty
	// per-operation entries to bound memory.
	Evict(ctx context.Context, cutoff time.Time) error

	// Close releases any resources held by the log.
	Close() error
}
