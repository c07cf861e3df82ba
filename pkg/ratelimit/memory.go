package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLog is a process-local RequestLog. It provides no cross-process
// coordination; horizontal scaling requires the Redis-backed log.
type MemoryLog struct {
	mu      sync.RWMutex
	entries map[string][]time.Time
	closed  bool
}

// NewMemoryLog creates an empty in-memory request log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]time.Time)}
}

func logKey(agentID, operation string) string {
	return agentID + "|" + operation
}

// Record appends a timestamp for (agentID, operation).
func (m *MemoryLog) Record(_ context.Context, agentID, operation string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	key := logKey(agentID, operation)
	m.entries[key] = append(m.entries[key], ts)
	return nil
}

// CountInWindow counts timestamps at or after windowStart.
func (m *MemoryLog) CountInWindow(_ context.Context, agentID, operation string, windowStart time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	ts := m.entries[logKey(agentID, operation)]
	return len(ts) - firstInWindow(ts, windowStart), nil
}

// OldestInWindow returns the earliest timestamp at or after windowStart.
func (m *MemoryLog) OldestInWindow(_ context.Context, agentID, operation string, windowStart time.Time) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return time.Time{}, false, ErrStoreClosed
	}
	ts := m.entries[logKey(agentID, operation)]
	i := firstInWindow(ts, windowStart)
	if i == len(ts) {
		return time.Time{}, false, nil
	}
	return ts[i], true, nil
}

// Last returns the most recent timestamp for (agentID, operation).
func (m *MemoryLog) Last(_ context.Context, agentID, operation string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return time.Time{}, false, ErrStoreClosed
	}
	ts := m.entries[logKey(agentID, operation)]
	if len(ts) == 0 {
		return time.Time{}, false, nil
	}
	return ts[len(ts)-1], true, nil
}

// Evict drops timestamps older than the cutoff and deletes empty keys.
func (m *MemoryLog) Evict(_ context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for key, ts := range m.entries {
		i := firstInWindow(ts, cutoff)
		if i == 0 {
			continue
		}
		if i == len(ts) {
			delete(m.entries, key)
			continue
		}
		kept := make([]time.Time, len(ts)-i)
		copy(kept, ts[i:])
		m.entries[key] = kept
	}
	return nil
}

// Close marks the log closed; further operations return ErrStoreClosed.
func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// firstInWindow returns the index of the first timestamp not before the
// window start. Timestamps are appended in order, so the slice is sorted.
func firstInWindow(ts []time.Time, windowStart time.Time) int {
	return sort.Search(len(ts), func(i int) bool {
		return !ts[i].Before(windowStart)
	})
}
