// Package state gives each agent a durable, diffable, cacheable view of its
// interaction history so context never has to be re-sent on every call.
package state

import (
	"time"
)

// Status tracks a session through its lifecycle. There is no resumed
// state: once ended, a new session must be created.
type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// MaxHistory bounds the trajectory; the oldest record is evicted first and
// the remaining order is preserved.
const MaxHistory = 100

// ActionRecord is one step of a session's trajectory. Records are
// immutable once appended.
type ActionRecord struct {
	// T is the history length at append time.
	T           int       `json:"t"`
	Action      string    `json:"action"`
	Input       Value     `json:"input"`
	Delta       Value     `json:"delta"`
	Timestamp   time.Time `json:"timestamp"`
	Success     bool      `json:"success"`
	Observation string    `json:"observation,omitempty"`
}

// Stats carries the running action counters for a session.
type Stats struct {
	TotalActions      int `json:"total_actions"`
	SuccessfulActions int `json:"successful_actions"`
	FailedActions     int `json:"failed_actions"`
}

// SessionState is the durable per-agent session record. Identifiers,
// timestamps, and counters are strongly typed; the page/action state the
// agent mutates through deltas lives in Data as a schema-less map so new
// fields never require a migration.
type SessionState struct {
	SessionID   string         `json:"session_id"`
	AgentID     string         `json:"agent_id"`
	AgentName   string         `json:"agent_name"`
	Status      Status         `json:"status"`
	Data        Value          `json:"data"`
	History     []ActionRecord `json:"history"`
	Stats       Stats          `json:"stats"`
	CreatedAt   time.Time      `json:"created_at"`
	LastUpdated time.Time      `json:"last_updated"`
}

// ActionInfo describes the action behind one delta update.
type ActionInfo struct {
	Action      string `json:"action"`
	Input       Value  `json:"input"`
	Success     bool   `json:"success"`
	Observation string `json:"observation,omitempty"`
}

// DiffRecord is the single-slot "last diff": the most recent delta and the
// action that produced it. It is lossy and last-writer-wins; it cannot
// replay more than one change.
type DiffRecord struct {
	SessionID string       `json:"session_id"`
	Delta     Value        `json:"delta"`
	Action    ActionRecord `json:"action"`
	Timestamp time.Time    `json:"timestamp"`
}

// StateDiff is what GetStateDiff hands to callers: either the last diff or
// an explicit no-recent-changes result once the slot has expired.
type StateDiff struct {
	HasRecentChanges bool        `json:"has_recent_changes"`
	Diff             *DiffRecord `json:"diff,omitempty"`
	Message          string      `json:"message,omitempty"`
}

// Trajectory is a most-recent-first slice of a session's history.
type Trajectory struct {
	Records []ActionRecord `json:"trajectory"`
	Total   int            `json:"total"`
}

// defaultSessionData builds the initial page and action state for a new
// session: cursor at page one, no filters, default sort.
func defaultSessionData(initialRoute string) Value {
	return Map(map[string]Value{
		"route": String(initialRoute),
		"pagination": Map(map[string]Value{
			"cursor": Int(1),
		}),
		"filters": Map(nil),
		"sort":    String("newest"),
		"available_actions": List(
			String("list_posts"),
			String("get_post"),
			String("search_posts"),
			String("create_post"),
			String("create_comment"),
		),
		"disabled_actions": List(),
	})
}
