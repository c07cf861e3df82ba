// Package archive delivers final session snapshots to a durable sink when
// sessions end. Delivery is best effort: the live path never blocks on the
// archive.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/awi-labs/awiblog/pkg/state"
)

// Archiver consumes final session snapshots.
type Archiver interface {
	// Archive persists one ended session's final state.
	Archive(ctx context.Context, final *state.SessionState) error

	// Close flushes and releases the sink.
	Close() error
}

// envelope is the stored form: the snapshot plus when it was archived.
type envelope struct {
	ArchivedAt time.Time           `json:"archived_at"`
	Session    *state.SessionState `json:"session"`
}

// FileArchiver appends one JSON line per ended session to a local file.
type FileArchiver struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFileArchiver opens (or creates) the archive file for appending.
func NewFileArchiver(path string) (*FileArchiver, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive file: %w", err)
	}
	return &FileArchiver{f: f, path: path}, nil
}

// Archive appends the snapshot as one JSON line.
func (a *FileArchiver) Archive(_ context.Context, final *state.SessionState) error {
	data, err := json.Marshal(envelope{
		ArchivedAt: time.Now().UTC(),
		Session:    final,
	})
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append archive record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (a *FileArchiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}

// MemoryArchiver collects snapshots in memory (for testing).
type MemoryArchiver struct {
	mu       sync.Mutex
	archived []*state.SessionState
}

// NewMemoryArchiver creates an empty in-memory archiver.
func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{}
}

// Archive records the snapshot.
func (a *MemoryArchiver) Archive(_ context.Context, final *state.SessionState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, final)
	return nil
}

// Archived returns a copy of everything archived so far.
func (a *MemoryArchiver) Archived() []*state.SessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*state.SessionState, len(a.archived))
	copy(out, a.archived)
	return out
}

// Close is a no-op.
func (a *MemoryArchiver) Close() error { return nil }

// NopArchiver discards snapshots.
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, *state.SessionState) error { return nil }
func (NopArchiver) Close() error                                       { return nil }
