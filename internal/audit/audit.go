// Package audit records which generated queries were executed or rejected.
package audit

import (
	"context"
	"sync"
	"time"
)

type Entry struct {
	ID              int64     `json:"id"`
	DatasetID       string    `json:"dataset_id"`
	Subject         string    `json:"subject,omitempty"`
	QueryText       string    `json:"query_text"`
	Intent          string    `json:"intent"`
	IsRejected      bool      `json:"is_rejected"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Recorder appends entries. Entries are never updated or deleted.
type Recorder interface {
	Append(ctx context.Context, entry Entry) error
}

type Stats struct {
	TotalQueries    int64 `json:"total_queries"`
	RejectedQueries int64 `json:"rejected_queries"`
	ActiveSubjects  int64 `json:"active_subjects"`
}

// Store is a Recorder that can also report on what it holds.
type Store interface {
	Recorder
	Stats(ctx context.Context) (Stats, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// ClampLimit bounds a caller-supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

// MemoryLog keeps entries in process memory.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

func (l *MemoryLog) Append(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.ID = int64(len(l.entries) + 1)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryLog) Stats(_ context.Context) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := Stats{TotalQueries: int64(len(l.entries))}
	subjects := map[string]struct{}{}
	for _, entry := range l.entries {
		if entry.IsRejected {
			stats.RejectedQueries++
		}
		if entry.Subject != "" {
			subjects[entry.Subject] = struct{}{}
		}
	}
	stats.ActiveSubjects = int64(len(subjects))
	return stats, nil
}

// Recent returns up to limit entries, newest first.
func (l *MemoryLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, min(limit, len(l.entries)))
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Entries returns a copy of every entry in append order.
func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
