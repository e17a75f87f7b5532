// Package execlog keeps the in-process, append-only history of execution
// outcomes read by the adaptive controller and the HTTP API.
package execlog

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// Log is an append-only list of execution records. Reads return copies.
type Log struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Append adds rec to the end of the log.
func (l *Log) Append(rec domain.ExecutionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Recent returns up to n of the newest records in append order. n <= 0
// returns every record.
func (l *Log) Recent(n int) []domain.ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if n > 0 && n < len(l.records) {
		start = len(l.records) - n
	}
	return slices.Clone(l.records[start:])
}

// NewestFirst returns up to n records starting with the most recent.
func (l *Log) NewestFirst(n int) []domain.ExecutionRecord {
	out := l.Recent(n)
	slices.Reverse(out)
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Hydrate loads the newest n persisted records into an empty log so the
// controller has history right after a restart.
func (l *Log) Hydrate(ctx context.Context, store domain.ExecutionStore, n int) (int, error) {
	recs, err := store.ListRecent(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("execlog: hydrate: %w", err)
	}
	// ListRecent is newest first.
	slices.Reverse(recs)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(recs, l.records...)
	return len(recs), nil
}
