package domain

import (
	"context"
	"io"
	"time"
)

// ExecutionStore persists execution records. Records are insert-only; the
// only deletion path is archiving.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	GetByID(ctx context.Context, id string) (ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// BlobWriter is the object-store side of archiving. Put never needs to
// overwrite; callers check Exists first.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves execution records older than before to cold storage and
// reports how many it moved.
type Archiver interface {
	ArchiveExecutions(ctx context.Context, before time.Time) (int64, error)
}
