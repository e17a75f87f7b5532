package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

// archiveContentType is the media type of the JSONL archive objects.
const archiveContentType = "application/x-ndjson"

// ExecutionArchiveStore is the part of the execution store the archiver needs.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver: it moves execution records older than
// a cutoff into a JSONL object and, when pruning is on, deletes them from
// the database once the upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	store  ExecutionArchiveStore
	prune  bool
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, store ExecutionArchiveStore, prune bool, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		prune:  prune,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions uploads every record before the cutoff to
// archive/executions/YYYY-MM.jsonl and returns how many were archived.
// An existing object for the month is never overwritten; a numbered
// sibling is written instead.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path, err := a.freePath(ctx, "executions", before)
	if err != nil {
		return 0, err
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	count := int64(len(recs))
	a.logger.InfoContext(ctx, "executions archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)

	if a.prune {
		deleted, err := a.store.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: prune archived executions: %w", err)
		}
		a.logger.InfoContext(ctx, "archived executions pruned", slog.Int64("deleted", deleted))
	}
	return count, nil
}

func (a *Archiver) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	base := fmt.Sprintf("archive/%s/%s", kind, before.Format("2006-01"))
	path := base + ".jsonl"
	for i := 1; ; i++ {
		exists, err := a.writer.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if !exists {
			return path, nil
		}
		path = fmt.Sprintf("%s-%d.jsonl", base, i)
	}
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
