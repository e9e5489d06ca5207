package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold switches uploads to the multipart path.
const multipartThreshold = 8 * 1024 * 1024

// SnapshotSource lists snapshots captured before a cutoff.
type SnapshotSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.MarketSnapshot, error)
}

// EventSource lists membership events created before a cutoff.
type EventSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TrendingEvent, error)
}

// Archiver implements domain.Archiver. It uploads the rows that the next
// sweep will delete as one JSONL object per kind and cutoff, and records each
// upload in the audit log. It never deletes anything itself.
type Archiver struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	snapshots SnapshotSource
	events    EventSource
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	snapshots SnapshotSource,
	events EventSource,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:    writer,
		reader:    reader,
		snapshots: snapshots,
		events:    events,
		audit:     audit,
	}
}

// ArchiveSnapshots uploads every snapshot captured before the cutoff and
// returns how many rows the archive object holds.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots: %w", err)
	}
	return archive(ctx, a, "snapshots", before, rows)
}

// ArchiveEvents uploads every membership event created before the cutoff.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events: %w", err)
	}
	return archive(ctx, a, "events", before, rows)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	count := int64(len(rows))
	path := archivePath(kind, before)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		return count, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}

	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}

	if err := a.audit.Log(ctx, domain.AuditArchived, map[string]any{
		"kind":   kind,
		"path":   path,
		"count":  count,
		"bytes":  len(buf),
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit: %w", kind, err)
	}
	return count, nil
}

// archivePath partitions archives by the cutoff's month; the file name is the
// cutoff itself so repeated sweeps never overwrite each other.
//
//	archive/snapshots/2026-05/20260501T120000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
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
