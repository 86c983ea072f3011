package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy them implicitly; the archiver never needs the write side.

// TransactionArchiveStore provides the time-ranged queries archival needs
// over stored transactions.
type TransactionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ClassifiedTransaction, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LedgerEventArchiveStore provides the time-ranged queries archival needs
// over the ledger trail.
type LedgerEventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// rows, serializing them to JSONL, uploading the file to S3, and deleting the
// rows only after the upload succeeded. A failed upload leaves the rows in
// place for the next run.
type ArchiveImpl struct {
	writer domain.BlobWriter
	txs    TransactionArchiveStore
	events LedgerEventArchiveStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, txs TransactionArchiveStore, events LedgerEventArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		txs:    txs,
		events: events,
		logger: logger.With(slog.String("component", "s3_archiver")),
	}
}

// ArchiveTransactions moves transactions older than the cutoff to
// archive/transactions/YYYY-MM.jsonl and returns how many were moved.
func (a *ArchiveImpl) ArchiveTransactions(ctx context.Context, before time.Time) (int64, error) {
	txs, err := a.txs.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions query: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(txs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions marshal: %w", err)
	}

	path := archivePath("transactions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive transactions upload: %w", err)
	}

	deleted, err := a.txs.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(txs)), fmt.Errorf("s3blob: archive transactions delete: %w", err)
	}

	a.logger.InfoContext(ctx, "s3blob: archived transactions",
		slog.String("path", path),
		slog.Int("uploaded", len(txs)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(txs)), nil
}

// ArchiveLedgerEvents moves ledger events older than the cutoff to
// archive/ledger_events/YYYY-MM.jsonl and returns how many were moved.
func (a *ArchiveImpl) ArchiveLedgerEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger events marshal: %w", err)
	}

	path := archivePath("ledger_events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger events upload: %w", err)
	}

	deleted, err := a.events.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(events)), fmt.Errorf("s3blob: archive ledger events delete: %w", err)
	}

	a.logger.InfoContext(ctx, "s3blob: archived ledger events",
		slog.String("path", path),
		slog.Int("uploaded", len(events)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(events)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/transactions/2025-01.jsonl
//	archive/ledger_events/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes a slice of values as newline-delimited JSON, one
// compact line per record.
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
