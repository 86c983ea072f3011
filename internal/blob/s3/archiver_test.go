package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

type fakeWriter struct {
	puts    map[string][]byte
	failPut bool
}

func (w *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if w.failPut {
		return errors.New("upload failed")
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = buf
	return nil
}

type fakeTxArchiveStore struct {
	rows    []domain.ClassifiedTransaction
	deleted bool
}

func (s *fakeTxArchiveStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClassifiedTransaction, error) {
	return s.rows, nil
}

func (s *fakeTxArchiveStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.deleted = true
	n := int64(len(s.rows))
	s.rows = nil
	return n, nil
}

type fakeEventArchiveStore struct {
	rows    []domain.LedgerEvent
	deleted bool
}

func (s *fakeEventArchiveStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEvent, error) {
	return s.rows, nil
}

func (s *fakeEventArchiveStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.deleted = true
	n := int64(len(s.rows))
	s.rows = nil
	return n, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveTransactionsUploadsThenDeletes(t *testing.T) {
	writer := &fakeWriter{}
	txs := &fakeTxArchiveStore{rows: []domain.ClassifiedTransaction{
		{CanonicalTransaction: domain.CanonicalTransaction{Hash: "0x1", Wallet: "0xw"}, Category: domain.CategoryBuy},
		{CanonicalTransaction: domain.CanonicalTransaction{Hash: "0x2", Wallet: "0xw"}, Category: domain.CategorySell},
	}}
	a := NewArchiver(writer, txs, &fakeEventArchiveStore{}, testLogger())

	cutoff := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)
	moved, err := a.ArchiveTransactions(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTransactions: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}
	if !txs.deleted {
		t.Error("rows not deleted after successful upload")
	}

	body, ok := writer.puts["archive/transactions/2026-05.jsonl"]
	if !ok {
		t.Fatalf("unexpected upload paths: %v", keysOf(writer.puts))
	}

	// One compact JSON document per line.
	scanner := bufio.NewScanner(bytes.NewReader(body))
	lines := 0
	for scanner.Scan() {
		lines++
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Errorf("line %d is not valid JSON: %v", lines, err)
		}
	}
	if lines != 2 {
		t.Errorf("jsonl lines = %d, want 2", lines)
	}
}

func TestArchiveTransactionsKeepsRowsOnUploadFailure(t *testing.T) {
	writer := &fakeWriter{failPut: true}
	txs := &fakeTxArchiveStore{rows: []domain.ClassifiedTransaction{
		{CanonicalTransaction: domain.CanonicalTransaction{Hash: "0x1"}},
	}}
	a := NewArchiver(writer, txs, &fakeEventArchiveStore{}, testLogger())

	if _, err := a.ArchiveTransactions(context.Background(), time.Now()); err == nil {
		t.Fatal("ArchiveTransactions = nil, want upload error")
	}
	if txs.deleted {
		t.Error("rows deleted despite failed upload")
	}
}

func TestArchiveLedgerEvents(t *testing.T) {
	writer := &fakeWriter{}
	events := &fakeEventArchiveStore{rows: []domain.LedgerEvent{
		{ID: "e1", Kind: domain.LedgerEventApplied},
	}}
	a := NewArchiver(writer, &fakeTxArchiveStore{}, events, testLogger())

	cutoff := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)
	moved, err := a.ArchiveLedgerEvents(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveLedgerEvents: %v", err)
	}
	if moved != 1 {
		t.Errorf("moved = %d, want 1", moved)
	}
	if !events.deleted {
		t.Error("rows not deleted after successful upload")
	}
	if _, ok := writer.puts["archive/ledger_events/2026-05.jsonl"]; !ok {
		t.Errorf("unexpected upload paths: %v", keysOf(writer.puts))
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	writer := &fakeWriter{}
	a := NewArchiver(writer, &fakeTxArchiveStore{}, &fakeEventArchiveStore{}, testLogger())

	moved, err := a.ArchiveTransactions(context.Background(), time.Now())
	if err != nil || moved != 0 {
		t.Errorf("moved, err = %d, %v; want 0, nil", moved, err)
	}
	if len(writer.puts) != 0 {
		t.Error("no upload expected for an empty window")
	}
}

func keysOf(m map[string][]byte) string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	return strings.Join(keys, ", ")
}
