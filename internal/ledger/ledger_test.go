package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

type memPositionStore struct {
	positions map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (s *memPositionStore) key(wallet string, network domain.Network, token string) string {
	return wallet + "|" + string(network) + "|" + token
}

func (s *memPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.positions[s.key(pos.Wallet, pos.Network, pos.TokenAddress)] = pos
	return nil
}

func (s *memPositionStore) Get(_ context.Context, wallet string, network domain.Network, token string) (domain.Position, error) {
	pos, ok := s.positions[s.key(wallet, network, token)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) ListByWallet(_ context.Context, wallet string) ([]domain.Position, error) {
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Wallet == wallet {
			out = append(out, pos)
		}
	}
	return out, nil
}

type memEventStore struct {
	events []domain.LedgerEvent
}

func (s *memEventStore) Append(_ context.Context, ev domain.LedgerEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *memEventStore) ListByWallet(_ context.Context, wallet string, _ domain.ListOpts) ([]domain.LedgerEvent, error) {
	var out []domain.LedgerEvent
	for _, ev := range s.events {
		if ev.Wallet == wallet {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memEventStore) SumRealized(_ context.Context, wallet, token string, since *time.Time) (float64, error) {
	var total float64
	for _, ev := range s.events {
		if ev.Kind != domain.LedgerEventRealized || ev.Wallet != wallet {
			continue
		}
		if token != "" && ev.TokenAddress != token {
			continue
		}
		if since != nil && ev.BlockTime.Before(*since) {
			continue
		}
		total += ev.RealizedPnLUSD
	}
	return total, nil
}

func (s *memEventStore) ListBefore(_ context.Context, before time.Time) ([]domain.LedgerEvent, error) {
	var out []domain.LedgerEvent
	for _, ev := range s.events {
		if ev.CreatedAt.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memEventStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.LedgerEvent
	var removed int64
	for _, ev := range s.events {
		if ev.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return removed, nil
}

func (s *memEventStore) countKind(kind domain.LedgerEventKind) int {
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

const (
	testWallet = "0xabc0000000000000000000000000000000000001"
	testToken  = "0xtok0000000000000000000000000000000000001"
)

func newTestLedger() (*Ledger, *memPositionStore, *memEventStore) {
	positions := newMemPositionStore()
	events := &memEventStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(positions, events, logger), positions, events
}

func classifiedTx(hash string, logIndex int, category domain.Category, amount float64, price *float64, at time.Time) domain.ClassifiedTransaction {
	tx := domain.ClassifiedTransaction{
		CanonicalTransaction: domain.CanonicalTransaction{
			Hash:         hash,
			LogIndex:     logIndex,
			Network:      domain.NetworkETH,
			Wallet:       testWallet,
			TokenAddress: testToken,
			Symbol:       "TOK",
			Decimals:     18,
			Amount:       amount,
			UnitPriceUSD: price,
			BlockTime:    at,
		},
		Category: category,
	}
	if price != nil {
		v := amount * *price
		tx.USDValue = &v
	}
	return tx
}

func ptr(f float64) *float64 { return &f }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestApplyBuyWeightedAverage(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := l.Apply(ctx, classifiedTx("0x1", 0, domain.CategoryBuy, 2, ptr(10), base)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	res, err := l.Apply(ctx, classifiedTx("0x2", 0, domain.CategoryBuy, 3, ptr(20), base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}

	if !approx(res.Position.Quantity, 5) {
		t.Errorf("quantity = %v, want 5", res.Position.Quantity)
	}
	if !approx(res.Position.AvgCostUSD, 16) {
		t.Errorf("avg cost = %v, want 16", res.Position.AvgCostUSD)
	}
}

func TestApplySellRealizesPnL(t *testing.T) {
	l, _, events := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := l.Apply(ctx, classifiedTx("0x1", 0, domain.CategoryBuy, 1, ptr(10), base)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	res, err := l.Apply(ctx, classifiedTx("0x2", 0, domain.CategorySell, 1, ptr(20), base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if !approx(res.RealizedPnLUSD, 10) {
		t.Errorf("realized = %v, want 10", res.RealizedPnLUSD)
	}
	if !approx(res.Position.Quantity, 0) {
		t.Errorf("quantity = %v, want 0", res.Position.Quantity)
	}
	if events.countKind(domain.LedgerEventRealized) != 1 {
		t.Errorf("realized events = %d, want 1", events.countKind(domain.LedgerEventRealized))
	}

	total, err := l.RealizedPnL(ctx, testWallet, "", nil)
	if err != nil {
		t.Fatalf("realized pnl: %v", err)
	}
	if !approx(total, 10) {
		t.Errorf("total realized = %v, want 10", total)
	}
}

func TestApplySellOversell(t *testing.T) {
	l, _, events := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := l.Apply(ctx, classifiedTx("0x1", 0, domain.CategoryBuy, 1, ptr(10), base)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	res, err := l.Apply(ctx, classifiedTx("0x2", 0, domain.CategorySell, 3, ptr(20), base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("oversized sell: %v", err)
	}

	if !res.Oversold {
		t.Error("expected oversold flag")
	}
	if !approx(res.Position.Quantity, 0) {
		t.Errorf("quantity = %v, want clamped 0", res.Position.Quantity)
	}
	// Realized covers the full sell amount at the tracked average cost.
	if !approx(res.RealizedPnLUSD, 30) {
		t.Errorf("realized = %v, want 30", res.RealizedPnLUSD)
	}
	if events.countKind(domain.LedgerEventOversold) != 1 {
		t.Errorf("oversold events = %d, want 1", events.countKind(domain.LedgerEventOversold))
	}
}

func TestApplyIdempotent(t *testing.T) {
	l, _, events := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := classifiedTx("0x1", 0, domain.CategoryBuy, 2, ptr(10), base)

	first, err := l.Apply(ctx, tx)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := l.Apply(ctx, tx)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if !first.Applied {
		t.Error("first apply should report applied")
	}
	if second.Applied {
		t.Error("duplicate apply should be a no-op")
	}
	if !approx(second.Position.Quantity, 2) {
		t.Errorf("quantity = %v, want 2", second.Position.Quantity)
	}
	if len(events.events) != 1 {
		t.Errorf("events = %d, want 1", len(events.events))
	}
}

func TestApplyRejectsOutOfOrder(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := l.Apply(ctx, classifiedTx("0x2", 0, domain.CategoryBuy, 1, ptr(10), base)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	_, err := l.Apply(ctx, classifiedTx("0x1", 0, domain.CategoryBuy, 1, ptr(5), base.Add(-time.Hour)))
	if !errors.Is(err, domain.ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
}

func TestApplyBuyWithoutPriceKeepsBasis(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := l.Apply(ctx, classifiedTx("0x1", 0, domain.CategoryBuy, 2, ptr(10), base)); err != nil {
		t.Fatalf("priced buy: %v", err)
	}
	res, err := l.Apply(ctx, classifiedTx("0x2", 0, domain.CategoryBuy, 2, nil, base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("unpriced buy: %v", err)
	}

	if !approx(res.Position.Quantity, 4) {
		t.Errorf("quantity = %v, want 4", res.Position.Quantity)
	}
	if !approx(res.Position.AvgCostUSD, 10) {
		t.Errorf("avg cost = %v, want unchanged 10", res.Position.AvgCostUSD)
	}
}

func TestApplyTransferDoesNotMutatePosition(t *testing.T) {
	l, _, events := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := l.Apply(ctx, classifiedTx("0x1", 0, domain.CategoryBuy, 2, ptr(10), base)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	res, err := l.Apply(ctx, classifiedTx("0x2", 0, domain.CategoryTransferOut, 1, ptr(12), base.Add(time.Minute)))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if !approx(res.Position.Quantity, 2) {
		t.Errorf("quantity = %v, want 2", res.Position.Quantity)
	}
	if events.countKind(domain.LedgerEventApplied) != 2 {
		t.Errorf("applied events = %d, want 2", events.countKind(domain.LedgerEventApplied))
	}
}

func TestUnrealizedPnL(t *testing.T) {
	pos := domain.Position{Quantity: 5, AvgCostUSD: 16}
	if got := UnrealizedPnL(pos, 20); !approx(got, 20) {
		t.Errorf("unrealized = %v, want 20", got)
	}
	closed := domain.Position{Quantity: 0, AvgCostUSD: 16}
	if got := UnrealizedPnL(closed, 20); got != 0 {
		t.Errorf("closed position unrealized = %v, want 0", got)
	}
}

func TestRebuildReplaysTrail(t *testing.T) {
	l, positions, events := newTestLedger()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := l.Apply(ctx, classifiedTx("0x1", 0, domain.CategoryBuy, 2, ptr(10), base)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := l.Apply(ctx, classifiedTx("0x2", 0, domain.CategoryBuy, 3, ptr(20), base.Add(time.Minute))); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := l.Apply(ctx, classifiedTx("0x3", 0, domain.CategorySell, 1, ptr(20), base.Add(2*time.Minute))); err != nil {
		t.Fatalf("sell: %v", err)
	}

	// Simulate a restart with a wiped projection but an intact trail.
	fresh := New(positions, &memEventStore{events: events.events}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	positions.positions = make(map[string]domain.Position)
	if err := fresh.Rebuild(ctx, testWallet); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	pos, err := fresh.Position(ctx, testWallet, domain.NetworkETH, testToken)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !approx(pos.Quantity, 4) {
		t.Errorf("quantity = %v, want 4", pos.Quantity)
	}
	if !approx(pos.AvgCostUSD, 16) {
		t.Errorf("avg cost = %v, want 16", pos.AvgCostUSD)
	}
	if !approx(pos.RealizedPnLUSD, 4) {
		t.Errorf("realized = %v, want 4", pos.RealizedPnLUSD)
	}

	// Replayed transactions stay deduplicated after the rebuild.
	res, err := fresh.Apply(ctx, classifiedTx("0x3", 0, domain.CategorySell, 1, ptr(20), base.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if res.Applied {
		t.Error("replayed transaction should be a duplicate")
	}
}
