package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chainpulse/walletmon/internal/alert"
	"github.com/chainpulse/walletmon/internal/classify"
	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/ledger"
	"github.com/chainpulse/walletmon/internal/normalize"
)

const (
	testWallet = "0xabc0000000000000000000000000000000000001"
	testRouter = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d" // uniswap v2
	testToken  = "0xtok0000000000000000000000000000000000001"
)

type fakeProvider struct {
	transfers []domain.RawTransfer
	err       error
}

func (p *fakeProvider) GetTransfers(context.Context, string, domain.Network, int64) ([]domain.RawTransfer, error) {
	return p.transfers, p.err
}

func (p *fakeProvider) GetTokenBalances(context.Context, string, domain.Network) ([]domain.RawBalance, error) {
	return nil, nil
}

func (p *fakeProvider) GetTokenPrice(context.Context, string, domain.Network) (float64, error) {
	return 0, domain.ErrPriceUnavailable
}

func (p *fakeProvider) GetGasPrice(context.Context, domain.Network) (domain.GasQuote, error) {
	return domain.GasQuote{}, nil
}

var _ domain.ChainDataProvider = (*fakeProvider)(nil)

type fakePrices struct{ price float64 }

func (p *fakePrices) UnitPrice(context.Context, domain.Network, string) (float64, error) {
	if p.price == 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return p.price, nil
}

type memTxStore struct {
	mu   sync.Mutex
	byID map[string]domain.ClassifiedTransaction
}

func newMemTxStore() *memTxStore {
	return &memTxStore{byID: make(map[string]domain.ClassifiedTransaction)}
}

func (s *memTxStore) Insert(_ context.Context, tx domain.ClassifiedTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tx.DedupKey()]; ok {
		return false, nil
	}
	s.byID[tx.DedupKey()] = tx
	return true, nil
}

func (s *memTxStore) BackfillPrice(_ context.Context, tx domain.ClassifiedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[tx.DedupKey()] = tx
	return nil
}

func (s *memTxStore) ListByWallet(context.Context, string, domain.TransactionFilter, domain.ListOpts) ([]domain.ClassifiedTransaction, error) {
	return nil, nil
}

func (s *memTxStore) ListRecent(context.Context, int) ([]domain.ClassifiedTransaction, error) {
	return nil, nil
}

func (s *memTxStore) ListBefore(context.Context, time.Time) ([]domain.ClassifiedTransaction, error) {
	return nil, nil
}

func (s *memTxStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *memTxStore) LastBlock(context.Context, string, domain.Network) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, tx := range s.byID {
		if tx.BlockNumber > max {
			max = tx.BlockNumber
		}
	}
	return max, nil
}

type memWalletStore struct {
	mu      sync.Mutex
	touched int
}

func (s *memWalletStore) Add(context.Context, string) error    { return nil }
func (s *memWalletStore) Remove(context.Context, string) error { return nil }
func (s *memWalletStore) List(context.Context) ([]domain.TrackedWallet, error) {
	return nil, nil
}
func (s *memWalletStore) Touch(context.Context, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched++
	return nil
}

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func (s *memPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positions == nil {
		s.positions = make(map[string]domain.Position)
	}
	s.positions[pos.Wallet+"|"+string(pos.Network)+"|"+pos.TokenAddress] = pos
	return nil
}

func (s *memPositionStore) Get(_ context.Context, wallet string, network domain.Network, token string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[wallet+"|"+string(network)+"|"+token]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositionStore) ListByWallet(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}

type memEventStore struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (s *memEventStore) Append(_ context.Context, ev domain.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memEventStore) ListByWallet(context.Context, string, domain.ListOpts) ([]domain.LedgerEvent, error) {
	return nil, nil
}

func (s *memEventStore) SumRealized(context.Context, string, string, *time.Time) (float64, error) {
	return 0, nil
}

func (s *memEventStore) ListBefore(context.Context, time.Time) ([]domain.LedgerEvent, error) {
	return nil, nil
}

func (s *memEventStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func rawTransfer(hash string, logIndex int, from, to string, block int64, at time.Time) domain.RawTransfer {
	return domain.RawTransfer{
		Hash:           hash,
		LogIndex:       logIndex,
		From:           from,
		To:             to,
		TokenAddress:   testToken,
		TokenSymbol:    "TOK",
		TokenDecimals:  "18",
		Value:          "1000000000000000000",
		BlockTimestamp: at,
		BlockNumber:    block,
	}
}

func newTestPoller(provider *fakeProvider, price float64) (*Poller, *memTxStore, *memWalletStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txs := newMemTxStore()
	wallets := &memWalletStore{}
	ldg := ledger.New(&memPositionStore{}, &memEventStore{}, logger)
	classifier := classify.New(classify.NewRouterSet(nil), &fakePrices{price: price}, 3, logger)
	evaluator := alert.NewEvaluator(nil, logger)
	thresholds := domain.ThresholdConfig{MinTransactionUSD: 1e9}
	poller := NewPoller(provider, normalize.New(logger), classifier, txs, wallets, ldg, evaluator, thresholds, logger)
	return poller, txs, wallets
}

func TestPollOnceStoresAndClassifies(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{transfers: []domain.RawTransfer{
		rawTransfer("0x1", 0, testRouter, testWallet, 100, at),
	}}
	poller, txs, wallets := newTestPoller(provider, 10)

	stored, err := poller.PollOnce(context.Background(), testWallet, domain.NetworkETH)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	if stored != 1 {
		t.Errorf("stored = %d, want 1", stored)
	}
	for _, tx := range txs.byID {
		if tx.Category != domain.CategoryBuy {
			t.Errorf("category = %s, want BUY (inbound from a known router)", tx.Category)
		}
		if tx.USDValue == nil || *tx.USDValue != 10 {
			t.Errorf("usd value = %v, want 10", tx.USDValue)
		}
	}
	if wallets.touched != 1 {
		t.Errorf("wallet touched %d times, want 1", wallets.touched)
	}
}

func TestPollOnceSkipsDuplicates(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{transfers: []domain.RawTransfer{
		rawTransfer("0x1", 0, testRouter, testWallet, 100, at),
	}}
	poller, txs, _ := newTestPoller(provider, 10)
	ctx := context.Background()

	if _, err := poller.PollOnce(ctx, testWallet, domain.NetworkETH); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	stored, err := poller.PollOnce(ctx, testWallet, domain.NetworkETH)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}

	if stored != 0 {
		t.Errorf("second poll stored = %d, want 0", stored)
	}
	if len(txs.byID) != 1 {
		t.Errorf("store holds %d transactions, want 1", len(txs.byID))
	}
}

func TestPollOnceDropsMalformed(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bad := rawTransfer("0x2", 0, testRouter, testWallet, 101, at)
	bad.Value = "not-a-number"
	provider := &fakeProvider{transfers: []domain.RawTransfer{
		rawTransfer("0x1", 0, testRouter, testWallet, 100, at),
		bad,
	}}
	poller, txs, _ := newTestPoller(provider, 10)

	stored, err := poller.PollOnce(context.Background(), testWallet, domain.NetworkETH)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	if stored != 1 {
		t.Errorf("stored = %d, want 1 (malformed row dropped)", stored)
	}
	if len(txs.byID) != 1 {
		t.Errorf("store holds %d transactions, want 1", len(txs.byID))
	}
}

func TestRetryBackfillWritesPrices(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{transfers: []domain.RawTransfer{
		rawTransfer("0x1", 0, testRouter, testWallet, 100, at),
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txs := newMemTxStore()
	prices := &fakePrices{} // unavailable at first
	classifier := classify.New(classify.NewRouterSet(nil), prices, 3, logger)
	ldg := ledger.New(&memPositionStore{}, &memEventStore{}, logger)
	evaluator := alert.NewEvaluator(nil, logger)
	thresholds := domain.ThresholdConfig{MinTransactionUSD: 1e9}
	poller := NewPoller(provider, normalize.New(logger), classifier, txs, &memWalletStore{}, ldg, evaluator, thresholds, logger)
	ctx := context.Background()

	if _, err := poller.PollOnce(ctx, testWallet, domain.NetworkETH); err != nil {
		t.Fatalf("poll: %v", err)
	}
	for _, tx := range txs.byID {
		if tx.USDValue != nil {
			t.Fatal("value should start unknown")
		}
	}

	// Price turns up; the backfill pass fills the stored record.
	prices.price = 4
	if filled := poller.RetryBackfill(ctx); filled != 1 {
		t.Fatalf("filled = %d, want 1", filled)
	}
	for _, tx := range txs.byID {
		if tx.USDValue == nil || *tx.USDValue != 4 {
			t.Errorf("usd value = %v, want 4", tx.USDValue)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	interval := time.Second
	max := 2 * time.Minute

	if got := backoffDelay(1, interval, max); got != 2*time.Second {
		t.Errorf("failure 1 = %v, want 2s", got)
	}
	if got := backoffDelay(3, interval, max); got != 8*time.Second {
		t.Errorf("failure 3 = %v, want 8s", got)
	}
	if got := backoffDelay(20, interval, max); got != max {
		t.Errorf("failure 20 = %v, want capped %v", got, max)
	}
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2024, 3, 1, 2, 30, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("next cron: %v", err)
	}
	want := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	next, err = nextCronTime("0 3 1 * *", after.Add(time.Hour))
	if err != nil {
		t.Fatalf("next cron: %v", err)
	}
	want = time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next monthly = %v, want %v", next, want)
	}

	if _, err := nextCronTime("bad cron", after); err == nil {
		t.Error("malformed expression should error")
	}
}
