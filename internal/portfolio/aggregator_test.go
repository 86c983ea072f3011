package portfolio

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/normalize"
)

type fakeProvider struct {
	balances []domain.RawBalance
	err      error
}

func (p *fakeProvider) GetTransfers(context.Context, string, domain.Network, int64) ([]domain.RawTransfer, error) {
	return nil, nil
}

func (p *fakeProvider) GetTokenBalances(context.Context, string, domain.Network) ([]domain.RawBalance, error) {
	return p.balances, p.err
}

func (p *fakeProvider) GetTokenPrice(context.Context, string, domain.Network) (float64, error) {
	return 0, domain.ErrPriceUnavailable
}

func (p *fakeProvider) GetGasPrice(context.Context, domain.Network) (domain.GasQuote, error) {
	return domain.GasQuote{}, nil
}

var _ domain.ChainDataProvider = (*fakeProvider)(nil)

type fakePrices struct {
	prices map[string]float64
}

func (p *fakePrices) UnitPrice(_ context.Context, _ domain.Network, token string) (float64, error) {
	price, ok := p.prices[token]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

func ptr(f float64) *float64 { return &f }

func holding(token, symbol string, qty float64, value *float64) domain.TokenHolding {
	h := domain.TokenHolding{TokenAddress: token, Symbol: symbol, Quantity: qty, ValueUSD: value}
	if value != nil && qty != 0 {
		p := *value / qty
		h.UnitPriceUSD = &p
	}
	return h
}

func snapshot(at time.Time, holdings ...domain.TokenHolding) domain.WalletSnapshot {
	snap := domain.WalletSnapshot{
		Wallet:   "0xwallet",
		Network:  domain.NetworkETH,
		TakenAt:  at,
		Holdings: holdings,
	}
	for _, h := range holdings {
		if h.ValueUSD != nil {
			snap.TotalValueUSD += *h.ValueUSD
			snap.PricedHoldings++
		}
	}
	return snap
}

func TestSnapshotPricesHoldings(t *testing.T) {
	provider := &fakeProvider{balances: []domain.RawBalance{
		{TokenAddress: "0xaaa", Symbol: "AAA", Decimals: 18, RawBalance: "2000000000000000000"},
		{TokenAddress: "0xbbb", Symbol: "BBB", Decimals: 6, RawBalance: "3000000"},
	}}
	prices := &fakePrices{prices: map[string]float64{"0xaaa": 10}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := New(provider, normalize.New(logger), prices, logger)

	snap, err := agg.Snapshot(context.Background(), "0xwallet", domain.NetworkETH)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if len(snap.Holdings) != 2 {
		t.Fatalf("holdings = %d, want 2", len(snap.Holdings))
	}
	if snap.TotalValueUSD != 20 {
		t.Errorf("total = %v, want 20 (only priced holdings)", snap.TotalValueUSD)
	}
	if snap.PricedHoldings != 1 {
		t.Errorf("priced holdings = %d, want 1", snap.PricedHoldings)
	}
	for _, h := range snap.Holdings {
		if h.TokenAddress == "0xbbb" && h.ValueUSD != nil {
			t.Error("unpriced holding should keep nil USD value")
		}
	}
}

func TestDiffFlagsThresholdCrossing(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := snapshot(base, holding("0xaaa", "AAA", 2, ptr(100)))
	curr := snapshot(base.Add(time.Hour), holding("0xaaa", "AAA", 2, ptr(110)))

	delta := Diff(prev, curr, 0.05)

	if len(delta.Tokens) != 1 {
		t.Fatalf("tokens = %d, want 1", len(delta.Tokens))
	}
	td := delta.Tokens[0]
	if td.PctChange == nil {
		t.Fatal("expected pct change")
	}
	if *td.PctChange != 0.1 {
		t.Errorf("pct = %v, want 0.1", *td.PctChange)
	}
	if !td.Flagged {
		t.Error("10% move over a 5% threshold should be flagged")
	}
}

func TestDiffNewAndClosedPositions(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := snapshot(base, holding("0xaaa", "AAA", 2, ptr(100)))
	curr := snapshot(base.Add(time.Hour), holding("0xbbb", "BBB", 5, ptr(50)))

	delta := Diff(prev, curr, 0.05)

	if len(delta.Tokens) != 2 {
		t.Fatalf("tokens = %d, want 2", len(delta.Tokens))
	}
	for _, td := range delta.Tokens {
		switch td.TokenAddress {
		case "0xaaa":
			if !td.Closed || !td.Flagged {
				t.Error("exited token should be closed and flagged")
			}
			if td.PctChange != nil {
				t.Error("closed position pct change should be nil, not -100%")
			}
		case "0xbbb":
			if !td.NewPosition || !td.Flagged {
				t.Error("new token should be flagged as a new position")
			}
			if td.PctChange != nil {
				t.Error("new position pct change should be nil")
			}
		}
	}
}

func TestDiffBelowThresholdNotFlagged(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := snapshot(base, holding("0xaaa", "AAA", 2, ptr(100)))
	curr := snapshot(base.Add(time.Hour), holding("0xaaa", "AAA", 2, ptr(102)))

	delta := Diff(prev, curr, 0.05)

	if delta.TotalFlagged {
		t.Error("2% move should not be flagged over a 5% threshold")
	}
}

func TestDiffTokenFlagDoesNotFlagTotal(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := snapshot(base,
		holding("0xaaa", "AAA", 2, ptr(100)),
		holding("0xbbb", "BBB", 50, ptr(9900)),
	)
	curr := snapshot(base.Add(time.Hour),
		holding("0xaaa", "AAA", 2, ptr(110)),
		holding("0xbbb", "BBB", 50, ptr(9900)),
	)

	delta := Diff(prev, curr, 0.05)

	var flagged bool
	for _, td := range delta.Tokens {
		if td.TokenAddress == "0xaaa" {
			flagged = td.Flagged
		}
	}
	if !flagged {
		t.Error("10% token move should be flagged")
	}
	if delta.TotalPctChange == nil {
		t.Fatal("expected total pct change")
	}
	if *delta.TotalPctChange >= 0.05 {
		t.Fatalf("total pct = %v, want below threshold", *delta.TotalPctChange)
	}
	if delta.TotalFlagged {
		t.Error("0.1% total move should not flag the portfolio total")
	}
}

func TestObserveFirstSnapshotHasNoBaseline(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := New(&fakeProvider{}, normalize.New(logger), &fakePrices{}, logger)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, ok := agg.Observe(snapshot(base, holding("0xaaa", "AAA", 2, ptr(100))), 0.05)
	if ok {
		t.Error("first observation should have no baseline")
	}

	delta, ok := agg.Observe(snapshot(base.Add(time.Hour), holding("0xaaa", "AAA", 2, ptr(120))), 0.05)
	if !ok {
		t.Fatal("second observation should produce a delta")
	}
	if !delta.TotalFlagged {
		t.Error("20% move should flag the delta")
	}
}

func TestTopTokensByValue(t *testing.T) {
	snap := snapshot(time.Now(),
		holding("0xaaa", "AAA", 1, ptr(50)),
		holding("0xbbb", "BBB", 100, ptr(200)),
		holding("0xccc", "CCC", 7, nil), // unpriced ranks last
		holding("0xddd", "DDD", 3, ptr(50)),
	)

	top := TopTokens(snap, domain.TokenSortValue, 0)

	want := []string{"BBB", "AAA", "DDD", "CCC"}
	if len(top) != len(want) {
		t.Fatalf("len = %d, want %d", len(top), len(want))
	}
	for i, sym := range want {
		if top[i].Symbol != sym {
			t.Errorf("top[%d] = %s, want %s (value desc, symbol tiebreak, unpriced last)", i, top[i].Symbol, sym)
		}
	}
}

func TestTopTokensByAmountWithLimit(t *testing.T) {
	snap := snapshot(time.Now(),
		holding("0xaaa", "AAA", 1, ptr(50)),
		holding("0xbbb", "BBB", 100, ptr(200)),
		holding("0xccc", "CCC", 7, nil),
	)

	top := TopTokens(snap, domain.TokenSortAmount, 2)

	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].Symbol != "BBB" || top[1].Symbol != "CCC" {
		t.Errorf("got %s, %s; want BBB, CCC", top[0].Symbol, top[1].Symbol)
	}
}

func TestWalletInfoUnrealized(t *testing.T) {
	snap := snapshot(time.Now(), holding("0xaaa", "AAA", 2, ptr(40))) // unit price 20
	positions := []domain.Position{
		{Network: domain.NetworkETH, TokenAddress: "0xaaa", Quantity: 2, AvgCostUSD: 15},
	}

	info := WalletInfo(snap, positions, 12.5)

	if info.RealizedPnLUSD != 12.5 {
		t.Errorf("realized = %v, want 12.5", info.RealizedPnLUSD)
	}
	if info.UnrealizedPnLUSD == nil {
		t.Fatal("expected unrealized pnl")
	}
	if *info.UnrealizedPnLUSD != 10 {
		t.Errorf("unrealized = %v, want 10", *info.UnrealizedPnLUSD)
	}
}

func TestWalletInfoUnpricedPositionNullsUnrealized(t *testing.T) {
	snap := snapshot(time.Now(), holding("0xaaa", "AAA", 2, nil))
	positions := []domain.Position{
		{Network: domain.NetworkETH, TokenAddress: "0xaaa", Quantity: 2, AvgCostUSD: 15},
	}

	info := WalletInfo(snap, positions, 0)

	if info.UnrealizedPnLUSD != nil {
		t.Error("unrealized should be nil when a held token has no price")
	}
	if info.UnpricedPositions != 1 {
		t.Errorf("unpriced positions = %d, want 1", info.UnpricedPositions)
	}
}
