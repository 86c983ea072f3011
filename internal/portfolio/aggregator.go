// Package portfolio turns raw balance reads into priced wallet snapshots,
// compares consecutive snapshots for balance-change detection, and answers
// top-token and wallet-info queries.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/chainpulse/walletmon/internal/classify"
	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/normalize"
)

// Aggregator builds wallet snapshots and deltas. It keeps only the two most
// recent snapshots per wallet/network pair in memory; snapshots are derived
// data and are rebuilt from the chain on restart.
type Aggregator struct {
	provider   domain.ChainDataProvider
	normalizer *normalize.Normalizer
	prices     classify.PriceSource
	logger     *slog.Logger

	mu   sync.Mutex
	last map[string]domain.WalletSnapshot // newest snapshot per wallet|network
}

// New creates an Aggregator.
func New(provider domain.ChainDataProvider, normalizer *normalize.Normalizer, prices classify.PriceSource, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		provider:   provider,
		normalizer: normalizer,
		prices:     prices,
		logger:     logger.With(slog.String("component", "portfolio")),
		last:       make(map[string]domain.WalletSnapshot),
	}
}

func snapKey(wallet string, network domain.Network) string {
	return wallet + "|" + string(network)
}

// Snapshot fetches current balances for a wallet on one network, prices each
// holding, and returns the point-in-time view. Tokens without a sourceable
// price keep nil USD fields and are excluded from the total; a partial total
// is reported through PricedHoldings rather than silently passed off as
// complete.
func (a *Aggregator) Snapshot(ctx context.Context, wallet string, network domain.Network) (domain.WalletSnapshot, error) {
	raws, err := a.provider.GetTokenBalances(ctx, wallet, network)
	if err != nil {
		return domain.WalletSnapshot{}, fmt.Errorf("portfolio: balances %s/%s: %w", wallet, network, err)
	}

	snap := domain.WalletSnapshot{
		Wallet:  wallet,
		Network: network,
		TakenAt: time.Now().UTC(),
	}

	for _, raw := range raws {
		holding, err := a.normalizer.Balance(raw, network)
		if err != nil {
			a.logger.WarnContext(ctx, "portfolio: dropping malformed balance",
				slog.String("wallet", wallet),
				slog.String("network", string(network)),
				slog.String("token", raw.TokenAddress),
				slog.String("error", err.Error()),
			)
			continue
		}
		if holding.Quantity == 0 {
			continue
		}

		price, err := a.prices.UnitPrice(ctx, network, holding.TokenAddress)
		switch {
		case err == nil:
			p := price
			v := holding.Quantity * price
			holding.UnitPriceUSD = &p
			holding.ValueUSD = &v
			snap.TotalValueUSD += v
			snap.PricedHoldings++
		case errors.Is(err, domain.ErrPriceUnavailable):
			// Keep the row unpriced.
		default:
			return domain.WalletSnapshot{}, fmt.Errorf("portfolio: price %s/%s: %w", network, holding.TokenAddress, err)
		}

		snap.Holdings = append(snap.Holdings, holding)
	}

	sort.Slice(snap.Holdings, func(i, j int) bool {
		return snap.Holdings[i].TokenAddress < snap.Holdings[j].TokenAddress
	})
	return snap, nil
}

// Observe records a fresh snapshot and returns the delta against the
// previous one for the same wallet/network pair. The first observation has
// no baseline and returns ok=false.
func (a *Aggregator) Observe(snap domain.WalletSnapshot, changeThreshold float64) (domain.SnapshotDelta, bool) {
	key := snapKey(snap.Wallet, snap.Network)

	a.mu.Lock()
	prev, hasPrev := a.last[key]
	a.last[key] = snap
	a.mu.Unlock()

	if !hasPrev {
		return domain.SnapshotDelta{}, false
	}
	return Diff(prev, snap, changeThreshold), true
}

// Last returns the most recent snapshot recorded for a wallet/network pair.
func (a *Aggregator) Last(wallet string, network domain.Network) (domain.WalletSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, ok := a.last[snapKey(wallet, network)]
	return snap, ok
}

// Diff compares two snapshots of the same wallet/network pair. Tokens
// entering or leaving the wallet are marked NewPosition/Closed with a nil
// percentage, since a relative change from or to zero is undefined. A token
// is flagged when it appears, fully exits, or its value moves by at least
// changeThreshold (a fraction, e.g. 0.05).
func Diff(prev, curr domain.WalletSnapshot, changeThreshold float64) domain.SnapshotDelta {
	delta := domain.SnapshotDelta{
		Wallet:       curr.Wallet,
		Network:      curr.Network,
		From:         prev.TakenAt,
		To:           curr.TakenAt,
		TotalPrevUSD: prev.TotalValueUSD,
		TotalCurrUSD: curr.TotalValueUSD,
	}

	prevByToken := make(map[string]domain.TokenHolding, len(prev.Holdings))
	for _, h := range prev.Holdings {
		prevByToken[h.TokenAddress] = h
	}

	seen := make(map[string]struct{}, len(curr.Holdings))
	for _, h := range curr.Holdings {
		seen[h.TokenAddress] = struct{}{}
		p, existed := prevByToken[h.TokenAddress]

		td := domain.TokenDelta{
			TokenAddress: h.TokenAddress,
			Symbol:       h.Symbol,
			CurrQuantity: h.Quantity,
			CurrValueUSD: h.ValueUSD,
		}
		if !existed {
			td.NewPosition = true
			td.Flagged = true
			delta.Tokens = append(delta.Tokens, td)
			continue
		}

		td.PrevQuantity = p.Quantity
		td.PrevValueUSD = p.ValueUSD
		if p.ValueUSD != nil && h.ValueUSD != nil && *p.ValueUSD != 0 {
			pct := (*h.ValueUSD - *p.ValueUSD) / *p.ValueUSD
			td.PctChange = &pct
			td.Flagged = math.Abs(pct) >= changeThreshold
		}
		if td.PctChange != nil || td.Flagged || p.Quantity != h.Quantity || !sameValue(p.ValueUSD, h.ValueUSD) {
			delta.Tokens = append(delta.Tokens, td)
		}
	}

	for _, p := range prev.Holdings {
		if _, ok := seen[p.TokenAddress]; ok {
			continue
		}
		delta.Tokens = append(delta.Tokens, domain.TokenDelta{
			TokenAddress: p.TokenAddress,
			Symbol:       p.Symbol,
			PrevQuantity: p.Quantity,
			PrevValueUSD: p.ValueUSD,
			Closed:       true,
			Flagged:      true,
		})
	}

	sort.Slice(delta.Tokens, func(i, j int) bool {
		return delta.Tokens[i].TokenAddress < delta.Tokens[j].TokenAddress
	})

	// TotalFlagged is strictly about the portfolio total; a single token
	// crossing its own threshold is reported through that token's flag.
	if prev.TotalValueUSD != 0 {
		pct := (curr.TotalValueUSD - prev.TotalValueUSD) / prev.TotalValueUSD
		delta.TotalPctChange = &pct
		delta.TotalFlagged = math.Abs(pct) >= changeThreshold
	}

	return delta
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// TopTokens ranks a snapshot's holdings by USD value or raw quantity,
// descending, breaking ties by symbol ascending so repeated queries return a
// stable order. Unpriced holdings rank below every priced one under the
// value sort.
func TopTokens(snap domain.WalletSnapshot, by domain.TokenSort, limit int) []domain.TokenHolding {
	holdings := make([]domain.TokenHolding, len(snap.Holdings))
	copy(holdings, snap.Holdings)

	metric := func(h domain.TokenHolding) (float64, bool) {
		if by == domain.TokenSortAmount {
			return h.Quantity, true
		}
		if h.ValueUSD == nil {
			return 0, false
		}
		return *h.ValueUSD, true
	}

	sort.SliceStable(holdings, func(i, j int) bool {
		vi, oki := metric(holdings[i])
		vj, okj := metric(holdings[j])
		if oki != okj {
			return oki
		}
		if vi != vj {
			return vi > vj
		}
		if holdings[i].Symbol != holdings[j].Symbol {
			return holdings[i].Symbol < holdings[j].Symbol
		}
		return holdings[i].TokenAddress < holdings[j].TokenAddress
	})

	if limit > 0 && len(holdings) > limit {
		holdings = holdings[:limit]
	}
	return holdings
}

// WalletInfo combines a fresh snapshot with ledger figures into the aggregate
// wallet answer. UnrealizedPnLUSD is nil when any open position lacked a
// price, so a partial number is never presented as the full one.
func WalletInfo(snap domain.WalletSnapshot, positions []domain.Position, realized float64) domain.WalletInfo {
	info := domain.WalletInfo{
		Wallet:         snap.Wallet,
		Network:        snap.Network,
		Snapshot:       snap,
		RealizedPnLUSD: realized,
	}

	priceByToken := make(map[string]*float64, len(snap.Holdings))
	for _, h := range snap.Holdings {
		priceByToken[h.TokenAddress] = h.UnitPriceUSD
	}

	var unrealized float64
	complete := true
	for _, pos := range positions {
		if pos.Quantity <= 0 || pos.Network != snap.Network {
			continue
		}
		price, ok := priceByToken[pos.TokenAddress]
		if !ok || price == nil {
			info.UnpricedPositions++
			complete = false
			continue
		}
		unrealized += pos.Quantity * (*price - pos.AvgCostUSD)
	}
	if complete {
		info.UnrealizedPnLUSD = &unrealized
	}
	return info
}
