// Package ledger maintains the weighted-average cost basis and PnL state for
// every (wallet, network, token) position, fed by classified transactions.
// Positions are a replayable projection: the append-only event trail in the
// LedgerEventStore is the source of truth.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainpulse/walletmon/internal/domain"
)

// ApplyResult describes the outcome of folding one transaction into the
// ledger.
type ApplyResult struct {
	// Applied is false when the transaction was a duplicate and the call was
	// a no-op.
	Applied bool
	// Position is the projection state after the apply.
	Position domain.Position
	// RealizedPnLUSD is the realized profit or loss produced by this apply,
	// non-zero only for priced sells.
	RealizedPnLUSD float64
	// Oversold reports that a sell exceeded the tracked quantity and the
	// position was clamped to zero.
	Oversold bool
}

// Ledger folds classified transactions into per-token positions using
// weighted-average cost accounting. Writes for a single wallet must be
// serialized by the caller (the monitor runs one poller per wallet and
// network); reads are safe concurrently.
type Ledger struct {
	positions domain.PositionStore
	events    domain.LedgerEventStore
	logger    *slog.Logger

	mu      sync.Mutex
	applied map[string]struct{}        // transaction dedup keys already folded in
	state   map[string]domain.Position // live projection, keyed by posKey
}

// New creates a Ledger backed by the given stores.
func New(positions domain.PositionStore, events domain.LedgerEventStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: positions,
		events:    events,
		logger:    logger.With(slog.String("component", "ledger")),
		applied:   make(map[string]struct{}),
		state:     make(map[string]domain.Position),
	}
}

func posKey(wallet string, network domain.Network, token string) string {
	return wallet + "|" + string(network) + "|" + token
}

// Apply folds one classified transaction into its position. It is idempotent
// on the transaction dedup key and rejects transactions older than the last
// one applied to the same position with domain.ErrOutOfOrder. Only buys and
// sells mutate quantity and cost basis; transfers and contract interactions
// are recorded in the event trail without touching the position.
func (l *Ledger) Apply(ctx context.Context, tx domain.ClassifiedTransaction) (ApplyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tx.DedupKey()
	if _, dup := l.applied[key]; dup {
		pos, _ := l.loadLocked(ctx, tx.Wallet, tx.Network, tx.TokenAddress)
		return ApplyResult{Applied: false, Position: pos}, nil
	}

	pos, err := l.loadLocked(ctx, tx.Wallet, tx.Network, tx.TokenAddress)
	if err != nil {
		return ApplyResult{}, err
	}
	if !pos.LastTxAt.IsZero() && tx.BlockTime.Before(pos.LastTxAt) {
		return ApplyResult{}, fmt.Errorf("ledger: apply %s at %s before %s: %w",
			key, tx.BlockTime.Format(time.RFC3339), pos.LastTxAt.Format(time.RFC3339), domain.ErrOutOfOrder)
	}

	res := ApplyResult{Applied: true}
	now := time.Now().UTC()

	switch tx.Category {
	case domain.CategoryBuy:
		pos = applyBuy(pos, tx)
	case domain.CategorySell:
		pos, res.RealizedPnLUSD, res.Oversold = applySell(pos, tx)
	}

	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = tx.BlockTime
	}
	pos.Wallet = tx.Wallet
	pos.Network = tx.Network
	pos.TokenAddress = tx.TokenAddress
	if tx.Symbol != "" {
		pos.Symbol = tx.Symbol
	}
	pos.LastTxAt = tx.BlockTime
	pos.UpdatedAt = now

	if err := l.positions.Upsert(ctx, pos); err != nil {
		return ApplyResult{}, fmt.Errorf("ledger: upsert position: %w", err)
	}
	if err := l.appendEvents(ctx, tx, res, now); err != nil {
		return ApplyResult{}, err
	}

	l.applied[key] = struct{}{}
	l.state[posKey(pos.Wallet, pos.Network, pos.TokenAddress)] = pos
	res.Position = pos

	if res.Oversold {
		l.logger.WarnContext(ctx, "ledger: sell exceeded tracked quantity",
			slog.String("wallet", tx.Wallet),
			slog.String("token", tx.TokenAddress),
			slog.String("hash", tx.Hash),
			slog.Float64("amount", tx.Amount),
		)
	}
	return res, nil
}

// applyBuy increases the position quantity and moves the average cost toward
// the fill price. A buy without a known unit price grows the quantity at the
// existing average cost so the basis is never invented.
func applyBuy(pos domain.Position, tx domain.ClassifiedTransaction) domain.Position {
	if tx.UnitPriceUSD != nil {
		total := pos.Quantity + tx.Amount
		if total > 0 {
			pos.AvgCostUSD = (pos.Quantity*pos.AvgCostUSD + tx.Amount**tx.UnitPriceUSD) / total
		}
	}
	pos.Quantity += tx.Amount
	return pos
}

// applySell reduces quantity at unchanged average cost and realizes
// price minus average cost over the full sell amount. A sell larger than the
// tracked quantity clamps the position to zero; the realized figure still
// covers the full amount since the untracked part most likely entered before
// monitoring began at a cost we approximate with the current average.
func applySell(pos domain.Position, tx domain.ClassifiedTransaction) (domain.Position, float64, bool) {
	oversold := tx.Amount > pos.Quantity
	var realized float64
	if tx.UnitPriceUSD != nil {
		realized = tx.Amount * (*tx.UnitPriceUSD - pos.AvgCostUSD)
		pos.RealizedPnLUSD += realized
	}
	pos.Quantity -= tx.Amount
	if pos.Quantity <= 0 {
		pos.Quantity = 0
		pos.AvgCostUSD = 0
	}
	return pos, realized, oversold
}

func (l *Ledger) appendEvents(ctx context.Context, tx domain.ClassifiedTransaction, res ApplyResult, now time.Time) error {
	base := domain.LedgerEvent{
		Kind:         domain.LedgerEventApplied,
		Wallet:       tx.Wallet,
		Network:      tx.Network,
		TokenAddress: tx.TokenAddress,
		Symbol:       tx.Symbol,
		TxHash:       tx.Hash,
		LogIndex:     tx.LogIndex,
		Category:     tx.Category,
		Amount:       tx.Amount,
		UnitPriceUSD: tx.UnitPriceUSD,
		BlockTime:    tx.BlockTime,
		CreatedAt:    now,
	}

	evs := []domain.LedgerEvent{base}
	if tx.Category == domain.CategorySell && tx.UnitPriceUSD != nil {
		realized := base
		realized.Kind = domain.LedgerEventRealized
		realized.RealizedPnLUSD = res.RealizedPnLUSD
		evs = append(evs, realized)
	}
	if res.Oversold {
		over := base
		over.Kind = domain.LedgerEventOversold
		evs = append(evs, over)
	}

	for i := range evs {
		evs[i].ID = uuid.NewString()
		if err := l.events.Append(ctx, evs[i]); err != nil {
			return fmt.Errorf("ledger: append %s event: %w", evs[i].Kind, err)
		}
	}
	return nil
}

// loadLocked returns the live position, pulling it from the store the first
// time a (wallet, network, token) triple is touched after startup.
func (l *Ledger) loadLocked(ctx context.Context, wallet string, network domain.Network, token string) (domain.Position, error) {
	key := posKey(wallet, network, token)
	if pos, ok := l.state[key]; ok {
		return pos, nil
	}
	pos, err := l.positions.Get(ctx, wallet, network, token)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: load position: %w", err)
	}
	l.state[key] = pos
	return pos, nil
}

// Position returns the current projection for one token.
func (l *Ledger) Position(ctx context.Context, wallet string, network domain.Network, token string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(ctx, wallet, network, token)
}

// Positions returns all open and closed positions for a wallet, sorted by
// symbol for stable output.
func (l *Ledger) Positions(ctx context.Context, wallet string) ([]domain.Position, error) {
	positions, err := l.positions.ListByWallet(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("ledger: list positions: %w", err)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Symbol != positions[j].Symbol {
			return positions[i].Symbol < positions[j].Symbol
		}
		return positions[i].TokenAddress < positions[j].TokenAddress
	})
	return positions, nil
}

// UnrealizedPnL values the open quantity at the given current price. A closed
// position always reports zero.
func UnrealizedPnL(pos domain.Position, currentPrice float64) float64 {
	if pos.Quantity <= 0 {
		return 0
	}
	return pos.Quantity * (currentPrice - pos.AvgCostUSD)
}

// RealizedPnL totals realized events for a wallet, optionally scoped to one
// token and a start time.
func (l *Ledger) RealizedPnL(ctx context.Context, wallet, token string, since *time.Time) (float64, error) {
	total, err := l.events.SumRealized(ctx, wallet, token, since)
	if err != nil {
		return 0, fmt.Errorf("ledger: sum realized: %w", err)
	}
	return total, nil
}

// Rebuild discards the in-memory projection for a wallet and replays its
// applied events from the trail, recomputing every position from scratch.
func (l *Ledger) Rebuild(ctx context.Context, wallet string) error {
	evs, err := l.events.ListByWallet(ctx, wallet, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("ledger: list events: %w", err)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].BlockTime.Before(evs[j].BlockTime) })

	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.state {
		if l.state[key].Wallet == wallet {
			delete(l.state, key)
		}
	}

	rebuilt := make(map[string]domain.Position)
	for _, ev := range evs {
		if ev.Kind != domain.LedgerEventApplied {
			continue
		}
		key := posKey(ev.Wallet, ev.Network, ev.TokenAddress)
		pos := rebuilt[key]
		tx := domain.ClassifiedTransaction{
			CanonicalTransaction: domain.CanonicalTransaction{
				Wallet:       ev.Wallet,
				Network:      ev.Network,
				TokenAddress: ev.TokenAddress,
				Symbol:       ev.Symbol,
				Amount:       ev.Amount,
				UnitPriceUSD: ev.UnitPriceUSD,
				BlockTime:    ev.BlockTime,
			},
			Category: ev.Category,
		}
		switch ev.Category {
		case domain.CategoryBuy:
			pos = applyBuy(pos, tx)
		case domain.CategorySell:
			pos, _, _ = applySell(pos, tx)
		}
		if pos.OpenedAt.IsZero() {
			pos.OpenedAt = ev.BlockTime
		}
		pos.Wallet = ev.Wallet
		pos.Network = ev.Network
		pos.TokenAddress = ev.TokenAddress
		if ev.Symbol != "" {
			pos.Symbol = ev.Symbol
		}
		pos.LastTxAt = ev.BlockTime
		pos.UpdatedAt = time.Now().UTC()
		rebuilt[key] = pos

		l.applied[txDedupKey(ev)] = struct{}{}
	}

	for key, pos := range rebuilt {
		if err := l.positions.Upsert(ctx, pos); err != nil {
			return fmt.Errorf("ledger: upsert rebuilt position: %w", err)
		}
		l.state[key] = pos
	}

	l.logger.InfoContext(ctx, "ledger: rebuilt wallet projection",
		slog.String("wallet", wallet),
		slog.Int("events", len(evs)),
		slog.Int("positions", len(rebuilt)),
	)
	return nil
}

func txDedupKey(ev domain.LedgerEvent) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", ev.TxHash, ev.LogIndex, ev.Network, ev.Wallet, ev.TokenAddress)
}
