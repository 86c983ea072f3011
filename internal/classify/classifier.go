// Package classify labels canonical transactions as buys, sells, transfers,
// or contract interactions and attaches USD valuations.
package classify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

// PriceSource resolves the current USD unit price of a token. It returns
// domain.ErrPriceUnavailable when no quote exists; any other error is a
// provider failure.
type PriceSource interface {
	UnitPrice(ctx context.Context, network domain.Network, tokenAddress string) (float64, error)
}

// Classifier applies the labeling rules to time-ordered batches of canonical
// transactions for one wallet. Records whose price could not be sourced are
// parked on a bounded backfill queue.
type Classifier struct {
	routers  *RouterSet
	prices   PriceSource
	backfill *backfillQueue
	logger   *slog.Logger
}

// New creates a Classifier. maxPriceAttempts bounds how often a record's
// price lookup is retried before its USD value stays null permanently.
func New(routers *RouterSet, prices PriceSource, maxPriceAttempts int, logger *slog.Logger) *Classifier {
	return &Classifier{
		routers:  routers,
		prices:   prices,
		backfill: newBackfillQueue(maxPriceAttempts),
		logger:   logger.With(slog.String("component", "classifier")),
	}
}

// Classify labels a time-ordered batch of canonical transactions belonging
// to one wallet. Legs of the same hash are considered together so both sides
// of a swap are recognized.
func (c *Classifier) Classify(ctx context.Context, batch []domain.CanonicalTransaction) []domain.ClassifiedTransaction {
	// Index legs by hash for swap-pair detection.
	byHash := make(map[string][]domain.CanonicalTransaction, len(batch))
	for _, tx := range batch {
		byHash[tx.Hash] = append(byHash[tx.Hash], tx)
	}

	out := make([]domain.ClassifiedTransaction, 0, len(batch))
	for _, tx := range batch {
		category := c.categorize(tx, byHash[tx.Hash])
		classified := domain.ClassifiedTransaction{
			CanonicalTransaction: tx,
			Category:             category,
		}
		c.attachPrice(ctx, &classified)
		out = append(out, classified)
	}
	return out
}

// categorize applies the rules in priority order.
func (c *Classifier) categorize(tx domain.CanonicalTransaction, legs []domain.CanonicalTransaction) domain.Category {
	// Contract method invocation that moved no value for this wallet.
	if tx.Amount == 0 {
		return domain.CategoryContractInteraction
	}

	isRouter := c.routers.Contains(tx.Network, tx.Counterparty)

	if isRouter && hasOppositeLeg(tx, legs) {
		// Two legs of one swap: the inbound token is being bought, the
		// outbound token sold.
		if tx.Direction == domain.DirectionIn {
			return domain.CategoryBuy
		}
		return domain.CategorySell
	}

	if isRouter {
		// The counter-leg may not be observable from this data source
		// (native-coin side of a swap, for example); fall back to direction.
		if tx.Direction == domain.DirectionIn {
			return domain.CategoryBuy
		}
		return domain.CategorySell
	}

	if tx.Direction == domain.DirectionIn {
		return domain.CategoryTransferIn
	}
	return domain.CategoryTransferOut
}

// hasOppositeLeg reports whether another leg of the same hash moved a
// different token in the opposite direction.
func hasOppositeLeg(tx domain.CanonicalTransaction, legs []domain.CanonicalTransaction) bool {
	for _, leg := range legs {
		if leg.LogIndex == tx.LogIndex {
			continue
		}
		if leg.TokenAddress != tx.TokenAddress && leg.Direction != tx.Direction {
			return true
		}
	}
	return false
}

// attachPrice resolves the USD unit price and value for a classified record.
// On an unavailable price the record is parked for bounded backfill retries.
func (c *Classifier) attachPrice(ctx context.Context, tx *domain.ClassifiedTransaction) {
	if tx.UnitPriceUSD != nil {
		v := tx.Amount * *tx.UnitPriceUSD
		tx.USDValue = &v
		return
	}
	if tx.Category == domain.CategoryContractInteraction {
		return // nothing to value
	}

	price, err := c.prices.UnitPrice(ctx, tx.Network, tx.TokenAddress)
	tx.PriceAttempts = 1
	if err != nil {
		if !errors.Is(err, domain.ErrPriceUnavailable) {
			c.logger.WarnContext(ctx, "price lookup failed",
				slog.String("token", tx.TokenAddress),
				slog.String("network", string(tx.Network)),
				slog.String("error", err.Error()),
			)
		}
		c.backfill.push(*tx)
		return
	}

	*tx = tx.WithPrice(price)
}

// RetryBackfill re-attempts price resolution for parked records. Records that
// succeed are returned with their USD value set; records that exhaust their
// attempt budget are dropped from the queue and stay null permanently.
func (c *Classifier) RetryBackfill(ctx context.Context) []domain.ClassifiedTransaction {
	pending := c.backfill.drain()
	if len(pending) == 0 {
		return nil
	}

	var filled []domain.ClassifiedTransaction
	for _, tx := range pending {
		price, err := c.prices.UnitPrice(ctx, tx.Network, tx.TokenAddress)
		tx.PriceAttempts++
		if err != nil {
			if c.backfill.exhausted(tx) {
				c.logger.InfoContext(ctx, "price backfill abandoned",
					slog.String("tx", tx.Hash),
					slog.String("token", tx.TokenAddress),
					slog.Int("attempts", tx.PriceAttempts),
				)
				continue
			}
			c.backfill.push(tx)
			continue
		}
		filled = append(filled, tx.WithPrice(price))
	}
	return filled
}

// PendingBackfill returns the number of records awaiting a price.
func (c *Classifier) PendingBackfill() int {
	return c.backfill.len()
}

// CachedPriceSource resolves prices through the cache first and falls back to
// the provider, writing fresh quotes back through.
type CachedPriceSource struct {
	Cache    domain.PriceCache
	Provider domain.ChainDataProvider
	// MaxAge bounds how stale a cached quote may be before the provider is
	// consulted again.
	MaxAge time.Duration
}

// UnitPrice implements PriceSource.
func (s *CachedPriceSource) UnitPrice(ctx context.Context, network domain.Network, tokenAddress string) (float64, error) {
	if s.Cache != nil {
		price, ts, err := s.Cache.GetPrice(ctx, network, tokenAddress)
		if err == nil && time.Since(ts) <= s.MaxAge {
			return price, nil
		}
	}

	price, err := s.Provider.GetTokenPrice(ctx, tokenAddress, network)
	if err != nil {
		return 0, err
	}
	if s.Cache != nil {
		_ = s.Cache.SetPrice(ctx, network, tokenAddress, price, time.Now().UTC())
	}
	return price, nil
}

var _ PriceSource = (*CachedPriceSource)(nil)
