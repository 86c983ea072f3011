// Package monitor runs the polling side of the system: per wallet/network
// transfer polling with backoff, gas sampling, price backfill retries,
// snapshot observation, and the archival cron.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/chainpulse/walletmon/internal/alert"
	"github.com/chainpulse/walletmon/internal/classify"
	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/ledger"
	"github.com/chainpulse/walletmon/internal/normalize"
)

// Poller fetches new transfers for one wallet/network pair, normalizes and
// classifies them, and feeds the results to the transaction store, the
// ledger, and the alert evaluator.
type Poller struct {
	provider   domain.ChainDataProvider
	normalizer *normalize.Normalizer
	classifier *classify.Classifier
	txs        domain.TransactionStore
	wallets    domain.WalletStore
	ledger     *ledger.Ledger
	alerts     *alert.Evaluator
	thresholds domain.ThresholdConfig
	logger     *slog.Logger
}

// NewPoller creates a Poller. The thresholds record is handed to the alert
// evaluator on every call; per-wallet overrides would slot in here.
func NewPoller(
	provider domain.ChainDataProvider,
	normalizer *normalize.Normalizer,
	classifier *classify.Classifier,
	txs domain.TransactionStore,
	wallets domain.WalletStore,
	ldg *ledger.Ledger,
	alerts *alert.Evaluator,
	thresholds domain.ThresholdConfig,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		provider:   provider,
		normalizer: normalizer,
		classifier: classifier,
		txs:        txs,
		wallets:    wallets,
		ledger:     ldg,
		alerts:     alerts,
		thresholds: thresholds,
		logger:     logger.With(slog.String("component", "poller")),
	}
}

// PollOnce runs one polling pass for a wallet/network pair and returns the
// number of newly stored transactions. Malformed transfers are dropped with a
// warning; duplicates re-fetched from an overlapping block window are
// silently skipped by the store.
func (p *Poller) PollOnce(ctx context.Context, wallet string, network domain.Network) (int, error) {
	lastBlock, err := p.txs.LastBlock(ctx, wallet, network)
	if err != nil {
		return 0, fmt.Errorf("monitor: last block %s/%s: %w", wallet, network, err)
	}

	sinceBlock := int64(0)
	if lastBlock > 0 {
		// Refetch the last stored block so a partially ingested block is
		// completed; the dedup key makes the overlap harmless.
		sinceBlock = lastBlock
	}

	raws, err := p.provider.GetTransfers(ctx, wallet, network, sinceBlock)
	if err != nil {
		return 0, fmt.Errorf("monitor: transfers %s/%s: %w", wallet, network, err)
	}

	canonical := make([]domain.CanonicalTransaction, 0, len(raws))
	for _, raw := range raws {
		tx, err := p.normalizer.Transfer(raw, wallet, network)
		if err != nil {
			p.logger.WarnContext(ctx, "monitor: dropping malformed transfer",
				slog.String("wallet", wallet),
				slog.String("network", string(network)),
				slog.String("hash", raw.Hash),
				slog.String("error", err.Error()),
			)
			continue
		}
		canonical = append(canonical, tx)
	}

	classified := p.classifier.Classify(ctx, canonical)

	// Apply in chain order so the ledger's ordering guard never trips on a
	// batch the provider returned unsorted.
	sort.SliceStable(classified, func(i, j int) bool {
		if !classified[i].BlockTime.Equal(classified[j].BlockTime) {
			return classified[i].BlockTime.Before(classified[j].BlockTime)
		}
		return classified[i].LogIndex < classified[j].LogIndex
	})

	stored := 0
	for _, tx := range classified {
		inserted, err := p.txs.Insert(ctx, tx)
		if err != nil {
			return stored, fmt.Errorf("monitor: insert %s: %w", tx.DedupKey(), err)
		}
		if !inserted {
			continue
		}
		stored++

		if _, err := p.ledger.Apply(ctx, tx); err != nil {
			if errors.Is(err, domain.ErrOutOfOrder) {
				p.logger.WarnContext(ctx, "monitor: ledger rejected out-of-order transaction",
					slog.String("key", tx.DedupKey()),
				)
				continue
			}
			return stored, fmt.Errorf("monitor: ledger apply %s: %w", tx.DedupKey(), err)
		}
		p.alerts.EvaluateTransaction(ctx, p.thresholds, tx)
	}

	if err := p.wallets.Touch(ctx, wallet, time.Now().UTC()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.logger.WarnContext(ctx, "monitor: touch wallet failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
	}

	if stored > 0 {
		p.logger.InfoContext(ctx, "monitor: poll stored transactions",
			slog.String("wallet", wallet),
			slog.String("network", string(network)),
			slog.Int("count", stored),
		)
	}
	return stored, nil
}

// RetryBackfill re-attempts price lookups for parked transactions and writes
// any filled prices back to the store. Freshly priced transactions get one
// more pass through the transaction alert rule.
func (p *Poller) RetryBackfill(ctx context.Context) int {
	filled := p.classifier.RetryBackfill(ctx)
	for _, tx := range filled {
		if err := p.txs.BackfillPrice(ctx, tx); err != nil {
			p.logger.WarnContext(ctx, "monitor: backfill write failed",
				slog.String("key", tx.DedupKey()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.alerts.EvaluateTransaction(ctx, p.thresholds, tx)
	}
	return len(filled)
}
