// Package alert evaluates classified transactions, snapshot deltas, and gas
// samples against the configured thresholds, and fans the resulting events
// out to the signal bus and the notification path.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainpulse/walletmon/internal/domain"
)

// Channel is the pub/sub channel alert events are published on. Websocket
// clients and notifiers both subscribe here.
const Channel = "alerts"

// Stream is the durable stream holding the outbound alert history.
const Stream = "stream:alerts"

// Evaluator applies threshold rules and emits AlertEvents. Thresholds are
// passed into each call rather than held here, so callers can apply
// per-wallet or per-chat overrides without touching shared state. The only
// state the evaluator owns is the last gas band per network, which makes gas
// alerts edge-triggered.
type Evaluator struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mu       sync.Mutex
	lastBand map[domain.Network]domain.GasBand
}

// NewEvaluator creates an Evaluator. The bus may be nil in query-only mode;
// events are then dropped after logging.
func NewEvaluator(bus domain.SignalBus, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		bus:      bus,
		logger:   logger.With(slog.String("component", "alert")),
		lastBand: make(map[domain.Network]domain.GasBand),
	}
}

// EvaluateTransaction fires when a classified transaction's USD value meets
// the minimum. Transactions without a valuation never fire; the price
// backfill re-evaluates them if a price turns up later.
func (e *Evaluator) EvaluateTransaction(ctx context.Context, thresholds domain.ThresholdConfig, tx domain.ClassifiedTransaction) (domain.AlertEvent, bool) {
	if tx.USDValue == nil || *tx.USDValue < thresholds.MinTransactionUSD {
		return domain.AlertEvent{}, false
	}

	ev := e.newEvent(domain.AlertTransaction, tx.Wallet, tx.Network,
		fmt.Sprintf("%s %s %.4f %s", tx.Category, tx.Network, tx.Amount, tx.Symbol),
		map[string]any{
			"hash":         tx.Hash,
			"category":     string(tx.Category),
			"token":        tx.TokenAddress,
			"symbol":       tx.Symbol,
			"amount":       tx.Amount,
			"usd_value":    *tx.USDValue,
			"counterparty": tx.Counterparty,
		})
	e.publish(ctx, ev)
	return ev, true
}

// EvaluateDelta fires per flagged token in a snapshot delta, plus one event
// for a flagged total. New and closed positions always fire.
func (e *Evaluator) EvaluateDelta(ctx context.Context, delta domain.SnapshotDelta) []domain.AlertEvent {
	var events []domain.AlertEvent
	for _, td := range delta.Tokens {
		if !td.Flagged {
			continue
		}

		title := fmt.Sprintf("balance change %s on %s", td.Symbol, delta.Network)
		switch {
		case td.NewPosition:
			title = fmt.Sprintf("new position %s on %s", td.Symbol, delta.Network)
		case td.Closed:
			title = fmt.Sprintf("closed position %s on %s", td.Symbol, delta.Network)
		}

		payload := map[string]any{
			"token":         td.TokenAddress,
			"symbol":        td.Symbol,
			"prev_quantity": td.PrevQuantity,
			"curr_quantity": td.CurrQuantity,
			"new_position":  td.NewPosition,
			"closed":        td.Closed,
		}
		if td.PctChange != nil {
			payload["pct_change"] = *td.PctChange
		}

		ev := e.newEvent(domain.AlertBalanceChange, delta.Wallet, delta.Network, title, payload)
		e.publish(ctx, ev)
		events = append(events, ev)
	}

	if delta.TotalFlagged {
		payload := map[string]any{
			"prev_total_usd": delta.TotalPrevUSD,
			"curr_total_usd": delta.TotalCurrUSD,
		}
		if delta.TotalPctChange != nil {
			payload["pct_change"] = *delta.TotalPctChange
		}
		ev := e.newEvent(domain.AlertBalanceChange, delta.Wallet, delta.Network,
			fmt.Sprintf("portfolio value change on %s", delta.Network), payload)
		e.publish(ctx, ev)
		events = append(events, ev)
	}
	return events
}

// EvaluateGas classifies the sample into a band and fires only when the band
// differs from the previous one for the same network. The first sample seeds
// the band memory without firing.
func (e *Evaluator) EvaluateGas(ctx context.Context, thresholds domain.ThresholdConfig, sample domain.GasSample) (domain.AlertEvent, bool) {
	bands, ok := thresholds.GasBands[sample.Network]
	if !ok {
		return domain.AlertEvent{}, false
	}
	band := bands.Band(sample.PriceGwei)

	e.mu.Lock()
	prev, seen := e.lastBand[sample.Network]
	e.lastBand[sample.Network] = band
	e.mu.Unlock()

	if !seen || prev == band {
		return domain.AlertEvent{}, false
	}

	ev := e.newEvent(domain.AlertGasBand, "", sample.Network,
		fmt.Sprintf("gas on %s moved %s -> %s (%.1f gwei)", sample.Network, prev, band, sample.PriceGwei),
		map[string]any{
			"gwei":      sample.PriceGwei,
			"band":      string(band),
			"prev_band": string(prev),
		})
	e.publish(ctx, ev)
	return ev, true
}

// Band classifies a gas price for the given network using the given
// boundaries, defaulting to medium when the network has none.
func (e *Evaluator) Band(thresholds domain.ThresholdConfig, network domain.Network, gwei float64) domain.GasBand {
	bands, ok := thresholds.GasBands[network]
	if !ok {
		return domain.GasBandMedium
	}
	return bands.Band(gwei)
}

// SourceDegraded raises an operator advisory for a wallet/network pair whose
// polling keeps failing. The monitor calls this once per degradation episode.
func (e *Evaluator) SourceDegraded(ctx context.Context, wallet string, network domain.Network, failures int, lastErr error) domain.AlertEvent {
	payload := map[string]any{
		"consecutive_failures": failures,
	}
	if lastErr != nil {
		payload["last_error"] = lastErr.Error()
	}
	ev := e.newEvent(domain.AlertSourceDegraded, wallet, network,
		fmt.Sprintf("source degraded for %s on %s", wallet, network), payload)
	e.publish(ctx, ev)
	return ev
}

func (e *Evaluator) newEvent(kind domain.AlertKind, wallet string, network domain.Network, title string, payload map[string]any) domain.AlertEvent {
	return domain.AlertEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Wallet:    wallet,
		Network:   network,
		Title:     title,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// publish sends the event to the live channel and appends it to the durable
// stream. Delivery failures are logged, never propagated; a broken bus must
// not stall the monitoring loop.
func (e *Evaluator) publish(ctx context.Context, ev domain.AlertEvent) {
	e.logger.InfoContext(ctx, "alert: event",
		slog.String("kind", string(ev.Kind)),
		slog.String("wallet", ev.Wallet),
		slog.String("network", string(ev.Network)),
		slog.String("title", ev.Title),
	)

	if e.bus == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.ErrorContext(ctx, "alert: marshal event", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, Channel, data); err != nil {
		e.logger.WarnContext(ctx, "alert: publish failed",
			slog.String("id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, Stream, data); err != nil {
		e.logger.WarnContext(ctx, "alert: stream append failed",
			slog.String("id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}
