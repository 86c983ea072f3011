package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chainpulse/walletmon/internal/domain"
)

// Listener bridges the alert bus to the Notifier: it subscribes to the alert
// channel and dispatches every event to the configured senders.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	channel  string
	logger   *slog.Logger
}

// NewListener creates a Listener on the given pub/sub channel.
func NewListener(bus domain.SignalBus, notifier *Notifier, channel string, logger *slog.Logger) *Listener {
	return &Listener{
		bus:      bus,
		notifier: notifier,
		channel:  channel,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes alert events until the context is cancelled. Malformed
// payloads and delivery failures are logged and skipped; the subscription
// itself failing ends the run.
func (l *Listener) Run(ctx context.Context) error {
	events, err := l.bus.Subscribe(ctx, l.channel)
	if err != nil {
		return err
	}
	l.logger.Info("notify listener started", slog.String("channel", l.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			var ev domain.AlertEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				l.logger.WarnContext(ctx, "notify: skipping malformed alert payload",
					slog.String("error", err.Error()),
				)
				continue
			}
			event, title, message := FormatAlert(ev)
			if err := l.notifier.Notify(ctx, event, title, message); err != nil {
				l.logger.WarnContext(ctx, "notify: delivery failed",
					slog.String("id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
