package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainpulse/walletmon/internal/alert"
	"github.com/chainpulse/walletmon/internal/classify"
	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/ledger"
	"github.com/chainpulse/walletmon/internal/monitor"
	"github.com/chainpulse/walletmon/internal/normalize"
	"github.com/chainpulse/walletmon/internal/notify"
	"github.com/chainpulse/walletmon/internal/portfolio"
	"github.com/chainpulse/walletmon/internal/server"
	"github.com/chainpulse/walletmon/internal/server/handler"
	"github.com/chainpulse/walletmon/internal/server/ws"
	"github.com/chainpulse/walletmon/internal/service"
)

// priceMaxAge bounds how stale a cached token quote may be before the
// provider is consulted again.
const priceMaxAge = 10 * time.Minute

// core holds the assembled domain components shared by the operating modes.
type core struct {
	ledger     *ledger.Ledger
	aggregator *portfolio.Aggregator
	evaluator  *alert.Evaluator
	scheduler  *monitor.Scheduler
	wallets    *service.WalletService
	listener   *notify.Listener
	networks   []domain.Network
}

// buildCore assembles the normalizer, classifier, ledger, aggregator, alert
// evaluator, poller, scheduler, query service, and notification listener from
// the wired dependencies.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	networks := make([]domain.Network, 0, len(a.cfg.Monitor.Networks))
	for _, s := range a.cfg.Monitor.Networks {
		n, err := domain.ParseNetwork(s)
		if err != nil {
			return nil, fmt.Errorf("app: network %q: %w", s, err)
		}
		networks = append(networks, n)
	}

	routers := make(map[domain.Network][]string, len(a.cfg.Alerts.Routers))
	for name, addrs := range a.cfg.Alerts.Routers {
		n, err := domain.ParseNetwork(name)
		if err != nil {
			return nil, fmt.Errorf("app: router network %q: %w", name, err)
		}
		routers[n] = addrs
	}

	thresholds, err := a.cfg.Alerts.Thresholds()
	if err != nil {
		return nil, fmt.Errorf("app: alert thresholds: %w", err)
	}

	prices := &classify.CachedPriceSource{
		Cache:    deps.PriceCache,
		Provider: deps.Provider,
		MaxAge:   priceMaxAge,
	}

	normalizer := normalize.New(a.logger)
	classifier := classify.New(classify.NewRouterSet(routers), prices, a.cfg.Alerts.PriceBackfillAttempts, a.logger)
	ldg := ledger.New(deps.PositionStore, deps.LedgerEventStore, a.logger)
	aggregator := portfolio.New(deps.Provider, normalizer, prices, a.logger)
	evaluator := alert.NewEvaluator(deps.SignalBus, a.logger)

	poller := monitor.NewPoller(
		deps.Provider,
		normalizer,
		classifier,
		deps.TransactionStore,
		deps.WalletStore,
		ldg,
		evaluator,
		thresholds,
		a.logger,
	)
	scheduler := monitor.NewScheduler(
		monitor.Config{
			Networks:         networks,
			PollingInterval:  a.cfg.Monitor.PollingInterval.Duration,
			GasInterval:      a.cfg.Monitor.GasInterval.Duration,
			ProviderTimeout:  a.cfg.Monitor.ProviderTimeout.Duration,
			MaxBackoff:       a.cfg.Monitor.MaxBackoff.Duration,
			DegradedAfter:    a.cfg.Monitor.DegradedAfter,
			SnapshotInterval: a.cfg.Monitor.SnapshotInterval.Duration,
			RetentionDays:    a.cfg.Monitor.ArchiveRetentionDays,
			ArchiveCron:      a.cfg.Monitor.ArchiveCron,
			ChangeThreshold:  a.cfg.Alerts.BalanceChangePct,
			Thresholds:       thresholds,
		},
		poller,
		aggregator,
		evaluator,
		deps.WalletStore,
		deps.GasCache,
		deps.Provider,
		deps.LockManager,
		deps.Archiver,
		a.logger,
	)

	wallets := service.NewWalletService(
		deps.WalletStore,
		deps.TransactionStore,
		ldg,
		aggregator,
		deps.GasCache,
		networks,
		a.logger,
	)
	listener := notify.NewListener(deps.SignalBus, deps.Notifier, alert.Channel, a.logger)

	return &core{
		ledger:     ldg,
		aggregator: aggregator,
		evaluator:  evaluator,
		scheduler:  scheduler,
		wallets:    wallets,
		listener:   listener,
		networks:   networks,
	}, nil
}

// announceStartup tells the operators monitoring has begun and which
// wallets are tracked. Delivery failures only warn; startup proceeds.
func (a *App) announceStartup(ctx context.Context, deps *Dependencies, networks []domain.Network) {
	wallets, err := deps.WalletStore.List(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "startup notification skipped",
			slog.String("error", err.Error()),
		)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tracking %d wallet(s) across %d network(s).\n", len(wallets), len(networks))
	for _, w := range wallets {
		fmt.Fprintf(&b, "- %s\n", w.Address)
	}

	if err := deps.Notifier.NotifyAll(ctx, "Wallet monitor started", b.String()); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed",
			slog.String("error", err.Error()),
		)
	}
}

// MonitorMode runs the polling scheduler and the notification listener
// without the HTTP API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	a.announceStartup(ctx, deps, c.networks)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.scheduler.Run(ctx) })
	g.Go(func() error { return c.listener.Run(ctx) })

	return g.Wait()
}

// ServerMode runs only the HTTP + WebSocket query API. Polling is expected to
// run in a separate monitor-mode process sharing the same Postgres and Redis.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, c)

	return g.Wait()
}

// FullMode runs the monitor loops, the notification listener, and the HTTP
// API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.announceStartup(ctx, deps, c.networks)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.scheduler.Run(ctx) })
	g.Go(func() error { return c.listener.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Wallets: handler.NewWalletHandler(c.wallets, a.logger),
		Gas:     handler.NewGasHandler(c.wallets, a.logger),
		Status:  handler.NewStatusHandler(c.wallets, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimitRPM: a.cfg.Server.RateLimitRPM,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
