package monitor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainpulse/walletmon/internal/alert"
	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/portfolio"
)

// lockTTL bounds how long a poller lock outlives a crashed holder.
const lockTTL = 2 * time.Minute

// initialBackoff is the first retry delay after a transient failure.
const initialBackoff = 2 * time.Second

// Config carries the scheduler's tunables.
type Config struct {
	Networks         []domain.Network
	PollingInterval  time.Duration
	GasInterval      time.Duration
	ProviderTimeout  time.Duration
	MaxBackoff       time.Duration
	DegradedAfter    int
	SnapshotInterval time.Duration
	RetentionDays    int
	ArchiveCron      string
	ChangeThreshold  float64
	Thresholds       domain.ThresholdConfig
}

// Scheduler owns the long-running monitor goroutines: one poll loop per
// tracked wallet/network pair, the gas sampler, the price backfill ticker,
// the snapshot ticker, and the archive cron. Wallet registry changes are
// picked up on the next sync pass; removing a wallet cancels its loops and
// discards whatever they had in flight.
type Scheduler struct {
	cfg        Config
	poller     *Poller
	aggregator *portfolio.Aggregator
	alerts     *alert.Evaluator
	wallets    domain.WalletStore
	gas        domain.GasCache
	provider   domain.ChainDataProvider
	locks      domain.LockManager
	archiver   domain.Archiver
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc // poll loop cancels, keyed wallet|network
}

// NewScheduler creates a Scheduler. The archiver may be nil when blob storage
// is not configured; the archive cron is then skipped.
func NewScheduler(
	cfg Config,
	poller *Poller,
	aggregator *portfolio.Aggregator,
	alerts *alert.Evaluator,
	wallets domain.WalletStore,
	gas domain.GasCache,
	provider domain.ChainDataProvider,
	locks domain.LockManager,
	archiver domain.Archiver,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		poller:     poller,
		aggregator: aggregator,
		alerts:     alerts,
		wallets:    wallets,
		gas:        gas,
		provider:   provider,
		locks:      locks,
		archiver:   archiver,
		logger:     logger.With(slog.String("component", "scheduler")),
		running:    make(map[string]context.CancelFunc),
	}
}

// Run starts every monitor loop and blocks until the context is cancelled or
// a loop fails unrecoverably.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("monitor starting",
		slog.Int("networks", len(s.cfg.Networks)),
		slog.Duration("polling_interval", s.cfg.PollingInterval),
		slog.Duration("snapshot_interval", s.cfg.SnapshotInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.runWalletSync(ctx) })
	g.Go(func() error { return s.runGasSampler(ctx) })
	g.Go(func() error { return s.runBackfill(ctx) })
	g.Go(func() error { return s.runSnapshots(ctx) })
	if s.archiver != nil && s.cfg.ArchiveCron != "" {
		g.Go(func() error { return s.runArchiveCron(ctx) })
	}

	err := g.Wait()

	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.running = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("monitor stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("monitor stopped cleanly")
	return nil
}

// runWalletSync reconciles the running poll loops against the wallet registry
// once per polling interval: new wallets get loops, removed wallets get their
// loops cancelled mid-flight.
func (s *Scheduler) runWalletSync(ctx context.Context) error {
	s.syncWallets(ctx)

	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.syncWallets(ctx)
		}
	}
}

func (s *Scheduler) syncWallets(ctx context.Context) {
	tracked, err := s.wallets.List(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduler: list wallets failed", slog.String("error", err.Error()))
		return
	}

	want := make(map[string]struct{}, len(tracked)*len(s.cfg.Networks))
	for _, w := range tracked {
		for _, network := range s.cfg.Networks {
			want[w.Address+"|"+string(network)] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, cancel := range s.running {
		if _, ok := want[key]; !ok {
			cancel()
			delete(s.running, key)
			s.logger.InfoContext(ctx, "scheduler: stopped poll loop", slog.String("pair", key))
		}
	}

	for _, w := range tracked {
		for _, network := range s.cfg.Networks {
			key := w.Address + "|" + string(network)
			if _, ok := s.running[key]; ok {
				continue
			}
			loopCtx, cancel := context.WithCancel(ctx)
			s.running[key] = cancel
			go s.pollLoop(loopCtx, w.Address, network)
		}
	}
}

// pollLoop polls one wallet/network pair until cancelled. Transient failures
// back off exponentially up to MaxBackoff; crossing the DegradedAfter ceiling
// emits one SourceDegraded advisory per episode. A permanent provider error
// suspends the pair until the next process restart or registry change.
func (s *Scheduler) pollLoop(ctx context.Context, wallet string, network domain.Network) {
	// Jitter the start so loops created in one sync pass don't hit the
	// provider in lockstep.
	jitter := time.Duration(rand.Int63n(int64(time.Second) * 5))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	failures := 0
	degraded := false
	delay := s.cfg.PollingInterval

	for {
		err := s.pollWithLock(ctx, wallet, network)
		switch {
		case err == nil:
			failures = 0
			degraded = false
			delay = s.cfg.PollingInterval
		case errors.Is(err, context.Canceled):
			return
		case domain.IsPermanentProviderError(err):
			s.logger.ErrorContext(ctx, "scheduler: suspending pair on permanent error",
				slog.String("wallet", wallet),
				slog.String("network", string(network)),
				slog.String("error", err.Error()),
			)
			s.alerts.SourceDegraded(ctx, wallet, network, failures+1, err)
			s.removeLoop(wallet, network)
			return
		default:
			failures++
			delay = backoffDelay(failures, s.cfg.PollingInterval, s.cfg.MaxBackoff)
			s.logger.WarnContext(ctx, "scheduler: poll failed",
				slog.String("wallet", wallet),
				slog.String("network", string(network)),
				slog.Int("failures", failures),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			if failures >= s.cfg.DegradedAfter && !degraded {
				degraded = true
				s.alerts.SourceDegraded(ctx, wallet, network, failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// pollWithLock wraps one poll pass in the distributed lock for the pair, so
// only one instance polls it. A lock held elsewhere is not an error.
func (s *Scheduler) pollWithLock(ctx context.Context, wallet string, network domain.Network) error {
	unlock, err := s.locks.Acquire(ctx, "poll:"+wallet+":"+string(network), lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil
	}
	if err != nil {
		return err
	}
	defer unlock()

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	_, err = s.poller.PollOnce(pollCtx, wallet, network)
	return err
}

func (s *Scheduler) removeLoop(wallet string, network domain.Network) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wallet + "|" + string(network)
	if cancel, ok := s.running[key]; ok {
		cancel()
		delete(s.running, key)
	}
}

// backoffDelay doubles from initialBackoff per consecutive failure, capped at
// max. The result is floored at interval so a failing pair never retries
// faster than a healthy one polls.
func backoffDelay(failures int, interval, max time.Duration) time.Duration {
	delay := initialBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay < interval {
		delay = interval
	}
	if delay > max {
		delay = max
	}
	return delay
}

// runGasSampler samples every configured network's gas price on a ticker,
// caches the sample, and lets the evaluator fire on band transitions.
func (s *Scheduler) runGasSampler(ctx context.Context) error {
	sample := func() {
		for _, network := range s.cfg.Networks {
			quoteCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
			quote, err := s.provider.GetGasPrice(quoteCtx, network)
			cancel()
			if err != nil {
				s.logger.WarnContext(ctx, "scheduler: gas sample failed",
					slog.String("network", string(network)),
					slog.String("error", err.Error()),
				)
				continue
			}

			gs := domain.GasSample{
				Network:   network,
				PriceGwei: quote.StandardGwei,
				Band:      s.alerts.Band(s.cfg.Thresholds, network, quote.StandardGwei),
				SampledAt: time.Now().UTC(),
			}
			if err := s.gas.SetSample(ctx, gs); err != nil {
				s.logger.WarnContext(ctx, "scheduler: gas cache write failed",
					slog.String("network", string(network)),
					slog.String("error", err.Error()),
				)
			}
			s.alerts.EvaluateGas(ctx, s.cfg.Thresholds, gs)
		}
	}

	sample()
	ticker := time.NewTicker(s.cfg.GasInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sample()
		}
	}
}

// runBackfill retries parked price lookups once per polling interval.
func (s *Scheduler) runBackfill(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if filled := s.poller.RetryBackfill(ctx); filled > 0 {
				s.logger.InfoContext(ctx, "scheduler: backfilled prices", slog.Int("count", filled))
			}
		}
	}
}

// runSnapshots takes a portfolio snapshot of every tracked wallet on every
// network each interval and evaluates the delta against the previous one.
func (s *Scheduler) runSnapshots(ctx context.Context) error {
	snapshotAll := func() {
		tracked, err := s.wallets.List(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "scheduler: list wallets failed", slog.String("error", err.Error()))
			return
		}
		for _, w := range tracked {
			for _, network := range s.cfg.Networks {
				snapCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
				snap, err := s.aggregator.Snapshot(snapCtx, w.Address, network)
				cancel()
				if err != nil {
					s.logger.WarnContext(ctx, "scheduler: snapshot failed",
						slog.String("wallet", w.Address),
						slog.String("network", string(network)),
						slog.String("error", err.Error()),
					)
					continue
				}
				if delta, ok := s.aggregator.Observe(snap, s.cfg.ChangeThreshold); ok {
					s.alerts.EvaluateDelta(ctx, delta)
				}
			}
		}
	}

	snapshotAll()
	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snapshotAll()
		}
	}
}
