// Package service is the query facade shared by the HTTP server and the
// notification commands: wallet registry management plus the read-side
// operations over stored transactions, positions, snapshots, and gas samples.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
	"github.com/chainpulse/walletmon/internal/ledger"
	"github.com/chainpulse/walletmon/internal/normalize"
	"github.com/chainpulse/walletmon/internal/portfolio"
)

// WalletService answers every wallet-scoped query. Addresses are validated
// and lowercased at this boundary so the stores only ever see canonical form.
type WalletService struct {
	wallets    domain.WalletStore
	txs        domain.TransactionStore
	ledger     *ledger.Ledger
	aggregator *portfolio.Aggregator
	gas        domain.GasCache
	networks   []domain.Network
	startedAt  time.Time
	logger     *slog.Logger
}

// NewWalletService creates a WalletService with all required dependencies.
func NewWalletService(
	wallets domain.WalletStore,
	txs domain.TransactionStore,
	ldg *ledger.Ledger,
	aggregator *portfolio.Aggregator,
	gas domain.GasCache,
	networks []domain.Network,
	logger *slog.Logger,
) *WalletService {
	return &WalletService{
		wallets:    wallets,
		txs:        txs,
		ledger:     ldg,
		aggregator: aggregator,
		gas:        gas,
		networks:   networks,
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "wallet_service")),
	}
}

// checkAddress validates and canonicalizes a wallet address.
func checkAddress(addr string) (string, error) {
	if !normalize.ValidAddress(addr) {
		return "", fmt.Errorf("service: address %q: %w", addr, domain.ErrInvalidAddress)
	}
	return normalize.NormalizeAddress(addr), nil
}

// AddWallet registers a wallet for monitoring. The monitor picks it up on the
// next sync pass.
func (s *WalletService) AddWallet(ctx context.Context, address string) error {
	addr, err := checkAddress(address)
	if err != nil {
		return err
	}
	if err := s.wallets.Add(ctx, addr); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("service: add wallet: %w", err)
	}
	s.logger.InfoContext(ctx, "wallet_service: wallet added", slog.String("wallet", addr))
	return nil
}

// RemoveWallet stops monitoring a wallet. Its stored history stays untouched.
func (s *WalletService) RemoveWallet(ctx context.Context, address string) error {
	addr, err := checkAddress(address)
	if err != nil {
		return err
	}
	if err := s.wallets.Remove(ctx, addr); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("service: remove wallet: %w", err)
	}
	s.logger.InfoContext(ctx, "wallet_service: wallet removed", slog.String("wallet", addr))
	return nil
}

// Wallets lists every tracked wallet.
func (s *WalletService) Wallets(ctx context.Context) ([]domain.TrackedWallet, error) {
	wallets, err := s.wallets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list wallets: %w", err)
	}
	return wallets, nil
}

// LastTransactions returns a wallet's most recent transactions across all
// categories.
func (s *WalletService) LastTransactions(ctx context.Context, address string, limit int) ([]domain.ClassifiedTransaction, error) {
	addr, err := checkAddress(address)
	if err != nil {
		return nil, err
	}
	txs, err := s.txs.ListByWallet(ctx, addr, domain.TransactionFilter{}, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("service: last transactions: %w", err)
	}
	return txs, nil
}

// Buys returns a wallet's recent BUY transactions.
func (s *WalletService) Buys(ctx context.Context, address string, limit int) ([]domain.ClassifiedTransaction, error) {
	return s.byCategory(ctx, address, domain.CategoryBuy, limit)
}

// Sells returns a wallet's recent SELL transactions.
func (s *WalletService) Sells(ctx context.Context, address string, limit int) ([]domain.ClassifiedTransaction, error) {
	return s.byCategory(ctx, address, domain.CategorySell, limit)
}

func (s *WalletService) byCategory(ctx context.Context, address string, category domain.Category, limit int) ([]domain.ClassifiedTransaction, error) {
	addr, err := checkAddress(address)
	if err != nil {
		return nil, err
	}
	txs, err := s.txs.ListByWallet(ctx, addr, domain.TransactionFilter{Category: category}, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("service: list %s transactions: %w", category, err)
	}
	return txs, nil
}

// WalletInfo builds the aggregate holdings and PnL answer for one wallet on
// one network, taking a fresh snapshot for current prices.
func (s *WalletService) WalletInfo(ctx context.Context, address string, network domain.Network) (domain.WalletInfo, error) {
	addr, err := checkAddress(address)
	if err != nil {
		return domain.WalletInfo{}, err
	}

	snap, err := s.aggregator.Snapshot(ctx, addr, network)
	if err != nil {
		return domain.WalletInfo{}, fmt.Errorf("service: wallet info snapshot: %w", err)
	}
	positions, err := s.ledger.Positions(ctx, addr)
	if err != nil {
		return domain.WalletInfo{}, fmt.Errorf("service: wallet info positions: %w", err)
	}
	realized, err := s.ledger.RealizedPnL(ctx, addr, "", nil)
	if err != nil {
		return domain.WalletInfo{}, fmt.Errorf("service: wallet info realized: %w", err)
	}

	return portfolio.WalletInfo(snap, positions, realized), nil
}

// PnLReport is the answer to a PnL query.
type PnLReport struct {
	Wallet        string            `json:"wallet"`
	TokenAddress  string            `json:"token_address,omitempty"`
	Since         *time.Time        `json:"since,omitempty"`
	RealizedUSD   float64           `json:"realized_usd"`
	Positions     []domain.Position `json:"positions"`
	OpenPositions int               `json:"open_positions"`
}

// PnL reports realized PnL for one wallet, optionally narrowed to one token
// and/or a start time, alongside the current positions.
func (s *WalletService) PnL(ctx context.Context, address, token string, since *time.Time) (PnLReport, error) {
	addr, err := checkAddress(address)
	if err != nil {
		return PnLReport{}, err
	}
	tokenAddr := ""
	if token != "" {
		tokenAddr = normalize.NormalizeAddress(token)
	}

	realized, err := s.ledger.RealizedPnL(ctx, addr, tokenAddr, since)
	if err != nil {
		return PnLReport{}, fmt.Errorf("service: pnl: %w", err)
	}
	positions, err := s.ledger.Positions(ctx, addr)
	if err != nil {
		return PnLReport{}, fmt.Errorf("service: pnl positions: %w", err)
	}

	report := PnLReport{
		Wallet:       addr,
		TokenAddress: tokenAddr,
		Since:        since,
		RealizedUSD:  realized,
	}
	for _, pos := range positions {
		if tokenAddr != "" && pos.TokenAddress != tokenAddr {
			continue
		}
		report.Positions = append(report.Positions, pos)
		if pos.Quantity > 0 {
			report.OpenPositions++
		}
	}
	return report, nil
}

// TopTokens ranks a wallet's current holdings on one network. A fresh
// snapshot is taken when none has been observed yet.
func (s *WalletService) TopTokens(ctx context.Context, address string, network domain.Network, by domain.TokenSort, limit int) ([]domain.TokenHolding, error) {
	addr, err := checkAddress(address)
	if err != nil {
		return nil, err
	}

	snap, ok := s.aggregator.Last(addr, network)
	if !ok {
		snap, err = s.aggregator.Snapshot(ctx, addr, network)
		if err != nil {
			return nil, fmt.Errorf("service: top tokens snapshot: %w", err)
		}
	}
	return portfolio.TopTokens(snap, by, limit), nil
}

// Gas returns the latest cached gas sample per configured network. Networks
// with no sample yet are omitted.
func (s *WalletService) Gas(ctx context.Context) ([]domain.GasSample, error) {
	var samples []domain.GasSample
	for _, network := range s.networks {
		sample, err := s.gas.GetSample(ctx, network)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service: gas sample %s: %w", network, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// StatusReport summarizes the running system.
type StatusReport struct {
	UptimeSeconds  int64            `json:"uptime_seconds"`
	Networks       []domain.Network `json:"networks"`
	TrackedWallets int              `json:"tracked_wallets"`
	StartedAt      time.Time        `json:"started_at"`
}

// Status reports uptime and the size of the tracked set.
func (s *WalletService) Status(ctx context.Context) (StatusReport, error) {
	wallets, err := s.wallets.List(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("service: status: %w", err)
	}
	return StatusReport{
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Networks:       s.networks,
		TrackedWallets: len(wallets),
		StartedAt:      s.startedAt,
	}, nil
}
