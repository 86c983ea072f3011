package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainpulse/walletmon/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Add registers a wallet address. It returns domain.ErrAlreadyExists when the
// address is already tracked.
func (s *WalletStore) Add(ctx context.Context, address string) error {
	const query = `INSERT INTO wallets (address, added_at) VALUES ($1, NOW())`

	if _, err := s.pool.Exec(ctx, query, address); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: add wallet %s: %w", address, err)
	}
	return nil
}

// Remove deletes a wallet from the registry. It returns domain.ErrNotFound
// when the address was never tracked.
func (s *WalletStore) Remove(ctx context.Context, address string) error {
	const query = `DELETE FROM wallets WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, address)
	if err != nil {
		return fmt.Errorf("postgres: remove wallet %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all tracked wallets ordered by the time they were added.
func (s *WalletStore) List(ctx context.Context) ([]domain.TrackedWallet, error) {
	const query = `SELECT address, added_at, last_checked FROM wallets ORDER BY added_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.TrackedWallet
	for rows.Next() {
		var w domain.TrackedWallet
		if err := rows.Scan(&w.Address, &w.AddedAt, &w.LastChecked); err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// Touch records a successful poll for the wallet.
func (s *WalletStore) Touch(ctx context.Context, address string, at time.Time) error {
	const query = `UPDATE wallets SET last_checked = $2 WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, address, at)
	if err != nil {
		return fmt.Errorf("postgres: touch wallet %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
