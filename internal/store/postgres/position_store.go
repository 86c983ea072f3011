package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainpulse/walletmon/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `wallet, network, token_address, symbol, quantity,
	avg_cost_usd, realized_pnl_usd, opened_at, updated_at, last_tx_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var network string

	err := row.Scan(
		&p.Wallet, &network, &p.TokenAddress, &p.Symbol, &p.Quantity,
		&p.AvgCostUSD, &p.RealizedPnLUSD, &p.OpenedAt, &p.UpdatedAt, &p.LastTxAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Network = domain.Network(network)
	return p, nil
}

// Upsert writes the full projection state for one position.
func (s *PositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (
			wallet, network, token_address, symbol, quantity,
			avg_cost_usd, realized_pnl_usd, opened_at, updated_at, last_tx_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (wallet, network, token_address) DO UPDATE SET
			symbol           = EXCLUDED.symbol,
			quantity         = EXCLUDED.quantity,
			avg_cost_usd     = EXCLUDED.avg_cost_usd,
			realized_pnl_usd = EXCLUDED.realized_pnl_usd,
			updated_at       = EXCLUDED.updated_at,
			last_tx_at       = EXCLUDED.last_tx_at`

	if _, err := s.pool.Exec(ctx, query,
		pos.Wallet, string(pos.Network), pos.TokenAddress, pos.Symbol, pos.Quantity,
		pos.AvgCostUSD, pos.RealizedPnLUSD, pos.OpenedAt, pos.UpdatedAt, pos.LastTxAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s/%s: %w", pos.Wallet, pos.Network, pos.TokenAddress, err)
	}
	return nil
}

// Get returns one position, or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, wallet string, network domain.Network, token string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE wallet = $1 AND network = $2 AND token_address = $3`

	pos, err := scanPositionRow(s.pool.QueryRow(ctx, query, wallet, string(network), token))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s/%s: %w", wallet, network, token, err)
	}
	return pos, nil
}

// ListByWallet returns every position for a wallet.
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE wallet = $1
		ORDER BY network, token_address`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", wallet, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var network string
		if err := rows.Scan(
			&p.Wallet, &network, &p.TokenAddress, &p.Symbol, &p.Quantity,
			&p.AvgCostUSD, &p.RealizedPnLUSD, &p.OpenedAt, &p.UpdatedAt, &p.LastTxAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Network = domain.Network(network)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
