package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainpulse/walletmon/internal/domain"
)

// LedgerEventStore implements domain.LedgerEventStore using PostgreSQL.
type LedgerEventStore struct {
	pool *pgxpool.Pool
}

// NewLedgerEventStore creates a new LedgerEventStore backed by the given
// connection pool.
func NewLedgerEventStore(pool *pgxpool.Pool) *LedgerEventStore {
	return &LedgerEventStore{pool: pool}
}

const ledgerEventSelectCols = `id, kind, wallet, network, token_address, symbol,
	tx_hash, log_index, category, amount, unit_price_usd, realized_pnl_usd,
	block_time, created_at`

func scanLedgerEventRows(rows pgx.Rows) ([]domain.LedgerEvent, error) {
	var events []domain.LedgerEvent
	for rows.Next() {
		var ev domain.LedgerEvent
		var kind, network, category string

		if err := rows.Scan(
			&ev.ID, &kind, &ev.Wallet, &network, &ev.TokenAddress, &ev.Symbol,
			&ev.TxHash, &ev.LogIndex, &category, &ev.Amount,
			&ev.UnitPriceUSD, &ev.RealizedPnLUSD,
			&ev.BlockTime, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		ev.Kind = domain.LedgerEventKind(kind)
		ev.Network = domain.Network(network)
		ev.Category = domain.Category(category)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Append writes one event to the trail. Events are never updated or deleted
// outside archival.
func (s *LedgerEventStore) Append(ctx context.Context, ev domain.LedgerEvent) error {
	const query = `
		INSERT INTO ledger_events (
			id, kind, wallet, network, token_address, symbol,
			tx_hash, log_index, category, amount, unit_price_usd,
			realized_pnl_usd, block_time, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	if _, err := s.pool.Exec(ctx, query,
		ev.ID, string(ev.Kind), ev.Wallet, string(ev.Network), ev.TokenAddress, ev.Symbol,
		ev.TxHash, ev.LogIndex, string(ev.Category), ev.Amount, ev.UnitPriceUSD,
		ev.RealizedPnLUSD, ev.BlockTime, ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: append ledger event %s: %w", ev.ID, err)
	}
	return nil
}

// ListByWallet returns a wallet's trail ordered oldest first so replays apply
// events in their original order.
func (s *LedgerEventStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.LedgerEvent, error) {
	query := `SELECT ` + ledgerEventSelectCols + ` FROM ledger_events WHERE wallet = $1`
	args := []any{wallet}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND block_time >= $%d", len(args))
	}
	query += " ORDER BY block_time, created_at"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger events for %s: %w", wallet, err)
	}
	defer rows.Close()

	return scanLedgerEventRows(rows)
}

// SumRealized totals realized PnL events for a wallet, optionally scoped to
// one token and/or a start time.
func (s *LedgerEventStore) SumRealized(ctx context.Context, wallet, token string, since *time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(realized_pnl_usd), 0) FROM ledger_events
		WHERE wallet = $1 AND kind = 'realized'`
	args := []any{wallet}

	if token != "" {
		args = append(args, token)
		query += fmt.Sprintf(" AND token_address = $%d", len(args))
	}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND block_time >= $%d", len(args))
	}

	var total float64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum realized for %s: %w", wallet, err)
	}
	return total, nil
}

// ListBefore returns events older than the cutoff, oldest first, for archival.
func (s *LedgerEventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEvent, error) {
	query := `SELECT ` + ledgerEventSelectCols + ` FROM ledger_events
		WHERE created_at < $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger events before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanLedgerEventRows(rows)
}

// DeleteBefore removes events older than the cutoff and reports how many rows
// went away.
func (s *LedgerEventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ledger_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ledger events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.LedgerEventStore = (*LedgerEventStore)(nil)
