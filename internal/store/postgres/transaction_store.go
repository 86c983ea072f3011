package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainpulse/walletmon/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given
// connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionSelectCols = `hash, log_index, network, wallet, token_address,
	symbol, decimals, direction, amount, counterparty, method, category,
	unit_price_usd, usd_value, price_attempts, block_time, block_number`

func scanTransactionRows(rows pgx.Rows) ([]domain.ClassifiedTransaction, error) {
	var txs []domain.ClassifiedTransaction
	for rows.Next() {
		var t domain.ClassifiedTransaction
		var direction, category string

		if err := rows.Scan(
			&t.Hash, &t.LogIndex, &t.Network, &t.Wallet, &t.TokenAddress,
			&t.Symbol, &t.Decimals, &direction, &t.Amount, &t.Counterparty,
			&t.Method, &category,
			&t.UnitPriceUSD, &t.USDValue, &t.PriceAttempts,
			&t.BlockTime, &t.BlockNumber,
		); err != nil {
			return nil, err
		}
		t.Direction = domain.Direction(direction)
		t.Category = domain.Category(category)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Insert stores a classified transaction. Re-inserting an existing dedup
// identity is a no-op reporting inserted=false.
func (s *TransactionStore) Insert(ctx context.Context, tx domain.ClassifiedTransaction) (bool, error) {
	const query = `
		INSERT INTO transactions (
			hash, log_index, network, wallet, token_address,
			symbol, decimals, direction, amount, counterparty, method, category,
			unit_price_usd, usd_value, price_attempts, block_time, block_number
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)
		ON CONFLICT (hash, log_index, network, wallet, token_address) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		tx.Hash, tx.LogIndex, string(tx.Network), tx.Wallet, tx.TokenAddress,
		tx.Symbol, tx.Decimals, string(tx.Direction), tx.Amount, tx.Counterparty,
		tx.Method, string(tx.Category),
		tx.UnitPriceUSD, tx.USDValue, tx.PriceAttempts,
		tx.BlockTime, tx.BlockNumber,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert transaction %s: %w", tx.DedupKey(), err)
	}
	return tag.RowsAffected() > 0, nil
}

// BackfillPrice sets a previously unknown price on an existing record. Rows
// that already carry a price are left untouched.
func (s *TransactionStore) BackfillPrice(ctx context.Context, tx domain.ClassifiedTransaction) error {
	const query = `
		UPDATE transactions SET
			unit_price_usd = $6,
			usd_value      = $7,
			price_attempts = $8
		WHERE hash = $1 AND log_index = $2 AND network = $3
		  AND wallet = $4 AND token_address = $5
		  AND unit_price_usd IS NULL`

	if _, err := s.pool.Exec(ctx, query,
		tx.Hash, tx.LogIndex, string(tx.Network), tx.Wallet, tx.TokenAddress,
		tx.UnitPriceUSD, tx.USDValue, tx.PriceAttempts,
	); err != nil {
		return fmt.Errorf("postgres: backfill price %s: %w", tx.DedupKey(), err)
	}
	return nil
}

// ListByWallet returns a wallet's transactions, newest first, narrowed by the
// filter and paginated by opts.
func (s *TransactionStore) ListByWallet(ctx context.Context, wallet string, filter domain.TransactionFilter, opts domain.ListOpts) ([]domain.ClassifiedTransaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM transactions WHERE wallet = $1`
	args := []any{wallet}

	if filter.TokenAddress != "" {
		args = append(args, filter.TokenAddress)
		query += fmt.Sprintf(" AND token_address = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Network != "" {
		args = append(args, string(filter.Network))
		query += fmt.Sprintf(" AND network = $%d", len(args))
	}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND block_time >= $%d", len(args))
	}

	query += " ORDER BY block_time DESC, log_index DESC"
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
		return nil, fmt.Errorf("postgres: list transactions for %s: %w", wallet, err)
	}
	defer rows.Close()

	return scanTransactionRows(rows)
}

// ListRecent returns the newest transactions across all wallets.
func (s *TransactionStore) ListRecent(ctx context.Context, limit int) ([]domain.ClassifiedTransaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM transactions
		ORDER BY block_time DESC, log_index DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactionRows(rows)
}

// ListBefore returns transactions older than the cutoff, oldest first, for
// archival.
func (s *TransactionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClassifiedTransaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM transactions
		WHERE block_time < $1 ORDER BY block_time, log_index`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanTransactionRows(rows)
}

// DeleteBefore removes transactions older than the cutoff and reports how
// many rows went away.
func (s *TransactionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE block_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transactions before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// LastBlock returns the highest block number stored for a wallet on one
// network, or zero when nothing is stored yet.
func (s *TransactionStore) LastBlock(ctx context.Context, wallet string, network domain.Network) (int64, error) {
	const query = `SELECT COALESCE(MAX(block_number), 0) FROM transactions
		WHERE wallet = $1 AND network = $2`

	var block int64
	if err := s.pool.QueryRow(ctx, query, wallet, string(network)).Scan(&block); err != nil {
		return 0, fmt.Errorf("postgres: last block for %s/%s: %w", wallet, network, err)
	}
	return block, nil
}

// Compile-time interface check.
var _ domain.TransactionStore = (*TransactionStore)(nil)
