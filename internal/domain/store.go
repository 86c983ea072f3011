package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// TrackedWallet is one registry entry. Addresses are stored lowercase.
type TrackedWallet struct {
	Address     string
	AddedAt     time.Time
	LastChecked *time.Time
}

// WalletStore persists the wallet registry.
type WalletStore interface {
	Add(ctx context.Context, address string) error
	Remove(ctx context.Context, address string) error
	List(ctx context.Context) ([]TrackedWallet, error)
	Touch(ctx context.Context, address string, at time.Time) error
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	TokenAddress string
	Category     Category
	Network      Network
}

// TransactionStore persists classified transactions. Insert is idempotent on
// (hash, log_index, network, wallet, token): re-inserting an existing record
// is a no-op that reports inserted=false.
type TransactionStore interface {
	Insert(ctx context.Context, tx ClassifiedTransaction) (inserted bool, err error)
	BackfillPrice(ctx context.Context, tx ClassifiedTransaction) error
	ListByWallet(ctx context.Context, wallet string, filter TransactionFilter, opts ListOpts) ([]ClassifiedTransaction, error)
	ListRecent(ctx context.Context, limit int) ([]ClassifiedTransaction, error)
	ListBefore(ctx context.Context, before time.Time) ([]ClassifiedTransaction, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	LastBlock(ctx context.Context, wallet string, network Network) (int64, error)
}

// PositionStore persists the mutable position projection.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, wallet string, network Network, token string) (Position, error)
	ListByWallet(ctx context.Context, wallet string) ([]Position, error)
}

// LedgerEventStore persists the append-only ledger trail.
type LedgerEventStore interface {
	Append(ctx context.Context, ev LedgerEvent) error
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]LedgerEvent, error)
	// SumRealized totals realized PnL events for a wallet, optionally limited
	// to one token and/or a start time.
	SumRealized(ctx context.Context, wallet, token string, since *time.Time) (float64, error)
	ListBefore(ctx context.Context, before time.Time) ([]LedgerEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
