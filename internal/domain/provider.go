package domain

import (
	"context"
	"time"
)

// RawTransfer is a provider-shaped transfer record before normalization.
// String-typed numeric fields mirror the wire format; the normalizer owns
// parsing and validation.
type RawTransfer struct {
	Hash            string
	LogIndex        int
	From            string
	To              string
	Value           string // raw integer amount as decimal string
	TokenAddress    string
	TokenSymbol     string
	TokenDecimals   string // provider-declared decimals, may be empty
	Native          bool   // native coin transfer rather than a token transfer
	MethodSignature string // non-empty when the tx carried call data
	BlockTimestamp  time.Time
	BlockNumber     int64
}

// RawBalance is a provider-shaped balance row.
type RawBalance struct {
	TokenAddress string
	Symbol       string
	Decimals     int
	RawBalance   string // raw integer amount as decimal string
	Native       bool
}

// GasQuote is the provider's current gas price estimate in gwei.
type GasQuote struct {
	SafeLowGwei  float64
	StandardGwei float64
	FastGwei     float64
}

// ChainDataProvider is the read-only blockchain data source consumed by the
// engine. Implementations must return *ProviderError so callers can honour
// the transient/permanent distinction, and ErrPriceUnavailable when a token
// simply has no quotable price.
type ChainDataProvider interface {
	// GetTransfers returns transfer records for the wallet at or after
	// sinceBlock. Pass 0 for the full available history window.
	GetTransfers(ctx context.Context, wallet string, network Network, sinceBlock int64) ([]RawTransfer, error)

	// GetTokenBalances returns current token balances for the wallet,
	// including the native coin balance.
	GetTokenBalances(ctx context.Context, wallet string, network Network) ([]RawBalance, error)

	// GetTokenPrice returns the current USD unit price for a token.
	GetTokenPrice(ctx context.Context, tokenAddress string, network Network) (float64, error)

	// GetGasPrice returns the current gas price estimate for a network.
	GetGasPrice(ctx context.Context, network Network) (GasQuote, error)
}
