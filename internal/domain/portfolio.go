package domain

import "time"

// TokenHolding is one token row inside a wallet snapshot. USD fields are nil
// when no price could be sourced; queries render that explicitly instead of
// dropping the row.
type TokenHolding struct {
	TokenAddress string
	Symbol       string
	Quantity     float64
	UnitPriceUSD *float64
	ValueUSD     *float64
}

// WalletSnapshot is a point-in-time view of a wallet's holdings on one
// network. TotalValueUSD sums only the holdings with a known price.
type WalletSnapshot struct {
	Wallet        string
	Network       Network
	TakenAt       time.Time
	Holdings      []TokenHolding
	TotalValueUSD float64
	// PricedHoldings counts holdings with a known USD value, so consumers can
	// tell a complete total from a degraded one.
	PricedHoldings int
}

// TokenDelta describes how one token changed between two snapshots.
type TokenDelta struct {
	TokenAddress string
	Symbol       string
	PrevQuantity float64
	CurrQuantity float64
	PrevValueUSD *float64
	CurrValueUSD *float64
	// PctChange is the relative value change. It is nil for new or closed
	// positions, where a percentage is undefined.
	PctChange   *float64
	NewPosition bool
	Closed      bool
	// Flagged is set when |PctChange| crossed the configured threshold, or
	// when the position newly appeared or fully exited.
	Flagged bool
}

// SnapshotDelta is the per-token and total change between two consecutive
// snapshots of the same wallet/network pair.
type SnapshotDelta struct {
	Wallet         string
	Network        Network
	From, To       time.Time
	Tokens         []TokenDelta
	TotalPrevUSD   float64
	TotalCurrUSD   float64
	TotalPctChange *float64
	TotalFlagged   bool
}

// TokenSort selects the ranking metric for top-token queries.
type TokenSort string

const (
	TokenSortValue  TokenSort = "value"
	TokenSortAmount TokenSort = "amount"
)

// WalletInfo is the aggregate answer to a wallet-info query: current
// holdings plus realized and unrealized PnL. Unrealized is nil when one or
// more held tokens had no sourceable price.
type WalletInfo struct {
	Wallet            string
	Network           Network
	Snapshot          WalletSnapshot
	RealizedPnLUSD    float64
	UnrealizedPnLUSD  *float64
	UnpricedPositions int
}
