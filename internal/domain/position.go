package domain

import "time"

// Position is the running cost-basis state for one (wallet, network, token)
// triple. Quantity never goes negative; an oversized sell clamps it to zero
// and records an oversold ledger event.
type Position struct {
	Wallet         string
	Network        Network
	TokenAddress   string
	Symbol         string
	Quantity       float64
	AvgCostUSD     float64
	RealizedPnLUSD float64
	OpenedAt       time.Time
	UpdatedAt      time.Time
	// LastTxAt is the block time of the newest transaction folded into this
	// position, used to reject out-of-order applies across restarts.
	LastTxAt time.Time
}

// LedgerEventKind distinguishes entries in the append-only ledger trail.
type LedgerEventKind string

const (
	// LedgerEventApplied records that a classified transaction was folded
	// into a position.
	LedgerEventApplied LedgerEventKind = "applied"
	// LedgerEventRealized records realized PnL produced by a sell.
	LedgerEventRealized LedgerEventKind = "realized"
	// LedgerEventOversold records a sell that exceeded the tracked quantity,
	// most likely because an inbound transfer predates monitoring.
	LedgerEventOversold LedgerEventKind = "oversold"
)

// LedgerEvent is one entry of the append-only audit trail. The current
// position projection is rebuildable by replaying applied events in order.
type LedgerEvent struct {
	ID             string
	Kind           LedgerEventKind
	Wallet         string
	Network        Network
	TokenAddress   string
	Symbol         string
	TxHash         string
	LogIndex       int
	Category       Category
	Amount         float64
	UnitPriceUSD   *float64
	RealizedPnLUSD float64
	BlockTime      time.Time
	CreatedAt      time.Time
}
