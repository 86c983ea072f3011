package domain

import (
	"fmt"
	"time"
)

// Direction indicates whether a transfer moved value into or out of the
// tracked wallet.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Category is the classification assigned to a canonical transaction.
type Category string

const (
	CategoryBuy                 Category = "BUY"
	CategorySell                Category = "SELL"
	CategoryTransferIn          Category = "TRANSFER_IN"
	CategoryTransferOut         Category = "TRANSFER_OUT"
	CategoryContractInteraction Category = "CONTRACT_INTERACTION"
)

// CanonicalTransaction is the provider-agnostic representation of a single
// on-chain transfer affecting a tracked wallet. It is immutable once
// produced by the normalizer; only the price backfill path may set a
// previously unknown unit price.
type CanonicalTransaction struct {
	Hash         string
	LogIndex     int
	Network      Network
	Wallet       string
	TokenAddress string
	Symbol       string
	Decimals     int
	Direction    Direction
	Amount       float64 // human units, always positive
	Counterparty string
	// Method is the decoded method label when the transaction carried call
	// data, empty for plain transfers.
	Method       string
	UnitPriceUSD *float64 // nil when no price was available
	BlockTime    time.Time
	BlockNumber  int64
}

// DedupKey uniquely identifies a transfer leg across repeated fetches of the
// same data. LogIndex distinguishes multiple transfers within one tx hash.
func (t CanonicalTransaction) DedupKey() string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", t.Hash, t.LogIndex, t.Network, t.Wallet, t.TokenAddress)
}

// ClassifiedTransaction is a CanonicalTransaction with a category label and a
// USD valuation attached. USDValue is nil while the unit price is unknown;
// the classifier retries the price lookup a bounded number of times
// (PriceAttempts) before giving up permanently.
type ClassifiedTransaction struct {
	CanonicalTransaction

	Category      Category
	USDValue      *float64
	PriceAttempts int
}

// WithPrice returns a copy with the unit price and USD value backfilled.
func (t ClassifiedTransaction) WithPrice(unitPrice float64) ClassifiedTransaction {
	p := unitPrice
	v := t.Amount * unitPrice
	t.UnitPriceUSD = &p
	t.USDValue = &v
	return t
}
