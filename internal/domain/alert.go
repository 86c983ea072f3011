package domain

import "time"

// GasBand is a discrete classification of a gas price sample, used to
// suppress repetitive alerts within the same band.
type GasBand string

const (
	GasBandLow    GasBand = "low"
	GasBandMedium GasBand = "medium"
	GasBandHigh   GasBand = "high"
)

// GasBandConfig holds the band boundaries for one network, in gwei. A sample
// below LowMaxGwei is "low", at or above HighMinGwei is "high", anything in
// between is "medium".
type GasBandConfig struct {
	LowMaxGwei  float64
	HighMinGwei float64
}

// Band classifies a gas price in gwei.
func (c GasBandConfig) Band(gwei float64) GasBand {
	switch {
	case gwei < c.LowMaxGwei:
		return GasBandLow
	case gwei >= c.HighMinGwei:
		return GasBandHigh
	default:
		return GasBandMedium
	}
}

// GasSample is the most recent gas price observation for a network. Only the
// latest sample per network is retained.
type GasSample struct {
	Network   Network
	PriceGwei float64
	Band      GasBand
	SampledAt time.Time
}

// ThresholdConfig is the rule set evaluated against classified transactions,
// snapshot deltas, and gas samples. It is read-only after load; per-chat
// overrides are modelled by passing a different ThresholdConfig into each
// evaluator call rather than mutating shared state.
type ThresholdConfig struct {
	MinTransactionUSD float64
	BalanceChangePct  float64 // fraction, e.g. 0.05 for 5%
	GasBands          map[Network]GasBandConfig
}

// AlertKind identifies the rule that fired.
type AlertKind string

const (
	AlertTransaction   AlertKind = "transaction"
	AlertBalanceChange AlertKind = "balance_change"
	AlertGasBand       AlertKind = "gas_band"
	// AlertSourceDegraded is an operator advisory raised when a wallet/network
	// pair keeps failing beyond the configured ceiling.
	AlertSourceDegraded AlertKind = "source_degraded"
)

// AlertEvent is the outbound record handed to the notification collaborator.
// Delivery and final formatting are the collaborator's concern.
type AlertEvent struct {
	ID        string         `json:"id"`
	Kind      AlertKind      `json:"kind"`
	Wallet    string         `json:"wallet,omitempty"`
	Network   Network        `json:"network"`
	Title     string         `json:"title"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
