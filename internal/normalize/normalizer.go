// Package normalize converts provider-shaped transfer payloads into canonical
// transactions. It fails closed: a record missing any required field is
// dropped (and logged by the caller) rather than propagated half-populated.
package normalize

import (
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainpulse/walletmon/internal/domain"
)

// Normalizer turns raw provider records into domain.CanonicalTransaction.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer.
func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger.With(slog.String("component", "normalizer"))}
}

// Transfer normalizes one raw transfer for the given tracked wallet. It
// returns domain.ErrMalformedRecord (wrapped) when a required field is absent
// or unparsable.
func (n *Normalizer) Transfer(raw domain.RawTransfer, wallet string, network domain.Network) (domain.CanonicalTransaction, error) {
	if raw.Hash == "" {
		return domain.CanonicalTransaction{}, fmt.Errorf("normalize: missing tx hash: %w", domain.ErrMalformedRecord)
	}
	if raw.From == "" || raw.To == "" {
		return domain.CanonicalTransaction{}, fmt.Errorf("normalize: tx %s missing from/to: %w", raw.Hash, domain.ErrMalformedRecord)
	}
	if raw.Value == "" {
		return domain.CanonicalTransaction{}, fmt.Errorf("normalize: tx %s missing value: %w", raw.Hash, domain.ErrMalformedRecord)
	}
	if raw.BlockTimestamp.IsZero() {
		return domain.CanonicalTransaction{}, fmt.Errorf("normalize: tx %s missing block timestamp: %w", raw.Hash, domain.ErrMalformedRecord)
	}

	wallet = NormalizeAddress(wallet)
	from := NormalizeAddress(raw.From)
	to := NormalizeAddress(raw.To)

	var direction domain.Direction
	var counterparty string
	switch wallet {
	case to:
		direction = domain.DirectionIn
		counterparty = from
	case from:
		direction = domain.DirectionOut
		counterparty = to
	default:
		return domain.CanonicalTransaction{}, fmt.Errorf("normalize: tx %s does not involve wallet %s: %w", raw.Hash, wallet, domain.ErrMalformedRecord)
	}

	decimals, err := resolveDecimals(raw, network)
	if err != nil {
		return domain.CanonicalTransaction{}, err
	}

	amount, err := parseRawAmount(raw.Value, decimals)
	if err != nil {
		return domain.CanonicalTransaction{}, fmt.Errorf("normalize: tx %s value %q: %w", raw.Hash, raw.Value, domain.ErrMalformedRecord)
	}

	symbol := raw.TokenSymbol
	tokenAddr := NormalizeAddress(raw.TokenAddress)
	if raw.Native {
		symbol = network.NativeSymbol()
	}

	return domain.CanonicalTransaction{
		Hash:         strings.ToLower(raw.Hash),
		LogIndex:     raw.LogIndex,
		Network:      network,
		Wallet:       wallet,
		TokenAddress: tokenAddr,
		Symbol:       symbol,
		Decimals:     decimals,
		Direction:    direction,
		Amount:       amount,
		Counterparty: counterparty,
		Method:       raw.MethodSignature,
		BlockTime:    raw.BlockTimestamp.UTC(),
		BlockNumber:  raw.BlockNumber,
	}, nil
}

// Balance converts a raw balance row into a quantity in human units.
func (n *Normalizer) Balance(raw domain.RawBalance, network domain.Network) (domain.TokenHolding, error) {
	if raw.RawBalance == "" {
		return domain.TokenHolding{}, fmt.Errorf("normalize: balance for %s missing amount: %w", raw.TokenAddress, domain.ErrMalformedRecord)
	}

	decimals := raw.Decimals
	if raw.Native {
		decimals = network.NativeDecimals()
	}
	// Zero decimals is a valid declaration (NFT-style tokens), only a
	// negative value is malformed.
	if decimals < 0 {
		return domain.TokenHolding{}, fmt.Errorf("normalize: balance for %s has negative decimals: %w", raw.TokenAddress, domain.ErrMalformedRecord)
	}

	qty, err := parseRawAmount(raw.RawBalance, decimals)
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("normalize: balance %q for %s: %w", raw.RawBalance, raw.TokenAddress, domain.ErrMalformedRecord)
	}

	return domain.TokenHolding{
		TokenAddress: NormalizeAddress(raw.TokenAddress),
		Symbol:       raw.Symbol,
		Quantity:     qty,
	}, nil
}

// resolveDecimals picks the decimal source by token type: native coins use
// the network's decimals, tokens use the provider-declared value. A token
// with no declared decimals is malformed; 18 is never assumed for it.
func resolveDecimals(raw domain.RawTransfer, network domain.Network) (int, error) {
	if raw.Native {
		return network.NativeDecimals(), nil
	}
	if raw.TokenDecimals == "" {
		return 0, fmt.Errorf("normalize: tx %s token %s has no declared decimals: %w", raw.Hash, raw.TokenAddress, domain.ErrMalformedRecord)
	}
	d, err := strconv.Atoi(raw.TokenDecimals)
	if err != nil || d < 0 || d > 36 {
		return 0, fmt.Errorf("normalize: tx %s token decimals %q: %w", raw.Hash, raw.TokenDecimals, domain.ErrMalformedRecord)
	}
	return d, nil
}

// parseRawAmount converts a raw integer amount string into human units.
// big.Float keeps precision for 256-bit token amounts that overflow float64
// parsing of the raw string.
func parseRawAmount(value string, decimals int) (float64, error) {
	i, ok := new(big.Int).SetString(value, 10)
	if !ok || i.Sign() < 0 {
		return 0, fmt.Errorf("not a non-negative integer")
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(i), scale).Float64()
	return out, nil
}

// NormalizeAddress lowercases a hex address. Comparisons throughout the
// engine are done on this form.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidAddress reports whether addr is a well-formed EVM address.
func ValidAddress(addr string) bool {
	return common.IsHexAddress(strings.TrimSpace(addr))
}
