package normalize

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

const (
	wallet = "0xAAaa00000000000000000000000000000000aaaa"
	other  = "0xbbbb00000000000000000000000000000000bbbb"
	token  = "0xcccc00000000000000000000000000000000cccc"
)

func testNormalizer() *Normalizer {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validTransfer() domain.RawTransfer {
	return domain.RawTransfer{
		Hash:           "0xABC123",
		LogIndex:       3,
		From:           other,
		To:             wallet,
		Value:          "1500000000000000000", // 1.5 with 18 decimals
		TokenAddress:   token,
		TokenSymbol:    "WETH",
		TokenDecimals:  "18",
		BlockTimestamp: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		BlockNumber:    1000,
	}
}

func TestTransferInbound(t *testing.T) {
	n := testNormalizer()

	tx, err := n.Transfer(validTransfer(), wallet, domain.NetworkETH)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tx.Direction != domain.DirectionIn {
		t.Errorf("direction = %s, want in", tx.Direction)
	}
	if tx.Counterparty != other {
		t.Errorf("counterparty = %s, want %s", tx.Counterparty, other)
	}
	if math.Abs(tx.Amount-1.5) > 1e-9 {
		t.Errorf("amount = %v, want 1.5", tx.Amount)
	}
	if tx.Hash != "0xabc123" {
		t.Errorf("hash = %s, want lowercased", tx.Hash)
	}
	if tx.Wallet != NormalizeAddress(wallet) {
		t.Errorf("wallet = %s, want lowercased", tx.Wallet)
	}
}

func TestTransferOutbound(t *testing.T) {
	n := testNormalizer()

	raw := validTransfer()
	raw.From = wallet
	raw.To = other

	tx, err := n.Transfer(raw, wallet, domain.NetworkETH)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tx.Direction != domain.DirectionOut {
		t.Errorf("direction = %s, want out", tx.Direction)
	}
	if tx.Counterparty != other {
		t.Errorf("counterparty = %s, want %s", tx.Counterparty, other)
	}
}

func TestTransferMalformed(t *testing.T) {
	n := testNormalizer()

	cases := map[string]func(*domain.RawTransfer){
		"missing hash":       func(r *domain.RawTransfer) { r.Hash = "" },
		"missing from":       func(r *domain.RawTransfer) { r.From = "" },
		"missing value":      func(r *domain.RawTransfer) { r.Value = "" },
		"bad value":          func(r *domain.RawTransfer) { r.Value = "not-a-number" },
		"negative value":     func(r *domain.RawTransfer) { r.Value = "-5" },
		"missing timestamp":  func(r *domain.RawTransfer) { r.BlockTimestamp = time.Time{} },
		"no token decimals":  func(r *domain.RawTransfer) { r.TokenDecimals = "" },
		"bad token decimals": func(r *domain.RawTransfer) { r.TokenDecimals = "many" },
		"unrelated wallet":   func(r *domain.RawTransfer) { r.From, r.To = other, other },
	}

	for name, mutate := range cases {
		raw := validTransfer()
		mutate(&raw)
		if _, err := n.Transfer(raw, wallet, domain.NetworkETH); !errors.Is(err, domain.ErrMalformedRecord) {
			t.Errorf("%s: err = %v, want ErrMalformedRecord", name, err)
		}
	}
}

func TestTransferNativeUsesNetworkDecimals(t *testing.T) {
	n := testNormalizer()

	raw := validTransfer()
	raw.Native = true
	raw.TokenDecimals = "" // natives never declare decimals
	raw.TokenSymbol = ""

	tx, err := n.Transfer(raw, wallet, domain.NetworkBSC)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if math.Abs(tx.Amount-1.5) > 1e-9 {
		t.Errorf("amount = %v, want 1.5", tx.Amount)
	}
	if tx.Symbol != "BNB" {
		t.Errorf("symbol = %s, want BNB", tx.Symbol)
	}
}

func TestBalance(t *testing.T) {
	n := testNormalizer()

	h, err := n.Balance(domain.RawBalance{
		TokenAddress: token,
		Symbol:       "USDC",
		Decimals:     6,
		RawBalance:   "2500000",
	}, domain.NetworkETH)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if math.Abs(h.Quantity-2.5) > 1e-9 {
		t.Errorf("quantity = %v, want 2.5", h.Quantity)
	}

	if _, err := n.Balance(domain.RawBalance{TokenAddress: token, Decimals: 6}, domain.NetworkETH); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Errorf("empty balance: err = %v, want ErrMalformedRecord", err)
	}
	if _, err := n.Balance(domain.RawBalance{TokenAddress: token, RawBalance: "10", Decimals: -1}, domain.NetworkETH); !errors.Is(err, domain.ErrMalformedRecord) {
		t.Errorf("negative decimals: err = %v, want ErrMalformedRecord", err)
	}
}

func TestBalanceZeroDecimals(t *testing.T) {
	n := testNormalizer()

	// NFT-style tokens legitimately declare zero decimals; the raw amount
	// is already in whole units.
	h, err := n.Balance(domain.RawBalance{
		TokenAddress: token,
		Symbol:       "PUNK",
		Decimals:     0,
		RawBalance:   "10",
	}, domain.NetworkETH)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if h.Quantity != 10 {
		t.Errorf("quantity = %v, want 10", h.Quantity)
	}
}

func TestValidAddress(t *testing.T) {
	if !ValidAddress(wallet) {
		t.Errorf("ValidAddress(%s) = false, want true", wallet)
	}
	if !ValidAddress("  " + wallet + " ") {
		t.Error("ValidAddress should tolerate surrounding whitespace")
	}
	for _, bad := range []string{"", "0x123", "not-an-address", "0xzzzz00000000000000000000000000000000zzzz"} {
		if ValidAddress(bad) {
			t.Errorf("ValidAddress(%q) = true, want false", bad)
		}
	}
}
