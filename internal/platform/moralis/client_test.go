package moralis

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

const testWallet = "0xaaaa00000000000000000000000000000000aaaa"

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 5*time.Second, 0, nil)
}

func TestGetTransfers(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q, want test-key", got)
		}
		if !strings.Contains(r.URL.Path, "/erc20/transfers") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("chain"); got != "eth" {
			t.Errorf("chain = %q, want eth", got)
		}
		if got := r.URL.Query().Get("from_block"); got != "900" {
			t.Errorf("from_block = %q, want 900", got)
		}
		w.Write([]byte(`{"result":[{
			"transaction_hash":"0xabc",
			"log_index":2,
			"from_address":"0xfrom",
			"to_address":"` + testWallet + `",
			"value":"1000000000000000000",
			"address":"0xtoken",
			"token_symbol":"TKN",
			"token_decimals":"18",
			"block_timestamp":"2026-03-01T00:00:00Z",
			"block_number":"901"
		}]}`))
	})

	transfers, err := c.GetTransfers(context.Background(), testWallet, domain.NetworkETH, 900)
	if err != nil {
		t.Fatalf("GetTransfers: %v", err)
	}
	if len(transfers) != 1 {
		t.Fatalf("got %d transfers, want 1", len(transfers))
	}
	tr := transfers[0]
	if tr.Hash != "0xabc" || tr.LogIndex != 2 || tr.BlockNumber != 901 {
		t.Errorf("transfer = %+v", tr)
	}
	if !tr.BlockTimestamp.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("block timestamp = %v", tr.BlockTimestamp)
	}
}

func TestGetTokenBalancesIncludesNative(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/erc20"):
			w.Write([]byte(`[{"token_address":"0xtoken","symbol":"TKN","decimals":6,"balance":"5000000"}]`))
		case strings.HasSuffix(r.URL.Path, "/balance"):
			w.Write([]byte(`{"balance":"2000000000000000000"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	balances, err := c.GetTokenBalances(context.Background(), testWallet, domain.NetworkETH)
	if err != nil {
		t.Fatalf("GetTokenBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(balances))
	}
	if balances[0].Symbol != "TKN" || balances[0].Decimals != 6 {
		t.Errorf("token balance = %+v", balances[0])
	}
	native := balances[1]
	if !native.Native || native.Symbol != "ETH" || native.RawBalance == "" {
		t.Errorf("native balance = %+v", native)
	}
}

func TestGetTokenPrice(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usdPrice":12.5}`))
	})

	price, err := c.GetTokenPrice(context.Background(), "0xtoken", domain.NetworkETH)
	if err != nil {
		t.Fatalf("GetTokenPrice: %v", err)
	}
	if math.Abs(price-12.5) > 1e-9 {
		t.Errorf("price = %v, want 12.5", price)
	}
}

func TestGetTokenPriceNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetTokenPrice(context.Background(), "0xtoken", domain.NetworkETH)
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Errorf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestGetTokenPriceServerErrorIsTransient(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetTokenPrice(context.Background(), "0xtoken", domain.NetworkETH)
	if !domain.IsTransientProviderError(err) {
		t.Errorf("err = %v, want transient provider error", err)
	}
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetTransfers(context.Background(), testWallet, domain.NetworkETH, 0)
	if !domain.IsPermanentProviderError(err) {
		t.Errorf("err = %v, want permanent provider error", err)
	}
}

func TestGetGasPrice(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"safeLow":{"wei":"10000000000"},"standard":{"wei":"25000000000"},"fast":{"wei":"40000000000"}}`))
	})

	quote, err := c.GetGasPrice(context.Background(), domain.NetworkETH)
	if err != nil {
		t.Fatalf("GetGasPrice: %v", err)
	}
	if math.Abs(quote.StandardGwei-25) > 1e-9 {
		t.Errorf("standard = %v gwei, want 25", quote.StandardGwei)
	}
}

func TestGetGasPriceBSCIsFixed(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no API call expected for BSC gas")
	})

	quote, err := c.GetGasPrice(context.Background(), domain.NetworkBSC)
	if err != nil {
		t.Fatalf("GetGasPrice: %v", err)
	}
	if quote.StandardGwei != 5 {
		t.Errorf("standard = %v gwei, want 5", quote.StandardGwei)
	}
}

func TestUnsupportedNetwork(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "k", time.Second, 0, nil)
	if _, err := c.GetTransfers(context.Background(), testWallet, domain.Network("SOL"), 0); !errors.Is(err, domain.ErrUnsupportedNetwork) {
		t.Errorf("err = %v, want ErrUnsupportedNetwork", err)
	}
}
