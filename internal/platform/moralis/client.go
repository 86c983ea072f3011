// Package moralis implements domain.ChainDataProvider against the Moralis
// deep-index REST API.
package moralis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chainpulse/walletmon/internal/domain"
)

// rateLimitKey is the shared limiter bucket for all Moralis calls.
const rateLimitKey = "provider:moralis"

// allowPollInterval is how long to wait between limiter retries.
const allowPollInterval = 50 * time.Millisecond

// weiPerGwei converts wei-denominated gas prices to gwei.
const weiPerGwei = 1e9

// chainParams maps domain networks onto Moralis chain identifiers.
var chainParams = map[domain.Network]string{
	domain.NetworkETH:   "eth",
	domain.NetworkBSC:   "bsc",
	domain.NetworkMATIC: "polygon",
	domain.NetworkARB:   "arbitrum",
	domain.NetworkAVAX:  "avalanche",
}

// Client is a Moralis deep-index API client. Outgoing requests pass through a
// shared rate limiter so concurrent pollers stay inside the plan quota.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter
	rps        int
}

// NewClient creates a Moralis client. limiter may be nil, in which case no
// rate limiting is applied (useful in tests).
func NewClient(baseURL, apiKey string, timeout time.Duration, rps int, limiter domain.RateLimiter) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		rps:        rps,
	}
}

// GetTransfers returns ERC-20 transfer records for a wallet at or after
// sinceBlock, oldest first.
func (c *Client) GetTransfers(ctx context.Context, wallet string, network domain.Network, sinceBlock int64) ([]domain.RawTransfer, error) {
	chain, err := chainParam(network)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("chain", chain)
	params.Set("limit", "100")
	params.Set("order", "ASC")
	if sinceBlock > 0 {
		params.Set("from_block", strconv.FormatInt(sinceBlock, 10))
	}

	var result transferResult
	if err := c.get(ctx, network, fmt.Sprintf("%s/erc20/transfers", url.PathEscape(wallet)), params, &result); err != nil {
		return nil, err
	}

	transfers := make([]domain.RawTransfer, 0, len(result.Result))
	for _, r := range result.Result {
		ts, _ := time.Parse(time.RFC3339, r.BlockTimestamp)
		blockNum, _ := strconv.ParseInt(r.BlockNumber, 10, 64)
		transfers = append(transfers, domain.RawTransfer{
			Hash:            r.TransactionHash,
			LogIndex:        r.LogIndex,
			From:            r.FromAddress,
			To:              r.ToAddress,
			Value:           r.Value,
			TokenAddress:    r.TokenAddress,
			TokenSymbol:     r.TokenSymbol,
			TokenDecimals:   r.TokenDecimals,
			MethodSignature: r.MethodLabel,
			BlockTimestamp:  ts,
			BlockNumber:     blockNum,
		})
	}
	return transfers, nil
}

// GetTokenBalances returns current ERC-20 balances plus the native coin
// balance for a wallet.
func (c *Client) GetTokenBalances(ctx context.Context, wallet string, network domain.Network) ([]domain.RawBalance, error) {
	chain, err := chainParam(network)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("chain", chain)

	var tokens []balanceRecord
	if err := c.get(ctx, network, url.PathEscape(wallet)+"/erc20", params, &tokens); err != nil {
		return nil, err
	}

	balances := make([]domain.RawBalance, 0, len(tokens)+1)
	for _, t := range tokens {
		balances = append(balances, domain.RawBalance{
			TokenAddress: t.TokenAddress,
			Symbol:       t.Symbol,
			Decimals:     t.Decimals,
			RawBalance:   t.Balance,
		})
	}

	// The native coin lives on a separate endpoint.
	var native nativeBalance
	if err := c.get(ctx, network, url.PathEscape(wallet)+"/balance", params, &native); err != nil {
		return nil, err
	}
	if native.Balance != "" && native.Balance != "0" {
		balances = append(balances, domain.RawBalance{
			TokenAddress: nativeTokenAddress,
			Symbol:       network.NativeSymbol(),
			Decimals:     network.NativeDecimals(),
			RawBalance:   native.Balance,
			Native:       true,
		})
	}

	return balances, nil
}

// nativeTokenAddress is the pseudo-address used for the chain's native coin.
const nativeTokenAddress = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

// GetTokenPrice returns the current USD unit price of a token. It returns
// domain.ErrPriceUnavailable when Moralis has no quote.
func (c *Client) GetTokenPrice(ctx context.Context, tokenAddress string, network domain.Network) (float64, error) {
	chain, err := chainParam(network)
	if err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("chain", chain)

	var price priceResponse
	err = c.get(ctx, network, "erc20/"+url.PathEscape(tokenAddress)+"/price", params, &price)
	if err != nil {
		// Tokens with no liquidity come back 404; that is an unavailable
		// price, not a provider outage.
		var pe *domain.ProviderError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return 0, domain.ErrPriceUnavailable
		}
		return 0, err
	}
	if price.USDPrice <= 0 {
		return 0, domain.ErrPriceUnavailable
	}
	return price.USDPrice, nil
}

// GetGasPrice returns the current gas price estimate in gwei. BSC validators
// run a fixed gas price, so no API call is made for it.
func (c *Client) GetGasPrice(ctx context.Context, network domain.Network) (domain.GasQuote, error) {
	if network == domain.NetworkBSC {
		return domain.GasQuote{SafeLowGwei: 5, StandardGwei: 5, FastGwei: 5}, nil
	}

	chain, err := chainParam(network)
	if err != nil {
		return domain.GasQuote{}, err
	}

	params := url.Values{}
	params.Set("chain", chain)

	var resp gasPriceResponse
	if err := c.get(ctx, network, "web3/gas-price", params, &resp); err != nil {
		return domain.GasQuote{}, err
	}

	return domain.GasQuote{
		SafeLowGwei:  weiToGwei(resp.SafeLow.Wei),
		StandardGwei: weiToGwei(resp.Standard.Wei),
		FastGwei:     weiToGwei(resp.Fast.Wei),
	}, nil
}

func weiToGwei(wei string) float64 {
	f, err := strconv.ParseFloat(wei, 64)
	if err != nil {
		return 0
	}
	return f / weiPerGwei
}

func chainParam(network domain.Network) (string, error) {
	chain, ok := chainParams[network]
	if !ok {
		return "", &domain.ProviderError{
			Op:        "chain lookup",
			Network:   network,
			Transient: false,
			Err:       domain.ErrUnsupportedNetwork,
		}
	}
	return chain, nil
}

// get performs a rate-limited GET against the Moralis API and decodes the
// JSON response into out.
func (c *Client) get(ctx context.Context, network domain.Network, endpoint string, params url.Values, out any) error {
	if err := c.waitQuota(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &domain.ProviderError{Op: endpoint, Network: network, Transient: false, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Op: endpoint, Network: network, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.ProviderError{
			Op:         endpoint,
			Network:    network,
			StatusCode: resp.StatusCode,
			Transient:  isTransientStatus(resp.StatusCode),
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Op: endpoint, Network: network, Transient: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// waitQuota blocks until the shared limiter admits another request.
func (c *Client) waitQuota(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	for {
		allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.rps, time.Second)
		if err != nil {
			// A broken limiter should degrade to unlimited rather than take
			// polling down with it.
			return nil
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(allowPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// isTransientStatus reports whether an HTTP status is worth retrying.
// 429 and 5xx are transient; 4xx (bad address, bad key) are permanent.
func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Compile-time interface check.
var _ domain.ChainDataProvider = (*Client)(nil)
