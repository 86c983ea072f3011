package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainpulse/walletmon/internal/domain"
)

// priceTTL bounds how long a quote survives without refresh. Stale entries
// expire on their own so a token that stops trading does not serve an old
// price forever.
const priceTTL = 30 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// price is stored at "price:{network}:{tokenAddress}" with fields "price" and
// "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(network domain.Network, tokenAddress string) string {
	return "price:" + string(network) + ":" + tokenAddress
}

// SetPrice stores the latest USD price and timestamp for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, network domain.Network, tokenAddress string, price float64, ts time.Time) error {
	key := priceKey(network, tokenAddress)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", network, tokenAddress, err)
	}
	return nil
}

// GetPrice retrieves the latest USD price and timestamp for a token.
// It returns domain.ErrNotFound when no quote is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, network domain.Network, tokenAddress string) (float64, time.Time, error) {
	key := priceKey(network, tokenAddress)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", network, tokenAddress, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s/%s: %w", network, tokenAddress, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", network, tokenAddress, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
