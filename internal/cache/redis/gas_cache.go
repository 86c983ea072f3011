package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainpulse/walletmon/internal/domain"
)

// gasTTL expires a sample that stops being refreshed, so a stalled sampler
// surfaces as "no data" instead of a frozen reading.
const gasTTL = 10 * time.Minute

// GasCache implements domain.GasCache with one Redis hash per network at
// "gas:{network}". Only the most recent sample is retained.
type GasCache struct {
	rdb *redis.Client
}

// NewGasCache creates a GasCache backed by the given Client.
func NewGasCache(c *Client) *GasCache {
	return &GasCache{rdb: c.Underlying()}
}

func gasKey(network domain.Network) string {
	return "gas:" + string(network)
}

// SetSample stores the latest gas observation for a network.
func (gc *GasCache) SetSample(ctx context.Context, sample domain.GasSample) error {
	key := gasKey(sample.Network)
	fields := map[string]interface{}{
		"gwei": strconv.FormatFloat(sample.PriceGwei, 'f', -1, 64),
		"band": string(sample.Band),
		"ts":   strconv.FormatInt(sample.SampledAt.UnixNano(), 10),
	}
	pipe := gc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, gasTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set gas sample %s: %w", sample.Network, err)
	}
	return nil
}

// GetSample retrieves the latest gas observation for a network. It returns
// domain.ErrNotFound when no sample has been stored or the last one expired.
func (gc *GasCache) GetSample(ctx context.Context, network domain.Network) (domain.GasSample, error) {
	vals, err := gc.rdb.HGetAll(ctx, gasKey(network)).Result()
	if err != nil {
		return domain.GasSample{}, fmt.Errorf("redis: get gas sample %s: %w", network, err)
	}
	if len(vals) == 0 {
		return domain.GasSample{}, domain.ErrNotFound
	}

	gwei, err := strconv.ParseFloat(vals["gwei"], 64)
	if err != nil {
		return domain.GasSample{}, fmt.Errorf("redis: parse gas gwei %s: %w", network, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.GasSample{}, fmt.Errorf("redis: parse gas ts %s: %w", network, err)
	}

	return domain.GasSample{
		Network:   network,
		PriceGwei: gwei,
		Band:      domain.GasBand(vals["band"]),
		SampledAt: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.GasCache = (*GasCache)(nil)
