package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest token prices.
type PriceCache interface {
	SetPrice(ctx context.Context, network Network, tokenAddress string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, network Network, tokenAddress string) (float64, time.Time, error)
}

// GasCache stores the latest gas sample per network. Samples are ephemeral;
// only the most recent one is retained.
type GasCache interface {
	SetSample(ctx context.Context, sample GasSample) error
	GetSample(ctx context.Context, network Network) (GasSample, error)
}

// RateLimiter provides distributed rate limiting shared by every instance:
// provider calls and the public API both count against redis-backed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to guarantee the
// single-poller-per-wallet discipline across instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for alert events plus durable streams for the
// outbound alert history.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
