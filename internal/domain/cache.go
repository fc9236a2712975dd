package domain

import (
	"context"
	"time"
)

// MarketCache is the hot-path read model for market snapshots. Evaluation
// reads from here first; the store is only consulted on a miss.
type MarketCache interface {
	Upsert(snap MarketSnapshot)
	Get(marketID string) (MarketSnapshot, bool)
	GetByToken(tokenID string) (MarketSnapshot, bool)
	// PatchPrice applies a partial price update to an existing snapshot.
	// Updates for unknown markets are dropped.
	PatchPrice(marketID string, patch PricePatch) bool
	Delete(marketID string)
	Len() int
	// Subscribe registers a listener invoked after every Upsert or
	// PatchPrice, with the updated snapshot.
	Subscribe(fn func(snap MarketSnapshot))
}

// RateLimiter provides shared rate limiting for outbound platform calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// SignalBus provides pub/sub between engine components and user-facing
// sessions.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
