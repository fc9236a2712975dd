package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// sinkTimeout bounds the store write and publish for one tick.
const sinkTimeout = 5 * time.Second

// sink applies a resolved price patch to the cache and store and forwards
// the update to subscribed sessions. Shared by both platform feeds.
type sink struct {
	cache  domain.MarketCache
	store  domain.MarketStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// forwardTick relays one raw inbound tick to subscribed sessions. It runs
// before any catalog matching, so consumers see every instrument the feed
// delivers, known or not.
func (s *sink) forwardTick(ctx context.Context, tick any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(tick)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, domain.ChannelMarkets, payload); err != nil {
		s.logger.Warn("forward tick failed", "error", err)
	}
}

// apply patches the snapshot identified by marketID. The cache write is the
// hot path; the store write and the fan-out are best effort and logged on
// failure.
func (s *sink) apply(ctx context.Context, marketID string, patch domain.PricePatch) {
	if !s.cache.PatchPrice(marketID, patch) {
		return
	}

	updated, ok := s.cache.Get(marketID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	prices := make([]float64, len(updated.Outcomes))
	for i, o := range updated.Outcomes {
		prices[i] = o.Price
	}

	if s.store != nil {
		err := s.store.UpdatePrices(ctx, marketID, prices, updated.BestBid, updated.BestAsk, updated.Spread)
		if err != nil {
			s.logger.Warn("persist price update failed", "market_id", marketID, "error", err)
		}
	}

	if s.bus != nil {
		event := domain.MarketUpdateEvent{
			Platform:  updated.Platform,
			MarketID:  marketID,
			Prices:    prices,
			BestBid:   updated.BestBid,
			BestAsk:   updated.BestAsk,
			UpdatedAt: updated.LastUpdated,
		}
		payload, err := json.Marshal(event)
		if err == nil {
			err = s.bus.Publish(ctx, domain.ChannelMarkets, payload)
		}
		if err != nil {
			s.logger.Warn("publish market update failed", "market_id", marketID, "error", err)
		}
	}
}
