package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
	"github.com/alanyoungcy/tradetrigger/internal/platform/polymarket"
)

// subscriptionLimit caps how many instruments one session subscribes to.
const subscriptionLimit = 1000

// PolymarketFeed streams CLOB price ticks into the cache and store. It
// implements Source; reconnection is the supervisor's job.
type PolymarketFeed struct {
	ws     *polymarket.WSClient
	store  domain.MarketStore
	sink   sink
	logger *slog.Logger

	mu     sync.Mutex
	runCtx context.Context
}

// NewPolymarketFeed wires a feed over the given WebSocket client.
func NewPolymarketFeed(ws *polymarket.WSClient, cache domain.MarketCache, store domain.MarketStore, bus domain.SignalBus, logger *slog.Logger) *PolymarketFeed {
	logger = logger.With("component", "feed", "platform", "polymarket")
	f := &PolymarketFeed{
		ws:    ws,
		store: store,
		sink: sink{
			cache:  cache,
			store:  store,
			bus:    bus,
			logger: logger,
		},
		logger: logger,
	}
	ws.OnPriceChange(f.handleTick)
	return f
}

// Name implements Source.
func (f *PolymarketFeed) Name() string { return "polymarket" }

// Connect implements Source.
func (f *PolymarketFeed) Connect(ctx context.Context) error {
	return f.ws.Connect(ctx)
}

// Subscribe enumerates the tradable token ids from the current catalog and
// subscribes to the market channel for all of them.
func (f *PolymarketFeed) Subscribe(ctx context.Context) error {
	snaps, err := f.store.ListActive(ctx, domain.PlatformPolymarket, domain.ListOpts{Limit: subscriptionLimit})
	if err != nil {
		return fmt.Errorf("feed: list polymarket catalog: %w", err)
	}

	var tokens []string
	for _, snap := range snaps {
		for _, o := range snap.Outcomes {
			if o.TokenID != "" {
				tokens = append(tokens, o.TokenID)
			}
		}
	}
	if len(tokens) == 0 {
		return fmt.Errorf("feed: no polymarket instruments to subscribe to")
	}

	f.logger.Info("subscribing", "instruments", len(tokens), "markets", len(snaps))
	return f.ws.Subscribe(tokens)
}

// Listen implements Source.
func (f *PolymarketFeed) Listen(ctx context.Context) error {
	f.mu.Lock()
	f.runCtx = ctx
	f.mu.Unlock()
	return f.ws.Listen(ctx)
}

// Close implements Source.
func (f *PolymarketFeed) Close() error {
	return f.ws.Close()
}

// handleTick forwards the raw tick to subscribed sessions, then resolves
// the owning market and applies the patch. Ticks for instruments not in the
// catalog are forwarded but never patched: a tick carries no catalog
// metadata, so it cannot create a snapshot.
func (f *PolymarketFeed) handleTick(pc polymarket.WSPriceChange) {
	f.sink.forwardTick(f.ctx(), pc)

	price, err := strconv.ParseFloat(pc.Price, 64)
	if err != nil {
		f.logger.Warn("tick with unparseable price, discarding", "asset_id", pc.AssetID, "price", pc.Price)
		return
	}

	snap, ok := f.sink.cache.GetByToken(pc.AssetID)
	if !ok {
		f.logger.Warn("tick for unknown instrument, discarding", "asset_id", pc.AssetID)
		return
	}

	idx := snap.TokenIndex(pc.AssetID)
	if idx < 0 {
		f.logger.Warn("tick instrument missing from snapshot outcomes, discarding",
			"asset_id", pc.AssetID, "market_id", snap.MarketID)
		return
	}

	f.sink.apply(f.ctx(), snap.MarketID, domain.PricePatch{
		OutcomeIndex: idx,
		Price:        price,
		At:           time.Now().UTC(),
	})
}

func (f *PolymarketFeed) ctx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runCtx != nil {
		return f.runCtx
	}
	return context.Background()
}
