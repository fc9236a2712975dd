package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
	"github.com/alanyoungcy/tradetrigger/internal/platform/kalshi"
)

// KalshiFeed streams ticker updates into the cache and store. It implements
// Source; reconnection is the supervisor's job.
type KalshiFeed struct {
	ws     *kalshi.WSClient
	store  domain.MarketStore
	sink   sink
	logger *slog.Logger

	mu     sync.Mutex
	runCtx context.Context
}

// NewKalshiFeed wires a feed over the given WebSocket client.
func NewKalshiFeed(ws *kalshi.WSClient, cache domain.MarketCache, store domain.MarketStore, bus domain.SignalBus, logger *slog.Logger) *KalshiFeed {
	logger = logger.With("component", "feed", "platform", "kalshi")
	f := &KalshiFeed{
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
	ws.OnTicker(f.handleTick)
	return f
}

// Name implements Source.
func (f *KalshiFeed) Name() string { return "kalshi" }

// Connect implements Source.
func (f *KalshiFeed) Connect(ctx context.Context) error {
	return f.ws.Connect(ctx)
}

// Subscribe enumerates the open tickers from the current catalog and
// subscribes to the ticker channel for all of them.
func (f *KalshiFeed) Subscribe(ctx context.Context) error {
	snaps, err := f.store.ListActive(ctx, domain.PlatformKalshi, domain.ListOpts{Limit: subscriptionLimit})
	if err != nil {
		return fmt.Errorf("feed: list kalshi catalog: %w", err)
	}

	tickers := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		tickers = append(tickers, snap.MarketID)
	}
	if len(tickers) == 0 {
		return fmt.Errorf("feed: no kalshi markets to subscribe to")
	}

	f.logger.Info("subscribing", "markets", len(tickers))
	return f.ws.Subscribe(tickers)
}

// Listen implements Source.
func (f *KalshiFeed) Listen(ctx context.Context) error {
	f.mu.Lock()
	f.runCtx = ctx
	f.mu.Unlock()
	return f.ws.Listen(ctx)
}

// Close implements Source.
func (f *KalshiFeed) Close() error {
	return f.ws.Close()
}

// handleTick applies a Kalshi ticker update. Prices arrive in cents; the Yes
// outcome gets the traded price and bid/ask, the No outcome the complement.
// Every tick is forwarded raw; tickers not in the catalog are never
// materialized.
func (f *KalshiFeed) handleTick(tick kalshi.WSTicker) {
	f.sink.forwardTick(f.ctx(), tick)

	snap, ok := f.sink.cache.Get(tick.Ticker)
	if !ok {
		f.logger.Warn("tick for unknown market, discarding", "ticker", tick.Ticker)
		return
	}

	yesIdx := snap.OutcomeIndex("Yes")
	if yesIdx < 0 {
		yesIdx = 0
	}

	yesPrice := tick.Price / 100
	bid := tick.YesBid / 100
	ask := tick.YesAsk / 100
	now := time.Now().UTC()

	ctx := f.ctx()
	f.sink.apply(ctx, snap.MarketID, domain.PricePatch{
		OutcomeIndex: yesIdx,
		Price:        yesPrice,
		BestBid:      &bid,
		BestAsk:      &ask,
		At:           now,
	})

	if noIdx := snap.OutcomeIndex("No"); noIdx >= 0 && noIdx != yesIdx {
		f.sink.apply(ctx, snap.MarketID, domain.PricePatch{
			OutcomeIndex: noIdx,
			Price:        1 - yesPrice,
			At:           now,
		})
	}
}

func (f *KalshiFeed) ctx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runCtx != nil {
		return f.runCtx
	}
	return context.Background()
}
