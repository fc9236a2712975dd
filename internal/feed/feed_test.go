package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradetrigger/internal/cache/memory"
	"github.com/alanyoungcy/tradetrigger/internal/domain"
	"github.com/alanyoungcy/tradetrigger/internal/platform/kalshi"
	"github.com/alanyoungcy/tradetrigger/internal/platform/polymarket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeMarketStore records price updates; the remaining methods are inert.
type fakeMarketStore struct {
	mu           sync.Mutex
	priceUpdates map[string][]float64
	active       []domain.MarketSnapshot
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{priceUpdates: make(map[string][]float64)}
}

func (f *fakeMarketStore) Upsert(context.Context, domain.MarketSnapshot) error        { return nil }
func (f *fakeMarketStore) UpsertBatch(context.Context, []domain.MarketSnapshot) error { return nil }
func (f *fakeMarketStore) GetByID(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}
func (f *fakeMarketStore) GetByTokenID(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}
func (f *fakeMarketStore) ListActive(_ context.Context, _ domain.Platform, _ domain.ListOpts) ([]domain.MarketSnapshot, error) {
	return f.active, nil
}
func (f *fakeMarketStore) UpdatePrices(_ context.Context, marketID string, prices []float64, _, _, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceUpdates[marketID] = prices
	return nil
}
func (f *fakeMarketStore) Delete(context.Context, string) error { return nil }
func (f *fakeMarketStore) DeleteExpired(context.Context, time.Time) ([]string, error) {
	return nil, nil
}
func (f *fakeMarketStore) Count(context.Context) (int64, error) { return 0, nil }

func (f *fakeMarketStore) updatesFor(marketID string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priceUpdates[marketID]
}

// fakeBus records published payloads per channel.
type fakeBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{payloads: make(map[string][][]byte)}
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[channel] = append(f.payloads[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func polymarketSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Platform: domain.PlatformPolymarket,
		MarketID: "0xabc",
		Title:    "Will the bill pass?",
		Outcomes: []domain.Outcome{
			{Label: "Yes", Price: 0.40, TokenID: "tok-yes"},
			{Label: "No", Price: 0.60, TokenID: "tok-no"},
		},
		Active: true,
	}
}

func kalshiSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Platform: domain.PlatformKalshi,
		MarketID: "RAIN-25DEC31",
		Title:    "Rain in NYC on Dec 31?",
		Outcomes: []domain.Outcome{
			{Label: "Yes", Price: 0.30, TokenID: "RAIN-25DEC31"},
			{Label: "No", Price: 0.70, TokenID: "RAIN-25DEC31"},
		},
		Active: true,
	}
}

func TestPolymarketTickPatchesCacheAndStore(t *testing.T) {
	cache := memory.New(testLogger())
	cache.Upsert(polymarketSnapshot())
	store := newFakeMarketStore()
	bus := newFakeBus()

	f := NewPolymarketFeed(polymarket.NewWSClient("ws://unused"), cache, store, bus, testLogger())

	f.handleTick(polymarket.WSPriceChange{
		EventType: "price_change",
		AssetID:   "tok-no",
		Price:     "0.55",
	})

	got, ok := cache.Get("0xabc")
	require.True(t, ok)
	assert.InDelta(t, 0.55, got.Outcomes[1].Price, 1e-9)
	assert.InDelta(t, 0.40, got.Outcomes[0].Price, 1e-9, "other outcome untouched")

	prices := store.updatesFor("0xabc")
	require.NotNil(t, prices, "store receives the patched prices")
	assert.InDelta(t, 0.55, prices[1], 1e-9)

	events := bus.payloads[domain.ChannelMarkets]
	require.Len(t, events, 2, "raw tick first, patched snapshot second")

	var raw polymarket.WSPriceChange
	require.NoError(t, json.Unmarshal(events[0], &raw))
	assert.Equal(t, "tok-no", raw.AssetID)

	var event domain.MarketUpdateEvent
	require.NoError(t, json.Unmarshal(events[1], &event))
	assert.Equal(t, "0xabc", event.MarketID)
	assert.InDelta(t, 0.55, event.Prices[1], 1e-9)
}

func TestPolymarketTickUnknownInstrumentDiscarded(t *testing.T) {
	cache := memory.New(testLogger())
	store := newFakeMarketStore()
	bus := newFakeBus()

	f := NewPolymarketFeed(polymarket.NewWSClient("ws://unused"), cache, store, bus, testLogger())

	f.handleTick(polymarket.WSPriceChange{
		EventType: "price_change",
		AssetID:   "tok-unlisted",
		Price:     "0.50",
	})

	assert.Equal(t, 0, cache.Len(), "a tick never creates a snapshot")
	assert.Empty(t, store.priceUpdates)
	require.Len(t, bus.payloads[domain.ChannelMarkets], 1, "raw tick still reaches live sessions")
	var raw polymarket.WSPriceChange
	require.NoError(t, json.Unmarshal(bus.payloads[domain.ChannelMarkets][0], &raw))
	assert.Equal(t, "tok-unlisted", raw.AssetID)
}

func TestPolymarketTickBadPriceDiscarded(t *testing.T) {
	cache := memory.New(testLogger())
	cache.Upsert(polymarketSnapshot())
	store := newFakeMarketStore()

	f := NewPolymarketFeed(polymarket.NewWSClient("ws://unused"), cache, store, newFakeBus(), testLogger())
	f.handleTick(polymarket.WSPriceChange{AssetID: "tok-yes", Price: "not-a-number"})

	got, _ := cache.Get("0xabc")
	assert.InDelta(t, 0.40, got.Outcomes[0].Price, 1e-9)
}

func TestKalshiTickPatchesBothOutcomes(t *testing.T) {
	cache := memory.New(testLogger())
	cache.Upsert(kalshiSnapshot())
	store := newFakeMarketStore()
	bus := newFakeBus()

	f := NewKalshiFeed(kalshi.NewWSClient("ws://unused"), cache, store, bus, testLogger())

	f.handleTick(kalshi.WSTicker{
		Ticker: "RAIN-25DEC31",
		Price:  35,
		YesBid: 34,
		YesAsk: 36,
	})

	got, ok := cache.Get("RAIN-25DEC31")
	require.True(t, ok)
	assert.InDelta(t, 0.35, got.Outcomes[0].Price, 1e-9)
	assert.InDelta(t, 0.65, got.Outcomes[1].Price, 1e-9, "No side tracks the complement")
	assert.InDelta(t, 0.34, got.BestBid, 1e-9)
	assert.InDelta(t, 0.36, got.BestAsk, 1e-9)
	assert.InDelta(t, 0.02, got.Spread, 1e-9)
}

func TestKalshiTickUnknownMarketDiscarded(t *testing.T) {
	cache := memory.New(testLogger())
	store := newFakeMarketStore()
	bus := newFakeBus()

	f := NewKalshiFeed(kalshi.NewWSClient("ws://unused"), cache, store, bus, testLogger())
	f.handleTick(kalshi.WSTicker{Ticker: "GHOST-TICKER", Price: 50})

	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, store.priceUpdates)
	assert.Len(t, bus.payloads[domain.ChannelMarkets], 1, "raw tick still reaches live sessions")
}

// fakeSource counts lifecycle calls and fails a configurable number of
// connects before succeeding.
type fakeSource struct {
	mu           sync.Mutex
	connects     int
	listens      int
	failConnects int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.failConnects {
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeSource) Subscribe(context.Context) error { return nil }

func (f *fakeSource) Listen(ctx context.Context) error {
	f.mu.Lock()
	f.listens++
	n := f.listens
	f.mu.Unlock()

	if n < 2 {
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.listens
}

func TestSupervisorReconnectsAfterFailures(t *testing.T) {
	src := &fakeSource{failConnects: 2}
	sup := NewSupervisor(src, time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Wait until the source reaches a stable session: two failed connects,
	// one dropped session, then a session that holds.
	require.Eventually(t, func() bool {
		connects, listens := src.counts()
		return connects == 4 && listens == 2 && sup.State() == StateReceiving
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDisconnected, sup.State())
}

func TestSupervisorStopsWhenCancelledWhileRetrying(t *testing.T) {
	src := &fakeSource{failConnects: 1 << 30}
	sup := NewSupervisor(src, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		connects, _ := src.counts()
		return connects >= 1
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancellation")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "receiving", StateReceiving.String())
}
