package memory

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sampleSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Platform: domain.PlatformPolymarket,
		MarketID: "mkt-1",
		Title:    "Will it rain tomorrow?",
		Outcomes: []domain.Outcome{
			{Label: "Yes", Price: 0.62, TokenID: "tok-yes"},
			{Label: "No", Price: 0.38, TokenID: "tok-no"},
		},
		BestBid:     0.61,
		BestAsk:     0.63,
		Spread:      0.02,
		Active:      true,
		LastUpdated: time.Now(),
	}
}

func TestUpsertAndGet(t *testing.T) {
	c := New(testLogger())
	snap := sampleSnapshot()
	c.Upsert(snap)

	got, ok := c.Get("mkt-1")
	require.True(t, ok)
	assert.Equal(t, snap.Title, got.Title)
	assert.Equal(t, 2, len(got.Outcomes))
	assert.Equal(t, 1, c.Len())

	byTok, ok := c.GetByToken("tok-no")
	require.True(t, ok)
	assert.Equal(t, "mkt-1", byTok.MarketID)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestUpsertReplacesTokenIndex(t *testing.T) {
	c := New(testLogger())
	c.Upsert(sampleSnapshot())

	updated := sampleSnapshot()
	updated.Outcomes = []domain.Outcome{
		{Label: "Yes", Price: 0.70, TokenID: "tok-yes-v2"},
		{Label: "No", Price: 0.30, TokenID: "tok-no-v2"},
	}
	c.Upsert(updated)

	_, ok := c.GetByToken("tok-yes")
	assert.False(t, ok, "stale token id should be unindexed")
	got, ok := c.GetByToken("tok-yes-v2")
	require.True(t, ok)
	assert.InDelta(t, 0.70, got.Outcomes[0].Price, 1e-9)
}

func TestPatchPrice(t *testing.T) {
	c := New(testLogger())
	c.Upsert(sampleSnapshot())

	bid, ask := 0.64, 0.66
	now := time.Now()
	ok := c.PatchPrice("mkt-1", domain.PricePatch{
		OutcomeIndex: 0,
		Price:        0.65,
		BestBid:      &bid,
		BestAsk:      &ask,
		At:           now,
	})
	require.True(t, ok)

	got, _ := c.Get("mkt-1")
	assert.InDelta(t, 0.65, got.Outcomes[0].Price, 1e-9)
	assert.InDelta(t, 0.38, got.Outcomes[1].Price, 1e-9, "other outcomes untouched")
	assert.InDelta(t, 0.02, got.Spread, 1e-9)
	assert.Equal(t, now, got.LastUpdated)
}

func TestPatchPriceCrossedQuotesKeepSpreadNonNegative(t *testing.T) {
	c := New(testLogger())
	c.Upsert(sampleSnapshot())

	bid, ask := 0.60, 0.55
	ok := c.PatchPrice("mkt-1", domain.PricePatch{
		OutcomeIndex: 0,
		Price:        0.58,
		BestBid:      &bid,
		BestAsk:      &ask,
		At:           time.Now(),
	})
	require.True(t, ok)

	got, _ := c.Get("mkt-1")
	assert.InDelta(t, 0.05, got.Spread, 1e-9, "spread is the quote distance even when the book crosses")
}

func TestPatchPriceUnknownMarketIsDropped(t *testing.T) {
	c := New(testLogger())
	ok := c.PatchPrice("ghost", domain.PricePatch{OutcomeIndex: 0, Price: 0.5})
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "a tick must never create a snapshot")
}

func TestPatchPriceIndexOutOfRange(t *testing.T) {
	c := New(testLogger())
	c.Upsert(sampleSnapshot())
	ok := c.PatchPrice("mkt-1", domain.PricePatch{OutcomeIndex: 5, Price: 0.5})
	assert.False(t, ok)
}

func TestSubscribeNotifiedOnWrites(t *testing.T) {
	c := New(testLogger())
	var got []string
	c.Subscribe(func(snap domain.MarketSnapshot) {
		got = append(got, snap.MarketID)
	})

	c.Upsert(sampleSnapshot())
	c.PatchPrice("mkt-1", domain.PricePatch{OutcomeIndex: 1, Price: 0.33})
	c.PatchPrice("ghost", domain.PricePatch{OutcomeIndex: 0, Price: 0.5})

	assert.Equal(t, []string{"mkt-1", "mkt-1"}, got, "dropped patches do not notify")
}

func TestDelete(t *testing.T) {
	c := New(testLogger())
	c.Upsert(sampleSnapshot())
	c.Delete("mkt-1")

	_, ok := c.Get("mkt-1")
	assert.False(t, ok)
	_, ok = c.GetByToken("tok-yes")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(testLogger())
	c.Upsert(sampleSnapshot())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.PatchPrice("mkt-1", domain.PricePatch{OutcomeIndex: 0, Price: 0.5})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap, ok := c.Get("mkt-1")
				if ok {
					// Each read observes a consistent snapshot.
					require.Len(t, snap.Outcomes, 2)
				}
			}
		}()
	}
	wg.Wait()
}
