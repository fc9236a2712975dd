package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradetrigger/internal/cache/memory"
	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeMarketStore struct {
	mu             sync.Mutex
	upserted       []domain.MarketSnapshot
	deleted        []string
	expiredIDs     []string
	expiredDeletes int
}

func (f *fakeMarketStore) Upsert(_ context.Context, snap domain.MarketSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, snap)
	return nil
}

func (f *fakeMarketStore) UpsertBatch(ctx context.Context, snaps []domain.MarketSnapshot) error {
	for _, s := range snaps {
		if err := f.Upsert(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMarketStore) GetByID(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}
func (f *fakeMarketStore) GetByTokenID(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}
func (f *fakeMarketStore) ListActive(context.Context, domain.Platform, domain.ListOpts) ([]domain.MarketSnapshot, error) {
	return nil, nil
}
func (f *fakeMarketStore) UpdatePrices(context.Context, string, []float64, float64, float64, float64) error {
	return nil
}

func (f *fakeMarketStore) Delete(_ context.Context, marketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, marketID)
	return nil
}

func (f *fakeMarketStore) DeleteExpired(context.Context, time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiredDeletes++
	return f.expiredIDs, nil
}

func (f *fakeMarketStore) Count(context.Context) (int64, error) { return 0, nil }

func (f *fakeMarketStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserted)
}

type fakeCatalog struct {
	platform domain.Platform
	snaps    []domain.MarketSnapshot
	err      error
	calls    int
}

func (f *fakeCatalog) Platform() domain.Platform { return f.platform }

func (f *fakeCatalog) Fetch(context.Context, int, int) ([]domain.MarketSnapshot, error) {
	f.calls++
	return f.snaps, f.err
}

func snap(platform domain.Platform, id string) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Platform: platform,
		MarketID: id,
		Title:    "market " + id,
		Outcomes: []domain.Outcome{
			{Label: "Yes", Price: 0.5, TokenID: "tok-" + id},
			{Label: "No", Price: 0.5},
		},
		Active: true,
	}
}

func TestReconcileUpsertsCatalogIntoStoreAndCache(t *testing.T) {
	store := &fakeMarketStore{}
	cache := memory.New(testLogger())

	poly := &fakeCatalog{
		platform: domain.PlatformPolymarket,
		snaps:    []domain.MarketSnapshot{snap(domain.PlatformPolymarket, "pm-1")},
	}
	kal := &fakeCatalog{
		platform: domain.PlatformKalshi,
		snaps:    []domain.MarketSnapshot{snap(domain.PlatformKalshi, "KX-1"), snap(domain.PlatformKalshi, "KX-2")},
	}

	r := New(store, cache, []Catalog{poly, kal}, nil, Config{}, testLogger())
	r.Reconcile(context.Background())

	assert.Equal(t, 1, store.expiredDeletes, "expiry sweep runs first")
	assert.Equal(t, 3, store.upsertCount())
	assert.Equal(t, 3, cache.Len())

	got, ok := cache.Get("pm-1")
	require.True(t, ok)
	assert.False(t, got.LastUpdated.IsZero(), "refresh stamps last-updated")
}

func TestReconcilePlatformFailureIsIsolated(t *testing.T) {
	store := &fakeMarketStore{}
	cache := memory.New(testLogger())

	broken := &fakeCatalog{platform: domain.PlatformPolymarket, err: errors.New("gateway timeout")}
	healthy := &fakeCatalog{
		platform: domain.PlatformKalshi,
		snaps:    []domain.MarketSnapshot{snap(domain.PlatformKalshi, "KX-1")},
	}

	r := New(store, cache, []Catalog{broken, healthy}, nil, Config{}, testLogger())
	r.Reconcile(context.Background())

	assert.Equal(t, 1, healthy.calls, "healthy platform still reconciled")
	assert.Equal(t, 1, store.upsertCount())
	_, ok := cache.Get("KX-1")
	assert.True(t, ok)
}

func TestReconcileFiltersExpiredMarkets(t *testing.T) {
	store := &fakeMarketStore{}
	cache := memory.New(testLogger())
	cache.Upsert(snap(domain.PlatformKalshi, "KX-OLD"))

	past := time.Now().Add(-time.Hour)
	expired := snap(domain.PlatformKalshi, "KX-OLD")
	expired.EndDate = &past

	catalog := &fakeCatalog{
		platform: domain.PlatformKalshi,
		snaps:    []domain.MarketSnapshot{expired, snap(domain.PlatformKalshi, "KX-NEW")},
	}

	r := New(store, cache, []Catalog{catalog}, nil, Config{}, testLogger())
	r.Reconcile(context.Background())

	assert.Equal(t, 1, store.upsertCount())
	assert.Contains(t, store.deleted, "KX-OLD", "stale row removed, not left to its old end date")
	_, ok := cache.Get("KX-OLD")
	assert.False(t, ok)
	_, ok = cache.Get("KX-NEW")
	assert.True(t, ok)
}

func TestReconcileEvictsExpiredFromCache(t *testing.T) {
	past := time.Now().UTC().Add(-24 * time.Hour)
	dead := snap(domain.PlatformPolymarket, "pm-dead")
	dead.EndDate = &past

	store := &fakeMarketStore{expiredIDs: []string{"pm-dead"}}
	cache := memory.New(testLogger())
	cache.Upsert(dead)

	r := New(store, cache, nil, nil, Config{}, testLogger())
	r.Reconcile(context.Background())

	_, ok := cache.Get("pm-dead")
	require.False(t, ok, "expired snapshot must leave the cache with the store row")
	assert.Equal(t, 0, cache.Len())
}

type fakeLimiter struct {
	allow bool
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return f.allow, nil
}

func (f *fakeLimiter) Wait(context.Context, string) error { return nil }

func TestReconcileSkipsRateLimitedPlatform(t *testing.T) {
	store := &fakeMarketStore{}
	cache := memory.New(testLogger())
	catalog := &fakeCatalog{
		platform: domain.PlatformKalshi,
		snaps:    []domain.MarketSnapshot{snap(domain.PlatformKalshi, "KX-1")},
	}

	r := New(store, cache, []Catalog{catalog}, &fakeLimiter{allow: false}, Config{}, testLogger())
	r.Reconcile(context.Background())

	assert.Equal(t, 0, catalog.calls, "limited platform is not fetched")
	assert.Equal(t, 0, store.upsertCount())
}

func TestRunReconcilesImmediatelyThenStops(t *testing.T) {
	store := &fakeMarketStore{}
	cache := memory.New(testLogger())
	catalog := &fakeCatalog{
		platform: domain.PlatformKalshi,
		snaps:    []domain.MarketSnapshot{snap(domain.PlatformKalshi, "KX-1")},
	}

	r := New(store, cache, []Catalog{catalog}, nil, Config{Interval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.upsertCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
