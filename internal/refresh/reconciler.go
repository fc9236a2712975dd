// Package refresh reconciles the durable market catalog with each
// platform's REST listing on a recurring schedule and warms the cache.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// Catalog is one platform's market listing source.
type Catalog interface {
	Platform() domain.Platform
	// Fetch returns up to maxMarkets active markets, paging by pageSize.
	Fetch(ctx context.Context, pageSize, maxMarkets int) ([]domain.MarketSnapshot, error)
}

// Config tunes the reconciler.
type Config struct {
	Interval   time.Duration
	PageSize   int
	MaxMarkets int
}

// catalogRateLimit caps catalog fetches per platform inside
// catalogRateWindow, shared across processes through the limiter backend.
// Refresh can be triggered on demand over HTTP, so the cap protects the
// platform APIs from a request loop.
const (
	catalogRateLimit  = 4
	catalogRateWindow = time.Minute
)

// Reconciler keeps the market store and cache in sync with the platform
// catalogs.
type Reconciler struct {
	store    domain.MarketStore
	cache    domain.MarketCache
	catalogs []Catalog
	limiter  domain.RateLimiter
	logger   *slog.Logger

	interval   time.Duration
	pageSize   int
	maxMarkets int
}

// New creates a reconciler over the given catalog sources. limiter may be
// nil to disable fetch throttling.
func New(store domain.MarketStore, cache domain.MarketCache, catalogs []Catalog, limiter domain.RateLimiter, cfg Config, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxMarkets <= 0 {
		cfg.MaxMarkets = 500
	}
	return &Reconciler{
		store:      store,
		cache:      cache,
		catalogs:   catalogs,
		limiter:    limiter,
		logger:     logger.With("component", "refresh"),
		interval:   cfg.Interval,
		pageSize:   cfg.PageSize,
		maxMarkets: cfg.MaxMarkets,
	}
}

// Run reconciles once immediately, then on every interval tick until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile runs one full reconciliation pass: expire old snapshots, then
// fetch and apply each platform's catalog. A failure on one platform never
// aborts the others.
func (r *Reconciler) Reconcile(ctx context.Context) {
	started := time.Now()

	removed, err := r.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Error("delete expired markets failed", "error", err)
	} else if len(removed) > 0 {
		// Evaluation reads the cache first; expired snapshots must leave
		// both tiers in the same pass.
		for _, id := range removed {
			r.cache.Delete(id)
		}
		r.logger.Info("expired markets removed", "count", len(removed))
	}

	total := 0
	for _, catalog := range r.catalogs {
		n, err := r.reconcilePlatform(ctx, catalog)
		if err != nil {
			r.logger.Error("catalog fetch failed",
				"platform", string(catalog.Platform()), "error", err)
			continue
		}
		total += n
	}

	r.logger.Info("reconciliation complete",
		"markets", total, "elapsed", time.Since(started))
}

// reconcilePlatform fetches one platform's catalog and applies it to the
// store and cache. Cache upserts notify the evaluation engine.
func (r *Reconciler) reconcilePlatform(ctx context.Context, catalog Catalog) (int, error) {
	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, "refresh:"+string(catalog.Platform()), catalogRateLimit, catalogRateWindow)
		if err != nil {
			r.logger.Warn("rate limiter unavailable, proceeding",
				"platform", string(catalog.Platform()), "error", err)
		} else if !allowed {
			r.logger.Info("catalog fetch rate limited, skipping",
				"platform", string(catalog.Platform()))
			return 0, nil
		}
	}

	snaps, err := catalog.Fetch(ctx, r.pageSize, r.maxMarkets)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	live := snaps[:0]
	for _, snap := range snaps {
		if snap.Expired(now) {
			// A fetched entry can carry an end date that turned past since
			// the last pass; the stored row still has the old future date.
			if err := r.store.Delete(ctx, snap.MarketID); err != nil {
				r.logger.Warn("delete expired market failed",
					"market_id", snap.MarketID, "error", err)
			}
			r.cache.Delete(snap.MarketID)
			continue
		}
		snap.LastUpdated = now
		live = append(live, snap)
	}

	if err := r.store.UpsertBatch(ctx, live); err != nil {
		return 0, err
	}
	for _, snap := range live {
		r.cache.Upsert(snap)
	}

	r.logger.Debug("platform reconciled",
		"platform", string(catalog.Platform()), "markets", len(live))
	return len(live), nil
}
