// Package service holds the read/write glue between the HTTP surface and
// the core: market lookups, rule and trade management, credential handling,
// and position maintenance.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// MarketService serves market reads, cache-first with store fallback.
type MarketService struct {
	markets domain.MarketStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketService creates a MarketService.
func NewMarketService(markets domain.MarketStore, cache domain.MarketCache, logger *slog.Logger) *MarketService {
	return &MarketService{
		markets: markets,
		cache:   cache,
		logger:  logger.With("component", "market_service"),
	}
}

// Get retrieves one market, checking the cache first and back-filling it on
// a store hit.
func (s *MarketService) Get(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	if snap, ok := s.cache.Get(marketID); ok {
		return snap, nil
	}

	snap, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: get %q: %w", marketID, err)
	}
	s.cache.Upsert(snap)
	return snap, nil
}

// GetByToken retrieves the market owning the given instrument id.
func (s *MarketService) GetByToken(ctx context.Context, tokenID string) (domain.MarketSnapshot, error) {
	if snap, ok := s.cache.GetByToken(tokenID); ok {
		return snap, nil
	}

	snap, err := s.markets.GetByTokenID(ctx, tokenID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: get by token %q: %w", tokenID, err)
	}
	s.cache.Upsert(snap)
	return snap, nil
}

// ListActive returns active markets for a platform directly from the store.
func (s *MarketService) ListActive(ctx context.Context, platform domain.Platform, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	snaps, err := s.markets.ListActive(ctx, platform, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return snaps, nil
}

// Count returns the catalog size.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}
