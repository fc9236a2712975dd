// Package memory provides the in-process market snapshot cache that feeds
// rule evaluation. All reads and writes go through a single mutex, so each
// update is atomic with respect to concurrent readers.
package memory

import (
	"log/slog"
	"math"
	"sync"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// MarketCache implements domain.MarketCache with a map guarded by a RWMutex.
// Listeners registered via Subscribe are invoked synchronously after each
// successful write, outside the lock.
type MarketCache struct {
	mu        sync.RWMutex
	byID      map[string]domain.MarketSnapshot
	byToken   map[string]string // token id -> market id
	listeners []func(domain.MarketSnapshot)
	logger    *slog.Logger
}

// New creates an empty MarketCache.
func New(logger *slog.Logger) *MarketCache {
	return &MarketCache{
		byID:    make(map[string]domain.MarketSnapshot),
		byToken: make(map[string]string),
		logger:  logger.With("component", "market_cache"),
	}
}

// Upsert stores a full snapshot, replacing any previous entry for the same
// market, and notifies listeners.
func (c *MarketCache) Upsert(snap domain.MarketSnapshot) {
	c.mu.Lock()
	if prev, ok := c.byID[snap.MarketID]; ok {
		for _, o := range prev.Outcomes {
			if o.TokenID != "" {
				delete(c.byToken, o.TokenID)
			}
		}
	}
	c.byID[snap.MarketID] = snap
	for _, o := range snap.Outcomes {
		if o.TokenID != "" {
			c.byToken[o.TokenID] = snap.MarketID
		}
	}
	c.mu.Unlock()

	c.notify(snap)
}

// Get returns the snapshot for a market id.
func (c *MarketCache) Get(marketID string) (domain.MarketSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.byID[marketID]
	return snap, ok
}

// GetByToken returns the snapshot owning the given outcome token id.
func (c *MarketCache) GetByToken(tokenID string) (domain.MarketSnapshot, bool) {
	c.mu.RLock()
	marketID, ok := c.byToken[tokenID]
	if !ok {
		c.mu.RUnlock()
		return domain.MarketSnapshot{}, false
	}
	snap, ok := c.byID[marketID]
	c.mu.RUnlock()
	return snap, ok
}

// PatchPrice applies a partial price update to an existing snapshot and
// notifies listeners. Patches for unknown markets are dropped with a warning;
// a tick never creates a snapshot.
func (c *MarketCache) PatchPrice(marketID string, patch domain.PricePatch) bool {
	c.mu.Lock()
	snap, ok := c.byID[marketID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("price patch for unknown market dropped", "market_id", marketID)
		return false
	}
	if patch.OutcomeIndex < 0 || patch.OutcomeIndex >= len(snap.Outcomes) {
		c.mu.Unlock()
		c.logger.Warn("price patch outcome index out of range",
			"market_id", marketID, "index", patch.OutcomeIndex, "outcomes", len(snap.Outcomes))
		return false
	}

	outcomes := make([]domain.Outcome, len(snap.Outcomes))
	copy(outcomes, snap.Outcomes)
	outcomes[patch.OutcomeIndex].Price = patch.Price
	snap.Outcomes = outcomes

	if patch.BestBid != nil {
		snap.BestBid = *patch.BestBid
	}
	if patch.BestAsk != nil {
		snap.BestAsk = *patch.BestAsk
	}
	if patch.BestBid != nil || patch.BestAsk != nil {
		// Crossed books happen; spread is the quote distance, never signed.
		snap.Spread = math.Abs(snap.BestAsk - snap.BestBid)
	}
	snap.LastUpdated = patch.At

	c.byID[marketID] = snap
	c.mu.Unlock()

	c.notify(snap)
	return true
}

// Delete removes a snapshot and its token index entries.
func (c *MarketCache) Delete(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.byID[marketID]
	if !ok {
		return
	}
	for _, o := range snap.Outcomes {
		if o.TokenID != "" {
			delete(c.byToken, o.TokenID)
		}
	}
	delete(c.byID, marketID)
}

// Len returns the number of cached snapshots.
func (c *MarketCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Subscribe registers a listener invoked after every Upsert or PatchPrice.
// Listeners must not block; slow consumers should hand off to their own
// goroutine or channel.
func (c *MarketCache) Subscribe(fn func(snap domain.MarketSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *MarketCache) notify(snap domain.MarketSnapshot) {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
