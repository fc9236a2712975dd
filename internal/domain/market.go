package domain

import (
	"strings"
	"time"
)

// Platform identifies a supported prediction-market venue.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return p == PlatformPolymarket || p == PlatformKalshi
}

// Outcome is one resolution side of a market together with its latest price
// and the platform-specific tradable instrument identifier. Outcomes are
// ordered; the order is significant and preserved through the store boundary.
type Outcome struct {
	Label   string  `json:"label"`
	Price   float64 `json:"price"`
	TokenID string  `json:"tokenId,omitempty"`
}

// MarketSnapshot is the latest known state of one market: catalog metadata
// plus live prices. Identity is (Platform, MarketID); MarketID alone is
// unique across both platforms in practice (tickers vs. numeric ids).
type MarketSnapshot struct {
	Platform    Platform   `json:"platform"`
	MarketID    string     `json:"marketId"`
	Title       string     `json:"title"`
	Category    string     `json:"category,omitempty"`
	Outcomes    []Outcome  `json:"outcomes"`
	Liquidity   float64    `json:"liquidity"`
	Volume      float64    `json:"volume"`
	BestBid     float64    `json:"bestBid"`
	BestAsk     float64    `json:"bestAsk"`
	Spread      float64    `json:"spread"`
	Active      bool       `json:"active"`
	Closed      bool       `json:"closed"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// OutcomeIndex returns the index of the outcome whose label matches name
// case-insensitively, or -1 when no outcome matches.
func (m *MarketSnapshot) OutcomeIndex(name string) int {
	for i, o := range m.Outcomes {
		if strings.EqualFold(o.Label, name) {
			return i
		}
	}
	return -1
}

// TokenIndex returns the index of the outcome carrying the given instrument
// id, or -1 when no outcome carries it.
func (m *MarketSnapshot) TokenIndex(tokenID string) int {
	for i, o := range m.Outcomes {
		if o.TokenID != "" && o.TokenID == tokenID {
			return i
		}
	}
	return -1
}

// Expired reports whether the market's end date is set and in the past.
func (m *MarketSnapshot) Expired(now time.Time) bool {
	return m.EndDate != nil && m.EndDate.Before(now)
}

// PricePatch is a partial price update applied to one market snapshot by
// streaming feed ingestion. Only the outcome at OutcomeIndex is touched;
// BestBid/BestAsk are updated when non-nil and the spread is recomputed.
type PricePatch struct {
	OutcomeIndex int
	Price        float64
	BestBid      *float64
	BestAsk      *float64
	At           time.Time
}
