package refresh

import (
	"context"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
	"github.com/alanyoungcy/tradetrigger/internal/platform/kalshi"
	"github.com/alanyoungcy/tradetrigger/internal/platform/polymarket"
)

// PolymarketCatalog adapts the Gamma REST client to the Catalog interface.
type PolymarketCatalog struct {
	client *polymarket.GammaClient
}

// NewPolymarketCatalog wraps a Gamma client.
func NewPolymarketCatalog(client *polymarket.GammaClient) *PolymarketCatalog {
	return &PolymarketCatalog{client: client}
}

// Platform implements Catalog.
func (c *PolymarketCatalog) Platform() domain.Platform { return domain.PlatformPolymarket }

// Fetch pages through the Gamma listing by offset until maxMarkets or a
// short page.
func (c *PolymarketCatalog) Fetch(ctx context.Context, pageSize, maxMarkets int) ([]domain.MarketSnapshot, error) {
	var out []domain.MarketSnapshot
	for offset := 0; len(out) < maxMarkets; offset += pageSize {
		page, err := c.client.ListMarkets(ctx, pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			break
		}
	}
	if len(out) > maxMarkets {
		out = out[:maxMarkets]
	}
	return out, nil
}

// KalshiCatalog adapts the Kalshi REST client to the Catalog interface.
type KalshiCatalog struct {
	client *kalshi.Client
}

// NewKalshiCatalog wraps a Kalshi client.
func NewKalshiCatalog(client *kalshi.Client) *KalshiCatalog {
	return &KalshiCatalog{client: client}
}

// Platform implements Catalog.
func (c *KalshiCatalog) Platform() domain.Platform { return domain.PlatformKalshi }

// Fetch pages through the Kalshi listing by cursor until maxMarkets or the
// cursor runs out.
func (c *KalshiCatalog) Fetch(ctx context.Context, pageSize, maxMarkets int) ([]domain.MarketSnapshot, error) {
	var out []domain.MarketSnapshot
	cursor := ""
	for len(out) < maxMarkets {
		page, next, err := c.client.ListMarkets(ctx, pageSize, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}
	if len(out) > maxMarkets {
		out = out[:maxMarkets]
	}
	return out, nil
}
