package domain

import (
	"context"
	"time"
)

// OrderRequest is the uniform order shape handed to a platform client.
type OrderRequest struct {
	MarketID string
	TokenID  string // Polymarket CLOB token; empty for Kalshi
	Outcome  string // outcome label, used by Kalshi side mapping
	Side     OrderSide
	Price    float64 // limit price in probability units [0,1]
	Quantity float64 // number of shares
}

// OrderResult wraps the platform response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	Status      string
	Message     string
	FilledPrice float64
	FilledSize  float64
	FeeUSD      float64
}

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a depth snapshot for a single outcome token.
type OrderBook struct {
	MarketID  string
	TokenID   string
	Bids      []BookLevel // sorted best first
	Asks      []BookLevel // sorted best first
	Timestamp time.Time
}

// BestBid returns the top bid price, or 0 when the side is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or 0 when the side is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// PortfolioEntry is one holding in a platform portfolio.
type PortfolioEntry struct {
	MarketID string
	Outcome  string
	Shares   float64
	AvgPrice float64
}

// Portfolio is the platform-reported account state.
type Portfolio struct {
	Platform   Platform
	BalanceUSD float64
	Entries    []PortfolioEntry
}

// TradingClient is the uniform execution port implemented once per
// platform. Implementations are constructed per user from resolved
// credentials and must not retain them beyond the client's lifetime.
type TradingClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderBook(ctx context.Context, marketID, tokenID string) (OrderBook, error)
	GetPortfolio(ctx context.Context) (Portfolio, error)
}

// TradingClientFactory builds a platform client from user credentials.
type TradingClientFactory interface {
	ClientFor(ctx context.Context, cred Credential) (TradingClient, error)
}
