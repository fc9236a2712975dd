package kalshi

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Kalshi REST API. Prices
// are in cents (1-99).
type APIMarket struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	Category       string  `json:"category"`
	Status         string  `json:"status"` // "active", "closed", "settled"
	YesBid         float64 `json:"yes_bid"`
	YesAsk         float64 `json:"yes_ask"`
	NoBid          float64 `json:"no_bid"`
	NoAsk          float64 `json:"no_ask"`
	LastPrice      float64 `json:"last_price"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
	Liquidity      int64   `json:"liquidity"`
	Result         string  `json:"result"` // "yes", "no", "" (unsettled)
	OpenTime       string  `json:"open_time"`
	CloseTime      string  `json:"close_time"`
	ExpirationTime string  `json:"expiration_time"`
}

// ToSnapshot converts a Kalshi market to a domain.MarketSnapshot. Cent
// prices are normalised to probability units; the No price is derived as the
// complement of Yes. The ticker doubles as the instrument id for both
// outcomes since Kalshi addresses contracts by ticker plus side.
func (m *APIMarket) ToSnapshot() domain.MarketSnapshot {
	yesPrice := m.LastPrice / 100
	if m.LastPrice == 0 {
		yesPrice = (m.YesBid + m.YesAsk) / 200
	}

	snap := domain.MarketSnapshot{
		Platform: domain.PlatformKalshi,
		MarketID: m.Ticker,
		Title:    m.Title,
		Category: m.Category,
		Outcomes: []domain.Outcome{
			{Label: "Yes", Price: yesPrice, TokenID: m.Ticker},
			{Label: "No", Price: 1 - yesPrice, TokenID: m.Ticker},
		},
		Liquidity:   float64(m.Liquidity) / 100,
		Volume:      float64(m.Volume),
		BestBid:     m.YesBid / 100,
		BestAsk:     m.YesAsk / 100,
		Active:      m.Status == "active" || m.Status == "open",
		Closed:      m.Status == "closed" || m.Status == "settled",
		LastUpdated: time.Now(),
	}
	if snap.BestBid > 0 && snap.BestAsk > 0 {
		snap.Spread = snap.BestAsk - snap.BestBid
	}

	if m.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
			snap.EndDate = &t
		}
	}

	return snap
}

// APIOrderbook represents the orderbook for a Kalshi market. Both sides are
// bid ladders: asks for Yes are implied by No bids at 100-price.
type APIOrderbook struct {
	Yes []APIPriceLevel `json:"yes"`
	No  []APIPriceLevel `json:"no"`
}

// APIPriceLevel is a single [price, quantity] entry in the Kalshi orderbook.
// The API encodes levels as two-element arrays.
type APIPriceLevel [2]int64

// Price returns the level price in cents.
func (l APIPriceLevel) Price() int64 { return l[0] }

// Quantity returns the contract count at this level.
func (l APIPriceLevel) Quantity() int64 { return l[1] }

// ToOrderBook converts a Kalshi orderbook to a domain.OrderBook for the Yes
// side: Yes bids directly, Yes asks derived from No bids (100 - no price).
func (b *APIOrderbook) ToOrderBook(ticker string) domain.OrderBook {
	book := domain.OrderBook{
		MarketID:  ticker,
		TokenID:   ticker,
		Timestamp: time.Now(),
	}

	// Kalshi returns bid ladders ascending; best levels are at the end.
	for i := len(b.Yes) - 1; i >= 0; i-- {
		book.Bids = append(book.Bids, domain.BookLevel{
			Price: float64(b.Yes[i].Price()) / 100,
			Size:  float64(b.Yes[i].Quantity()),
		})
	}
	for i := len(b.No) - 1; i >= 0; i-- {
		book.Asks = append(book.Asks, domain.BookLevel{
			Price: float64(100-b.No[i].Price()) / 100,
			Size:  float64(b.No[i].Quantity()),
		})
	}

	return book
}

// APIOrder represents an order to be placed on the Kalshi exchange.
type APIOrder struct {
	Ticker   string `json:"ticker"`
	Action   string `json:"action"` // "buy" or "sell"
	Side     string `json:"side"`   // "yes" or "no"
	Type     string `json:"type"`   // "market" or "limit"
	Count    int64  `json:"count"`  // number of contracts
	YesPrice *int64 `json:"yes_price,omitempty"` // limit price in cents (1-99)
	NoPrice  *int64 `json:"no_price,omitempty"`  // limit price in cents (1-99)
	ClientID string `json:"client_order_id,omitempty"`
}

// APIOrderResponse represents the API response after placing an order.
type APIOrderResponse struct {
	Order struct {
		OrderID        string `json:"order_id"`
		Ticker         string `json:"ticker"`
		Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
		Action         string `json:"action"`
		Side           string `json:"side"`
		YesPrice       int64  `json:"yes_price"`
		NoPrice        int64  `json:"no_price"`
		TakerFillCount int64  `json:"taker_fill_count"`
		TakerFillCost  int64  `json:"taker_fill_cost"`
		RemainingCount int64  `json:"remaining_count"`
	} `json:"order"`
}

// APIErrorResponse represents a Kalshi API error response.
type APIErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// WSMessage is the envelope for Kalshi WebSocket messages.
type WSMessage struct {
	Type string          `json:"type"` // "ticker", "orderbook_snapshot", "error", ...
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

// WSTicker is a price update on the ticker channel. Prices are in cents.
type WSTicker struct {
	Ticker string  `json:"market_ticker"`
	Price  float64 `json:"price"`
	YesBid float64 `json:"yes_bid"`
	YesAsk float64 `json:"yes_ask"`
	Volume int64   `json:"volume"`
	TS     int64   `json:"ts"`
}

// WSSubscribeCmd is the command sent to subscribe to Kalshi WebSocket
// channels.
type WSSubscribeCmd struct {
	ID     int64             `json:"id"`
	Cmd    string            `json:"cmd"` // "subscribe" or "unsubscribe"
	Params WSSubscribeParams `json:"params"`
}

// WSSubscribeParams defines the subscription parameters.
type WSSubscribeParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}
