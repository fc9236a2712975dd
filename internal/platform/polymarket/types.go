package polymarket

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// stringList unmarshals fields the Gamma API double-encodes: either a JSON
// array or a string containing a JSON array ("[\"Yes\",\"No\"]").
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var direct []string
	if err := json.Unmarshal(data, &direct); err == nil {
		*l = direct
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	var nested []string
	if err := json.Unmarshal([]byte(s), &nested); err != nil {
		return err
	}
	*l = nested
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Category      string     `json:"category"`
	Outcomes      stringList `json:"outcomes"`
	OutcomePrices stringList `json:"outcomePrices"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	Liquidity     string     `json:"liquidity"`
	Volume        string     `json:"volume"`
	BestBid       float64    `json:"bestBid"`
	BestAsk       float64    `json:"bestAsk"`
	Spread        float64    `json:"spread"`
	Active        flexBool   `json:"active"`
	Closed        bool       `json:"closed"`
	EndDate       string     `json:"endDate"`
}

// ToSnapshot converts a Gamma APIMarket to a domain.MarketSnapshot. Outcome
// labels, prices, and token ids are zipped positionally; a market with no
// parseable outcomes defaults to Yes/No.
func (m *APIMarket) ToSnapshot() domain.MarketSnapshot {
	labels := []string(m.Outcomes)
	if len(labels) == 0 {
		labels = []string{"Yes", "No"}
	}

	outcomes := make([]domain.Outcome, len(labels))
	for i, label := range labels {
		o := domain.Outcome{Label: label}
		if i < len(m.OutcomePrices) {
			o.Price, _ = strconv.ParseFloat(m.OutcomePrices[i], 64)
		}
		if i < len(m.ClobTokenIDs) {
			o.TokenID = m.ClobTokenIDs[i]
		}
		outcomes[i] = o
	}

	snap := domain.MarketSnapshot{
		Platform:    domain.PlatformPolymarket,
		MarketID:    m.ID,
		Title:       m.Question,
		Category:    m.Category,
		Outcomes:    outcomes,
		BestBid:     m.BestBid,
		BestAsk:     m.BestAsk,
		Spread:      m.Spread,
		Active:      bool(m.Active),
		Closed:      m.Closed,
		LastUpdated: time.Now(),
	}
	snap.Liquidity, _ = strconv.ParseFloat(m.Liquidity, 64)
	snap.Volume, _ = strconv.ParseFloat(m.Volume, 64)

	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			snap.EndDate = &t
		}
	}

	return snap
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIBook is the order book response from the CLOB /book endpoint.
type APIBook struct {
	Market    string          `json:"market"`
	AssetID   string          `json:"asset_id"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
}

// APIPriceLevel is a single bid/ask level in CLOB book data.
type APIPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ToOrderBook converts an APIBook to a domain.OrderBook. CLOB bids arrive
// worst-first; both sides are normalised to best-first.
func (b *APIBook) ToOrderBook() domain.OrderBook {
	book := domain.OrderBook{
		MarketID: b.Market,
		TokenID:  b.AssetID,
	}

	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Bids = append(book.Bids, domain.BookLevel{Price: p, Size: s})
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Asks = append(book.Asks, domain.BookLevel{Price: p, Size: s})
	}

	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })

	if ts, err := strconv.ParseInt(b.Timestamp, 10, 64); err == nil {
		book.Timestamp = time.UnixMilli(ts)
	} else {
		book.Timestamp = time.Now()
	}

	return book
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the market WebSocket to subscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// WSPriceChange is a last-trade or price-change event from the market
// channel. Each frame carries the asset (outcome token) it applies to.
type WSPriceChange struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// WSBook is a full book snapshot frame from the market channel.
type WSBook struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Bids      []APIPriceLevel `json:"bids"`
	Asks      []APIPriceLevel `json:"asks"`
	Timestamp string          `json:"timestamp"`
}
