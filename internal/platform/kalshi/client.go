// Package kalshi contains the REST and WebSocket clients for the Kalshi
// exchange API.
package kalshi

import (
	"bytes"
	"context"
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// Client is the REST client for the Kalshi exchange API. Catalog reads work
// unauthenticated; portfolio endpoints require an API key and RSA private
// key, so one authenticated Client is built per user.
type Client struct {
	baseURL    string
	signPrefix string // URL path prefix included in the signed message
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID may be empty for catalog-only use.
func NewClient(baseURL, apiKeyID string) *Client {
	signPrefix := ""
	if u, err := url.Parse(baseURL); err == nil {
		signPrefix = u.Path
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		signPrefix: signPrefix,
		apiKeyID:   apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// ListMarkets returns one page of open Kalshi markets as catalog snapshots,
// plus the cursor for the next page ("" when exhausted).
func (c *Client) ListMarkets(ctx context.Context, limit int, cursor string) ([]domain.MarketSnapshot, string, error) {
	params := url.Values{}
	params.Set("status", "open")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: list markets: %w", err)
	}

	var resp struct {
		Markets []APIMarket `json:"markets"`
		Cursor  string      `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode markets: %w", err)
	}

	snaps := make([]domain.MarketSnapshot, 0, len(resp.Markets))
	for i := range resp.Markets {
		snaps = append(snaps, resp.Markets[i].ToSnapshot())
	}
	return snaps, resp.Cursor, nil
}

// GetMarket returns a single market snapshot by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/markets/"+url.PathEscape(ticker), nil)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market APIMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	return resp.Market.ToSnapshot(), nil
}

// PlaceOrder submits a limit order on the Kalshi exchange. The request's
// outcome label selects the contract side; prices are converted from
// probability units to cents.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	count := int64(math.Floor(req.Quantity))
	if count < 1 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: %w: quantity %v rounds to zero contracts", domain.ErrInvalidOrder, req.Quantity)
	}

	cents := int64(math.Round(req.Price * 100))
	if cents < 1 || cents > 99 {
		return domain.OrderResult{}, fmt.Errorf("kalshi: %w: price %v out of range", domain.ErrInvalidOrder, req.Price)
	}

	order := APIOrder{
		Ticker: req.MarketID,
		Action: string(req.Side),
		Type:   "limit",
		Count:  count,
	}
	if strings.EqualFold(req.Outcome, "no") {
		order.Side = "no"
		order.NoPrice = &cents
	} else {
		order.Side = "yes"
		order.YesPrice = &cents
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp APIOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	result := domain.OrderResult{
		Success: resp.Order.Status != "canceled",
		OrderID: resp.Order.OrderID,
		Status:  resp.Order.Status,
	}
	if !result.Success {
		result.Message = "order was immediately cancelled"
		return result, fmt.Errorf("kalshi: order was immediately cancelled")
	}
	if resp.Order.TakerFillCount > 0 {
		result.FilledSize = float64(resp.Order.TakerFillCount)
		result.FilledPrice = float64(resp.Order.TakerFillCost) / float64(resp.Order.TakerFillCount) / 100
	}
	return result, nil
}

// CancelOrder cancels an existing order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil); err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return nil
}

// GetOrderBook returns the current Yes-side order book for the given ticker.
// tokenID is ignored; Kalshi addresses books by ticker alone.
func (c *Client) GetOrderBook(ctx context.Context, marketID, tokenID string) (domain.OrderBook, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/markets/"+url.PathEscape(marketID)+"/orderbook", nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: get orderbook %s: %w", marketID, err)
	}

	var resp struct {
		Orderbook APIOrderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}
	return resp.Orderbook.ToOrderBook(marketID), nil
}

// GetPortfolio returns the account balance and open positions.
func (c *Client) GetPortfolio(ctx context.Context) (domain.Portfolio, error) {
	pf := domain.Portfolio{Platform: domain.PlatformKalshi}

	balBody, err := c.doRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("kalshi: get balance: %w", err)
	}
	var bal struct {
		Balance int64 `json:"balance"` // cents
	}
	if err := json.Unmarshal(balBody, &bal); err != nil {
		return domain.Portfolio{}, fmt.Errorf("kalshi: decode balance: %w", err)
	}
	pf.BalanceUSD = float64(bal.Balance) / 100

	posBody, err := c.doRequest(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("kalshi: get positions: %w", err)
	}
	var pos struct {
		MarketPositions []struct {
			Ticker         string `json:"ticker"`
			Position       int64  `json:"position"` // signed: >0 yes, <0 no
			MarketExposure int64  `json:"market_exposure"`
		} `json:"market_positions"`
	}
	if err := json.Unmarshal(posBody, &pos); err != nil {
		return domain.Portfolio{}, fmt.Errorf("kalshi: decode positions: %w", err)
	}

	for _, p := range pos.MarketPositions {
		if p.Position == 0 {
			continue
		}
		entry := domain.PortfolioEntry{
			MarketID: p.Ticker,
			Outcome:  "Yes",
			Shares:   float64(p.Position),
		}
		if p.Position < 0 {
			entry.Outcome = "No"
			entry.Shares = float64(-p.Position)
		}
		if entry.Shares > 0 {
			entry.AvgPrice = float64(p.MarketExposure) / entry.Shares / 100
		}
		pf.Entries = append(pf.Entries, entry)
	}
	return pf, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doRequest builds, signs (when a key is configured), sends, and reads an
// HTTP request against the Kalshi API.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.privateKey != nil {
		if err := c.signRequest(req, method, path); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA authentication headers. Kalshi uses RSA-PSS-SHA256
// signatures over timestamp + method + full URL path (query excluded).
func (c *Client) signRequest(req *http.Request, method, path string) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	signPath := c.signPrefix + path
	if i := strings.IndexByte(signPath, '?'); i >= 0 {
		signPath = signPath[:i]
	}

	hash := sha256.Sum256([]byte(ts + method + signPath))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, stdcrypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate domain errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// Compile-time interface check.
var _ domain.TradingClient = (*Client)(nil)
