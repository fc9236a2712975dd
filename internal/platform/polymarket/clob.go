package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/crypto"
	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// zeroAddress is the taker for publicly fillable orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient implements domain.TradingClient against the Polymarket CLOB
// (Central Limit Order Book) API. One client is built per user from their
// resolved credentials.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	hmacAuth      *crypto.HMACAuth
	signatureType int
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer holds the user's wallet key for EIP-712 order signatures.
// hmac may be nil; DeriveAPIKey populates it from the CLOB auth flow.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, signatureType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:        signer,
		hmacAuth:      hmac,
		signatureType: signatureType,
	}
}

// PlaceOrder signs and submits a limit order. Price is in probability units
// and quantity in shares; both are scaled to the CLOB's 1e6 fixed-point
// integer amounts before signing.
func (c *ClobClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.TokenID == "" {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: order has no token id", domain.ErrInvalidOrder)
	}
	if req.Price <= 0 || req.Price >= 1 || req.Quantity <= 0 {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: price=%v qty=%v", domain.ErrInvalidOrder, req.Price, req.Quantity)
	}

	// For a BUY the maker gives collateral (price*qty) and takes shares;
	// for a SELL the maker gives shares and takes collateral.
	notional := big.NewInt(int64(math.Round(req.Price * req.Quantity * 1e6)))
	shares := big.NewInt(int64(math.Round(req.Quantity * 1e6)))

	var makerAmount, takerAmount *big.Int
	var sideInt int
	switch req.Side {
	case domain.OrderSideBuy:
		makerAmount, takerAmount = notional, shares
		sideInt = 0
	case domain.OrderSideSell:
		makerAmount, takerAmount = shares, notional
		sideInt = 1
	default:
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: side %q", domain.ErrInvalidOrder, req.Side)
	}

	address := c.signer.Address().Hex()
	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int63(), 10),
		Maker:         address,
		Signer:        address,
		Taker:         zeroAddress,
		TokenID:       req.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: c.signatureType,
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	sideStr := "BUY"
	if sideInt == 1 {
		sideStr = "SELL"
	}
	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideStr,
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.apiKeyOwner(),
		"orderType": "FOK",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	result := domain.OrderResult{
		Success: apiResult.Success,
		OrderID: apiResult.OrderID,
		Status:  apiResult.Status,
		Message: apiResult.ErrorMsg,
	}
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: order rejected: %s", apiResult.ErrorMsg)
	}
	result.FilledPrice = req.Price
	result.FilledSize = req.Quantity
	return result, nil
}

// CancelOrder cancels a single order by its ID.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("polymarket/clob: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetOrderBook retrieves the depth snapshot for one outcome token. The book
// endpoint is public; no authentication headers are attached.
func (c *ClobClient) GetOrderBook(ctx context.Context, marketID, tokenID string) (domain.OrderBook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/book?"+params.Encode(), nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book for %s: %w", tokenID, err)
	}

	var apiBook APIBook
	if err := json.Unmarshal(respBody, &apiBook); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	book := apiBook.ToOrderBook()
	if book.MarketID == "" {
		book.MarketID = marketID
	}
	return book, nil
}

// GetPortfolio returns the wallet's positions from the Polymarket data API.
func (c *ClobClient) GetPortfolio(ctx context.Context) (domain.Portfolio, error) {
	address := c.signer.Address().Hex()
	reqURL := "https://data-api.polymarket.com/positions?user=" + url.QueryEscape(address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("polymarket/clob: create positions request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("polymarket/clob: get positions: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("polymarket/clob: read positions: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return domain.Portfolio{}, fmt.Errorf("polymarket/clob: get positions: %w", err)
	}

	var apiPositions []struct {
		ConditionID string  `json:"conditionId"`
		Outcome     string  `json:"outcome"`
		Size        float64 `json:"size"`
		AvgPrice    float64 `json:"avgPrice"`
	}
	if err := json.Unmarshal(respBody, &apiPositions); err != nil {
		return domain.Portfolio{}, fmt.Errorf("polymarket/clob: decode positions: %w", err)
	}

	pf := domain.Portfolio{Platform: domain.PlatformPolymarket}
	for _, p := range apiPositions {
		pf.Entries = append(pf.Entries, domain.PortfolioEntry{
			MarketID: p.ConditionID,
			Outcome:  p.Outcome,
			Shares:   p.Size,
			AvgPrice: p.AvgPrice,
		})
	}
	return pf, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success it populates the client's hmacAuth.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

func (c *ClobClient) apiKeyOwner() string {
	if c.hmacAuth != nil {
		return c.hmacAuth.Key
	}
	return ""
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
			req.Header.Set(k, v)
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

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// Compile-time interface check.
var _ domain.TradingClient = (*ClobClient)(nil)
