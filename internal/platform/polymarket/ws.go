package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsReadWait is the maximum silence tolerated before the connection is
	// considered dead. Pings every pingInterval keep a healthy connection
	// well inside this window.
	wsReadWait = 60 * time.Second

	// pingInterval is how often an application-level ping is sent.
	pingInterval = 10 * time.Second
)

// PriceChangeHandler is called for every price tick received on the market
// channel.
type PriceChangeHandler func(WSPriceChange)

// BookHandler is called for every full book snapshot frame.
type BookHandler func(WSBook)

// WSClient is a single-connection WebSocket client for the Polymarket CLOB
// market data feed. It covers one connection lifetime: Connect, Subscribe,
// then Listen until the connection drops. Reconnection is the caller's
// responsibility; a fresh Connect reuses the same client.
type WSClient struct {
	wsURL string

	mu   sync.Mutex
	conn *websocket.Conn

	handlerMu     sync.RWMutex
	priceHandlers []PriceChangeHandler
	bookHandlers  []BookHandler
}

// NewWSClient creates a client for the given WebSocket URL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{wsURL: wsURL}
}

// OnPriceChange registers a handler for price tick frames.
func (w *WSClient) OnPriceChange(h PriceChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, h)
}

// OnBook registers a handler for book snapshot frames.
func (w *WSClient) OnBook(h BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, h)
}

// Connect dials the WebSocket endpoint. Any previous connection is closed
// first.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.conn = conn
	w.mu.Unlock()

	return nil
}

// Subscribe sends a market-channel subscription for the given outcome token
// IDs. Must be called after Connect.
func (w *WSClient) Subscribe(assetIDs []string) error {
	cmd := WSCommand{
		Type:    "subscribe",
		Channel: "market",
		Assets:  assetIDs,
	}
	if err := w.writeJSON(cmd); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// Listen reads frames and dispatches them to registered handlers until the
// connection fails or ctx is cancelled. It always returns a non-nil error
// describing why the session ended; on a dead connection the error wraps
// domain.ErrWSDisconnect.
func (w *WSClient) Listen(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.pingLoop(sessionCtx)

	// Unblock ReadMessage when ctx is cancelled.
	go func() {
		<-sessionCtx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: %w: %v", domain.ErrWSDisconnect, err)
		}
		w.handleMessage(message)
	}
}

// Close tears down the current connection, if any.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := w.conn.Close()
	w.conn = nil
	return err
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// writeJSON marshals and sends a frame under the write lock.
func (w *WSClient) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends an application-level ping frame on a fixed interval so a
// silently dead connection fails the read deadline instead of idling.
func (w *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.writeJSON(WSCommand{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and routes it by event type. The feed
// delivers both single events and arrays of events.
func (w *WSClient) handleMessage(raw []byte) {
	if len(raw) == 0 {
		return
	}

	if raw[0] == '[' {
		var frames []json.RawMessage
		if err := json.Unmarshal(raw, &frames); err != nil {
			return
		}
		for _, f := range frames {
			w.handleEvent(f)
		}
		return
	}

	w.handleEvent(raw)
}

func (w *WSClient) handleEvent(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // drop unparseable frames
	}

	switch envelope.EventType {
	case "price_change", "last_trade_price":
		var pc WSPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(pc)
		}

	case "book":
		var book WSBook
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(book)
		}
	}
}
