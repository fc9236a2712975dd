package kalshi

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
	// considered dead.
	wsReadWait = 60 * time.Second

	// pingInterval is how often an application-level ping is sent.
	pingInterval = 10 * time.Second
)

// TickerHandler is called for every price update on the ticker channel.
type TickerHandler func(WSTicker)

// WSClient is a single-connection WebSocket client for the Kalshi market
// data feed. It covers one connection lifetime: Connect, Subscribe, then
// Listen until the connection drops. Reconnection is the caller's
// responsibility.
type WSClient struct {
	wsURL string

	mu    sync.Mutex
	conn  *websocket.Conn
	cmdID int64

	handlerMu      sync.RWMutex
	tickerHandlers []TickerHandler
}

// NewWSClient creates a client for the given WebSocket URL, e.g.
// "wss://api.elections.kalshi.com/trade-api/ws/v2".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{wsURL: wsURL}
}

// OnTicker registers a handler for price updates.
func (w *WSClient) OnTicker(h TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickerHandlers = append(w.tickerHandlers, h)
}

// Connect dials the WebSocket endpoint. Any previous connection is closed
// first.
func (w *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}

	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.conn = conn
	w.mu.Unlock()

	return nil
}

// Subscribe sends a ticker-channel subscription for the given market
// tickers. Must be called after Connect.
func (w *WSClient) Subscribe(tickers []string) error {
	w.mu.Lock()
	w.cmdID++
	id := w.cmdID
	w.mu.Unlock()

	cmd := WSSubscribeCmd{
		ID:  id,
		Cmd: "subscribe",
		Params: WSSubscribeParams{
			Channels: []string{"ticker"},
			Tickers:  tickers,
		},
	}
	if err := w.writeJSON(cmd); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	return nil
}

// Listen reads frames and dispatches them to registered handlers until the
// connection fails or ctx is cancelled. It always returns a non-nil error;
// on a dead connection the error wraps domain.ErrWSDisconnect.
func (w *WSClient) Listen(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("kalshi/ws: not connected")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.pingLoop(sessionCtx)

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
			return fmt.Errorf("kalshi/ws: %w: %v", domain.ErrWSDisconnect, err)
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

// pingLoop sends an application-level ping on a fixed interval so a silently
// dead connection fails the read deadline instead of idling.
func (w *WSClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			w.cmdID++
			id := w.cmdID
			w.mu.Unlock()

			ping := struct {
				ID  int64  `json:"id"`
				Cmd string `json:"cmd"`
			}{ID: id, Cmd: "ping"}

			if err := w.writeJSON(ping); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and routes it by envelope type.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope WSMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // drop unparseable frames
	}

	switch envelope.Type {
	case "ticker":
		var tick WSTicker
		if err := json.Unmarshal(envelope.Msg, &tick); err != nil {
			return
		}

		w.handlerMu.RLock()
		handlers := w.tickerHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(tick)
		}
	}
}
