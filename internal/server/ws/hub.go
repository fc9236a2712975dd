package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per session.
	sendBufferSize = 64
)

// userChannelPattern matches every per-user event channel on the bus.
const userChannelPattern = "events:user:*"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// session is a single WebSocket connection owned by one user. A user may
// hold several sessions at once (multiple tabs, devices).
type session struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// envelope is the frame format pushed to clients: a type tag plus the raw
// event payload as published on the bus.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub maintains the per-user session registry and bridges the signal bus to
// connected clients. Market updates fan out to every session; rule-trigger
// events are routed only to the owning user's sessions. Delivery is
// fire-and-forget: a session whose send buffer is full has the message
// dropped.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*session]struct{} // keyed by user id

	register   chan *session
	unregister chan *session

	bus    domain.SignalBus
	logger *slog.Logger
}

// NewHub creates a Hub bridging the given signal bus to WebSocket sessions.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]map[*session]struct{}),
		register:   make(chan *session),
		unregister: make(chan *session),
		bus:        bus,
		logger:     logger,
	}
}

// Run starts the hub loop and the bus bridges. It blocks until the context
// is cancelled and always returns the context error.
func (h *Hub) Run(ctx context.Context) error {
	go h.bridgeMarkets(ctx)
	go h.bridgeUserEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, sessions := range h.sessions {
				for s := range sessions {
					close(s.send)
				}
			}
			h.sessions = make(map[string]map[*session]struct{})
			h.mu.Unlock()
			return ctx.Err()

		case s := <-h.register:
			h.mu.Lock()
			if h.sessions[s.userID] == nil {
				h.sessions[s.userID] = make(map[*session]struct{})
			}
			h.sessions[s.userID][s] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("ws: session connected",
				slog.String("user_id", s.userID),
				slog.Int("total_sessions", h.sessionCount()),
			)

		case s := <-h.unregister:
			h.mu.Lock()
			if sessions, ok := h.sessions[s.userID]; ok {
				if _, ok := sessions[s]; ok {
					delete(sessions, s)
					close(s.send)
					if len(sessions) == 0 {
						delete(h.sessions, s.userID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info("ws: session disconnected",
				slog.String("user_id", s.userID),
				slog.Int("total_sessions", h.sessionCount()),
			)
		}
	}
}

// bridgeMarkets forwards market-update events from the bus to every session.
func (h *Hub) bridgeMarkets(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		h.logger.Error("ws: market channel subscribe failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: market channel subscription closed")
				return
			}
			h.broadcastAll(envelopeFrame("market_update", payload))
		}
	}
}

// bridgeUserEvents forwards rule-trigger events to the owning user's
// sessions. The pattern subscription delivers only the payload, so the
// target user is read back out of the event JSON.
func (h *Hub) bridgeUserEvents(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, userChannelPattern)
	if err != nil {
		h.logger.Error("ws: user channel subscribe failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: user channel subscription closed")
				return
			}
			var target struct {
				UserID string `json:"userId"`
			}
			if err := json.Unmarshal(payload, &target); err != nil || target.UserID == "" {
				h.logger.Warn("ws: user event without userId, dropping")
				continue
			}
			h.BroadcastToUser(target.UserID, envelopeFrame("rule_triggered", payload))
		}
	}
}

// envelopeFrame wraps a raw bus payload in the client frame format.
func envelopeFrame(typ string, payload []byte) []byte {
	data, err := json.Marshal(envelope{Type: typ, Payload: payload})
	if err != nil {
		return payload
	}
	return data
}

// BroadcastToUser delivers data to every session the user currently holds.
// Sessions with a full send buffer have the message dropped.
func (h *Hub) BroadcastToUser(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[userID] {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("ws: dropping message for slow session",
				slog.String("user_id", userID),
			)
		}
	}
}

// broadcastAll delivers data to every connected session.
func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sessions := range h.sessions {
		for s := range sessions {
			select {
			case s.send <- data:
			default:
				h.logger.Warn("ws: dropping message for slow session",
					slog.String("user_id", s.userID),
				)
			}
		}
	}
}

// sessionCount returns the number of currently connected sessions.
func (h *Hub) sessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.sessions {
		n += len(sessions)
	}
	return n
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the session under the requesting user.
// GET /ws?userId=u1
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, `{"error":"userId query parameter required"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := &session{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
	}

	h.register <- s

	go s.writePump()
	go s.readPump()
}

// readPump drains the connection so close frames and pongs are processed.
// Clients do not send application messages; anything received is ignored.
func (s *session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("ws: unexpected close",
					slog.String("user_id", s.userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection and
// sends periodic ping frames for keepalive.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
