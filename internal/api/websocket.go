package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/litecore/internal/changes"
	"github.com/nerrad567/litecore/internal/infrastructure/config"
	"github.com/nerrad567/litecore/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypePing  = "ping"
	WSTypePong  = "pong"
	WSTypeEvent = "event"
	WSTypeError = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 64

	// wsPumps is the number of goroutines serving one client.
	wsPumps = 3
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub tracks WebSocket connections so shutdown can disconnect them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// WSClient is one change-stream connection. Its subscription and pumps
// end together when ctx is cancelled.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	sub    *changes.Subscription
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Read-only stream on an operator-chosen address
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub and counts its pumps for Wait. It
// reports false once the hub has shut down.
func (h *Hub) Register(client *WSClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[client] = struct{}{}
	h.wg.Add(wsPumps)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
	return true
}

// Unregister removes a client from the hub and stops its pumps.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.cancel()
	if existed {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Wait blocks until every client goroutine has exited.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// closeAll stops every client. Their pumps close the connections.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		client.cancel()
		delete(h.clients, client)
	}
}

// parseFilter reads repeated table and op query parameters.
func parseFilter(r *http.Request) (changes.Filter, error) {
	q := r.URL.Query()
	f := changes.Filter{Tables: q["table"]}
	if slices.Contains(f.Tables, "") {
		return changes.Filter{}, fmt.Errorf("empty table name")
	}
	for _, raw := range q["op"] {
		op := changes.Op(raw)
		switch op {
		case changes.OpInsert, changes.OpUpdate, changes.OpDelete:
			f.Ops = append(f.Ops, op)
		default:
			return changes.Filter{}, fmt.Errorf("unknown op %q", raw)
		}
	}
	return f, nil
}

// handleChanges subscribes before upgrading, so events committed after the
// handshake completes are never missed. srvCtx ends every stream on shutdown.
func (s *Server) handleChanges(srvCtx context.Context, w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(srvCtx)
	sub := s.engine.Subscribe(ctx, filter)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:    s.hub,
		conn:   conn,
		sub:    sub,
		send:   make(chan []byte, wsSendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if !s.hub.Register(client) {
		cancel()
		conn.Close()
		return
	}

	s.logger.Debug("change stream opened",
		"subscription", sub.ID(),
		"tables", filter.Tables,
		"ops", filter.Ops,
	)

	cfg := s.hub.cfg
	go func() { defer s.hub.wg.Done(); client.writePump(cfg) }()
	go func() { defer s.hub.wg.Done(); client.readPump(cfg) }()
	go func() { defer s.hub.wg.Done(); client.eventPump() }()
}

// eventPump moves events from the subscription to the send buffer. A
// full buffer blocks here, leaving the subscription's overflow policy to
// decide what a slow client loses.
func (c *WSClient) eventPump() {
	defer func() {
		c.sub.Close()
		c.hub.Unregister(c)
	}()

	for {
		e, err := c.sub.Next(c.ctx)
		if err != nil {
			return
		}
		data, err := json.Marshal(WSMessage{
			Type:      WSTypeEvent,
			EventType: string(e.Op),
			Timestamp: e.CommittedAt.UTC().Format(time.RFC3339Nano),
			Payload:   changes.NewMessage(e),
		})
		if err != nil {
			c.hub.logger.Error("failed to marshal change event", "error", err, "event", e.String())
			continue
		}
		select {
		case c.send <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump is the connection's only writer.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.Unregister(c)
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case <-c.ctx.Done():
			//nolint:errcheck // Best-effort close message
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message. The stream is
// read-only; clients may only ping.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendResponse("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendResponse(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

// sendResponse queues a reply unless the client is going away.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}
