package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicolatrozzi/spiro/internal/experiment"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
	"github.com/nicolatrozzi/spiro/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 64
)

// WSMessage is a message to or from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans experiment events out to WebSocket clients. It implements
// experiment.WSHub.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// snapshot returns the current value of a channel, sent to a client
	// when it subscribes.
	snapshot func(channel string) (any, bool)
}

var _ experiment.WSHub = (*Hub)(nil)

// WSClient is one WebSocket connection.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// origins are checked by the CORS middleware
		return true
	},
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client. Only the caller that removes it from the
// map closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends payload to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection. Channels listed in the
// "channels" query parameter are subscribed immediately.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	if q := r.URL.Query().Get("channels"); q != "" {
		channels := strings.Split(q, ",")
		client.subscribe(channels)
		client.sendSnapshots(channels)
	}

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // best effort
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // best effort
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // best effort close frame
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := decodePayload(msg.Payload, &sub); err != nil {
			c.sendError(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(sub.Channels)
			c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})
			c.sendSnapshots(sub.Channels)
			return
		}
		c.unsubscribe(sub.Channels)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func decodePayload(payload, v any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// subscribe adds channels to the client's subscriptions.
func (c *WSClient) subscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		c.subscriptions[strings.TrimSpace(ch)] = struct{}{}
	}
	c.mu.Unlock()
}

// sendSnapshots sends the current value of each channel that has one.
func (c *WSClient) sendSnapshots(channels []string) {
	c.hub.mu.RLock()
	snapshot := c.hub.snapshot
	c.hub.mu.RUnlock()
	if snapshot == nil {
		return
	}
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if v, ok := snapshot(ch); ok {
			c.sendEvent(ch, v)
		}
	}
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, strings.TrimSpace(ch))
	}
	c.mu.Unlock()
}

// trySend queues data, dropping it for a slow or departed client.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	c.sendMessage(WSMessage{Type: msgType, ID: id, Payload: payload})
}

func (c *WSClient) sendEvent(channel string, payload any) {
	c.sendMessage(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
}

func (c *WSClient) sendMessage(msg WSMessage) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}

// SetSnapshot installs the source of the value sent on subscribe.
func (h *Hub) SetSnapshot(fn func(channel string) (any, bool)) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}
