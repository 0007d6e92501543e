package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
	"github.com/smartfarm/farmbridge/internal/infrastructure/logging"
	"github.com/smartfarm/farmbridge/internal/ingest"
	"github.com/smartfarm/farmbridge/internal/telemetry"
)

// Frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Live-feed channels. ChannelAll subscribes to every channel.
const (
	ChannelSensorRound   = "sensor.round"
	ChannelActuatorEvent = "actuator.event"
	ChannelDeviceStatus  = "device.status"
	ChannelAll           = "all"
)

var liveChannels = []string{ChannelSensorRound, ChannelActuatorEvent, ChannelDeviceStatus}

// SensorRoundEvent is the payload of a sensor.round broadcast.
type SensorRoundEvent struct {
	DeviceID   string                    `json:"device_id"`
	Readings   []telemetry.SensorReading `json:"readings"`
	ReceivedAt time.Time                 `json:"received_at"`
}

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
//
// DeviceID, when set on subscribe, limits sensor.round and device.status
// events to that device. Actuator events carry no device and always pass.
// An empty DeviceID on subscribe clears the filter.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	DeviceID string   `json:"device_id,omitempty"`
}

// inboundMessage defers payload decoding until the type is known.
type inboundMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub manages WebSocket connections and broadcasts events. It implements
// ingest.Notifier so handled broker messages reach subscribed clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	closed  bool
	mu      sync.RWMutex

	// onCount, if set, is called with the client count after every change.
	onCount func(int)

	// dropped counts events skipped because a client's buffer was full.
	dropped atomic.Uint64
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	device        string // empty: every device
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
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

// OnClientCount registers fn to receive the client count whenever it
// changes. Call before Run.
func (h *Hub) OnClientCount(fn func(int)) {
	h.onCount = fn
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub. A client arriving after shutdown is
// closed straight away.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		h.logger.Debug("websocket client rejected, hub closed")
		return
	}
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
	h.countChanged(n)
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.countChanged(n)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends an event to all clients subscribed to channel, regardless
// of their device filter.
func (h *Hub) Broadcast(channel string, payload any) {
	h.broadcast(channel, "", payload)
}

// broadcast delivers to subscribers of channel whose device filter admits
// deviceID. An empty deviceID passes every filter.
// Lock ordering: the hub lock is released before per-client checks, so hub
// and client locks are never held together.
func (h *Hub) broadcast(channel, deviceID string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sentCount := 0
	for _, client := range clients {
		if !client.wants(channel, deviceID) {
			continue
		}
		if client.trySend(data) {
			sentCount++
		} else {
			h.dropped.Add(1)
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// SensorRound broadcasts a stored combined sensor message.
func (h *Hub) SensorRound(readings []telemetry.SensorReading, at time.Time) {
	if len(readings) == 0 {
		return
	}
	h.broadcast(ChannelSensorRound, readings[0].DeviceID, SensorRoundEvent{
		DeviceID:   readings[0].DeviceID,
		Readings:   readings,
		ReceivedAt: at.UTC(),
	})
}

// ActuatorEvent broadcasts a recorded actuator state report.
func (h *Hub) ActuatorEvent(ev telemetry.ActuatorEvent) {
	h.Broadcast(ChannelActuatorEvent, ev)
}

// DeviceStatus broadcasts a device presence announcement.
func (h *Hub) DeviceStatus(st telemetry.DeviceStatus) {
	h.broadcast(ChannelDeviceStatus, st.DeviceID, st)
}

// expandChannels resolves ChannelAll and rejects unknown names.
func expandChannels(names []string) ([]string, string, bool) {
	out := make([]string, 0, len(names))
	for _, ch := range names {
		switch ch {
		case ChannelAll:
			out = append(out, liveChannels...)
		case ChannelSensorRound, ChannelActuatorEvent, ChannelDeviceStatus:
			out = append(out, ch)
		default:
			return nil, ch, false
		}
	}
	return out, "", true
}

func (h *Hub) countChanged(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// Dropped returns how many events were skipped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.countChanged(0)
}

// handleWebSocket upgrades the HTTP connection to a live-feed connection.
// Clients receive nothing until they subscribe:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["sensor.round"],"device_id":"greenhouse-1"}}
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeSubscription returns the payload, its expanded channel list, or a
// problem to report to the client.
func decodeSubscription(msg inboundMessage) (WSSubscribePayload, []string, string) {
	var sub WSSubscribePayload
	if len(msg.Payload) == 0 {
		return sub, nil, "payload with channels is required"
	}
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		return sub, nil, "invalid " + msg.Type + " payload"
	}
	channels, unknown, ok := expandChannels(sub.Channels)
	if !ok {
		return sub, nil, "unknown channel: " + unknown
	}
	return sub, channels, ""
}

// handleSubscribe adds channels to the client's subscriptions and replaces
// its device filter.
func (c *WSClient) handleSubscribe(msg inboundMessage) {
	sub, channels, problem := decodeSubscription(msg)
	if problem != "" {
		c.sendError(msg.ID, problem)
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.device = sub.DeviceID
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "channels", channels, "device_id", sub.DeviceID)

	reply := map[string]any{"subscribed": channels}
	if sub.DeviceID != "" {
		reply["device_id"] = sub.DeviceID
	}
	c.sendResponse(msg.ID, WSTypeResponse, reply)
}

// handleUnsubscribe removes channels from the client's subscriptions.
func (c *WSClient) handleUnsubscribe(msg inboundMessage) {
	_, channels, problem := decodeSubscription(msg)
	if problem != "" {
		c.sendError(msg.ID, problem)
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the client has already been closed.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil { // send on closed channel
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// wants reports whether an event on channel about deviceID should reach c.
func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[channel]; !ok {
		return false
	}
	return c.device == "" || deviceID == "" || c.device == deviceID
}

// sendResponse queues a reply to a client request.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}

var _ ingest.Notifier = (*Hub)(nil)
