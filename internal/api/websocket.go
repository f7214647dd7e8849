package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/nerrad567/homie-core/internal/homie"
	"github.com/nerrad567/homie-core/internal/infrastructure/config"
	"github.com/nerrad567/homie-core/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every event type.
	WSChannelAll = "*"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
// Channels are event type names or "*".
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// WSEventPayload is the payload of an event message.
//
// Discovery events carry a snapshot of the discovered entity; property
// events always carry the property.
type WSEventPayload struct {
	DeviceID   string          `json:"device_id"`
	NodeID     string          `json:"node_id,omitempty"`
	PropertyID string          `json:"property_id,omitempty"`
	Attribute  string          `json:"attribute,omitempty"`
	Value      any             `json:"value,omitempty"`
	Device     *homie.Device   `json:"device,omitempty"`
	Node       *homie.Node     `json:"node,omitempty"`
	Property   *homie.Property `json:"property,omitempty"`
}

// ClientGauge tracks the connected client count. prometheus.Gauge satisfies it.
type ClientGauge interface {
	Set(float64)
}

// Hub manages WebSocket connections and fans registry events out to them.
// It is a homie.Observer.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients *xsync.Map[*WSClient, struct{}]
	gauge   ClientGauge
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions *xsync.Map[string, struct{}]
	subject       string // token subject, empty when auth is disabled
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: xsync.NewMap[*WSClient, struct{}](),
	}
}

// SetClientGauge reports the client count to g on every connect and disconnect.
func (h *Hub) SetClientGauge(g ClientGauge) {
	h.gauge = g
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.clients.Store(client, struct{}{})
	h.reportClients()
	h.logger.Debug("websocket client connected", "subject", client.subject, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the caller that removes the client closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	if _, existed := h.clients.LoadAndDelete(client); existed {
		close(client.send)
	}
	h.reportClients()
	h.logger.Debug("websocket client disconnected", "subject", client.subject, "clients", h.ClientCount())
}

// OnEvent implements homie.Observer. The event is serialised before
// returning, so no reference to the live model escapes dispatch.
func (h *Hub) OnEvent(evt homie.Event) error {
	if h.ClientCount() == 0 {
		return nil
	}
	h.Broadcast(string(evt.Type), eventPayload(evt))
	return nil
}

// Broadcast sends a payload to all clients subscribed to the given channel.
func (h *Hub) Broadcast(channel string, payload any) {
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

	sentCount := 0
	h.clients.Range(func(client *WSClient, _ struct{}) bool {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
		return true
	})
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return h.clients.Size()
}

func (h *Hub) reportClients() {
	if h.gauge != nil {
		h.gauge.Set(float64(h.ClientCount()))
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.clients.Range(func(client *WSClient, _ struct{}) bool {
		if _, existed := h.clients.LoadAndDelete(client); existed {
			close(client.send)
			if client.conn != nil {
				client.conn.Close()
			}
		}
		return true
	})
	h.reportClients()
}

// eventPayload converts an event into its wire form.
func eventPayload(evt homie.Event) WSEventPayload {
	p := WSEventPayload{
		DeviceID:  evt.DeviceID(),
		NodeID:    evt.NodeID(),
		Attribute: evt.AttributeName,
		Value:     evt.UpdatedValue,
	}
	if evt.Property != nil {
		p.PropertyID = evt.Property.ID
		p.Property = evt.Property.DeepCopy()
	}
	switch evt.Type {
	case homie.DeviceDiscovered:
		p.Device = evt.Device.DeepCopy()
	case homie.NodeDiscovered:
		p.Node = evt.Node.DeepCopy()
	}
	return p
}

// validChannel reports whether name is an event type or the wildcard.
func validChannel(name string) bool {
	return name == WSChannelAll || slices.Contains(homie.AllEventTypes, homie.EventType(name))
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication has already happened in authMiddleware. An optional
// ?channels=a,b query subscribes the client on connect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var initial []string
	if v := r.URL.Query().Get("channels"); v != "" {
		for _, ch := range strings.Split(v, ",") {
			ch = strings.TrimSpace(ch)
			if !validChannel(ch) {
				writeBadRequest(w, "unknown channel: "+ch)
				return
			}
			initial = append(initial, ch)
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: newSubscriptions(initial...),
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		client.subject = claims.Subject
	}
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func newSubscriptions(channels ...string) *xsync.Map[string, struct{}] {
	subs := xsync.NewMap[string, struct{}]()
	for _, ch := range channels {
		subs.Store(ch, struct{}{})
	}
	return subs
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
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
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
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
	var msg WSMessage
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

// decodeChannels extracts and validates the channel list of a
// subscribe/unsubscribe message.
func decodeChannels(msg WSMessage) ([]string, string) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, "invalid payload"
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		return nil, "invalid " + msg.Type + " payload"
	}
	for _, ch := range sub.Channels {
		if !validChannel(ch) {
			return nil, "unknown channel: " + ch
		}
	}
	return sub.Channels, ""
}

// handleSubscribe adds channels to the client's subscription list.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, problem := decodeChannels(msg)
	if problem != "" {
		c.sendError(msg.ID, problem)
		return
	}

	for _, ch := range channels {
		c.subscriptions.Store(ch, struct{}{})
	}

	c.hub.logger.Info("websocket client subscribed", "subject", c.subject, "channels", channels)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": channels,
	})
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, problem := decodeChannels(msg)
	if problem != "" {
		c.sendError(msg.ID, problem)
		return
	}

	for _, ch := range channels {
		c.subscriptions.Delete(ch)
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": channels,
	})
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	if _, ok := c.subscriptions.Load(WSChannelAll); ok {
		return true
	}
	_, ok := c.subscriptions.Load(channel)
	return ok
}

// sendResponse sends a response message to the client.
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
