package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/btlesniffer/internal/infrastructure/config"
	"github.com/nerrad567/btlesniffer/internal/infrastructure/logging"
	"github.com/nerrad567/btlesniffer/internal/sink"
	"github.com/nerrad567/btlesniffer/internal/sniffer"
)

// Live stream message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Stream channels a client can subscribe to.
const (
	ChannelSighting = "sighting"
	ChannelHealth   = "health"
)

// wsSendBufferSize is the per-client outbound queue. A client that falls this
// far behind loses events rather than stalling the attempter.
const wsSendBufferSize = 256

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// WSMessage is the envelope of every outbound stream message.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsInbound is a client request; the payload is decoded per type.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// channelSet is a bitmask of stream channels.
type channelSet uint8

const (
	chanSighting channelSet = 1 << iota
	chanHealth
)

var channelBits = map[string]channelSet{
	ChannelSighting: chanSighting,
	ChannelHealth:   chanHealth,
}

// parseChannels returns the set named by names and any names it did not know.
func parseChannels(names []string) (channelSet, []string) {
	var set channelSet
	var unknown []string
	for _, name := range names {
		bit, ok := channelBits[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		set |= bit
	}
	return set, unknown
}

// wsTimings are the connection deadlines derived from config.
type wsTimings struct {
	pingEvery  time.Duration
	readWait   time.Duration
	writeWait  time.Duration
	maxMessage int64
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	ping := time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return wsTimings{
		pingEvery:  ping,
		readWait:   ping + pong,
		writeWait:  pong,
		maxMessage: int64(cfg.MaxMessageSize),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub streams sightings and health reports to WebSocket clients.
//
// It is a sink.Publisher and a sniffer.HealthSink, so it sits in the sighting
// fan-out and the health reporter next to MQTT. Clients receive nothing until
// they subscribe.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

var (
	_ sink.Publisher     = (*Hub)(nil)
	_ sniffer.HealthSink = (*Hub)(nil)
)

// NewHub creates a hub. Run must be called to disconnect clients on shutdown.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timings: timingsFrom(cfg),
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.shutdown()
}

// Publish streams a sighting on the "sighting" channel.
func (h *Hub) Publish(_ context.Context, s sink.Sighting) error {
	h.emit(chanSighting, ChannelSighting, s)
	return nil
}

// ReportHealth streams a health report on the "health" channel.
func (h *Hub) ReportHealth(_ context.Context, health sniffer.Health) error {
	h.emit(chanHealth, ChannelHealth, health)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) emit(bit channelSet, channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding stream event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.deliver(bit, data)
	}
}

// attach adds a client for conn. conn may be nil in tests.
func (h *Hub) attach(conn *websocket.Conn) *streamClient {
	c := &streamClient{
		hub:  h,
		conn: conn,
		out:  make(chan []byte, wsSendBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.stop()
		return c
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("stream client connected", "clients", n)
	return c
}

// detach removes c and ends its writer. Safe to call more than once.
func (h *Hub) detach(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.stop()
	if ok {
		h.logger.Debug("stream client disconnected", "clients", n)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// streamClient is one WebSocket connection. out is closed exactly once, by
// stop, and never written to afterwards.
type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte

	mu      sync.Mutex
	subs    channelSet
	stopped bool
}

// deliver queues data if the client subscribes to bit. A full queue drops it.
func (c *streamClient) deliver(bit channelSet, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.subs&bit == 0 {
		return
	}
	select {
	case c.out <- data:
	default:
	}
}

// enqueue queues a reply regardless of subscriptions.
func (c *streamClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	select {
	case c.out <- data:
	default:
	}
}

func (c *streamClient) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.out)
	}
}

func (c *streamClient) update(set channelSet, subscribe bool) {
	c.mu.Lock()
	if subscribe {
		c.subs |= set
	} else {
		c.subs &^= set
	}
	c.mu.Unlock()
}

func (c *streamClient) subscribed(bit channelSet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs&bit != 0
}

// handleWebSocket upgrades the connection and starts its read and write loops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authenticateWebSocket(w, r) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := s.hub.attach(conn)
	go c.writeLoop()
	go c.readLoop()
}

func (c *streamClient) readLoop() {
	t := c.hub.timings
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.maxMessage)
	//nolint:errcheck // Best-effort deadline; a failure surfaces on read
	c.conn.SetReadDeadline(time.Now().Add(t.readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(t.readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream client read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline; a failure surfaces on read
		c.conn.SetReadDeadline(time.Now().Add(t.readWait))
		c.handle(data)
	}
}

func (c *streamClient) writeLoop() {
	t := c.hub.timings
	ping := time.NewTicker(t.pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // Best-effort deadline; a failure surfaces on write
		c.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.out:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Connection is closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one client request.
func (c *streamClient) handle(data []byte) {
	var req wsInbound
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscription(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

// changeSubscription applies a subscribe or unsubscribe request. A request
// naming an unknown channel changes nothing.
func (c *streamClient) changeSubscription(req wsInbound) {
	var body WSSubscribePayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &body); err != nil {
			c.reply(req.ID, WSTypeError, errorPayload("invalid subscription payload"))
			return
		}
	}

	set, unknown := parseChannels(body.Channels)
	if len(unknown) > 0 {
		c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+strings.Join(unknown, ", ")))
		return
	}

	subscribe := req.Type == WSTypeSubscribe
	c.update(set, subscribe)

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.hub.logger.Debug("stream subscription changed", key, body.Channels)
	c.reply(req.ID, WSTypeResponse, map[string]any{key: body.Channels})
}

func (c *streamClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
