package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
)

// StreamConfig tunes the websocket entry stream
type StreamConfig struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	CheckOrigin    func(r *http.Request) bool
}

// DefaultStreamConfig returns the standard stream settings. The ping
// period must stay under the pong timeout or healthy clients get dropped.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Topic for the unfiltered stream of every appended entry
const topicAllEntries = "entries"

// agentTopic names the per-agent stream
func agentTopic(agentID string) string {
	return "agent:" + agentID
}

// streamMessage is the outbound frame
type streamMessage struct {
	Type    string       `json:"type"`
	Topic   string       `json:"topic,omitempty"`
	Entry   *trail.Entry `json:"entry,omitempty"`
	Message string       `json:"message,omitempty"`
}

// clientMessage is the inbound frame
type clientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// broadcastItem pairs a marshaled frame with its topic
type broadcastItem struct {
	topic   string
	payload []byte
}

// streamClient is one connected subscriber
type streamClient struct {
	id            uuid.UUID
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	subMu         sync.Mutex
}

// EntryStreamHub fans appended entries out to websocket subscribers. It
// implements the ledger notifier, so appends push frames without polling.
type EntryStreamHub struct {
	config StreamConfig
	logger *slog.Logger
	auth   *AuthMiddleware

	upgrader websocket.Upgrader

	clients   map[uuid.UUID]*streamClient
	clientsMu sync.RWMutex

	// topic -> client ids
	subscriptions map[string]map[uuid.UUID]bool
	subMu         sync.RWMutex

	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan broadcastItem

	done     chan struct{}
	stopOnce sync.Once
}

// NewEntryStreamHub creates the hub. auth may be nil for open streams.
func NewEntryStreamHub(config StreamConfig, auth *AuthMiddleware, logger *slog.Logger) *EntryStreamHub {
	if config.PingPeriod <= 0 || config.PingPeriod >= config.PongTimeout {
		defaults := DefaultStreamConfig()
		config.PingPeriod = defaults.PingPeriod
		config.PongTimeout = defaults.PongTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultStreamConfig().WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultStreamConfig().MaxMessageSize
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &EntryStreamHub{
		config: config,
		logger: logger,
		auth:   auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients:       make(map[uuid.UUID]*streamClient),
		subscriptions: make(map[string]map[uuid.UUID]bool),
		register:      make(chan *streamClient),
		unregister:    make(chan *streamClient),
		broadcast:     make(chan broadcastItem, 256),
		done:          make(chan struct{}),
	}
}

// Start launches the hub loop
func (h *EntryStreamHub) Start() {
	go h.run()
}

// Shutdown closes every client and stops the loop
func (h *EntryStreamHub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.done) })

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for _, client := range h.clients {
		client.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.conn.Close()
	}
	h.clients = make(map[uuid.UUID]*streamClient)
	return nil
}

// NotifyAppended pushes a sealed entry to its agent topic and the
// firehose. Called on the append path, so a full queue drops the frame
// instead of blocking the write.
func (h *EntryStreamHub) NotifyAppended(entry *trail.Entry) {
	frame := streamMessage{
		Type:  "entry_appended",
		Topic: agentTopic(entry.AgentID),
		Entry: entry,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("stream_marshal_failed", "error", err.Error())
		return
	}

	for _, topic := range []string{frame.Topic, topicAllEntries} {
		select {
		case h.broadcast <- broadcastItem{topic: topic, payload: payload}:
		default:
			h.logger.Warn("stream_broadcast_dropped", "topic", topic)
		}
	}
}

func (h *EntryStreamHub) run() {
	for {
		select {
		case <-h.done:
			return
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client.id] = client
			h.clientsMu.Unlock()
		case client := <-h.unregister:
			h.removeClient(client)
		case item := <-h.broadcast:
			h.deliver(item)
		}
	}
}

// deliver fans one frame out to a topic's subscribers. Slow clients get
// dropped rather than stalling the hub.
func (h *EntryStreamHub) deliver(item broadcastItem) {
	h.subMu.RLock()
	subscribers := make([]uuid.UUID, 0, len(h.subscriptions[item.topic]))
	for id := range h.subscriptions[item.topic] {
		subscribers = append(subscribers, id)
	}
	h.subMu.RUnlock()

	for _, id := range subscribers {
		h.clientsMu.RLock()
		client, ok := h.clients[id]
		h.clientsMu.RUnlock()
		if !ok {
			continue
		}

		select {
		case client.send <- item.payload:
		default:
			h.logger.Warn("stream_client_stalled", "client_id", id.String())
			h.removeClient(client)
		}
	}
}

func (h *EntryStreamHub) removeClient(client *streamClient) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
	}
	h.clientsMu.Unlock()

	h.subMu.Lock()
	for topic := range h.subscriptions {
		delete(h.subscriptions[topic], client.id)
		if len(h.subscriptions[topic]) == 0 {
			delete(h.subscriptions, topic)
		}
	}
	h.subMu.Unlock()
}

func (h *EntryStreamHub) subscribe(client *streamClient, topic string) {
	if topic == "" {
		return
	}
	h.subMu.Lock()
	if h.subscriptions[topic] == nil {
		h.subscriptions[topic] = make(map[uuid.UUID]bool)
	}
	h.subscriptions[topic][client.id] = true
	h.subMu.Unlock()

	client.subMu.Lock()
	client.subscriptions[topic] = true
	client.subMu.Unlock()
}

func (h *EntryStreamHub) unsubscribe(client *streamClient, topic string) {
	h.subMu.Lock()
	if subs := h.subscriptions[topic]; subs != nil {
		delete(subs, client.id)
		if len(subs) == 0 {
			delete(h.subscriptions, topic)
		}
	}
	h.subMu.Unlock()

	client.subMu.Lock()
	delete(client.subscriptions, topic)
	client.subMu.Unlock()
}

// ServeHTTP upgrades the connection and runs the client pumps. Browsers
// cannot set headers on websocket dials, so the token rides a query
// parameter when auth is on.
func (h *EntryStreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil && h.auth.Enabled() {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = extractToken(r)
		}
		claims, err := h.auth.validateToken(token)
		if err != nil || !scopeGranted(claims.Scopes, ScopeTrailRead) {
			writeUnauthorized(w, "Valid token with trail:read scope required")
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream_upgrade_failed", "error", err.Error())
		return
	}

	client := &streamClient{
		id:            uuid.New(),
		conn:          conn,
		send:          make(chan []byte, 64),
		subscriptions: make(map[string]bool),
	}

	conn.SetReadLimit(h.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		return nil
	})

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Agent-scoped subscription straight from the URL keeps one-agent
	// dashboards from needing a subscribe round trip.
	if agentID := r.URL.Query().Get("agent_id"); agentID != "" {
		h.subscribe(client, agentTopic(agentID))
	}

	welcome, _ := json.Marshal(streamMessage{
		Type:    "connected",
		Message: client.id.String(),
	})
	client.send <- welcome

	go h.writePump(client)
	go h.readPump(client)
}

func (h *EntryStreamHub) readPump(client *streamClient) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	for {
		var msg clientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("stream_read_failed",
					"client_id", client.id.String(),
					"error", err.Error(),
				)
			}
			return
		}

		switch msg.Type {
		case "subscribe":
			h.subscribe(client, msg.Topic)
		case "unsubscribe":
			h.unsubscribe(client, msg.Topic)
		case "ping":
			pong, _ := json.Marshal(streamMessage{Type: "pong"})
			select {
			case client.send <- pong:
			default:
			}
		}
	}
}

func (h *EntryStreamHub) writePump(client *streamClient) {
	ticker := time.NewTicker(h.config.PingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
