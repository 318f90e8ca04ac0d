// Package stream broadcasts engine lifecycle events to WebSocket clients,
// so a dashboard or terminal watcher can follow a paper session live.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"oi-trader/internal/models"
)

// EventType tags a hub event.
type EventType string

const (
	EventSessionReset    EventType = "session_reset"
	EventPositionOpened  EventType = "position_opened"
	EventPositionUpdated EventType = "position_updated"
	EventTradeClosed     EventType = "trade_closed"
)

// Event is one broadcast message. Payload is already render-ready.
type Event struct {
	Type    EventType   `json:"type"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// HubConfig holds configuration for the event hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// ClientBufferSize is the size of each client's send buffer.
	ClientBufferSize int
	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration
	// PingInterval is how often idle connections are pinged.
	PingInterval time.Duration
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:       256,
		ClientBufferSize: 64,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Hub fans events out to WebSocket clients. Sends to clients are
// non-blocking; a client that cannot keep up loses events rather than
// stalling the engine.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	events  chan Event
	done    chan struct{}
	started bool

	eventsPublished uint64
	eventsDropped   uint64
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub with default configuration.
func NewHub(log zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), log)
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig, log zerolog.Logger) *Hub {
	return &Hub{
		config:  config,
		log:     log,
		clients: make(map[*client]bool),
		events:  make(chan Event, config.BufferSize),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start begins the broadcast loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

// Stop closes every client connection and halts the loop.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	close(h.done)
	h.started = false
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Publish queues an event for broadcast. Non-blocking; with a full buffer
// the event is dropped.
func (h *Hub) Publish(event Event) {
	select {
	case h.events <- event:
	default:
		h.mu.Lock()
		h.eventsDropped++
		h.mu.Unlock()
	}
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", string(ev.Type)).Msg("event marshal failed")
		return
	}

	h.mu.Lock()
	h.eventsPublished++
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.eventsDropped++
		}
	}
	h.mu.Unlock()
}

// ServeWS upgrades an HTTP request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.config.ClientBufferSize)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Metrics returns broadcast counters.
func (h *Hub) Metrics() (published, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.eventsPublished, h.eventsDropped
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (h *Hub) writePump(c *client) {
	ping := time.NewTicker(h.config.PingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pings and close frames are processed;
// inbound payloads are ignored.
func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// OnSessionReset implements the engine recorder.
func (h *Hub) OnSessionReset(date time.Time) {
	h.Publish(Event{Type: EventSessionReset, Time: time.Now(), Payload: map[string]string{
		"date": date.Format("2006-01-02"),
	}})
}

// OnPositionOpened implements the engine recorder.
func (h *Hub) OnPositionOpened(pos models.Position) {
	h.Publish(Event{Type: EventPositionOpened, Time: time.Now(), Payload: pos})
}

// OnPositionUpdated implements the engine recorder.
func (h *Hub) OnPositionUpdated(pos models.Position) {
	h.Publish(Event{Type: EventPositionUpdated, Time: time.Now(), Payload: pos})
}

// OnTradeClosed implements the engine recorder.
func (h *Hub) OnTradeClosed(trade models.Trade) {
	h.Publish(Event{Type: EventTradeClosed, Time: time.Now(), Payload: trade})
}
