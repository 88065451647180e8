// Package fanout pushes relay events to live viewers over websockets.
//
// Delivery is best-effort and at-most-once per viewer: Broadcast never
// blocks, and a viewer whose buffer is full or whose connection failed
// is dropped rather than waited for.
package fanout

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentrelay/internal/metrics"
	"github.com/eldtechnologies/agentrelay/internal/models"
)

// DefaultBuffer is the per-viewer queue length.
const DefaultBuffer = 256

// Reasons a viewer leaves the hub.
const (
	reasonDisconnected = "disconnected"
	reasonWriteFailed  = "write failed"
	reasonBufferFull   = "send buffer full"
)

// Hub is the registry of connected viewers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	buffer   int
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// Options configures a Hub.
type Options struct {
	// Buffer is the per-viewer queue length. Zero means DefaultBuffer.
	Buffer int
	// AllowedOrigins lists origins permitted to open a viewer connection.
	// Empty or containing "*" allows any origin.
	AllowedOrigins []string
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger, opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		buffer:  opts.Buffer,
		logger:  logger.With().Str("component", "fanout").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeWS upgrades the request and registers the viewer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(h, conn, h.buffer)
	if !h.register(client) {
		client.close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Broadcast queues evt for every connected viewer.
// The caller's order of Broadcast calls is the order viewers observe.
func (h *Hub) Broadcast(evt models.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error().Err(err).Str("event", evt.Type).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		if !c.enqueue(data) {
			h.unregister(c, reasonBufferFull)
		}
	}

	metrics.EventsBroadcast.WithLabelValues(evt.Type).Inc()
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.closed = true
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	metrics.LiveViewers.Set(0)
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.LiveViewers.Set(float64(len(h.clients)))

	h.logger.Info().Str("viewer", c.id).Int("viewers", len(h.clients)).Msg("viewer connected")
	return true
}

func (h *Hub) unregister(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		metrics.LiveViewers.Set(float64(len(h.clients)))
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	c.close()

	if !ok {
		return
	}
	if reason == reasonBufferFull {
		metrics.ViewersDropped.Inc()
		h.logger.Warn().
			Str("type", "fanout").
			Str("viewer", c.id).
			Msg("viewer dropped: send buffer full")
		return
	}
	h.logger.Info().Str("viewer", c.id).Str("reason", reason).Int("viewers", remaining).Msg("viewer disconnected")
}
