package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/graystone-av/dsp-core/internal/atlas"
	"github.com/graystone-av/dsp-core/internal/infrastructure/config"
	"github.com/graystone-av/dsp-core/internal/infrastructure/logging"
)

// clientSendBuffer bounds per-client queued messages. A client that cannot
// keep up is disconnected rather than allowed to stall the hub.
const clientSendBuffer = 64

// Event is one message pushed to WebSocket clients.
type Event struct {
	Type        string `json:"type"` // status, param, scene, clip, meters
	ProcessorID string `json:"processor_id,omitempty"`
	Payload     any    `json:"payload"`
}

// Hub fans events out to connected WebSocket clients. Meter events are
// throttled to the configured interval, holding only the latest levels per
// processor; everything else broadcasts immediately.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	upgrader websocket.Upgrader

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	metersMu sync.Mutex
	meters   map[string][]atlas.ChannelLevel // latest levels per processor
}

// NewHub creates a hub. Call Run to start fan-out.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin enforcement happens in the CORS layer; same-host
			// panels connect without an Origin header at all.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		meters:     make(map[string][]atlas.ChannelLevel),
	}
}

// Run owns the client set and the meter flush ticker until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	interval := time.Duration(h.cfg.MeterInterval) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	clients := make(map[*wsClient]bool)
	for {
		select {
		case c := <-h.register:
			clients[c] = true
			h.logger.Debug("websocket client connected", "clients", len(clients))

		case c := <-h.unregister:
			if clients[c] {
				delete(clients, c)
				close(c.send)
			}
			h.logger.Debug("websocket client disconnected", "clients", len(clients))

		case msg := <-h.broadcast:
			for c := range clients {
				select {
				case c.send <- msg:
				default:
					delete(clients, c)
					close(c.send)
				}
			}

		case <-ticker.C:
			for _, msg := range h.flushMeters() {
				for c := range clients {
					select {
					case c.send <- msg:
					default:
						delete(clients, c)
						close(c.send)
					}
				}
			}

		case <-ctx.Done():
			for c := range clients {
				close(c.send)
			}
			return
		}
	}
}

// BroadcastStatus pushes a connection state transition.
func (h *Hub) BroadcastStatus(processorID, state string) {
	h.send(Event{Type: "status", ProcessorID: processorID, Payload: state})
}

// BroadcastParam pushes a confirmed parameter change.
func (h *Hub) BroadcastParam(processorID, param string, value float64, source string) {
	h.send(Event{Type: "param", ProcessorID: processorID, Payload: map[string]any{
		"param": param, "value": value, "source": source,
	}})
}

// BroadcastScene pushes a scene recall result.
func (h *Hub) BroadcastScene(processorID string, result any) {
	h.send(Event{Type: "scene", ProcessorID: processorID, Payload: result})
}

// BroadcastClip pushes a debounced clip transition.
func (h *Hub) BroadcastClip(processorID, direction string, index int, clipping bool) {
	h.send(Event{Type: "clip", ProcessorID: processorID, Payload: map[string]any{
		"direction": direction, "channel": index, "clipping": clipping,
	}})
}

// UpdateMeters stores the latest levels for a processor; the flush ticker
// broadcasts them at the configured rate.
func (h *Hub) UpdateMeters(processorID string, levels []atlas.ChannelLevel) {
	h.metersMu.Lock()
	h.meters[processorID] = levels
	h.metersMu.Unlock()
}

func (h *Hub) flushMeters() [][]byte {
	h.metersMu.Lock()
	pending := h.meters
	h.meters = make(map[string][]atlas.ChannelLevel)
	h.metersMu.Unlock()

	var out [][]byte
	for id, levels := range pending {
		data, err := json.Marshal(Event{Type: "meters", ProcessorID: id, Payload: levels})
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

func (h *Hub) send(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("marshalling event failed", "type", ev.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// ServeHTTP upgrades the connection and attaches a client to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump discards inbound messages (the stream is one-way) and keeps the
// pong deadline fresh.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close() //nolint:errcheck // Teardown
	}()

	pongTimeout := time.Duration(c.hub.cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout)) //nolint:errcheck // Deadline on live conn
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send queue and pings on the configured interval.
func (c *wsClient) writePump() {
	pingInterval := time.Duration(c.hub.cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Teardown
	}()

	writeWait := 10 * time.Second
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline on live conn
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck // Best effort
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Deadline on live conn
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
