package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Pushes the live readings to dashboards on the aux server:
//   - On connect a client gets "state_init" with the current snapshot,
//     requested through the main loop (SensorState is loop-owned).
//   - Each sampling pass that changes a reading produces one
//     "sensor_changed" frame, fanned out by the hub.
//   - Every client has its own send queue; a client whose queue is full
//     is disconnected instead of stalling the others.
//
// Frames are JSON text messages: {type, ts, data}.
// ============================================================================

// wsSensorData is the `data` payload of "state_init" and "sensor_changed".
type wsSensorData struct {
	ButtonPressed bool      `json:"button_pressed"`
	JoystickX     uint16    `json:"joystick_x"`
	SampledAt     time.Time `json:"sampled_at"`
}

func newWSSensorData(s StateSnapshot) wsSensorData {
	return wsSensorData{
		ButtonPressed: s.ButtonPressed,
		JoystickX:     s.JoystickX,
		SampledAt:     s.SampledAt,
	}
}

// envelope is the wire format for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(typ string, at time.Time, data any) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &at, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger  *slog.Logger
	metrics *Metrics

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero means 16.
	SendBuf int

	// BroadcastBuf is the hub inbound queue size. Zero means 64.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(cfg HubConfig, metrics *Metrics, logger *slog.Logger) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 16
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 64
	}
	return &Hub{
		logger:     logger,
		metrics:    metrics,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes registrations and broadcasts until ctx is canceled,
// then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping")
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.setWSClients(n)
			h.logger.Info("ws client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		c.shutdown()
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.metrics.setWSClients(0)
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.shutdown()
	h.metrics.setWSClients(n)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// Broadcast enqueues a serialized frame. It never blocks; frames are
// dropped while the hub queue is full.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub queue full, dropping frame", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// shutdown closes the connection and the send queue exactly once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = 20 * time.Second
)

// logExit reports why a pump stopped, keeping normal closes quiet.
func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue and keeps the connection alive with pings.
// It exits on write error or when the hub closes send.
func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames so control frames are processed and a
// disconnect is noticed, then unregisters the client.
func (c *Client) readPump() {
	defer func() { c.hub.unregister <- c }()

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

var upgrader = websocket.Upgrader{
	// Dashboards are served from other origins on the LAN.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stateWSHandler upgrades /ws requests and sends state_init.
type stateWSHandler struct {
	hub    *Hub
	stack  *Stack
	state  *SensorState
	logger *slog.Logger
}

func (s *stateWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register before the snapshot so no sensor_changed is lost in between.
	s.hub.register <- client

	// Pumps outlive the request; the hub and I/O errors end them.
	go client.writePump()
	go client.readPump()

	snap, err := requestSnapshot(r.Context(), s.stack, s.state)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	msg, err := marshalEnvelope("state_init", time.Now(), newWSSensorData(snap))
	if err != nil {
		s.logger.Warn("ws marshal state_init failed", "error", err)
		return
	}

	// The hub may already have shut this client down; send is closed then.
	defer func() { _ = recover() }()
	select {
	case client.send <- msg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// newBroadcastQueue returns a publish func for runLoop and the channel it
// feeds. publish never blocks the loop; it drops when the queue is full.
func newBroadcastQueue(size int, logger *slog.Logger) (func(StateBroadcast), <-chan StateBroadcast) {
	ch := make(chan StateBroadcast, size)
	publish := func(b StateBroadcast) {
		select {
		case ch <- b:
		default:
			logger.Debug("broadcast queue full, dropping update")
		}
	}
	return publish, ch
}

// RunBroadcaster marshals loop broadcasts and hands them to the hub.
// Run it as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case b, ok := <-src:
			if !ok {
				logger.Debug("ws broadcaster stopping (source ended)")
				return
			}

			typ, at, data, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			msg, err := marshalEnvelope(typ, at, data)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err, "type", typ)
				continue
			}
			hub.Broadcast(msg)
		}
	}
}

func convertBroadcast(b StateBroadcast) (typ string, at time.Time, data any, ok bool) {
	switch ev := b.(type) {
	case BroadcastSensorChanged:
		return "sensor_changed", ev.At, newWSSensorData(ev.State), true
	default:
		return "", time.Time{}, nil, false
	}
}
