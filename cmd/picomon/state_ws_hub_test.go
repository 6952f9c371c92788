package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Hub tests run without a network: clients have a nil websocket.Conn, which
// Client.shutdown tolerates.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(HubConfig{SendBuf: sendBuf, BroadcastBuf: broadcastBuf}, nil, discardLogger())
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     discardLogger(),
	}
}

func runHub(t *testing.T, hub *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for hub to stop")
		}
	})
	return cancel
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	runHub(t, hub)

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	msg := []byte(`{"type":"sensor_changed","data":{"button_pressed":true,"joystick_x":2048}}`)
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}
	if n := hub.Clients(); n != 2 {
		t.Fatalf("clients = %d, want 2", n)
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	runHub(t, hub)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	// Simulate a stuck client.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"sensor_changed","data":{"joystick_x":1}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled frame, then expect the channel closed.
	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := hub.Clients(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
}

func TestHub_UnregisterTwiceIsSafe(t *testing.T) {
	hub := newTestHub(t, 1, 1)
	runHub(t, hub)

	c := newTestClient(hub, "c", 1)
	registerClient(t, hub, c)

	hub.unregister <- c
	hub.unregister <- c
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.Clients() == 0 }, "client not removed")
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := newTestHub(t, 1, 1) // not running: queue fills after one frame

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Broadcast([]byte("x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Broadcast blocked on a full queue")
	}
}

func TestRunBroadcaster_MarshalsSensorChanged(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	runHub(t, hub)

	c := newTestClient(hub, "c", 4)
	registerClient(t, hub, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	publish, updates := newBroadcastQueue(4, discardLogger())
	go RunBroadcaster(ctx, hub, updates, discardLogger())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	publish(BroadcastSensorChanged{
		State: StateSnapshot{ButtonPressed: true, JoystickX: 2048, SampledAt: at},
		At:    at,
	})

	var frame []byte
	select {
	case frame = <-c.send:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for sensor_changed")
	}

	var env struct {
		Type string       `json:"type"`
		Ts   time.Time    `json:"ts"`
		Data wsSensorData `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", frame, err)
	}
	if env.Type != "sensor_changed" {
		t.Fatalf("type = %q", env.Type)
	}
	if !env.Ts.Equal(at) {
		t.Fatalf("ts = %v, want %v", env.Ts, at)
	}
	if !env.Data.ButtonPressed || env.Data.JoystickX != 2048 {
		t.Fatalf("data = %+v", env.Data)
	}
}

func TestNewBroadcastQueue_DropsWhenFull(t *testing.T) {
	publish, updates := newBroadcastQueue(1, discardLogger())
	publish(BroadcastSensorChanged{})
	publish(BroadcastSensorChanged{}) // dropped, must not block

	if len(updates) != 1 {
		t.Fatalf("queued = %d, want 1", len(updates))
	}
}

func TestStateWS_InitThenChanges(t *testing.T) {
	publish, updates := newBroadcastQueue(16, discardLogger())
	srv := startTestServer(t, publish)
	srv.sim.SetRaw(321)

	// Let at least one pass sample the value before connecting.
	waitUntil(t, time.Second, func() bool {
		snap, err := requestSnapshot(context.Background(), srv.stack, srv.state)
		return err == nil && snap.JoystickX == 321
	}, "loop never sampled the sim input")

	hub := NewHub(HubConfig{}, srv.metrics, discardLogger())
	runHub(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunBroadcaster(ctx, hub, updates, discardLogger())

	aux := startAuxTestServer(t, &stateWSHandler{hub: hub, stack: srv.stack, state: srv.state, logger: discardLogger()}, srv.metrics)

	wsURL := "ws" + strings.TrimPrefix(aux, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	type frame struct {
		Type string       `json:"type"`
		Data wsSensorData `json:"data"`
	}

	// Broadcasts queued before the connect may arrive first; find state_init.
	var f frame
	for f.Type != "state_init" {
		f = frame{}
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read state_init: %v", err)
		}
	}
	if f.Data.JoystickX != 321 || f.Data.ButtonPressed {
		t.Fatalf("state_init data = %+v", f.Data)
	}

	srv.sim.SetRaw(654)
	for {
		f = frame{}
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read sensor_changed: %v", err)
		}
		if f.Type == "sensor_changed" && f.Data.JoystickX == 654 {
			break
		}
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
