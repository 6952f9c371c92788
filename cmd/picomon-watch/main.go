package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// event mirrors the daemon's WS envelope.
type event struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type sensorData struct {
	ButtonPressed bool   `json:"button_pressed"`
	JoystickX     uint16 `json:"joystick_x"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:9090/ws", "picomon aux websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Pings and the close frame share the connection writer.
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The daemon pings every 20s; answering extends our read deadline too.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			printEvent(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printEvent prints sensor frames as one line each and anything else verbatim.
func printEvent(message []byte) {
	var ev event
	if err := json.Unmarshal(message, &ev); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch ev.Type {
	case "state_init", "sensor_changed":
		var d sensorData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			fmt.Printf("[%s] %s\n", ev.Type, string(ev.Data))
			return
		}
		button := 0
		if d.ButtonPressed {
			button = 1
		}
		ts := ""
		if ev.Ts != nil {
			ts = ev.Ts.Local().Format("15:04:05.000") + " "
		}
		fmt.Printf("%s[%s] button=%d joystick_x=%d\n", ts, ev.Type, button, d.JoystickX)
	default:
		fmt.Printf("[%s] %s\n", ev.Type, string(ev.Data))
	}
}
