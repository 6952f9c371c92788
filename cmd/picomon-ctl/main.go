package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// picomon-ctl - Command-line IPC Client
// ============================================================================
// Queries the picomon daemon and drives its simulated inputs.
//
// Usage:
//   picomon-ctl state
//   picomon-ctl press
//   picomon-ctl release
//   picomon-ctl axis 2048
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/picomon.sock)
// ============================================================================

// Wire types (duplicated from the daemon for a standalone binary)

type request struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type simButton struct {
	Pressed bool `json:"pressed"`
}

type simAxis struct {
	Raw uint16 `json:"raw"`
}

type stateSnapshot struct {
	ButtonPressed bool      `json:"button_pressed"`
	JoystickX     uint16    `json:"joystick_x"`
	SampledAt     time.Time `json:"sampled_at"`
}

type ipcResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Data   *stateSnapshot `json:"data,omitempty"`
}

func main() {
	socketPath := "/tmp/picomon.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	req, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}
	if req == nil {
		printUsage()
		return
	}

	resp, err := send(socketPath, *req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if resp.Data != nil {
		printState(*resp.Data)
		return
	}
	fmt.Println("ok")
}

// parseCommand maps CLI arguments to a request. A nil request means help.
func parseCommand(args []string) (*request, error) {
	switch args[0] {
	case "state", "get":
		return &request{Type: "get_state"}, nil

	case "press":
		return &request{Type: "sim_button", Data: simButton{Pressed: true}}, nil

	case "release":
		return &request{Type: "sim_button", Data: simButton{Pressed: false}}, nil

	case "axis":
		if len(args) < 2 {
			return nil, fmt.Errorf("axis requires a raw value")
		}
		v, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid raw value: %w", err)
		}
		return &request{Type: "sim_axis", Data: simAxis{Raw: uint16(v)}}, nil

	case "help", "-h", "--help":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func send(socketPath string, req request) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(req)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return ipcResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printState(s stateSnapshot) {
	button := 0
	if s.ButtonPressed {
		button = 1
	}
	fmt.Printf("button:     %d\n", button)
	fmt.Printf("joystick_x: %d\n", s.JoystickX)
	if !s.SampledAt.IsZero() {
		fmt.Printf("sampled_at: %s\n", s.SampledAt.Format(time.RFC3339Nano))
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `picomon-ctl - Query and drive the picomon daemon via IPC

Usage:
  picomon-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/picomon.sock)

Commands:
  state, get              Print the latest readings
  press                   Press the simulated button
  release                 Release the simulated button
  axis <raw>              Set the simulated joystick conversion (0-4095)
  help, -h, --help        Show this help message

press, release and axis need the daemon to run with a sim driver.

Examples:
  picomon-ctl state
  picomon-ctl axis 2048
  picomon-ctl -socket /run/picomon.sock press
`)
}
