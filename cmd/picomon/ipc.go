package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Lets local tools (picomon-ctl) query the live readings and drive the
// simulated inputs.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "get_state"}
//                   {"type": "sim_button", "data": {"pressed": true}}
//                   {"type": "sim_axis", "data": {"raw": 2048}}
//   - Server responds: {"status": "ok", "data": {...}} or {"status": "error", "error": "msg"}
// ============================================================================

// IPCRequest is the envelope sent by IPC clients.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	Data   *StateSnapshot `json:"data,omitempty"`  // set for get_state
}

// SimButton drives the simulated button.
type SimButton struct {
	Pressed bool `json:"pressed"`
}

// SimAxis sets the simulated joystick conversion result.
type SimAxis struct {
	Raw uint16 `json:"raw"`
}

var errSimDisabled = errors.New("no input uses the sim driver")

// ipcHandler answers requests. Reads of SensorState go through the loop.
type ipcHandler struct {
	stack *Stack
	state *SensorState
	sim   *SimInputs // nil unless a sim driver is configured
}

func (h *ipcHandler) handle(ctx context.Context, line []byte) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	switch req.Type {
	case "get_state":
		snap, err := requestSnapshot(ctx, h.stack, h.state)
		if err != nil {
			return ipcError(fmt.Errorf("snapshot: %w", err))
		}
		return IPCResponse{Status: "ok", Data: &snap}

	case "sim_button":
		if h.sim == nil {
			return ipcError(errSimDisabled)
		}
		var a SimButton
		if err := json.Unmarshal(req.Data, &a); err != nil {
			return ipcError(fmt.Errorf("unmarshal SimButton: %w", err))
		}
		h.sim.SetPressed(a.Pressed)
		return IPCResponse{Status: "ok"}

	case "sim_axis":
		if h.sim == nil {
			return ipcError(errSimDisabled)
		}
		var a SimAxis
		if err := json.Unmarshal(req.Data, &a); err != nil {
			return ipcError(fmt.Errorf("unmarshal SimAxis: %w", err))
		}
		if a.Raw >= 1<<defaultADCResolution {
			return ipcError(fmt.Errorf("sim_axis raw %d exceeds %d-bit range", a.Raw, defaultADCResolution))
		}
		h.sim.SetRaw(a.Raw)
		return IPCResponse{Status: "ok"}

	default:
		return ipcError(fmt.Errorf("unknown request type: %q", req.Type))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, h *ipcHandler, logger *slog.Logger) error {
	// Remove a stale socket left by a previous run.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, h, logger)
	}
}

// handleIPCConnection serves one client until it disconnects.
func handleIPCConnection(ctx context.Context, conn net.Conn, h *ipcHandler, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		resp := h.handle(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}
