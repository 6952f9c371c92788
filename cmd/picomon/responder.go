package main

import (
	"bytes"
	"errors"
	"log/slog"
)

// ============================================================================
// Status page responder
// ============================================================================
//
// Per connection: Accept -> Receive -> Validate -> Render -> Respond, then close.
// Any request line not starting with "GET / " is closed without a single byte
// written. Only the first segment is inspected.
//
// Buffers are released with defer on every path: the received segment and the
// request copy are each returned to their pool exactly once.
// ============================================================================

type ResponderConfig struct {
	// RenderBuffer bounds the full response (status line + headers + page).
	RenderBuffer int

	// RequestBuffer bounds the request copy; longer segments are cut.
	RequestBuffer int
}

// Responder serves the status page from the loop-owned SensorState.
type Responder struct {
	state   *SensorState
	metrics *Metrics
	logger  *slog.Logger

	requests *bufPool
	renders  *bufPool
	limit    int
}

// NewResponder builds a responder reading from state. metrics may be nil.
func NewResponder(state *SensorState, cfg ResponderConfig, metrics *Metrics, logger *slog.Logger) *Responder {
	if cfg.RenderBuffer <= 0 {
		cfg.RenderBuffer = defaultRenderBuffer
	}
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = defaultSegmentSize
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Responder{
		state:    state,
		metrics:  metrics,
		logger:   logger,
		requests: newBufPool(cfg.RequestBuffer),
		renders:  newBufPool(cfg.RenderBuffer),
		limit:    cfg.RenderBuffer,
	}
}

// Accept is the listener's accept callback.
func (r *Responder) Accept(pcb *PCB) error {
	r.metrics.connOpened()
	r.logger.Debug("connection accepted", "remote_addr", pcb.RemoteAddr())
	pcb.Recv(r.recv)
	return nil
}

func (r *Responder) recv(pcb *PCB, seg *Segment) error {
	if seg == nil {
		// Remote closed.
		r.close(pcb)
		pcb.Recv(nil)
		return nil
	}
	defer seg.Free()

	pcb.Recved(seg.Len())

	req := r.requests.get()
	defer r.requests.put(req)
	n := copy(req, seg.Bytes())
	req = req[:n]

	line := requestLine(req)
	if !isRootRequest(line) {
		r.metrics.request(resultDropped)
		r.logger.Debug("request dropped", "remote_addr", pcb.RemoteAddr(), "request_line", string(line))
		r.close(pcb)
		return nil
	}

	r.logger.Debug("request", "remote_addr", pcb.RemoteAddr(), "request_line", string(line))

	out := r.renders.get()
	defer r.renders.put(out)

	page, err := renderStatus(out, r.limit, r.state.Snapshot())
	if err != nil {
		if errors.Is(err, ErrRenderTruncated) {
			r.metrics.request(resultTruncated)
			r.logger.Error("status page does not fit render buffer", "limit", r.limit)
		} else {
			r.metrics.request(resultError)
			r.logger.Error("status page render failed", "error", err)
		}
		r.close(pcb)
		return nil
	}

	if err := pcb.Write(page); err != nil {
		r.metrics.request(resultError)
		r.logger.Warn("queue response failed", "remote_addr", pcb.RemoteAddr(), "error", err)
		r.close(pcb)
		return nil
	}
	if err := pcb.Output(); err != nil {
		r.metrics.request(resultError)
		r.logger.Warn("send response failed", "remote_addr", pcb.RemoteAddr(), "error", err)
		r.close(pcb)
		return nil
	}

	r.metrics.request(resultServed)
	r.close(pcb)
	return nil
}

func (r *Responder) close(pcb *PCB) {
	if err := pcb.Close(); err != nil {
		if !errors.Is(err, ErrClosed) {
			r.logger.Debug("close failed", "remote_addr", pcb.RemoteAddr(), "error", err)
		}
		return
	}
	r.metrics.connClosed()
}

// requestLine returns the bytes up to the first CR or LF.
func requestLine(req []byte) []byte {
	if i := bytes.IndexAny(req, "\r\n"); i >= 0 {
		return req[:i]
	}
	return req
}

// isRootRequest reports whether the request line asks for "/" with GET.
func isRootRequest(line []byte) bool {
	return bytes.HasPrefix(line, []byte(rootRequestPrefix))
}
