package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// Event-driven TCP stack
// ============================================================================
//
// Background goroutines block in Accept/Read and post work to the Stack.
// Registered callbacks (accept, receive, posted closures) run only when the
// main loop calls Poll, so everything they touch is single-owner.
//
// Per connection there is at most one received segment in flight: the reader
// waits for Recved before reading again.
// ============================================================================

var (
	// ErrClosed is returned by PCB operations after Close.
	ErrClosed = errors.New("connection closed")

	// ErrMem is returned by Write when the send buffer cannot hold the data.
	ErrMem = errors.New("send buffer full")
)

const acceptRetryDelay = 10 * time.Millisecond

// AcceptFunc is invoked on the loop goroutine for every new connection.
// Returning an error aborts the connection.
type AcceptFunc func(pcb *PCB) error

// RecvFunc is invoked on the loop goroutine for every received segment.
// A nil segment means the remote side closed. The callee owns seg and must Free it.
// Returning an error aborts the connection.
type RecvFunc func(pcb *PCB, seg *Segment) error

type StackConfig struct {
	// SegmentSize is the read size per received segment.
	SegmentSize int

	// SendBuffer bounds the bytes queued by Write before Output.
	SendBuffer int

	// WriteTimeout bounds a single Output call.
	WriteTimeout time.Duration
}

// Stack owns the pending-work queue shared by all listeners and connections.
type Stack struct {
	logger *slog.Logger
	cfg    StackConfig

	mu      sync.Mutex
	pending []func()
	notify  chan struct{}

	segments *bufPool
}

// NewStack builds a stack. Zero config fields fall back to defaults.
func NewStack(cfg StackConfig, logger *slog.Logger) *Stack {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = defaultSegmentSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Duration(defaultWriteTimeoutMS) * time.Millisecond
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Stack{
		logger:   logger,
		cfg:      cfg,
		notify:   make(chan struct{}, 1),
		segments: newBufPool(cfg.SegmentSize),
	}
}

// Post queues fn to run on the loop goroutine during the next Poll.
// Safe to call from any goroutine.
func (s *Stack) Post(fn func()) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Poll runs all work queued so far and returns how many items ran.
// Work posted while polling runs on the next call.
func (s *Stack) Poll() int {
	select {
	case <-s.notify:
	default:
	}

	s.mu.Lock()
	work := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range work {
		fn()
	}
	return len(work)
}

// WaitForWork blocks until work is pending, timeout elapses, or ctx is done.
// Only ctx cancellation produces an error.
func (s *Stack) WaitForWork(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	n := len(s.pending)
	s.mu.Unlock()
	if n > 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.notify:
		return nil
	case <-timer.C:
		return nil
	}
}

// SegmentsOutstanding reports received segments not yet freed.
func (s *Stack) SegmentsOutstanding() int64 {
	return s.segments.Outstanding()
}

// ============================================================================
// Listener
// ============================================================================

type Listener struct {
	stack  *Stack
	ln     net.Listener
	accept AcceptFunc

	once   sync.Once
	closed atomic.Bool
}

// Listen binds a TCP listener. Accept must be called to start accepting.
func (s *Stack) Listen(ctx context.Context, addr string) (*Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Listener{stack: s, ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept registers the accept callback and starts accepting connections.
// Call before the loop starts polling, or from the loop goroutine.
func (l *Listener) Accept(fn AcceptFunc) {
	l.accept = fn
	l.once.Do(func() {
		go l.acceptLoop()
	})
}

// Close stops accepting. Established connections are unaffected.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				l.stack.logger.Debug("listener closed", "addr", l.ln.Addr())
				return
			}
			l.stack.logger.Warn("accept failed", "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}

		pcb := l.stack.newPCB(conn)
		l.stack.Post(func() {
			if l.accept == nil {
				pcb.abort()
				return
			}
			if err := l.accept(pcb); err != nil {
				l.stack.logger.Warn("accept callback failed", "remote_addr", pcb.remote, "error", err)
				pcb.abort()
			}
		})
	}
}

// ============================================================================
// PCB (one TCP connection)
// ============================================================================

// PCB is the stack's handle for one connection. All methods except the
// internal reader must be called on the loop goroutine.
type PCB struct {
	stack  *Stack
	conn   net.Conn
	remote string

	recv    RecvFunc
	reading bool
	sendq   bytes.Buffer
	closed  bool

	window chan struct{}
	done   chan struct{}
}

func (s *Stack) newPCB(conn net.Conn) *PCB {
	return &PCB{
		stack:  s,
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		window: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// RemoteAddr returns the peer address.
func (p *PCB) RemoteAddr() string { return p.remote }

// Recv registers the receive handler; nil unregisters it.
// The first registration starts the connection's reader.
func (p *PCB) Recv(fn RecvFunc) {
	p.recv = fn
	if fn != nil && !p.reading && !p.closed {
		p.reading = true
		go p.readLoop()
	}
}

// Recved acknowledges n received bytes and lets the reader fetch the next segment.
func (p *PCB) Recved(n int) {
	if n <= 0 {
		return
	}
	select {
	case p.window <- struct{}{}:
	default:
	}
}

// Write queues b for sending. Nothing reaches the peer until Output.
func (p *PCB) Write(b []byte) error {
	if p.closed {
		return ErrClosed
	}
	if p.sendq.Len()+len(b) > p.stack.cfg.SendBuffer {
		return ErrMem
	}
	p.sendq.Write(b)
	return nil
}

// Output flushes queued bytes to the peer.
func (p *PCB) Output() error {
	if p.closed {
		return ErrClosed
	}
	if p.sendq.Len() == 0 {
		return nil
	}
	defer p.sendq.Reset()

	if err := p.conn.SetWriteDeadline(time.Now().Add(p.stack.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := p.conn.Write(p.sendq.Bytes()); err != nil {
		return fmt.Errorf("write to %s: %w", p.remote, err)
	}
	return nil
}

// Close unregisters the receive handler and closes the connection.
// Queued but unflushed bytes are discarded. A second Close returns ErrClosed.
func (p *PCB) Close() error {
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	p.recv = nil
	p.sendq.Reset()
	close(p.done)
	return p.conn.Close()
}

func (p *PCB) abort() {
	if err := p.Close(); err != nil && !errors.Is(err, ErrClosed) {
		p.stack.logger.Debug("abort close failed", "remote_addr", p.remote, "error", err)
	}
}

func (p *PCB) readLoop() {
	for {
		seg := p.stack.newSegment()
		n, err := p.conn.Read(seg.buf)
		if n > 0 {
			seg.data = seg.buf[:n]
			p.stack.Post(func() { p.deliver(seg) })

			select {
			case <-p.window:
			case <-p.done:
				return
			}
			continue
		}
		seg.Free()

		if err != nil {
			select {
			case <-p.done:
				// Closed locally; the read error is ours.
				return
			default:
			}
			p.stack.Post(func() { p.deliver(nil) })
			return
		}
	}
}

func (p *PCB) deliver(seg *Segment) {
	if p.closed || p.recv == nil {
		if seg != nil {
			seg.Free()
		}
		return
	}
	if err := p.recv(p, seg); err != nil {
		p.stack.logger.Warn("recv callback failed", "remote_addr", p.remote, "error", err)
		p.abort()
	}
}

// ============================================================================
// Segment
// ============================================================================

// Segment is one received chunk backed by a pooled buffer.
// It must be freed exactly once; a second Free panics.
type Segment struct {
	buf   []byte
	data  []byte
	pool  *bufPool
	freed bool
}

func (s *Stack) newSegment() *Segment {
	return &Segment{buf: s.segments.get(), pool: s.segments}
}

// Bytes returns the received payload. Invalid after Free.
func (s *Segment) Bytes() []byte { return s.data }

// Len returns the payload length.
func (s *Segment) Len() int { return len(s.data) }

// Free returns the backing buffer to the pool.
func (s *Segment) Free() {
	if s.freed {
		panic("netstack: segment freed twice")
	}
	s.freed = true
	s.pool.put(s.buf)
	s.buf, s.data = nil, nil
}
