package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

// PortTable is the part of the node the server registers connection ports with.
type PortTable interface {
	AddPort(p *port.Port) error
	RemovePort(name string) bool
}

// PortFactory builds the packet port serving one connection.
type PortFactory func(name string, src transport.Source, dst transport.Sink) (*port.Port, error)

// Server owns the TCP listener. Every accepted connection becomes a port on
// the node for as long as the connection lives.
type Server struct {
	mu      sync.RWMutex
	addr    string
	table   PortTable
	newPort PortFactory

	readDeadline      time.Duration
	readSize          int
	txBuffer          int
	maxClients        int
	readyOnce         sync.Once
	readyCh           chan struct{}
	lastErrMu         sync.Mutex
	lastErr           error
	errCh             chan error
	listener          net.Listener
	connsMu           sync.Mutex
	conns             map[string]net.Conn
	wg                sync.WaitGroup
	logger            *slog.Logger
	nextConnID        uint64
	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
}

const (
	defaultReadDeadline = 60 * time.Second
	defaultReadSize     = 4096
	defaultTxBuffer     = 64
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readDeadline: defaultReadDeadline,
		readSize:     defaultReadSize,
		txBuffer:     defaultTxBuffer,
		readyCh:      make(chan struct{}),
		errCh:        make(chan error, 1),
		conns:        make(map[string]net.Conn),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption        { return func(s *Server) { s.addr = a } }
func WithPortTable(t PortTable) ServerOption      { return func(s *Server) { s.table = t } }
func WithPortFactory(fn PortFactory) ServerOption { return func(s *Server) { s.newPort = fn } }

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithReadSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.readSize = n
		}
	}
}

// WithTxBuffer bounds the packets queued per connection before writes drop.
func WithTxBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.txBuffer = n
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Clients returns the number of live connections.
func (s *Server) Clients() int { s.connsMu.Lock(); defer s.connsMu.Unlock(); return len(s.conns) }

// Serve accepts TCP clients until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.table == nil || s.newPort == nil {
		return fmt.Errorf("%w: server needs a port table and a port factory", ErrListen)
	}
	addr := s.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection and attaches it to the node as a
// port. Returns a wrapped error only on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok && !errors.Is(err, net.ErrClosed) { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	name := fmt.Sprintf("tcp-%d", connID)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if s.maxClients > 0 && s.Clients() >= s.maxClients {
		s.totalRejected.Add(1)
		metrics.IncTCPReject()
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	src := s.startReader(ctx, conn, connLogger)
	dst := s.startWriter(ctx, conn, connLogger)
	p, err := s.newPort(name, src, dst)
	if err == nil {
		err = s.table.AddPort(p)
	}
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrAddPort, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		connLogger.Error("client_port_failed", "error", wrap)
		dst.Close()
		_ = conn.Close()
		return nil
	}
	s.connsMu.Lock()
	s.conns[name] = conn
	s.connsMu.Unlock()
	s.totalConnected.Add(1)
	connLogger.Info("client_connected", "port", name)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-src.Done():
		case <-ctx.Done():
		}
		_ = conn.Close()
		s.table.RemovePort(name)
		dst.Close()
		s.connsMu.Lock()
		delete(s.conns, name)
		s.connsMu.Unlock()
		s.totalDisconnected.Add(1)
		connLogger.Info("client_disconnected", "port", name)
	}()
	return nil
}

// Shutdown closes the listener and every connection, then waits for the
// per-connection goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.connsMu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.connsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "rejected", s.totalRejected.Load(), "connected", s.totalConnected.Load(), "disconnected", s.totalDisconnected.Load())
		return nil
	}
}
