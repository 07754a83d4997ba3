// Package server constructs and runs the TCP listener that accepts client
// connections and fans each one out to its own session goroutine.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Server accepts TCP connections and serves one Session per connection.
// There is deliberately no cap on concurrent sessions.
type Server struct {
	cfg   *Config
	relay *Relay

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	conns    map[Conn]struct{}
}

// NewServer creates a server with a fresh Relay built from cfg.
func NewServer(cfg *Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		relay:  NewRelay(cfg),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[Conn]struct{}),
	}
}

// Relay returns the shared relay core, so the WebSocket gateway can feed the
// same groups as the TCP listener.
func (s *Server) Relay() *Relay {
	return s.relay
}

// Listen binds the configured address. Failing to bind is the only error
// that is fatal to the whole process.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Printf("Chat relay listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown closes the listener. It also
// starts the periodic stats logger; stats failures never affect clients.
func (s *Server) Serve() {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.statsLoop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if isExpectedCloseError(err) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handle(conn)
	}
}

// ListenAndServe binds the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.Serve()
	return nil
}

func (s *Server) handle(raw net.Conn) {
	defer s.wg.Done()

	conn := newTCPConn(raw)
	s.track(conn)
	defer s.untrack(conn)

	s.relay.NewSession(conn).Run()
}

func (s *Server) track(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, conn)
}

func (s *Server) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.StatsInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Group stats: encrypted=%d unencrypted=%d",
				s.relay.Encrypted.Count(), s.relay.Unencrypted.Count())
		}
	}
}

// Shutdown stops accepting, closes every live connection to unblock its
// session, and waits for all session goroutines to finish or the timeout to
// pass. Closing connections rather than waiting for idle timeouts keeps
// shutdown bounded.
func (s *Server) Shutdown(timeout time.Duration) error {
	log.Println("Shutting down chat relay...")
	s.cancel()

	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	conns := make([]Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Chat relay shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Println("Chat relay shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
