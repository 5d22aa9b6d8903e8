// Package server implements the accept loop, per-client connection
// lifecycle and broadcast orchestration for a TCP endpoint that speaks the
// module's authenticated, encrypted framing.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustwire/tcpmux/config"
	"github.com/trustwire/tcpmux/errs"
	"github.com/trustwire/tcpmux/handshake"
	"github.com/trustwire/tcpmux/identity"
	"github.com/trustwire/tcpmux/keepalive"
	"github.com/trustwire/tcpmux/protocol"
	"github.com/trustwire/tcpmux/ratelimit"
	"github.com/trustwire/tcpmux/router"
)

// shutdownGrace bounds how long Shutdown waits for per-client tasks to
// finish after every client has been sent a Disconnect. A var, not a const,
// so tests can shorten it instead of waiting out the real grace period.
var shutdownGrace = 10 * time.Second

// Server holds the listener, the connection registry, the shared
// keep-alive scheduler and a bounded broadcast concurrency gate.
type Server struct {
	config   *config.Server
	identity *identity.Store
	router   *router.Router
	logger   zerolog.Logger

	scheduler *keepalive.Scheduler

	mu        sync.Mutex
	registry  map[string]*Connection
	listener  net.Listener
	closed    bool
	broadcast chan struct{}
	ready     chan struct{}

	// OnClientDisconnected, if set, is called after a client's connection
	// has been fully torn down and removed from the registry.
	OnClientDisconnected func(id string)
}

// New constructs a Server. The identity store must already be loaded; the
// router carries the application's packet handlers.
func New(conf *config.Server, ident *identity.Store, rtr *router.Router) *Server {
	conf.ApplyDefaults()
	logger := log.With().Str("com", "server").Logger()

	return &Server{
		config:    conf,
		identity:  ident,
		router:    rtr,
		logger:    logger,
		scheduler: keepalive.New(keepalive.Config{Interval: conf.KeepAlive.Interval, Timeout: conf.KeepAlive.Timeout}, logger),
		registry:  make(map[string]*Connection),
		broadcast: make(chan struct{}, conf.BroadcastConcurrency),
		ready:     make(chan struct{}),
	}
}

// Addr blocks until the listener is bound, then returns its address. Handy
// in tests and diagnostics when the configured port is 0.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

// Start binds the listener, launches the keep-alive scheduler and runs the
// accept loop until ctx is cancelled or a fatal listener error occurs.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.scheduler.Start(ctx)
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn performs the handshake then runs the connection's read loop,
// removing it from the registry once the loop terminates.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	logger := s.logger.With().Str("client_id", id).Str("remote", conn.RemoteAddr().String()).Logger()

	crypto, err := handshake.Server(conn, s.identity, s.config.MaxPacketSize)
	if err != nil {
		logger.Warn().Err(err).Msg("handshake failed")
		_ = conn.Close()
		return
	}

	limiter := ratelimit.New(ratelimit.Config{
		PacketsPerSecond: s.config.RateLimit.PacketsPerSecond,
		PacketsBurst:     s.config.RateLimit.PacketsBurst,
		BytesPerSecond:   s.config.RateLimit.BytesPerSecond,
		BytesBurst:       s.config.RateLimit.BytesBurst,
	})

	c := newConnection(id, conn, crypto, s.config.MaxPacketSize, limiter, s.router, s.scheduler, s.logger, s.removeConn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.DisconnectSilent("server shutting down")
		return
	}
	s.registry[id] = c
	s.mu.Unlock()

	s.scheduler.Register(c)
	logger.Info().Msg("client connected")

	c.readLoop(ctx)
}

// removeConn drops a connection from the registry and fires
// OnClientDisconnected. Installed as every Connection's onClosed hook.
func (s *Server) removeConn(c *Connection) {
	s.mu.Lock()
	delete(s.registry, c.id)
	s.mu.Unlock()

	if s.OnClientDisconnected != nil {
		s.OnClientDisconnected(c.id)
	}
}

// SendToClient looks up id in the registry and delegates to its Send.
func (s *Server) SendToClient(id string, pkt *protocol.Packet) error {
	s.mu.Lock()
	c, ok := s.registry[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("send to client %s: %w", id, errs.ErrNotConnected)
	}
	return c.Send(pkt)
}

// SendToClients fans pkt out to every registered client. Each arm acquires
// a slot from the broadcast concurrency gate before sending; a send
// failure forces a silent disconnect of that client only, never the
// others in flight.
func (s *Server) SendToClients(pkt *protocol.Packet) {
	s.mu.Lock()
	targets := make([]*Connection, 0, len(s.registry))
	for _, c := range s.registry {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range targets {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.broadcast <- struct{}{}
			defer func() { <-s.broadcast }()

			if err := c.Send(pkt); err != nil {
				s.logger.Debug().Str("client_id", c.id).Err(err).Msg("broadcast send failed")
				c.DisconnectSilent("broadcast send failed")
			}
		}()
	}
	wg.Wait()
}

// Shutdown sends every connected client a Disconnect, waits up to
// shutdownGrace for those sends and teardowns to finish, then force-closes any
// stragglers and clears the registry. The caller is responsible for
// cancelling the context passed to Start so the accept loop stops too.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	targets := make([]*Connection, 0, len(s.registry))
	for _, c := range s.registry {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	var wg sync.WaitGroup
	for _, c := range targets {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect("Server is shutting down.")
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn().Msg("shutdown grace period elapsed, forcing remaining connections closed")
		s.mu.Lock()
		remaining := make([]*Connection, 0, len(s.registry))
		for _, c := range s.registry {
			remaining = append(remaining, c)
		}
		s.mu.Unlock()
		// DisconnectSilent fires removeConn, which takes s.mu; it must run
		// outside the lock.
		for _, c := range remaining {
			c.DisconnectSilent("shutdown forced")
		}
	}

	s.mu.Lock()
	s.registry = make(map[string]*Connection)
	s.mu.Unlock()

	s.logger.Info().Msg("server shut down")
}
