// Package client implements the single-session client side of the
// module's authenticated, encrypted TCP framing: connect, send, and a
// read loop symmetric to the server's.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trustwire/tcpmux/aead"
	"github.com/trustwire/tcpmux/config"
	"github.com/trustwire/tcpmux/errs"
	"github.com/trustwire/tcpmux/handshake"
	"github.com/trustwire/tcpmux/keepalive"
	"github.com/trustwire/tcpmux/protocol"
	"github.com/trustwire/tcpmux/router"
	"github.com/trustwire/tcpmux/trust"
)

// Client holds at most one active session at a time. A fresh Client can
// Connect, disconnect (on either side), and then Connect again.
type Client struct {
	config     *config.Client
	trustStore *trust.Store
	router     *router.Router
	scheduler  *keepalive.Scheduler
	logger     zerolog.Logger

	connected atomic.Bool
	id        string

	mu            sync.Mutex
	conn          net.Conn
	crypto        aead.Crypto
	sessionCancel context.CancelFunc
	sendMu        sync.Mutex

	// OnDisconnected fires after any teardown that the peer initiated
	// (a received Disconnect, a read error, or a keep-alive timeout), but
	// not after a locally requested Disconnect.
	OnDisconnected func(reason string)
}

// New constructs a Client. rtr carries the application's packet handlers,
// registered before Connect is ever called.
func New(conf *config.Client, trustStore *trust.Store, rtr *router.Router) *Client {
	conf.ApplyDefaults()
	logger := log.With().Str("com", "client").Logger()
	return &Client{
		config:     conf,
		trustStore: trustStore,
		router:     rtr,
		scheduler:  keepalive.New(keepalive.DefaultConfig, logger),
		logger:     logger,
	}
}

// ID satisfies router.Client and keepalive.Client.
func (c *Client) ID() string { return c.id }

// Connect dials host:port, performs the handshake, and on success starts
// the keep-alive scheduler and read loop. A handshake or dial failure
// leaves the Client reconnectable: the connected flag is claimed up front
// (so a concurrent Connect fails with ErrAlreadyConnected) and cleared again
// on any failure path.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if !c.connected.CompareAndSwap(false, true) {
		return errs.ErrAlreadyConnected
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, c.config.DialTimeout)
	if err != nil {
		c.connected.Store(false)
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	crypto, err := handshake.Client(conn, host, port, c.trustStore, c.config.MaxPacketSize)
	if err != nil {
		_ = conn.Close()
		c.connected.Store(false)
		return err
	}

	// The session context scopes the scheduler loop and read loop to this
	// connection: teardown cancels it, so a later Connect starts fresh ones.
	sessionCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.id = addr
	c.conn = conn
	c.crypto = crypto
	c.sessionCancel = cancel
	c.mu.Unlock()

	c.scheduler.Start(sessionCtx)
	c.scheduler.Register(c)

	c.logger.Info().Str("server", addr).Msg("connected")
	go c.readLoop(sessionCtx)
	return nil
}

// Send encrypts (if requested) and writes one frame to the active session.
func (c *Client) Send(pkt *protocol.Packet) error {
	if !c.connected.Load() {
		return errs.ErrNotConnected
	}

	c.mu.Lock()
	conn, crypto := c.conn, c.crypto
	c.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}

	// Encrypt works on a copy so the caller's packet keeps its plaintext
	// payload; ciphertext is only meaningful under this session's key.
	if pkt.Encrypted {
		pkt = protocol.NewPacket(pkt.Identifier, true, pkt.Payload)
		if err := crypto.Encrypt(pkt); err != nil {
			return err
		}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := protocol.WriteFrame(conn, pkt, c.config.MaxPacketSize); err != nil {
		return err
	}
	c.scheduler.UpdateLastSent(c.id)
	return nil
}

// SendKeepAlive writes a bare zero-length frame. Satisfies keepalive.Client.
func (c *Client) SendKeepAlive() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errs.ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.WriteKeepAlive(conn)
}

// Disconnect sends a best-effort Disconnect envelope carrying reason, then
// tears the session down silently without firing OnDisconnected: the
// caller already knows it asked for this.
func (c *Client) Disconnect(reason string) {
	if !c.connected.Load() {
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		pkt := protocol.NewSystemPacket(protocol.Disconnect, []byte(reason))
		c.sendMu.Lock()
		_ = protocol.WriteFrame(conn, pkt, c.config.MaxPacketSize)
		c.sendMu.Unlock()
	}

	c.teardown()
}

// DisconnectSilent tears the session down without notifying the peer, then
// fires OnDisconnected. Satisfies keepalive.Client; also used by the read
// loop when the peer disconnects or liveness is lost.
func (c *Client) DisconnectSilent(reason string) {
	if !c.teardown() {
		return
	}
	if c.OnDisconnected != nil {
		c.OnDisconnected(reason)
	}
}

// teardown performs the idempotent, side-effect-bearing half of
// disconnection shared by Disconnect and DisconnectSilent. It reports
// whether this call actually closed an active session.
func (c *Client) teardown() bool {
	if !c.connected.CompareAndSwap(true, false) {
		return false
	}

	c.scheduler.Unregister(c.id)

	c.mu.Lock()
	conn := c.conn
	cancel := c.sessionCancel
	c.conn = nil
	c.crypto = nil
	c.sessionCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		_ = conn.Close()
	}
	return true
}

// readLoop is symmetric to the server connection's: it reads frames,
// maintains liveness, and dispatches application packets through the
// router until a terminal condition, at which point it tears down
// silently and (since the peer ended the session) reports the event.
func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		crypto := c.crypto
		c.mu.Unlock()
		if conn == nil {
			return
		}

		pkt, isKeepAlive, err := protocol.ReadFrame(conn, c.config.MaxPacketSize)
		if err != nil {
			c.DisconnectSilent("connection lost")
			return
		}
		c.scheduler.UpdateLastReceived(c.id)
		if isKeepAlive {
			continue
		}

		if pkt.Encrypted {
			if err := crypto.Decrypt(pkt); err != nil {
				c.logger.Debug().Err(err).Msg("decrypt failed")
				c.DisconnectSilent("decrypt failed")
				return
			}
		}

		if pkt.IsSystem() {
			t, _ := pkt.SystemType()
			switch t {
			case protocol.KeepAlive:
				// liveness already updated above.
			case protocol.Disconnect:
				c.DisconnectSilent("server disconnected")
				return
			default:
				c.logger.Debug().Int("identifier", int(pkt.Identifier)).Msg("ignoring reserved identifier")
			}
			continue
		}

		if err := c.router.Route(ctx, c, pkt); err != nil {
			c.logger.Warn().Err(err).Msg("handler returned error")
		}
	}
}
