package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/trustwire/tcpmux/aead"
	"github.com/trustwire/tcpmux/errs"
	"github.com/trustwire/tcpmux/keepalive"
	"github.com/trustwire/tcpmux/protocol"
	"github.com/trustwire/tcpmux/ratelimit"
	"github.com/trustwire/tcpmux/router"
)

// Connection owns one accepted, authenticated TCP stream. It serializes
// writes behind a single mutex, exposes Send/Disconnect to the router and
// the server orchestrator, and is idempotent to repeated disconnects.
type Connection struct {
	id            string
	conn          net.Conn
	crypto        aead.Crypto
	maxPacketSize int

	sendMu       sync.Mutex
	disconnected atomic.Bool

	limiter   *ratelimit.Limiter
	router    *router.Router
	scheduler *keepalive.Scheduler

	logger   zerolog.Logger
	onClosed func(*Connection)
}

func newConnection(id string, conn net.Conn, crypto aead.Crypto, maxPacketSize int, limiter *ratelimit.Limiter, rtr *router.Router, sched *keepalive.Scheduler, logger zerolog.Logger, onClosed func(*Connection)) *Connection {
	return &Connection{
		id:            id,
		conn:          conn,
		crypto:        crypto,
		maxPacketSize: maxPacketSize,
		limiter:       limiter,
		router:        rtr,
		scheduler:     sched,
		logger:        logger.With().Str("client_id", id).Logger(),
		onClosed:      onClosed,
	}
}

// ID satisfies router.Client and keepalive.Client.
func (c *Connection) ID() string { return c.id }

// Send encrypts (if the packet requests it) and writes one frame, holding
// the send-mutex for the duration so concurrent producers never interleave.
func (c *Connection) Send(pkt *protocol.Packet) error {
	if c.disconnected.Load() {
		return errs.ErrNotConnected
	}

	// Encrypt works on a copy: encryption replaces the payload with
	// ciphertext under this connection's session key, and the caller may be
	// broadcasting the same packet to other connections with other keys.
	if pkt.Encrypted {
		pkt = protocol.NewPacket(pkt.Identifier, true, pkt.Payload)
		if err := c.crypto.Encrypt(pkt); err != nil {
			return err
		}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := protocol.WriteFrame(c.conn, pkt, c.maxPacketSize); err != nil {
		return err
	}
	c.scheduler.UpdateLastSent(c.id)
	return nil
}

// SendKeepAlive writes a bare zero-length frame. Satisfies keepalive.Client.
func (c *Connection) SendKeepAlive() error {
	if c.disconnected.Load() {
		return errs.ErrNotConnected
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.WriteKeepAlive(c.conn)
}

// Disconnect sends a best-effort Disconnect envelope carrying reason, then
// performs the silent teardown. Safe to call more than once.
func (c *Connection) Disconnect(reason string) {
	if c.disconnected.Load() {
		return
	}

	pkt := protocol.NewSystemPacket(protocol.Disconnect, []byte(reason))
	c.sendMu.Lock()
	_ = protocol.WriteFrame(c.conn, pkt, c.maxPacketSize)
	c.sendMu.Unlock()

	c.DisconnectSilent(reason)
}

// DisconnectSilent tears down the connection without telling the peer.
// Idempotent: the first caller wins, every subsequent call is a no-op.
// Satisfies keepalive.Client.
func (c *Connection) DisconnectSilent(reason string) {
	if !c.disconnected.CompareAndSwap(false, true) {
		return
	}

	c.logger.Debug().Str("reason", reason).Msg("connection closed")
	c.scheduler.Unregister(c.id)
	_ = c.conn.Close()
	if c.onClosed != nil {
		c.onClosed(c)
	}
}

// readLoop runs until a terminal condition and always ends in a silent
// disconnect: a fatal read error, cancellation, a received Disconnect, or
// a rate-limit violation (which instead sends an explicit policy
// Disconnect before tearing down).
func (c *Connection) readLoop(ctx context.Context) {
	defer c.DisconnectSilent("read loop exited")

	for {
		if ctx.Err() != nil {
			return
		}

		pkt, isKeepAlive, err := protocol.ReadFrame(c.conn, c.maxPacketSize)
		if err != nil {
			return
		}
		c.scheduler.UpdateLastReceived(c.id)
		if isKeepAlive {
			continue
		}

		// Reserved system packets (handshake/keep-alive/disconnect) bypass
		// the rate limiter; only application traffic is metered.
		if !pkt.IsSystem() && c.limiter != nil && !c.limiter.TryConsume(len(pkt.Payload)) {
			c.logger.Warn().Msg("rate limit exceeded")
			c.Disconnect("Rate limit exceeded.")
			return
		}

		if pkt.Encrypted {
			if err := c.crypto.Decrypt(pkt); err != nil {
				c.logger.Debug().Err(err).Msg("decrypt failed")
				return
			}
		}

		if pkt.IsSystem() {
			t, _ := pkt.SystemType()
			switch t {
			case protocol.KeepAlive:
				// liveness already updated above; nothing else to do.
			case protocol.Disconnect:
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
