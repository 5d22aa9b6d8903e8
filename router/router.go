// Package router dispatches application packets to registered handlers by
// numeric identifier. Registration and dispatch are safe for concurrent use;
// readers (dispatch) never block behind writers (registration) on the
// happy path.
package router

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/trustwire/tcpmux/protocol"
)

// Client is the minimal capability a router needs from a connection to
// dispatch a packet to its handler: identity and the ability to reply.
type Client interface {
	ID() string
	Send(pkt *protocol.Packet) error
}

// Handler processes one application packet. A nil Handler registered for an
// identifier is a valid, explicit "ignore this identifier" entry.
type Handler func(ctx context.Context, client Client, pkt *protocol.Packet) error

// Router maps packet identifiers to handlers.
type Router struct {
	handlers sync.Map // protocol.PacketIdentifier -> Handler
	logger   zerolog.Logger
}

// New creates an empty router.
func New(logger zerolog.Logger) *Router {
	return &Router{logger: logger.With().Str("com", "router").Logger()}
}

// Register binds identifier to handler. A nil handler is accepted and acts
// as an explicit ignore: Route will find the slot but invoke nothing.
// Register may be called at any time, including concurrently with Route.
func (r *Router) Register(id protocol.PacketIdentifier, handler Handler) {
	r.handlers.Store(id, handler)
}

// Unregister removes any handler bound to identifier.
func (r *Router) Unregister(id protocol.PacketIdentifier) {
	r.handlers.Delete(id)
}

// Route looks up the handler for pkt.Identifier and invokes it, blocking
// the caller until the handler returns (the caller "awaits the future").
// If the identifier is registered with a nil handler, Route returns nil
// without invoking anything. Unknown identifiers are logged and treated as
// a no-op; they are never fatal to the connection.
func (r *Router) Route(ctx context.Context, client Client, pkt *protocol.Packet) error {
	v, ok := r.handlers.Load(pkt.Identifier)
	if !ok {
		r.logger.Debug().
			Int("identifier", int(pkt.Identifier)).
			Str("client", client.ID()).
			Msg("no handler registered for packet identifier")
		return nil
	}

	handler, _ := v.(Handler)
	if handler == nil {
		return nil
	}
	return handler(ctx, client, pkt)
}
