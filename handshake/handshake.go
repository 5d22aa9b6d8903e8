// Package handshake implements the four-message, server-driven sequence
// that binds a long-term signing identity, ephemeral ECDH keys and a
// client challenge, producing a session AEAD key for both peers.
package handshake

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/trustwire/tcpmux/aead"
	"github.com/trustwire/tcpmux/errs"
	"github.com/trustwire/tcpmux/identity"
	"github.com/trustwire/tcpmux/kex"
	"github.com/trustwire/tcpmux/protocol"
	"github.com/trustwire/tcpmux/trust"
)

const challengeSize = 32

// ClientHandshake is the client's message 2 payload.
type ClientHandshake struct {
	Challenge          []byte `cbor:"1,keyasint"`
	ClientEphemeralKey []byte `cbor:"2,keyasint"`
}

// ServerHandshake is the server's message 3 payload.
type ServerHandshake struct {
	ServerEphemeralKey []byte `cbor:"1,keyasint"`
	Signature          []byte `cbor:"2,keyasint"`
}

func readHandshakePacket(r io.Reader, maxPacketSize int) (*protocol.Packet, error) {
	pkt, isKeepAlive, err := protocol.ReadFrame(r, maxPacketSize)
	if err != nil {
		return nil, err
	}
	if isKeepAlive {
		return nil, fmt.Errorf("%w: unexpected keep-alive during handshake", errs.ErrProtocol)
	}
	if t, ok := pkt.SystemType(); !ok || t != protocol.Handshake {
		return nil, fmt.Errorf("%w: expected handshake packet, got identifier %d", errs.ErrProtocol, pkt.Identifier)
	}
	return pkt, nil
}

func writeHandshakePacket(w io.Writer, payload []byte, maxPacketSize int) error {
	pkt := protocol.NewSystemPacket(protocol.Handshake, payload)
	return protocol.WriteFrame(w, pkt, maxPacketSize)
}

// Server drives the server side of the handshake over stream. On success
// it returns a session-bound AEAD crypto instance; the caller installs it
// for the connection. On any failure it returns an error without writing
// further packets; closing the stream is left to the caller.
func Server(stream io.ReadWriter, ident *identity.Store, maxPacketSize int) (aead.Crypto, error) {
	// 1. S->C: server identity public key.
	if err := writeHandshakePacket(stream, ident.PublicKey(), maxPacketSize); err != nil {
		return nil, err
	}

	// 3. C->S: challenge + client ephemeral key.
	pkt, err := readHandshakePacket(stream, maxPacketSize)
	if err != nil {
		return nil, err
	}
	clientMsg, err := protocol.As[ClientHandshake](pkt)
	if err != nil {
		return nil, fmt.Errorf("%w: decode client handshake: %v", errs.ErrProtocol, err)
	}
	if len(clientMsg.Challenge) != challengeSize || len(clientMsg.ClientEphemeralKey) == 0 {
		return nil, fmt.Errorf("%w: malformed client handshake fields", errs.ErrProtocol)
	}

	ephemeral, err := kex.Generate()
	if err != nil {
		return nil, err
	}
	serverEphemeralPub, err := ephemeral.PublicKey()
	if err != nil {
		return nil, err
	}

	// 4. S->C: server ephemeral key + signature over challenge‖eph_c‖eph_s.
	signed := concat(clientMsg.Challenge, clientMsg.ClientEphemeralKey, serverEphemeralPub)
	sig, err := ident.Sign(signed)
	if err != nil {
		return nil, err
	}
	serverMsg := ServerHandshake{ServerEphemeralKey: serverEphemeralPub, Signature: sig}
	serverMsgBytes, err := protocol.EncodeRecord(serverMsg)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakePacket(stream, serverMsgBytes, maxPacketSize); err != nil {
		return nil, err
	}

	// 6. Derive the session key and install AEAD.
	sessionKey, err := ephemeral.DeriveSharedKey(clientMsg.ClientEphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCryptoFailure, err)
	}
	return aead.New(sessionKey)
}

// Client drives the client side of the handshake over stream against a
// server reachable at (host, port). It performs the TOFU check against
// trustStore before any key material is sent, aborting with
// errs.ErrIdentityMismatch on a fingerprint mismatch, and verifies the
// server's signature before deriving the session key, aborting with
// errs.ErrBadSignature on failure. A server is recorded in the trust store
// only during step 2, before any signature check — standard TOFU semantics.
func Client(stream io.ReadWriter, host string, port int, trustStore *trust.Store, maxPacketSize int) (aead.Crypto, error) {
	// 1. S->C: server identity public key.
	pkt, err := readHandshakePacket(stream, maxPacketSize)
	if err != nil {
		return nil, err
	}
	serverIdentityKey := pkt.Payload

	// 2. TOFU verify/record, before any challenge is sent.
	trusted, err := trustStore.VerifyOrTrust(host, port, serverIdentityKey)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, errs.ErrIdentityMismatch
	}

	// 3. C->S: fresh challenge + fresh ephemeral key pair.
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	ephemeral, err := kex.Generate()
	if err != nil {
		return nil, err
	}
	clientEphemeralPub, err := ephemeral.PublicKey()
	if err != nil {
		return nil, err
	}
	clientMsg := ClientHandshake{Challenge: challenge, ClientEphemeralKey: clientEphemeralPub}
	clientMsgBytes, err := protocol.EncodeRecord(clientMsg)
	if err != nil {
		return nil, err
	}
	if err := writeHandshakePacket(stream, clientMsgBytes, maxPacketSize); err != nil {
		return nil, err
	}

	// 4. S->C: server ephemeral key + signature.
	pkt, err = readHandshakePacket(stream, maxPacketSize)
	if err != nil {
		return nil, err
	}
	serverMsg, err := protocol.As[ServerHandshake](pkt)
	if err != nil {
		return nil, fmt.Errorf("%w: decode server handshake: %v", errs.ErrProtocol, err)
	}

	// 5. Verify signature over challenge‖eph_c‖eph_s under the identity key.
	signed := concat(challenge, clientEphemeralPub, serverMsg.ServerEphemeralKey)
	ok, err := identity.Verify(serverIdentityKey, signed, serverMsg.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBadSignature, err)
	}
	if !ok {
		return nil, errs.ErrBadSignature
	}

	// 6. Derive the session key and install AEAD.
	sessionKey, err := ephemeral.DeriveSharedKey(serverMsg.ServerEphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCryptoFailure, err)
	}
	return aead.New(sessionKey)
}

func concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
