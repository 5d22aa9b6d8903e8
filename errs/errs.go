// Package errs defines the error taxonomy shared by every layer of tcpmux:
// transport framing, the handshake, the crypto boundary, rate limiting and
// connection usage. Callers classify failures with errors.Is against these
// sentinels; wrapped errors carry the underlying cause with %w.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionClosed signals an orderly peer close (zero-byte read).
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidFrame signals a malformed or oversize length-prefixed frame.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrFrameTooLarge signals a frame whose declared length exceeds the
	// configured maximum packet size. It wraps ErrInvalidFrame.
	ErrFrameTooLarge = fmt.Errorf("%w: frame exceeds max packet size", ErrInvalidFrame)

	// ErrProtocol signals an out-of-sequence or malformed protocol message,
	// most commonly during the handshake.
	ErrProtocol = errors.New("protocol error")

	// ErrIdentityMismatch signals a TOFU fingerprint that does not match the
	// one previously recorded for a (host, port).
	ErrIdentityMismatch = errors.New("server identity does not match trusted fingerprint")

	// ErrBadSignature signals a handshake signature that fails verification
	// against the server's identity key: a possible man-in-the-middle.
	ErrBadSignature = errors.New("handshake signature verification failed: possible MITM")

	// ErrCryptoFailure signals AEAD authentication failure on decrypt.
	ErrCryptoFailure = errors.New("AEAD authentication failed")

	// ErrRateLimitExceeded signals a client that exceeded its token bucket.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAlreadyConnected signals Connect() called on an already-connected client.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrNotConnected signals an operation requiring an active session.
	ErrNotConnected = errors.New("not connected")
)
