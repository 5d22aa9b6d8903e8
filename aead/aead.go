// Package aead provides the per-session packet crypto boundary: a
// two-method capability {Encrypt, Decrypt} with two implementations, a
// no-op used before a handshake completes and an AES-GCM instance bound to
// the session key derived at handshake time.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/trustwire/tcpmux/errs"
	"github.com/trustwire/tcpmux/protocol"
)

const (
	nonceSize = 12
	tagSize   = 16
)

// Crypto is the capability bound at handshake completion. Packets whose
// Encrypted flag is false pass through both methods unchanged.
type Crypto interface {
	Encrypt(p *protocol.Packet) error
	Decrypt(p *protocol.Packet) error
}

// None is the identity implementation used before a session key exists.
type None struct{}

func (None) Encrypt(p *protocol.Packet) error { return nil }
func (None) Decrypt(p *protocol.Packet) error { return nil }

// AESGCM implements Crypto with AES-GCM, a 96-bit random nonce per packet
// and a 128-bit authentication tag. No AAD binds identifier or flags; see
// the module's design notes for the tradeoff.
type AESGCM struct {
	gcm cipher.AEAD
}

// New builds an AESGCM instance from a 32-byte session key (the output of
// kex.KeyPair.DeriveSharedKey).
func New(sessionKey []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("init AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &AESGCM{gcm: gcm}, nil
}

// Encrypt replaces p.Payload with nonce‖tag‖ciphertext when p.Encrypted is
// true; it is a no-op otherwise. Invalidates the packet's serialized cache.
func (a *AESGCM) Encrypt(p *protocol.Packet) error {
	if !p.Encrypted {
		return nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// cipher.AEAD.Seal appends the tag after the ciphertext; the wire
	// format instead places the tag between nonce and ciphertext, so the
	// two pieces are split and reassembled in wire order.
	sealed := a.gcm.Seal(nil, nonce, p.Payload, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, nonceSize+tagSize+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ciphertext...)

	p.ReplacePayload(out)
	return nil
}

// Decrypt splits p.Payload as nonce(12)‖tag(16)‖ciphertext(rest), verifies
// and decrypts it, and replaces p.Payload with the plaintext. Any failure
// is reported as errs.ErrCryptoFailure, fatal for the connection. A
// non-encrypted packet passes through unchanged.
func (a *AESGCM) Decrypt(p *protocol.Packet) error {
	if !p.Encrypted {
		return nil
	}

	if len(p.Payload) < nonceSize+tagSize {
		return fmt.Errorf("%w: payload too short for nonce+tag", errs.ErrCryptoFailure)
	}

	nonce := p.Payload[:nonceSize]
	tag := p.Payload[nonceSize : nonceSize+tagSize]
	ciphertext := p.Payload[nonceSize+tagSize:]

	// Reassemble into the ciphertext‖tag order cipher.AEAD.Open expects.
	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := a.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrCryptoFailure, err)
	}

	p.ReplacePayload(plaintext)
	return nil
}
