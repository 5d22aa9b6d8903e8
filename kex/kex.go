// Package kex implements the ephemeral ECDH key agreement used once per
// handshake to derive a session's AEAD key.
package kex

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Curve is the fixed named curve for every ephemeral key exchange.
var Curve = ecdh.P256()

// KeyPair is an ephemeral ECDH key pair, used for exactly one handshake and
// discarded afterward.
type KeyPair struct {
	priv *ecdh.PrivateKey
}

// Generate creates a fresh ephemeral key pair over Curve.
func Generate() (*KeyPair, error) {
	priv, err := Curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// PublicKey returns the SubjectPublicKeyInfo encoding of this key pair's
// public key, suitable for transmission on the wire.
func (k *KeyPair) PublicKey() ([]byte, error) {
	// ecdh public keys don't carry a PKIX marshaler; x509.MarshalPKIXPublicKey
	// does, operating on the equivalent crypto.PublicKey interface value.
	return marshalSPKI(k.priv.PublicKey())
}

// DeriveSharedKey imports peerSPKI as a peer public key, performs ECDH, and
// returns SHA-256(shared_secret) as the 32-byte symmetric session key.
func (k *KeyPair) DeriveSharedKey(peerSPKI []byte) ([]byte, error) {
	peerKey, err := unmarshalSPKI(peerSPKI)
	if err != nil {
		return nil, fmt.Errorf("import peer ephemeral key: %w", err)
	}
	secret, err := k.priv.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	sum := sha256.Sum256(secret)
	return sum[:], nil
}
