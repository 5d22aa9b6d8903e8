package kex

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
)

// marshalSPKI encodes an ECDH public key using the standard
// SubjectPublicKeyInfo structure.
func marshalSPKI(pub *ecdh.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal SPKI: %w", err)
	}
	return der, nil
}

// unmarshalSPKI decodes a SubjectPublicKeyInfo-encoded ECDH public key over
// Curve. x509 always parses EC SPKI blobs into *ecdsa.PublicKey; ECDH()
// converts that into the ecdh.PublicKey the key agreement needs.
func unmarshalSPKI(der []byte) (*ecdh.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse SPKI: %w", err)
	}
	ecdsaKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("SPKI key is not an EC public key")
	}
	ecKey, err := ecdsaKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("convert to ECDH public key: %w", err)
	}
	if ecKey.Curve() != Curve {
		return nil, fmt.Errorf("SPKI key is not on the expected curve")
	}
	return ecKey, nil
}
