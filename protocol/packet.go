package protocol

import "fmt"

// SystemPacketType is the closed set of reserved packet identifiers. Both
// peers must agree on the numeric assignment; these are the reference
// values used throughout this module.
type SystemPacketType int

const (
	Handshake SystemPacketType = 1
	Disconnect SystemPacketType = 2
	KeepAlive SystemPacketType = 3
)

// ReservedMax is the upper bound (inclusive) of the reserved system
// identifier range. Application identifiers must be strictly greater.
const ReservedMax = 100

// PacketIdentifier wraps a numeric packet identifier. Application code must
// construct identifiers through NewPacketIdentifier, which rejects values
// in the reserved range [0, ReservedMax].
type PacketIdentifier int

// NewPacketIdentifier validates and wraps an application-defined identifier.
func NewPacketIdentifier(id int) (PacketIdentifier, error) {
	if id < 0 {
		return 0, fmt.Errorf("packet identifier must be non-negative, got %d", id)
	}
	if id <= ReservedMax {
		return 0, fmt.Errorf("packet identifier %d is in the reserved range [0,%d]", id, ReservedMax)
	}
	return PacketIdentifier(id), nil
}

// systemIdentifier wraps a SystemPacketType without the reserved-range check,
// for internal construction of system packets only.
func systemIdentifier(t SystemPacketType) PacketIdentifier {
	return PacketIdentifier(t)
}

// Packet is the envelope exchanged on the wire: an identifier, a flag
// indicating whether payload is AEAD ciphertext, and the opaque payload
// itself. The serialized form never exceeds the configured max packet size.
type Packet struct {
	Identifier PacketIdentifier
	Encrypted  bool
	Payload    []byte

	cached []byte // serialized envelope cache; invalidated on payload replacement
}

// NewPacket builds an application packet with an explicit identifier.
func NewPacket(id PacketIdentifier, encrypted bool, payload []byte) *Packet {
	return &Packet{Identifier: id, Encrypted: encrypted, Payload: payload}
}

// NewSystemPacket builds a packet carrying a reserved system identifier.
func NewSystemPacket(t SystemPacketType, payload []byte) *Packet {
	return &Packet{Identifier: systemIdentifier(t), Encrypted: false, Payload: payload}
}

// IsSystem reports whether the packet's identifier falls in the reserved range.
func (p *Packet) IsSystem() bool {
	return int(p.Identifier) >= 0 && int(p.Identifier) <= ReservedMax
}

// SystemType returns the system packet type and whether the identifier is
// actually one of the reserved, known values.
func (p *Packet) SystemType() (SystemPacketType, bool) {
	switch SystemPacketType(p.Identifier) {
	case Handshake, Disconnect, KeepAlive:
		return SystemPacketType(p.Identifier), true
	default:
		return 0, false
	}
}

// ReplacePayload swaps the payload (e.g. plaintext -> ciphertext on encrypt,
// or ciphertext -> plaintext on decrypt) and invalidates any cached
// serialized form, since the cache no longer reflects this payload.
func (p *Packet) ReplacePayload(payload []byte) {
	p.Payload = payload
	p.cached = nil
}

// As lazily decodes the packet's payload into an application record using
// the package's deterministic binary codec. It is a view over the existing
// bytes, not a conversion: the original payload is never re-encoded.
func As[T any](p *Packet) (T, error) {
	var out T
	if err := DecodeRecord(p.Payload, &out); err != nil {
		return out, err
	}
	return out, nil
}
