package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/trustwire/tcpmux/errs"
)

// envelopeMode is a canonical (deterministic) CBOR encoder: the same
// envelope or record always serializes to the same bytes, so a decoded
// envelope re-encodes byte-identically.
var envelopeMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: build canonical cbor encoder: %v", err))
	}
	return mode
}()

var decodeMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: build cbor decoder: %v", err))
	}
	return mode
}()

// wireEnvelope is the ordered triple serialized for every non-keep-alive
// frame. Canonical CBOR orders the fields by their integer keys (1, 2, 3).
type wireEnvelope struct {
	Identifier int    `cbor:"1,keyasint"`
	Encrypted  bool   `cbor:"2,keyasint"`
	Payload    []byte `cbor:"3,keyasint"`
}

// EncodeEnvelope serializes a packet's envelope deterministically. The
// packet caches the result; subsequent calls reuse the cache until the
// payload is replaced (e.g. by encryption).
func EncodeEnvelope(p *Packet) ([]byte, error) {
	if p.cached != nil {
		return p.cached, nil
	}
	data, err := envelopeMode.Marshal(wireEnvelope{
		Identifier: int(p.Identifier),
		Encrypted:  p.Encrypted,
		Payload:    p.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	p.cached = data
	return data, nil
}

// DecodeEnvelope parses a serialized envelope into a Packet.
func DecodeEnvelope(data []byte) (*Packet, error) {
	var w wireEnvelope
	if err := decodeMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", errs.ErrInvalidFrame, err)
	}
	return &Packet{
		Identifier: PacketIdentifier(w.Identifier),
		Encrypted:  w.Encrypted,
		Payload:    w.Payload,
		cached:     data,
	}, nil
}

// EncodeRecord serializes an application-level record (ClientHandshake,
// ServerHandshake, ...) with the same deterministic codec used for
// envelopes.
func EncodeRecord(v interface{}) ([]byte, error) {
	data, err := envelopeMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord decodes bytes produced by EncodeRecord into v.
func DecodeRecord(data []byte, v interface{}) error {
	if err := decodeMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
