package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

// Feature: framing-codec, Property: round-trip determinism.
// For any envelope p whose serialized form fits within the configured
// maximum, decode(encode(p)) == p, and repeated encodes of the same
// packet are byte-identical (determinism required by the wire format).
func TestEnvelopeRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.IntRange(ReservedMax+1, 1<<20).Draw(t, "identifier")
		encrypted := rapid.Bool().Draw(t, "encrypted")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "payload")

		pid, err := NewPacketIdentifier(id)
		if err != nil {
			t.Fatalf("unexpected identifier construction error: %v", err)
		}
		pkt := NewPacket(pid, encrypted, payload)

		encoded, err := EncodeEnvelope(pkt)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		decoded, err := DecodeEnvelope(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		if decoded.Identifier != pkt.Identifier {
			t.Fatalf("identifier mismatch: %v != %v", decoded.Identifier, pkt.Identifier)
		}
		if decoded.Encrypted != pkt.Encrypted {
			t.Fatalf("encrypted flag mismatch")
		}
		if len(decoded.Payload) != len(pkt.Payload) {
			t.Fatalf("payload length mismatch")
		}
		for i := range decoded.Payload {
			if decoded.Payload[i] != pkt.Payload[i] {
				t.Fatalf("payload byte %d mismatch", i)
			}
		}

		// Determinism: re-encoding the decoded packet produces identical bytes.
		reencoded, err := EncodeEnvelope(decoded)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if string(reencoded) != string(encoded) {
			t.Fatalf("canonical encoding is not deterministic across re-encode")
		}
	})
}

// Feature: framing-codec, Property: the serialized envelope cache is
// invalidated exactly when the payload is replaced, never otherwise.
func TestEnvelopeCache_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.IntRange(ReservedMax+1, 1<<20).Draw(t, "identifier")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "payload")
		pid, _ := NewPacketIdentifier(id)
		pkt := NewPacket(pid, false, payload)

		first, err := EncodeEnvelope(pkt)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		second, err := EncodeEnvelope(pkt)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(first) > 0 && &first[0] != &second[0] {
			// Cache should return the identical backing slice on the second call.
			t.Fatalf("expected cached encode to reuse the same backing array")
		}

		newPayload := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "newPayload")
		pkt.ReplacePayload(newPayload)
		third, err := EncodeEnvelope(pkt)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(newPayload) != len(payload) && string(third) == string(first) {
			t.Fatalf("cache was not invalidated after ReplacePayload")
		}
	})
}
