package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/trustwire/tcpmux/errs"
)

// DefaultMaxPacketSize is the default bound on a serialized envelope's
// length, matching the reference wire format's u32 length prefix policy.
const DefaultMaxPacketSize = 64 * 1024

// prefixSize is the length of the big-endian u32 frame length prefix.
const prefixSize = 4

// WriteFrame serializes packet p's envelope and writes it as one
// length-prefixed frame: [u32 BE length][envelope bytes]. The header and
// body are combined into a single pooled buffer so that, combined with the
// caller's send-mutex, no other writer's bytes can interleave.
func WriteFrame(w io.Writer, p *Packet, maxPacketSize int) error {
	body, err := EncodeEnvelope(p)
	if err != nil {
		return err
	}
	if len(body) > maxPacketSize {
		return fmt.Errorf("%w: envelope is %d bytes, max is %d", errs.ErrFrameTooLarge, len(body), maxPacketSize)
	}

	buf := GetBufferWithSize(prefixSize + len(body))
	defer PutBuffer(buf)

	var prefix [prefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	buf.Write(prefix[:])
	buf.Write(body)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write frame: %v", errs.ErrConnectionClosed, err)
	}
	return nil
}

// WriteKeepAlive writes a zero-length frame, the wire representation of a
// keep-alive: no envelope is ever produced for it.
func WriteKeepAlive(w io.Writer) error {
	var prefix [prefixSize]byte
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("%w: write keep-alive: %v", errs.ErrConnectionClosed, err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r. It fully loops until all 4
// prefix bytes and, if length > 0, all payload bytes have arrived. A
// zero-length frame returns (nil, true, nil): a keep-alive, carrying no
// envelope. A zero-byte read at any point signals an orderly peer close.
func ReadFrame(r io.Reader, maxPacketSize int) (pkt *Packet, isKeepAlive bool, err error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, false, errs.ErrConnectionClosed
		}
		return nil, false, fmt.Errorf("%w: read frame prefix: %v", errs.ErrConnectionClosed, err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, true, nil
	}
	if int64(length) > int64(maxPacketSize) {
		return nil, false, fmt.Errorf("%w: frame length %d exceeds max %d", errs.ErrFrameTooLarge, length, maxPacketSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, false, errs.ErrConnectionClosed
		}
		return nil, false, fmt.Errorf("%w: read frame body: %v", errs.ErrConnectionClosed, err)
	}

	pkt, err = DecodeEnvelope(body)
	if err != nil {
		return nil, false, err
	}
	return pkt, false, nil
}
