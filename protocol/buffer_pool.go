package protocol

import (
	"bytes"
	"sync"
)

// Buffer size constants for common frame sizes.
const (
	SmallBufferSize = 256         // keep-alives, system packets
	LargeBufferSize = 65536       // default max packet size
	MaxPooledBuffer = 1024 * 1024 // don't pool larger buffers
)

// bufferPool reuses byte buffers across frame reads/writes to cut allocations.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer retrieves a reset, ready-to-use buffer from the pool.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool. Oversized buffers are dropped
// instead of pooled to avoid bloating the pool with one-off allocations.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > MaxPooledBuffer {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// PutSecretBuffer wipes the buffer's backing array before returning it to the
// pool. Use for buffers that held handshake material or plaintext produced
// by decryption.
func PutSecretBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	b := buf.Bytes()
	for i := range b {
		b[i] = 0
	}
	PutBuffer(buf)
}

// GetBufferWithSize retrieves a pooled buffer grown to at least sizeHint
// bytes of capacity, reducing reallocation when the payload size is known.
func GetBufferWithSize(sizeHint int) *bytes.Buffer {
	buf := GetBuffer()
	if sizeHint > 0 && buf.Cap() < sizeHint {
		buf.Grow(sizeHint)
	}
	return buf
}
