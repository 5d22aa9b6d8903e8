// Package ratelimit implements the per-client dual token bucket (packets
// and bytes) that guards the server against abusive clients. Both buckets
// refill continuously from a monotonic clock; a single rejection is meant
// to be fatal to the connection (see server.Connection).
package ratelimit

import (
	"sync"
	"time"
)

// Config holds the sustained rate and burst size for both buckets.
type Config struct {
	PacketsPerSecond float64
	PacketsBurst     float64
	BytesPerSecond   float64
	BytesBurst       float64
}

// DefaultConfig mirrors the reference defaults.
var DefaultConfig = Config{
	PacketsPerSecond: 20,
	PacketsBurst:     40,
	BytesPerSecond:   1000,
	BytesBurst:       2000,
}

// Limiter is a dual token-bucket rate limiter for one client.
type Limiter struct {
	mu sync.Mutex

	cfg              Config
	availablePackets float64
	availableBytes   float64
	lastRefill       time.Time
	now              func() time.Time // overridable for tests
}

// New constructs a limiter starting with full buckets.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:              cfg,
		availablePackets: cfg.PacketsBurst,
		availableBytes:   cfg.BytesBurst,
		lastRefill:       time.Now(),
		now:              time.Now,
	}
}

// TryConsume atomically refills both buckets, checks that at least one
// packet token and n byte tokens are available, and if so debits both and
// returns true. On failure it returns false and debits nothing.
func (l *Limiter) TryConsume(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.availablePackets = min(l.cfg.PacketsBurst, l.availablePackets+elapsed*l.cfg.PacketsPerSecond)
		l.availableBytes = min(l.cfg.BytesBurst, l.availableBytes+elapsed*l.cfg.BytesPerSecond)
		l.lastRefill = now
	}

	bytesNeeded := float64(n)
	if l.availablePackets < 1 || l.availableBytes < bytesNeeded {
		return false
	}

	l.availablePackets -= 1
	l.availableBytes -= bytesNeeded
	return true
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
