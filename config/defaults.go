package config

import "time"

// Default values, named after the components they configure.
const (
	DefaultMaxPacketSize = 64 * 1024

	DefaultKeepAliveInterval = 5 * time.Second
	DefaultKeepAliveTimeout  = 15 * time.Second

	DefaultPacketsPerSecond = 20.0
	DefaultPacketsBurst     = 40.0
	DefaultBytesPerSecond   = 1000.0
	DefaultBytesBurst       = 2000.0

	DefaultBroadcastConcurrency = 100

	DefaultIdentityFile = "server_key.json"
	DefaultTrustFile    = "known_servers.json"

	DefaultDialTimeout = 10 * time.Second
)

// ApplyDefaults fills zero-valued fields of s with the reference defaults.
func (s *Server) ApplyDefaults() {
	if s.MaxPacketSize == 0 {
		s.MaxPacketSize = DefaultMaxPacketSize
	}
	if s.KeepAlive.Interval == 0 {
		s.KeepAlive.Interval = DefaultKeepAliveInterval
	}
	if s.KeepAlive.Timeout == 0 {
		s.KeepAlive.Timeout = DefaultKeepAliveTimeout
	}
	if s.RateLimit.PacketsPerSecond == 0 {
		s.RateLimit.PacketsPerSecond = DefaultPacketsPerSecond
	}
	if s.RateLimit.PacketsBurst == 0 {
		s.RateLimit.PacketsBurst = DefaultPacketsBurst
	}
	if s.RateLimit.BytesPerSecond == 0 {
		s.RateLimit.BytesPerSecond = DefaultBytesPerSecond
	}
	if s.RateLimit.BytesBurst == 0 {
		s.RateLimit.BytesBurst = DefaultBytesBurst
	}
	if s.BroadcastConcurrency == 0 {
		s.BroadcastConcurrency = DefaultBroadcastConcurrency
	}
	if s.IdentityFile == "" {
		s.IdentityFile = DefaultIdentityFile
	}
}

// ApplyDefaults fills zero-valued fields of c with the reference defaults.
func (c *Client) ApplyDefaults() {
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.TrustFile == "" {
		c.TrustFile = DefaultTrustFile
	}
}
