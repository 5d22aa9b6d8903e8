package config

import (
	"fmt"
	"time"
)

// EnvPrefix namespaces environment variable overrides for this module's
// reference CLI (e.g. TCPMUX_CONFIG).
const EnvPrefix = "TCPMUX_"

// Listen is a host/port pair used for both the server's listen address and
// a client's dial target.
type Listen struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr renders the pair as a dial/listen string.
func (l Listen) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// KeepAlive configures the shared keep-alive scheduler.
type KeepAlive struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RateLimit configures the per-client dual token bucket.
type RateLimit struct {
	PacketsPerSecond float64 `yaml:"packets_per_second"`
	PacketsBurst     float64 `yaml:"packets_burst"`
	BytesPerSecond   float64 `yaml:"bytes_per_second"`
	BytesBurst       float64 `yaml:"bytes_burst"`
}
