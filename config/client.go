package config

import "time"

// Client is the top-level client configuration.
type Client struct {
	Server        Listen        `yaml:"server"`
	MaxPacketSize int           `yaml:"max_packet_size"`
	Debug         bool          `yaml:"debug"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	TrustFile     string        `yaml:"trust_file"`
}
