package config

// Server is the top-level server configuration.
type Server struct {
	Listen               Listen    `yaml:"listen"`
	MaxPacketSize        int       `yaml:"max_packet_size"`
	Debug                bool      `yaml:"debug"`
	KeepAlive            KeepAlive `yaml:"keep_alive"`
	RateLimit            RateLimit `yaml:"rate_limit"`
	BroadcastConcurrency int       `yaml:"broadcast_concurrency"`
	IdentityFile         string    `yaml:"identity_file"`
}
