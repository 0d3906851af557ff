package server

import "time"

const (
	DefaultAddr        = "127.0.0.1:7437"
	DefaultMaxConns    = 64
	DefaultIdleTimeout = 60 * time.Second

	// Payloads up to this size are served from the in-memory cache.
	cacheableFileSize = 1 << 20
	cacheEntries      = 256
)

type Config struct {
	// Addr is the TCP listen address.
	Addr string

	// MaxConns bounds concurrently served connections. Further accepts
	// block until a slot frees up.
	MaxConns int64

	// IdleTimeout closes a connection with no client activity.
	IdleTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Addr == "" {
		out.Addr = DefaultAddr
	}
	if out.MaxConns <= 0 {
		out.MaxConns = DefaultMaxConns
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = DefaultIdleTimeout
	}
	return out
}

// ProjectConfig is one entry of the server's projects file.
type ProjectConfig struct {
	Name string `mapstructure:"name"`
	Root string `mapstructure:"root"`
	Dict string `mapstructure:"dict"`
}
