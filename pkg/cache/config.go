package cache

import "time"

// Config controls the resolution cache.
type Config struct {
	// Enabled turns caching on. When false every read recomputes from the store.
	Enabled bool `mapstructure:"enabled"`

	// MaxSize is the maximum number of cached views.
	MaxSize int `mapstructure:"max_size"`

	// TTL bounds how long a view may be served. Zero means entries live until
	// the ledger revision changes or the cache is invalidated.
	TTL time.Duration `mapstructure:"ttl"`
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		MaxSize: 256,
		TTL:     0,
	}
}
