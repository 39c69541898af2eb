package bus

import "time"

// Config governs the router's resource bounds and policy, per spec.md §6.
type Config struct {
	MaxRetained          int
	MaxMessageSize       int
	MaxPayloadSize       int
	RateLimit            float64
	AllowGlobalWildcard  bool
	CleanupInterval      time.Duration
	RateLimitIdleGrace   time.Duration
	Debug                bool
}

// DefaultConfig returns the defaults enumerated in spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxRetained:         1000,
		MaxMessageSize:      1048576,
		MaxPayloadSize:      524288,
		RateLimit:           1000,
		AllowGlobalWildcard: true,
		CleanupInterval:     30 * time.Second,
		RateLimitIdleGrace:  2 * time.Minute,
		Debug:               false,
	}
}
