package config

import "time"

// CacheConfig defines settings for the availability read-through
// cache.  When Enabled is false or no Redis client is configured,
// reads go straight to the database.  TTL bounds staleness between
// the explicit invalidations the ledger performs on every mutation.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// Defaults are used when variables are not set.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: envBool("CACHE_ENABLED", true),
		TTL:     envDur("CACHE_TTL", 5*time.Minute),
		Prefix:  envStr("CACHE_PREFIX", "avail"),
	}
}
