package config

import "time"

// RateLimitConfig tunes the token-bucket limiter guarding the
// purchase endpoint.  Each bucket holds Capacity tokens and gains
// RefillTokens every RefillInterval; a purchase attempt spends one.
// KeyStrategy decides how buckets are partitioned across callers.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads the limiter settings from the
// environment.  RATE_LIMIT_BURST and RATE_LIMIT_REFILL_EVERY are
// shorthands: burst overrides the capacity, refill-every switches to
// one token per interval.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 60),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 1),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		KeyStrategy:    envStr("RATE_LIMIT_KEY_STRATEGY", "ip_buyer_route"),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	if burst := envInt("RATE_LIMIT_BURST", -1); burst > 0 {
		cfg.Capacity = burst
	}
	if every := envDur("RATE_LIMIT_REFILL_EVERY", 0); every > 0 {
		cfg.RefillTokens = 1
		cfg.RefillInterval = every
	}
	return clampRateLimit(cfg)
}

// clampRateLimit enforces the limiter's operational floor: at least
// one token of capacity and refill, a positive interval, and a bucket
// TTL long enough to survive several refill cycles so idle buckets
// expire instead of resetting mid-conversation.
func clampRateLimit(cfg RateLimitConfig) RateLimitConfig {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillTokens < 1 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if min := 5 * cfg.RefillInterval; cfg.TTL < min {
		cfg.TTL = min
	}
	return cfg
}
