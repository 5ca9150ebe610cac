package config

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds the Redis client backing the availability
// cache and the purchase rate limiter.  Address and credentials come
// from REDIS_ADDR (or REDIS_HOST/REDIS_PORT), REDIS_PASSWORD,
// REDIS_DB and REDIS_TLS.  The connection is verified with a short
// ping; on failure the function returns nil and callers degrade to
// direct database reads and unlimited requests rather than refusing
// to start.
func NewRedisClient() *redis.Client {
	addr := envStr("REDIS_ADDR", "")
	if host := envStr("REDIS_HOST", ""); host != "" {
		addr = host + ":" + envStr("REDIS_PORT", "6379")
	}
	if addr == "" {
		addr = "localhost:6379"
	}

	var tlsConf *tls.Config
	if envBool("REDIS_TLS", false) {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}

	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  envStr("REDIS_PASSWORD", ""),
		DB:        envInt("REDIS_DB", 0),
		TLSConfig: tlsConf,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}
