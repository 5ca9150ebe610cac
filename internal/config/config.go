package config // package config loads application configuration from environment variables

import (
	"log"  // log is used to report configuration errors and halt execution
	"os"   // os provides access to environment variables
	"time" // time provides duration types for windows and intervals

	"github.com/joho/godotenv" // godotenv loads a local .env file when present
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, durations for
// windows and intervals.
type Config struct {
	Env             string        // application environment (e.g. "dev", "prod")
	Port            string        // HTTP port to listen on
	DBUser          string        // database username
	DBPass          string        // database password (optional)
	DBHost          string        // database host address
	DBPort          string        // database port number
	DBName          string        // database name
	HoldWindow      time.Duration // how long an unpaid reservation keeps its stock
	SweepInterval   time.Duration // how often the expiry sweeper runs
	SweepBatchSize  int           // max overdue reservations per sweep pass
	PixBaseURL      string        // PIX provider API base URL
	PixAccessToken  string        // PIX provider bearer token
	PixMerchantKey  string        // receiving PIX key
	LogisticsURL    string        // logistics collaborator base URL (ETA, fees, restock)
	ProviderTimeout time.Duration // bound on every outbound provider call
	AMQPURL         string        // message broker URL (optional; falls back to env defaults)
}

// Load reads configuration values from environment variables and returns a
// Config.  A local .env file is loaded first when present (best effort).
// Required variables are enforced by must() and missing values cause the
// program to exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load() // best effort; real env vars win over the file
	return Config{
		Env:             must("APP_ENV"),                     // environment (dev/test/prod)
		Port:            must("APP_PORT"),                    // port to bind the HTTP server
		DBUser:          must("DB_USER"),                     // database user
		DBPass:          os.Getenv("DB_PASS"),                // database password (empty allowed)
		DBHost:          must("DB_HOST"),                     // database host
		DBPort:          must("DB_PORT"),                     // database port
		DBName:          must("DB_NAME"),                     // database name
		HoldWindow:      minutes("RESERVATION_HOLD_MIN", 30), // unpaid hold lifetime
		SweepInterval:   seconds("SWEEP_INTERVAL_SEC", 60),   // sweeper cadence
		SweepBatchSize:  envInt("SWEEP_BATCH_SIZE", 100),     // sweep batch cap
		PixBaseURL:      must("PIX_BASE_URL"),                // provider endpoint
		PixAccessToken:  must("PIX_ACCESS_TOKEN"),            // provider credential
		PixMerchantKey:  must("PIX_MERCHANT_KEY"),            // receiving key
		LogisticsURL:    must("LOGISTICS_BASE_URL"),          // ETA/fee/restock collaborator
		ProviderTimeout: seconds("PROVIDER_TIMEOUT_SEC", 10), // outbound call bound
		AMQPURL:         os.Getenv("RABBITMQ_URL"),           // broker (empty = default chain)
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// minutes reads an optional integer env var and returns it as minutes.
func minutes(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Minute
}

// seconds reads an optional integer env var and returns it as seconds.
func seconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}
