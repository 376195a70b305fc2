package config

import "time"

const (
	// AppName is used for the CLI, the tracer resource and the cache prefix.
	AppName = "pms"

	// AppVersion is stamped into event metadata and the trace resource.
	AppVersion = "2.0.0"

	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultCacheTTL bounds how long a query result may be served from cache.
	DefaultCacheTTL = 10 * time.Minute

	// DefaultJWTTTL is the lifetime of tokens minted by issue-token.
	DefaultJWTTTL = 24 * time.Hour

	// DefaultShutdownTimeout bounds graceful shutdown of the HTTP server.
	DefaultShutdownTimeout = 10 * time.Second
)

// Broker backends accepted by --broker.
const (
	BrokerPostgres = "postgres"
	BrokerMemory   = "memory"
)
