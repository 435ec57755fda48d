package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts. WriteTimeout is left unset because /events streams.
const (
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 10 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const MaintenanceJobInterval = 5 * time.Minute

// Offline cache writes are persisted this long after the first unsaved Put
const CacheFlushDelay = 2 * time.Second

// SSE keep-alive
const EventsHeartbeatInterval = 15 * time.Second

// Default and maximum page size for scan history
const (
	DefaultScanHistoryLimit = 20
	MaxScanHistoryLimit     = 200
)

// Request body cap for the scanner API
const MaxRequestBodyBytes = 64 << 10
