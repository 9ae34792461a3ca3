package config

import "time"

// TimeoutConfig holds timeout settings for the server process.
type TimeoutConfig struct {
	// HTTPRequest bounds a single API request. Default: 60s
	HTTPRequest time.Duration

	// Shutdown bounds graceful HTTP shutdown. Default: 10s
	Shutdown time.Duration

	// DatabaseLock is how long a connection waits on the SQLite file lock.
	// Default: 30s
	DatabaseLock time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPRequest:  60 * time.Second,
		Shutdown:     10 * time.Second,
		DatabaseLock: 30 * time.Second,
	}
}

// TimeoutsFromLoader reads the timeouts.* keys, and database.timeout_seconds
// for the lock wait.
func TimeoutsFromLoader(l *Loader) *TimeoutConfig {
	def := DefaultTimeoutConfig()
	return &TimeoutConfig{
		HTTPRequest:  l.Duration("timeouts.http_request", def.HTTPRequest),
		Shutdown:     l.Duration("timeouts.shutdown", def.Shutdown),
		DatabaseLock: time.Duration(l.Int("database.timeout_seconds", int(def.DatabaseLock/time.Second))) * time.Second,
	}
}

// global instance that can be set at startup
var globalTimeouts = DefaultTimeoutConfig()

// SetGlobalTimeouts sets the global timeout configuration
func SetGlobalTimeouts(cfg *TimeoutConfig) {
	globalTimeouts = cfg
}

// GetTimeouts returns the global timeout configuration
func GetTimeouts() *TimeoutConfig {
	return globalTimeouts
}
