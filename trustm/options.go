package trustm

import (
	"github.com/moffa90/go-trustm/scheduler"
	"github.com/moffa90/go-trustm/shielded"
)

// Config holds the device configuration.
type Config struct {
	// ProgressCallback is called while provisioning (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// Protection is applied to every command the device submits
	Protection shielded.Level

	// HandleStore keeps the hibernation context handle
	HandleStore scheduler.SessionStore

	// VerifyAfterWrite reads provisioned objects back and compares them
	VerifyAfterWrite bool

	// FetchLastError reads the element's last error code after a failure
	FetchLastError bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Protection:       shielded.LevelNone,
		VerifyAfterWrite: true,
		FetchLastError:   true,
	}
}

// Option is a functional option for configuring the Device.
type Option func(*Config)

// WithProgressCallback sets a callback to track provisioning progress.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for device operations.
//
// Example:
//
//	dev := trustm.New(sched, trustm.WithLogger(logging.New(logging.RuntimeProfile())))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithProtection sets the shielded level for every command. The scheduler
// must have a channel that provides it.
//
// Example:
//
//	dev := trustm.New(sched, trustm.WithProtection(shielded.LevelEncryptAuthenticate))
func WithProtection(level shielded.Level) Option {
	return func(c *Config) {
		c.Protection = level
	}
}

// WithHandleStore sets where CloseApplication keeps the hibernation handle.
// The default is an in-memory store.
func WithHandleStore(store scheduler.SessionStore) Option {
	return func(c *Config) {
		c.HandleStore = store
	}
}

// WithVerifyAfterWrite enables or disables read-back verification while
// provisioning. Default is true.
func WithVerifyAfterWrite(verify bool) Option {
	return func(c *Config) {
		c.VerifyAfterWrite = verify
	}
}

// WithFetchLastError enables or disables reading the last error code after
// a failed command. Default is true.
func WithFetchLastError(fetch bool) Option {
	return func(c *Config) {
		c.FetchLastError = fetch
	}
}
