package scheduler

import (
	"time"

	"github.com/moffa90/go-trustm/pal"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

// Config holds the scheduler configuration.
type Config struct {
	// Logger is used for logging operations (optional)
	Logger Logger

	// Metrics receives command and session events (optional)
	Metrics Metrics

	// Timeout is the guard time from submit to completion
	Timeout time.Duration

	// PollInterval is how often the port is checked for a response
	PollInterval time.Duration

	// Retries bounds both resent transport writes per message and the
	// consecutive timeouts tolerated before the device is declared
	// unresponsive
	Retries int

	// RetryInterval paces resent writes
	RetryInterval time.Duration

	// Codec frames commands and responses
	Codec *protocol.Codec

	// Channel protects commands that ask for it (optional)
	Channel *shielded.Channel

	// Store persists session contexts for Request.Context (optional)
	Store SessionStore

	// Timer schedules polls; defaults to pal.StdTimer
	Timer pal.Timer

	// Lock guards state and port access; defaults to a pal.MutexLock
	Lock pal.Lock
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Timeout:       time.Second,
		PollInterval:  2 * time.Millisecond,
		Retries:       3,
		RetryInterval: 10 * time.Millisecond,
	}
}

// Option is a functional option for configuring the Scheduler.
type Option func(*Config)

// WithLogger sets a logger for scheduler operations.
//
// Example:
//
//	sched := scheduler.New(port, scheduler.WithLogger(myLogger))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTimeout sets the guard time from submit to completion.
//
// Example:
//
//	sched := scheduler.New(port, scheduler.WithTimeout(500*time.Millisecond))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithPollInterval sets how often the port is polled for a response.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.PollInterval = interval
		}
	}
}

// WithRetries sets the retry budget for transport writes and timeouts.
//
// Example:
//
//	sched := scheduler.New(port, scheduler.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithRetryInterval sets the minimum spacing between resent writes.
func WithRetryInterval(interval time.Duration) Option {
	return func(c *Config) {
		if interval > 0 {
			c.RetryInterval = interval
		}
	}
}

// WithCodec sets the frame codec. The default is protocol.NewCodec().
func WithCodec(codec *protocol.Codec) Option {
	return func(c *Config) {
		c.Codec = codec
	}
}

// WithChannel enables shielded commands over ch.
//
// Example:
//
//	ch, _ := shielded.NewChannel(secret)
//	sched := scheduler.New(port, scheduler.WithChannel(ch))
func WithChannel(ch *shielded.Channel) Option {
	return func(c *Config) {
		c.Channel = ch
	}
}

// WithStore sets where session contexts are saved and restored.
func WithStore(store SessionStore) Option {
	return func(c *Config) {
		c.Store = store
	}
}

// WithTimer replaces the poll timer.
func WithTimer(timer pal.Timer) Option {
	return func(c *Config) {
		c.Timer = timer
	}
}

// WithLock replaces the state lock.
func WithLock(lock pal.Lock) Option {
	return func(c *Config) {
		c.Lock = lock
	}
}
