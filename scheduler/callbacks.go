package scheduler

import "time"

// Callback receives the result of a submitted command. It runs on the
// timer goroutine after the scheduler is back to IDLE, so it may submit
// the next command. It must not block.
//
// Example:
//
//	sched.Submit(req, func(r scheduler.Result) {
//	    if !r.OK() {
//	        log.Printf("command failed: %s: %v", r.Status, r.Err)
//	        return
//	    }
//	    sched.Submit(next, done)
//	})
type Callback func(Result)

// Logger is an optional logging interface that can be provided to the
// scheduler. This allows integration with any logging framework.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// Metrics receives scheduler events. internal/metrics provides a
// Prometheus implementation.
type Metrics interface {
	CommandCompleted(opcode byte, status string, elapsed time.Duration)
	SendRetried()
	SessionEvent(event string)
}

// Session event names passed to Metrics.SessionEvent.
const (
	EventEstablished = "established"
	EventInvalidated = "invalidated"
	EventSaved       = "saved"
	EventRestored    = "restored"
)
