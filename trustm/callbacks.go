package trustm

import "time"

// Provisioning phases reported through Progress.Phase.
const (
	PhaseOpening   = "opening"
	PhaseWriting   = "writing"
	PhaseVerifying = "verifying"
	PhaseClosing   = "closing"
	PhaseComplete  = "complete"
)

// Progress contains information about a provisioning run.
// Passed to ProgressCallback while a manifest is written.
type Progress struct {
	// Phase is one of the Phase constants
	Phase string

	// CurrentRow is the number of manifest rows finished
	CurrentRow int

	// TotalRows is the number of rows in the manifest
	TotalRows int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the total number of bytes written so far
	BytesWritten int

	// ElapsedTime is the time elapsed since provisioning started
	ElapsedTime time.Duration
}

// ProgressCallback is called during provisioning to report progress.
// Implementations should return quickly.
//
// Example:
//
//	dev := trustm.New(sched,
//	    trustm.WithProgressCallback(func(p trustm.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Row %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentRow, p.TotalRows)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface. Any logger with these three
// methods fits, including internal/logging.Logger.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}
