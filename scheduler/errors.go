package scheduler

import (
	"errors"

	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

// Scheduler errors.
var (
	// ErrBusy is returned by Submit while a command is in flight
	ErrBusy = errors.New("scheduler busy")

	// ErrNotBusy is returned by Cancel when the handle is not in flight
	ErrNotBusy = errors.New("no command in flight for this handle")

	// ErrDeviceUnresponsive is returned after repeated timeouts until
	// Reinitialize succeeds
	ErrDeviceUnresponsive = errors.New("device unresponsive")

	// ErrTransport wraps port failures that survived the retry budget
	ErrTransport = errors.New("transport error")

	// ErrTimeout is the error of a StatusTimeout result
	ErrTimeout = errors.New("command timed out")

	// ErrCancelled is the error of a StatusCancelled result
	ErrCancelled = errors.New("command cancelled")

	// ErrCommandFailed is the error of a response with a failure status
	ErrCommandFailed = errors.New("command failed")

	// ErrNoChannel is returned when protection is requested but no
	// shielded channel was configured
	ErrNoChannel = errors.New("no shielded channel configured")

	// ErrNoStore is returned when a saved context is needed but no
	// SessionStore was configured
	ErrNoStore = errors.New("no session store configured")
)

// StatusOf classifies err the way the scheduler reports it in a Result.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrBusy):
		return StatusBusy
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrDeviceUnresponsive):
		return StatusDeviceUnresponsive
	case errors.Is(err, protocol.ErrFrameTooLarge),
		errors.Is(err, protocol.ErrMalformedResponse),
		errors.Is(err, protocol.ErrMalformedCommand):
		return StatusInvalidLength
	case errors.Is(err, protocol.ErrChecksumMismatch),
		errors.Is(err, shielded.ErrIntegrityFailure),
		errors.Is(err, shielded.ErrAlert),
		errors.Is(err, shielded.ErrHandshakeFailed):
		return StatusIntegrityFailure
	default:
		return StatusFailure
	}
}
