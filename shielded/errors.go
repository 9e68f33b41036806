package shielded

import (
	"errors"
	"fmt"
)

// Session errors. Every error returned by Unprotect moves the channel to
// StateInvalid; the session must then be fully re-established.
var (
	// ErrIntegrityFailure is returned when a record fails authentication
	ErrIntegrityFailure = errors.New("integrity failure")

	// ErrSequenceViolation is returned for a replayed, skipped or regressed
	// sequence counter. It matches ErrIntegrityFailure.
	ErrSequenceViolation = fmt.Errorf("%w: sequence violation", ErrIntegrityFailure)

	// ErrSequenceExhausted is returned when the counter reaches the threshold
	ErrSequenceExhausted = errors.New("sequence counter exhausted")

	// ErrNotEstablished is returned when protection is used without a session
	ErrNotEstablished = errors.New("shielded channel not established")

	// ErrSessionInvalid is returned when the session was invalidated
	ErrSessionInvalid = errors.New("shielded session invalid")

	// ErrProtectionMismatch is returned when a command asks for a protection
	// level the session does not provide
	ErrProtectionMismatch = errors.New("protection level mismatch")

	// ErrHandshakeFailed is returned when key agreement fails
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrAlert is returned when the peer answered with an alert
	ErrAlert = errors.New("alert received")

	// ErrContextInvalid is returned for saved contexts that fail to open or decode
	ErrContextInvalid = errors.New("saved context invalid")

	// ErrStaleContext is returned when restoring a context older than the live session
	ErrStaleContext = errors.New("saved context is stale")

	// ErrUnknownProvider is returned for unregistered provider names
	ErrUnknownProvider = errors.New("unknown provider")
)

// AlertError carries the code of an alert sent by the peer.
type AlertError struct {
	Code byte
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("alert received: %s (0x%02X)", alertName(e.Code), e.Code)
}

// Unwrap makes AlertError match ErrAlert.
func (e *AlertError) Unwrap() error {
	return ErrAlert
}

func alertName(code byte) string {
	switch code {
	case AlertFatal:
		return "fatal"
	case AlertIntegrityViolated:
		return "integrity violated"
	default:
		return "unknown"
	}
}
