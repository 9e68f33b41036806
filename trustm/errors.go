package trustm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandle is returned when restoring an application without a
	// saved hibernation handle.
	ErrNoHandle = errors.New("no hibernation handle saved")

	// ErrUnexpectedResponse is returned when a response payload does not
	// have the shape the command defines.
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// ChecksumMismatchError indicates that a data object read back after a
// write does not match what was written.
type ChecksumMismatchError struct {
	OID      uint16
	Offset   uint16
	Expected byte
	Actual   byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for object 0x%04X at offset %d: expected 0x%02X, got 0x%02X",
		e.OID, e.Offset, e.Expected, e.Actual)
}

// VerificationError indicates that a read-back returned a different amount
// of data than was written.
type VerificationError struct {
	OID    uint16
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification of object 0x%04X failed: %s", e.OID, e.Reason)
}
