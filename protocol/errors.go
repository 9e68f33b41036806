package protocol

import (
	"errors"
	"fmt"
)

// Framing errors. They are never retried: re-sending a malformed frame cannot succeed.
var (
	// ErrFrameTooLarge is returned when a payload does not fit the configured frame size
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedResponse is returned for truncated frames or bad length fields
	ErrMalformedResponse = errors.New("malformed response")

	// ErrMalformedCommand is the command-side counterpart of ErrMalformedResponse
	ErrMalformedCommand = errors.New("malformed command")

	// ErrChecksumMismatch is returned when the frame check sequence does not match
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrMalformedTLV is returned when a tag-length-value field is truncated
	ErrMalformedTLV = errors.New("malformed TLV")
)

// Element error codes, as read from OIDLastErrorCode.
const (
	ErrCodeNone                  = 0x00
	ErrCodeInvalidOID            = 0x01
	ErrCodeInvalidPassword       = 0x02
	ErrCodeInvalidParamField     = 0x03
	ErrCodeInvalidLengthField    = 0x04
	ErrCodeInvalidParamInData    = 0x05
	ErrCodeInternalProcess       = 0x06
	ErrCodeAccessConditions      = 0x07
	ErrCodeDataObjectBoundary    = 0x08
	ErrCodeMetadataTruncation    = 0x09
	ErrCodeInvalidCommandField   = 0x0A
	ErrCodeCommandOutOfSequence  = 0x0B
	ErrCodeCommandNotAvailable   = 0x0C
	ErrCodeInsufficientBuffer    = 0x0D
	ErrCodeCounterThreshold      = 0x0E
	ErrCodeInvalidManifest       = 0x0F
	ErrCodeInvalidKeyBlob        = 0x11
	ErrCodeUnsupportedExtension  = 0x21
	ErrCodeMemoryInsufficient    = 0x22
	ErrCodeSecurityEventDetected = 0x2F
	ErrCodeApplicationNotOpen    = 0x30
)

// DeviceError represents a command that the element rejected.
// Code holds the element's last error code when it could be read.
type DeviceError struct {
	// Operation is the command that failed
	Operation string

	// Code is the element error code
	Code byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, ErrorCodeName(e.Code), e.Code)
}

// IsDeviceError returns true if the error is or wraps a DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// ErrorCodeName returns a human-readable name for an element error code.
func ErrorCodeName(code byte) string {
	switch code {
	case ErrCodeNone:
		return "no error"
	case ErrCodeInvalidOID:
		return "invalid OID"
	case ErrCodeInvalidPassword:
		return "invalid password"
	case ErrCodeInvalidParamField:
		return "invalid parameter field"
	case ErrCodeInvalidLengthField:
		return "invalid length field"
	case ErrCodeInvalidParamInData:
		return "invalid parameter in data field"
	case ErrCodeInternalProcess:
		return "internal process error"
	case ErrCodeAccessConditions:
		return "access conditions not satisfied"
	case ErrCodeDataObjectBoundary:
		return "data object boundary exceeded"
	case ErrCodeMetadataTruncation:
		return "metadata truncation"
	case ErrCodeInvalidCommandField:
		return "invalid command field"
	case ErrCodeCommandOutOfSequence:
		return "command out of sequence"
	case ErrCodeCommandNotAvailable:
		return "command not available"
	case ErrCodeInsufficientBuffer:
		return "insufficient buffer"
	case ErrCodeCounterThreshold:
		return "counter threshold limit exceeded"
	case ErrCodeInvalidManifest:
		return "invalid manifest"
	case ErrCodeInvalidKeyBlob:
		return "invalid key blob"
	case ErrCodeUnsupportedExtension:
		return "unsupported extension or identifier"
	case ErrCodeMemoryInsufficient:
		return "memory insufficient"
	case ErrCodeSecurityEventDetected:
		return "security event detected"
	case ErrCodeApplicationNotOpen:
		return "application not open"
	default:
		return fmt.Sprintf("unknown error code 0x%02X", code)
	}
}
