package trustm

import (
	"errors"
	"strings"
	"testing"
)

func TestChecksumMismatchError(t *testing.T) {
	err := &ChecksumMismatchError{
		OID:      0xF1D0,
		Offset:   16,
		Expected: 0xAB,
		Actual:   0xCD,
	}

	errMsg := err.Error()

	for _, want := range []string{"checksum mismatch", "0xF1D0", "offset 16", "0xAB", "0xCD"} {
		if !strings.Contains(errMsg, want) {
			t.Errorf("error message should contain %q, got: %s", want, errMsg)
		}
	}
}

func TestVerificationError(t *testing.T) {
	err := &VerificationError{OID: 0xE0E1, Reason: "read back 3 bytes, wrote 4"}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "0xE0E1") {
		t.Errorf("error message should contain the OID, got: %s", errMsg)
	}
	if !strings.Contains(errMsg, "read back 3 bytes") {
		t.Errorf("error message should contain the reason, got: %s", errMsg)
	}
}

func TestErrorTypes(t *testing.T) {
	var err error = &ChecksumMismatchError{OID: 1}
	wrapped := errors.Join(errors.New("provision"), err)

	var cm *ChecksumMismatchError
	if !errors.As(wrapped, &cm) {
		t.Fatal("errors.As should find ChecksumMismatchError")
	}
	if cm.OID != 1 {
		t.Errorf("OID = %d, want 1", cm.OID)
	}

	var ve *VerificationError
	if errors.As(wrapped, &ve) {
		t.Error("errors.As should not find VerificationError")
	}
}
