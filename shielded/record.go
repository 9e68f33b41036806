package shielded

import (
	"encoding/binary"
	"fmt"
)

// Security control (SCTR) bytes leading every shielded message.
const (
	SCTRHandshake = 0x00
	SCTRFinished  = 0x08
	SCTRRecord    = 0x20
	SCTRAlert     = 0x40
)

// Alert codes.
const (
	AlertFatal             = 0x00
	AlertIntegrityViolated = 0x04
)

// ProtocolVersion is the pre-shared secret based handshake version.
const ProtocolVersion = 0x01

// Record layout sizes.
const (
	// RecordHeaderSize is SCTR(1) + SEQ(4)
	RecordHeaderSize = 5

	aadSize = 8
)

// Overhead returns the bytes a record adds around its plaintext.
func (c *Channel) Overhead() int {
	return RecordHeaderSize + c.tagSize()
}

func (c *Channel) tagSize() int {
	if c.provider.Level() == LevelEncryptAuthenticate {
		return TagSize
	}
	return 0
}

func nonce(salt []byte, seq uint32) []byte {
	n := make([]byte, 0, recordNonceSize)
	n = append(n, salt...)
	return binary.BigEndian.AppendUint32(n, seq)
}

// aad is [SCTR][SEQ(4)][VERSION][LEN(2)] where LEN is the plaintext length.
func aad(sctr byte, seq uint32, length int) []byte {
	a := make([]byte, 0, aadSize)
	a = append(a, sctr)
	a = binary.BigEndian.AppendUint32(a, seq)
	a = append(a, ProtocolVersion)
	return binary.BigEndian.AppendUint16(a, uint16(length))
}

// Protect encrypts payload (and appends its tag) under the next outbound
// sequence number.
//
// Record structure:
//
//	[SCTR_RECORD][SEQ(4)][CIPHERTEXT...][TAG(8)]
func (c *Channel) Protect(payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}
	if c.txSeq >= c.threshold {
		c.invalidate()
		return nil, fmt.Errorf("%w: outbound counter 0x%08X", ErrSequenceExhausted, c.txSeq)
	}

	c.txSeq++
	seq := c.txSeq

	record := make([]byte, RecordHeaderSize, RecordHeaderSize+len(payload)+c.tagSize())
	record[0] = SCTRRecord
	binary.BigEndian.PutUint32(record[1:5], seq)
	record = c.seal.Seal(record, nonce(c.sealSalt, seq), payload, aad(SCTRRecord, seq, len(payload)))

	return record, nil
}

// Unprotect checks the inbound sequence number and tag of record and returns
// its plaintext. Any failure invalidates the session; nothing is retried.
func (c *Channel) Unprotect(record []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}

	if len(record) >= 2 && record[0] == SCTRAlert {
		c.failures++
		c.invalidate()
		return nil, &AlertError{Code: record[1]}
	}

	if len(record) < c.Overhead() {
		c.failures++
		c.invalidate()
		return nil, fmt.Errorf("%w: record is %d bytes, minimum is %d", ErrIntegrityFailure, len(record), c.Overhead())
	}
	if record[0] != SCTRRecord {
		c.failures++
		c.invalidate()
		return nil, fmt.Errorf("%w: unexpected SCTR 0x%02X", ErrIntegrityFailure, record[0])
	}

	seq := binary.BigEndian.Uint32(record[1:5])
	if c.rxSeq >= c.threshold {
		c.invalidate()
		return nil, fmt.Errorf("%w: inbound counter 0x%08X", ErrSequenceExhausted, c.rxSeq)
	}
	if seq != c.rxSeq+1 {
		c.failures++
		expected := c.rxSeq + 1
		c.invalidate()
		return nil, fmt.Errorf("%w: got 0x%08X, expected 0x%08X", ErrSequenceViolation, seq, expected)
	}

	body := record[RecordHeaderSize:]
	plainLen := len(body) - c.tagSize()
	plaintext, err := c.open.Open(nil, nonce(c.openSalt, seq), body, aad(SCTRRecord, seq, plainLen))
	if err != nil {
		c.failures++
		c.invalidate()
		return nil, fmt.Errorf("%w: record 0x%08X failed authentication", ErrIntegrityFailure, seq)
	}

	c.rxSeq = seq
	return plaintext, nil
}

// Alert builds an alert message for the peer. The device role sends it
// after a record fails to unprotect.
func Alert(code byte) []byte {
	return []byte{SCTRAlert, code}
}

// usable must be called with mu held.
func (c *Channel) usable() error {
	switch c.state {
	case StateEstablished:
		return nil
	case StateInvalid:
		return ErrSessionInvalid
	default:
		return fmt.Errorf("%w: state %s", ErrNotEstablished, c.state)
	}
}
