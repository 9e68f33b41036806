package shielded

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Handshake message sizes.
const (
	// HelloSize is the host hello: SCTR(1) + VERSION(1)
	HelloSize = 2

	// DeviceHelloSize is SCTR(1) + VERSION(1) + RANDOM(32) + SEQ(4)
	DeviceHelloSize = 2 + RandomSize + 4

	finishedPlainSize = RandomSize + 4

	// sessionIDSize is how much of the handshake random identifies a session
	sessionIDSize = 8
)

// Hello starts key agreement on the host side. It is valid from
// StateUnestablished and, for an explicit re-establishment, from any other
// state; an existing session is discarded.
func (c *Channel) Hello() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleHost {
		return nil, fmt.Errorf("%w: hello is sent by the host", ErrHandshakeFailed)
	}

	c.wipe()
	c.state = StateEstablishing
	return []byte{SCTRHandshake, ProtocolVersion}, nil
}

// HandleHello consumes the device hello, derives the session key and
// returns the host finished message.
//
// Device hello structure:
//
//	[SCTR_HANDSHAKE][VERSION][RANDOM(32)][SEQ(4)]
func (c *Channel) HandleHello(msg []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEstablishing || c.role != RoleHost {
		return nil, fmt.Errorf("%w: unexpected device hello in state %s", ErrHandshakeFailed, c.state)
	}
	if len(msg) != DeviceHelloSize {
		c.invalidate()
		return nil, fmt.Errorf("%w: device hello is %d bytes, expected %d", ErrHandshakeFailed, len(msg), DeviceHelloSize)
	}
	if msg[0] != SCTRHandshake || msg[1] != ProtocolVersion {
		c.invalidate()
		return nil, fmt.Errorf("%w: device hello header 0x%02X 0x%02X", ErrHandshakeFailed, msg[0], msg[1])
	}

	random := msg[2 : 2+RandomSize]
	seq := binary.BigEndian.Uint32(msg[2+RandomSize:])

	if err := c.derive(random, seq); err != nil {
		c.invalidate()
		return nil, err
	}

	return c.finished(), nil
}

// Complete verifies the device finished message and establishes the session.
func (c *Channel) Complete(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEstablishing || c.role != RoleHost || c.seal == nil {
		return fmt.Errorf("%w: unexpected device finished in state %s", ErrHandshakeFailed, c.state)
	}
	if err := c.verifyFinished(msg); err != nil {
		c.invalidate()
		return err
	}

	c.establish()
	return nil
}

// Accept answers a host hello on the device side. It draws a fresh random
// and starting sequence number and returns the device hello.
func (c *Channel) Accept(msg []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleDevice {
		return nil, fmt.Errorf("%w: hello is accepted by the device", ErrHandshakeFailed)
	}
	if len(msg) != HelloSize || msg[0] != SCTRHandshake || msg[1] != ProtocolVersion {
		c.invalidate()
		return nil, fmt.Errorf("%w: malformed host hello", ErrHandshakeFailed)
	}

	c.wipe()
	c.state = StateEstablishing

	random := make([]byte, RandomSize)
	var seqBytes [4]byte
	if _, err := io.ReadFull(c.rand, random); err != nil {
		c.invalidate()
		return nil, fmt.Errorf("draw handshake random: %w", err)
	}
	if _, err := io.ReadFull(c.rand, seqBytes[:]); err != nil {
		c.invalidate()
		return nil, fmt.Errorf("draw handshake sequence: %w", err)
	}
	// Start in the lower half so a session has room before the threshold.
	seq := binary.BigEndian.Uint32(seqBytes[:]) & 0x7FFFFFFF

	if err := c.derive(random, seq); err != nil {
		c.invalidate()
		return nil, err
	}

	hello := make([]byte, 0, DeviceHelloSize)
	hello = append(hello, SCTRHandshake, ProtocolVersion)
	hello = append(hello, random...)
	return binary.BigEndian.AppendUint32(hello, seq), nil
}

// Finish verifies the host finished message on the device side and returns
// the device finished message. The device session is established on return.
func (c *Channel) Finish(msg []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEstablishing || c.role != RoleDevice || c.seal == nil {
		return nil, fmt.Errorf("%w: unexpected host finished in state %s", ErrHandshakeFailed, c.state)
	}
	if err := c.verifyFinished(msg); err != nil {
		c.invalidate()
		return nil, err
	}

	reply := c.finished()
	c.establish()
	return reply, nil
}

// derive must be called with mu held.
func (c *Channel) derive(random []byte, seq uint32) error {
	material, err := c.provider.DeriveSessionKey(c.secret, random)
	if err != nil {
		return fmt.Errorf("%w: derive session key: %w", ErrHandshakeFailed, err)
	}
	defer func() {
		for i := range material {
			material[i] = 0
		}
	}()

	if err := c.install(material); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	c.random = append([]byte(nil), random...)
	c.handshake = seq
	return nil
}

// finished builds [SCTR_FINISHED][SEQ(4)][SEAL(RANDOM || SEQ)].
func (c *Channel) finished() []byte {
	plain := make([]byte, 0, finishedPlainSize)
	plain = append(plain, c.random...)
	plain = binary.BigEndian.AppendUint32(plain, c.handshake)

	msg := make([]byte, RecordHeaderSize, RecordHeaderSize+finishedPlainSize+c.tagSize())
	msg[0] = SCTRFinished
	binary.BigEndian.PutUint32(msg[1:5], c.handshake)
	return c.seal.Seal(msg, nonce(c.sealSalt, c.handshake), plain, aad(SCTRFinished, c.handshake, len(plain)))
}

func (c *Channel) verifyFinished(msg []byte) error {
	if len(msg) != RecordHeaderSize+finishedPlainSize+c.tagSize() || msg[0] != SCTRFinished {
		return fmt.Errorf("%w: malformed finished message", ErrHandshakeFailed)
	}
	seq := binary.BigEndian.Uint32(msg[1:5])
	if seq != c.handshake {
		return fmt.Errorf("%w: finished sequence 0x%08X, expected 0x%08X", ErrHandshakeFailed, seq, c.handshake)
	}

	plain, err := c.open.Open(nil, nonce(c.openSalt, seq), msg[RecordHeaderSize:], aad(SCTRFinished, seq, finishedPlainSize))
	if err != nil {
		return fmt.Errorf("%w: finished message failed authentication", ErrHandshakeFailed)
	}

	want := make([]byte, 0, finishedPlainSize)
	want = append(want, c.random...)
	want = binary.BigEndian.AppendUint32(want, c.handshake)
	if !bytes.Equal(plain, want) {
		return fmt.Errorf("%w: finished message does not match the handshake", ErrHandshakeFailed)
	}
	return nil
}

// establish must be called with mu held.
func (c *Channel) establish() {
	c.txSeq = c.handshake
	c.rxSeq = c.handshake
	c.session = append([]byte(nil), c.random[:sessionIDSize]...)
	c.random = nil
	c.failures = 0
	c.state = StateEstablished
}
