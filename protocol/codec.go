package protocol

import (
	"encoding/binary"
	"fmt"
)

// Codec encodes command frames and decodes response frames.
// It is a pure transform and never touches a transport.
//
// Frame structure:
//
//	Command:  [OPCODE][PARAM][LEN_H][LEN_L][PAYLOAD...][FCS_H][FCS_L]
//	Response: [STATUS][0x00][LEN_H][LEN_L][PAYLOAD...][FCS_H][FCS_L]
//
// The FCS trailer is only present when frame checking is enabled.
type Codec struct {
	maxFrameSize int
	frameCheck   bool
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMaxFrameSize sets the largest frame the codec produces or accepts.
// Values that cannot hold a header are ignored.
func WithMaxFrameSize(size int) CodecOption {
	return func(c *Codec) {
		if size > HeaderSize+FCSSize && size <= HeaderSize+FCSSize+MaxPayloadLength {
			c.maxFrameSize = size
		}
	}
}

// WithFrameCheck enables or disables the CRC-16 frame check trailer.
func WithFrameCheck(enabled bool) CodecOption {
	return func(c *Codec) {
		c.frameCheck = enabled
	}
}

// NewCodec returns a codec with DefaultMaxFrameSize and no frame check.
//
// Example:
//
//	codec := protocol.NewCodec(protocol.WithFrameCheck(true))
//	frame, err := codec.EncodeCommand(protocol.CmdGetRandom, protocol.ParamRandomTRNG, []byte{0x00, 0x20})
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{maxFrameSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxFrameSize returns the configured frame size limit.
func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// FrameCheck reports whether frames carry an FCS trailer.
func (c *Codec) FrameCheck() bool {
	return c.frameCheck
}

// Overhead returns the number of framing bytes around a payload.
func (c *Codec) Overhead() int {
	if c.frameCheck {
		return HeaderSize + FCSSize
	}
	return HeaderSize
}

// MaxPayload returns the largest payload that fits one frame.
func (c *Codec) MaxPayload() int {
	return c.maxFrameSize - c.Overhead()
}

// encode lays out a frame with the given first two bytes.
func (c *Codec) encode(first, second byte, payload []byte) ([]byte, error) {
	if len(payload) > c.MaxPayload() {
		return nil, fmt.Errorf("%w: payload is %d bytes, maximum is %d", ErrFrameTooLarge, len(payload), c.MaxPayload())
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(payload)+FCSSize)
	frame[0] = first
	frame[1] = second
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	frame = append(frame, payload...)

	if c.frameCheck {
		frame = binary.BigEndian.AppendUint16(frame, CalculateFCS(frame))
	}

	return frame, nil
}

// decode validates a frame and splits it into its header bytes and payload.
// kind is the sentinel returned for structural problems.
func (c *Codec) decode(frame []byte, kind error) (first, second byte, payload []byte, err error) {
	minSize := c.Overhead()
	if len(frame) < minSize {
		return 0, 0, nil, fmt.Errorf("%w: frame too short: got %d bytes, minimum is %d", kind, len(frame), minSize)
	}
	if len(frame) > c.maxFrameSize {
		return 0, 0, nil, fmt.Errorf("%w: got %d bytes, maximum is %d", ErrFrameTooLarge, len(frame), c.maxFrameSize)
	}

	dataLen := int(binary.BigEndian.Uint16(frame[2:4]))
	expectedLen := minSize + dataLen
	if len(frame) < expectedLen {
		return 0, 0, nil, fmt.Errorf("%w: truncated frame: got %d bytes, length field says %d", kind, len(frame), expectedLen)
	}
	if len(frame) != expectedLen {
		return 0, 0, nil, fmt.Errorf("%w: frame length mismatch: got %d bytes, expected %d (overhead=%d + dataLen=%d)",
			kind, len(frame), expectedLen, minSize, dataLen)
	}

	if c.frameCheck {
		body := frame[:len(frame)-FCSSize]
		expected := binary.BigEndian.Uint16(frame[len(frame)-FCSSize:])
		actual := CalculateFCS(body)
		if expected != actual {
			return 0, 0, nil, fmt.Errorf("%w: got 0x%04X, expected 0x%04X", ErrChecksumMismatch, actual, expected)
		}
	}

	if dataLen > 0 {
		payload = make([]byte, dataLen)
		copy(payload, frame[HeaderSize:HeaderSize+dataLen])
	}

	return frame[0], frame[1], payload, nil
}
