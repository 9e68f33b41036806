package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeResponse constructs a response frame. The element side uses it.
//
// Frame structure:
//
//	[STATUS][0x00][LEN_H][LEN_L][PAYLOAD...]([FCS_H][FCS_L])
func (c *Codec) EncodeResponse(status byte, payload []byte) ([]byte, error) {
	return c.encode(status, 0x00, payload)
}

// DecodeResponse extracts status and payload from a response frame.
// Validates frame size, length field and, if enabled, the frame check.
func (c *Codec) DecodeResponse(frame []byte) (Response, error) {
	status, _, payload, err := c.decode(frame, ErrMalformedResponse)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: status, Payload: payload}, nil
}

// ParseTLVs splits data into consecutive tag-length-value fields.
func ParseTLVs(data []byte) ([]TLV, error) {
	var fields []TLV
	for len(data) > 0 {
		if len(data) < TLVHeaderSize {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTLV, len(data))
		}
		n := int(binary.BigEndian.Uint16(data[1:3]))
		if len(data) < TLVHeaderSize+n {
			return nil, fmt.Errorf("%w: tag 0x%02X declares %d bytes, %d available",
				ErrMalformedTLV, data[0], n, len(data)-TLVHeaderSize)
		}
		fields = append(fields, TLV{Tag: data[0], Value: data[TLVHeaderSize : TLVHeaderSize+n]})
		data = data[TLVHeaderSize+n:]
	}
	return fields, nil
}

// ParseContextHandle parses the close application (hibernate) response.
//
// Data format (8 bytes):
//
//	[CONTEXT_HANDLE(8)]
func ParseContextHandle(data []byte) ([]byte, error) {
	if len(data) != ContextHandleSize {
		return nil, fmt.Errorf("invalid data length for context handle: got %d bytes, expected %d", len(data), ContextHandleSize)
	}
	handle := make([]byte, ContextHandleSize)
	copy(handle, data)
	return handle, nil
}

// ParseLastError parses the one-byte last error code read.
func ParseLastError(data []byte) (byte, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("invalid data length for last error code: got %d bytes, expected 1", len(data))
	}
	return data[0], nil
}
