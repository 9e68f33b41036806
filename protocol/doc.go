// Package protocol implements the command/response framing of the secure element.
//
// This package encodes command APDUs and decodes response APDUs. It is a pure
// transform: it never touches a transport, which keeps it testable as a unit.
//
// # Frame Overview
//
//	Command:  [OPCODE][PARAM][LEN_H][LEN_L][PAYLOAD...]([FCS_H][FCS_L])
//	Response: [STATUS][0x00][LEN_H][LEN_L][PAYLOAD...]([FCS_H][FCS_L])
//
// Where:
//   - LEN = 16-bit payload length (big-endian)
//   - STATUS = StatusSuccess (0x00) or StatusFailure (0xFF)
//   - FCS = optional CRC-16-CCITT over all preceding bytes (big-endian)
//
// # Codec
//
//	codec := protocol.NewCodec(protocol.WithFrameCheck(true))
//	frame, err := codec.EncodeCommand(protocol.CmdGetRandom, protocol.ParamRandomTRNG, payload)
//	resp, err := codec.DecodeResponse(reply)
//	if !resp.OK() {
//	    // read the last error code with protocol.GetLastError()
//	}
//
// # Command Builders
//
// The builders return a Command holding opcode, parameter and payload for the
// generic command shapes:
//
//	cmd := protocol.GetDataObject(protocol.OIDCoprocessorUID, 0, 27)
//	cmd, err := protocol.OpenApplication(nil)
//	cmd := protocol.CloseApplication(true)
//
// # Error Handling
//
// Framing problems are reported with the sentinels ErrFrameTooLarge,
// ErrMalformedResponse and ErrChecksumMismatch, wrapped with context:
//
//	if errors.Is(err, protocol.ErrChecksumMismatch) {
//	    // the frame was damaged on the bus
//	}
//
// A failed command is described by DeviceError, which carries the element's
// last error code:
//
//	// err.Error() returns: "read data object failed: data object boundary exceeded (0x08)"
package protocol
