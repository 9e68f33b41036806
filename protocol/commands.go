package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeCommand constructs a command frame.
//
// Frame structure:
//
//	[OPCODE][PARAM][LEN_H][LEN_L][PAYLOAD...]([FCS_H][FCS_L])
//
// Returns the complete frame ready to send, or ErrFrameTooLarge.
func (c *Codec) EncodeCommand(opcode, param byte, payload []byte) ([]byte, error) {
	return c.encode(opcode, param, payload)
}

// DecodeCommand is the inverse of EncodeCommand. The element side uses it,
// and it makes the codec testable as a round trip.
func (c *Codec) DecodeCommand(frame []byte) (Command, error) {
	opcode, param, payload, err := c.decode(frame, ErrMalformedCommand)
	if err != nil {
		return Command{}, err
	}
	return Command{Opcode: opcode, Param: param, Payload: payload}, nil
}

// OpenApplication builds the open application command. A non-nil handle
// restores a hibernated context; it must be ContextHandleSize bytes and not
// all zero.
func OpenApplication(handle []byte) (Command, error) {
	payload := make([]byte, 0, ApplicationIDSize+ContextHandleSize)
	payload = append(payload, ApplicationID[:]...)

	if handle == nil {
		return Command{Opcode: CmdOpenApplication, Param: ParamOpenInit, Payload: payload}, nil
	}
	if len(handle) != ContextHandleSize {
		return Command{}, fmt.Errorf("context handle must be exactly %d bytes, got %d", ContextHandleSize, len(handle))
	}
	if isZero(handle) {
		return Command{}, fmt.Errorf("context handle is empty")
	}

	payload = append(payload, handle...)
	return Command{Opcode: CmdOpenApplication, Param: ParamOpenRestore, Payload: payload}, nil
}

// CloseApplication builds the close application command. With hibernate the
// element answers with a ContextHandleSize context handle.
func CloseApplication(hibernate bool) Command {
	param := byte(ParamCloseNoHibernate)
	if hibernate {
		param = ParamCloseHibernate
	}
	return Command{Opcode: CmdCloseApplication, Param: param}
}

// GetDataObject builds a read of length bytes at offset of the object oid.
//
// Payload structure:
//
//	[OID_H][OID_L][OFFSET_H][OFFSET_L][LEN_H][LEN_L]
func GetDataObject(oid, offset, length uint16) Command {
	payload := make([]byte, DataObjectHeaderSize)
	binary.BigEndian.PutUint16(payload[0:2], oid)
	binary.BigEndian.PutUint16(payload[2:4], offset)
	binary.BigEndian.PutUint16(payload[4:6], length)
	return Command{Opcode: CmdGetDataObject, Param: ParamReadData, Payload: payload}
}

// GetLastError builds the read of the last error code. The opcode does not
// carry ClearLastError, so the code survives the read.
func GetLastError() Command {
	cmd := GetDataObject(OIDLastErrorCode, 0, 1)
	cmd.Opcode = CmdGetDataObjectKeepError
	return cmd
}

// SetDataObject builds a write of data at offset of the object oid.
// mode is ParamWrite, ParamWriteMetadata or ParamEraseAndWrite.
//
// Payload structure:
//
//	[OID_H][OID_L][OFFSET_H][OFFSET_L][DATA...]
func SetDataObject(oid uint16, mode byte, offset uint16, data []byte) Command {
	payload := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint16(payload[0:2], oid)
	binary.BigEndian.PutUint16(payload[2:4], offset)
	payload = append(payload, data...)
	return Command{Opcode: CmdSetDataObject, Param: mode, Payload: payload}
}

// GetRandom builds a random draw of length bytes from the given source.
func GetRandom(source byte, length int) (Command, error) {
	if length < MinRandomLength || length > MaxRandomLength {
		return Command{}, fmt.Errorf("random length must be between %d and %d, got %d",
			MinRandomLength, MaxRandomLength, length)
	}
	payload := binary.BigEndian.AppendUint16(nil, uint16(length))
	return Command{Opcode: CmdGetRandom, Param: source, Payload: payload}, nil
}

// CalcHash builds a hash command from already assembled TLV fields.
func CalcHash(algorithm byte, fields ...TLV) Command {
	var payload []byte
	for _, f := range fields {
		payload = AppendTLV(payload, f.Tag, f.Value)
	}
	return Command{Opcode: CmdCalcHash, Param: algorithm, Payload: payload}
}

// EncryptSym builds one frame of a symmetric encryption, or of a MAC when
// mode is SymModeCBCMAC, SymModeCMAC or SymHMACSHA256. sequence places the
// frame in its stream; fields such as the IV go with the first frame only.
//
// Payload structure:
//
//	[OID_H][OID_L][SEQ][LEN_H][LEN_L][DATA...][TLV...]
func EncryptSym(mode byte, keyOID uint16, sequence byte, data []byte, fields ...TLV) Command {
	return symmetric(CmdEncryptSym, mode, keyOID, sequence, data, fields)
}

// DecryptSym builds one frame of a symmetric decryption. The payload is
// laid out as for EncryptSym.
func DecryptSym(mode byte, keyOID uint16, sequence byte, data []byte, fields ...TLV) Command {
	return symmetric(CmdDecryptSym, mode, keyOID, sequence, data, fields)
}

func symmetric(opcode, mode byte, keyOID uint16, sequence byte, data []byte, fields []TLV) Command {
	payload := binary.BigEndian.AppendUint16(nil, keyOID)
	payload = AppendTLV(payload, sequence, data)
	for _, f := range fields {
		payload = AppendTLV(payload, f.Tag, f.Value)
	}
	return Command{Opcode: opcode, Param: mode, Payload: payload}
}

// AppendTLV appends [TAG][LEN_H][LEN_L][VALUE...] to dst.
func AppendTLV(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(value)))
	return append(dst, value...)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
