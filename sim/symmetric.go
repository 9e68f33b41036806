package sim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/moffa90/go-trustm/chunk"
	"github.com/moffa90/go-trustm/protocol"
)

// WithSymmetricKey installs the AES key held in OIDSymmetricKey. The key
// is usable by the symmetric commands but cannot be read back.
func WithSymmetricKey(key []byte) ElementOption {
	return func(e *Element) {
		e.objects[protocol.OIDSymmetricKey] = append([]byte(nil), key...)
	}
}

// symStream is the element side of one START..FINAL symmetric sequence.
// Unlike the hash, the running state stays on the element between frames.
type symStream struct {
	opcode byte
	mode   byte
	keyOID uint16

	block cipher.Block
	cbc   cipher.BlockMode
	mac   hash.Hash
	tail  []byte
}

// symmetric runs one frame of CmdEncryptSym or CmdDecryptSym.
func (e *Element) symmetric(cmd protocol.Command) ([]byte, byte) {
	if len(cmd.Payload) < 2 {
		return nil, protocol.ErrCodeInvalidLengthField
	}
	keyOID := binary.BigEndian.Uint16(cmd.Payload[0:2])
	fields, err := protocol.ParseTLVs(cmd.Payload[2:])
	if err != nil || len(fields) == 0 {
		return nil, protocol.ErrCodeInvalidLengthField
	}

	tag := chunk.Tag(fields[0].Tag)
	data := fields[0].Value
	var iv []byte
	for _, f := range fields[1:] {
		switch f.Tag {
		case protocol.SymTagIV:
			iv = f.Value
		case protocol.SymTagAssociatedData, protocol.SymTagTotalLength:
		default:
			return nil, protocol.ErrCodeInvalidParamInData
		}
	}

	if err := e.sym.Observe(tag); err != nil {
		e.stream = nil
		return nil, protocol.ErrCodeCommandOutOfSequence
	}

	first := tag == chunk.TagStart || tag == chunk.TagStartFinal
	last := tag == chunk.TagFinal || tag == chunk.TagStartFinal
	if first {
		s, code := e.newSymStream(cmd.Opcode, cmd.Param, keyOID, iv)
		if code != protocol.ErrCodeNone {
			e.sym.Reset()
			return nil, code
		}
		e.stream = s
	} else if s := e.stream; s == nil || s.opcode != cmd.Opcode || s.mode != cmd.Param || s.keyOID != keyOID || iv != nil {
		e.sym.Reset()
		e.stream = nil
		return nil, protocol.ErrCodeInvalidParamInData
	}

	out, code := e.stream.update(data, last)
	if code != protocol.ErrCodeNone || last {
		e.sym.Reset()
		e.stream = nil
	}
	if code != protocol.ErrCodeNone {
		return nil, code
	}
	if out == nil {
		return nil, protocol.ErrCodeNone
	}
	return protocol.AppendTLV(nil, protocol.SymTagOutData, out), protocol.ErrCodeNone
}

func (e *Element) newSymStream(opcode, mode byte, keyOID uint16, iv []byte) (*symStream, byte) {
	key, ok := e.objects[keyOID]
	if !ok || keyOID == protocol.OIDPlatformBindingSecret {
		return nil, protocol.ErrCodeInvalidOID
	}
	s := &symStream{opcode: opcode, mode: mode, keyOID: keyOID}

	if mode == protocol.SymHMACSHA256 {
		if opcode != protocol.CmdEncryptSym || len(key) == 0 {
			return nil, protocol.ErrCodeInvalidParamField
		}
		s.mac = hmac.New(sha256.New, key)
		return s, protocol.ErrCodeNone
	}

	if keyOID != protocol.OIDSymmetricKey {
		return nil, protocol.ErrCodeAccessConditions
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, protocol.ErrCodeInvalidKeyBlob
	}
	s.block = block

	switch mode {
	case protocol.SymModeECB:
	case protocol.SymModeCBC:
		if len(iv) != protocol.SymBlockSize {
			return nil, protocol.ErrCodeInvalidParamInData
		}
		if opcode == protocol.CmdEncryptSym {
			s.cbc = cipher.NewCBCEncrypter(block, iv)
		} else {
			s.cbc = cipher.NewCBCDecrypter(block, iv)
		}
	case protocol.SymModeCBCMAC:
		if opcode != protocol.CmdEncryptSym {
			return nil, protocol.ErrCodeInvalidParamField
		}
		s.cbc = cipher.NewCBCEncrypter(block, make([]byte, protocol.SymBlockSize))
	default:
		return nil, protocol.ErrCodeInvalidParamField
	}
	return s, protocol.ErrCodeNone
}

// update consumes one frame of input. It returns nil output for a MAC
// frame that is not the last.
func (s *symStream) update(data []byte, last bool) ([]byte, byte) {
	if s.mac != nil {
		s.mac.Write(data)
		if !last {
			return nil, protocol.ErrCodeNone
		}
		return s.mac.Sum(nil), protocol.ErrCodeNone
	}

	if len(data)%protocol.SymBlockSize != 0 {
		return nil, protocol.ErrCodeInvalidLengthField
	}
	out := make([]byte, len(data))
	switch s.mode {
	case protocol.SymModeECB:
		for i := 0; i < len(data); i += protocol.SymBlockSize {
			if s.opcode == protocol.CmdEncryptSym {
				s.block.Encrypt(out[i:], data[i:i+protocol.SymBlockSize])
			} else {
				s.block.Decrypt(out[i:], data[i:i+protocol.SymBlockSize])
			}
		}
	case protocol.SymModeCBC:
		s.cbc.CryptBlocks(out, data)
	case protocol.SymModeCBCMAC:
		s.cbc.CryptBlocks(out, data)
		if len(out) > 0 {
			s.tail = out[len(out)-protocol.SymBlockSize:]
		}
		if !last {
			return nil, protocol.ErrCodeNone
		}
		if s.tail == nil {
			return nil, protocol.ErrCodeInvalidLengthField
		}
		return append([]byte(nil), s.tail...), protocol.ErrCodeNone
	}
	return out, protocol.ErrCodeNone
}
