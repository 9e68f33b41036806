package trustm

import (
	"context"
	"fmt"

	"github.com/moffa90/go-trustm/chunk"
	"github.com/moffa90/go-trustm/protocol"
)

// symReserve is kept free in each symmetric frame for the key OID, the
// in-data header and the IV field of the first frame.
const symReserve = 2 + 2*protocol.TLVHeaderSize + protocol.SymBlockSize

// EncryptSym encrypts data with the AES key held in keyOID. mode is
// protocol.SymModeECB or SymModeCBC, which needs iv; SymModeCBCMAC and
// SymModeCMAC return the MAC instead. data must be a whole number of
// blocks. Input that does not fit one frame is streamed as START,
// CONTINUE..., FINAL.
func (d *Device) EncryptSym(ctx context.Context, mode byte, keyOID uint16, iv, data []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.symmetric(ctx, protocol.CmdEncryptSym, mode, keyOID, iv, data)
}

// DecryptSym decrypts data with the AES key held in keyOID. It takes the
// same modes and framing as EncryptSym, less the MAC modes.
func (d *Device) DecryptSym(ctx context.Context, mode byte, keyOID uint16, iv, data []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.symmetric(ctx, protocol.CmdDecryptSym, mode, keyOID, iv, data)
}

// HMAC computes HMAC-SHA256 of data on the element, keyed with the secret
// held in keyOID.
func (d *Device) HMAC(ctx context.Context, keyOID uint16, data []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mac, err := d.symmetric(ctx, protocol.CmdEncryptSym, protocol.SymHMACSHA256, keyOID, nil, data)
	if err != nil {
		return nil, err
	}
	if len(mac) != protocol.SHA256DigestSize {
		return nil, fmt.Errorf("%w: HMAC of %d bytes", ErrUnexpectedResponse, len(mac))
	}
	return mac, nil
}

func (d *Device) symmetric(ctx context.Context, opcode, mode byte, keyOID uint16, iv, data []byte) ([]byte, error) {
	op := "encrypt"
	build := protocol.EncryptSym
	if opcode == protocol.CmdDecryptSym {
		op = "decrypt"
		build = protocol.DecryptSym
	}

	block := 1
	if mode != protocol.SymHMACSHA256 {
		block = protocol.SymBlockSize
		if len(data)%block != 0 {
			return nil, fmt.Errorf("%s: %d bytes is not a whole number of %d byte blocks", op, len(data), block)
		}
	}

	capacity := d.capacity(symReserve)
	if limit := protocol.MaxSymInData - symReserve; capacity > limit {
		capacity = limit
	}
	capacity -= capacity % block

	plan, err := chunk.Begin(len(data), capacity, chunk.WithPayload(data))
	if err != nil {
		return nil, err
	}

	var out []byte
	for !plan.Done() {
		frame, err := plan.Next()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		var fields []protocol.TLV
		if frame.Offset == 0 && len(iv) > 0 {
			fields = append(fields, protocol.TLV{Tag: protocol.SymTagIV, Value: iv})
		}

		res, err := d.execute(ctx, fmt.Sprintf("%s %s", op, frame.Tag), build(mode, keyOID, byte(frame.Tag), frame.Data, fields...))
		if err != nil {
			plan.Abort()
			return nil, err
		}
		if len(res) == 0 {
			continue
		}

		tlvs, err := protocol.ParseTLVs(res)
		if err != nil {
			plan.Abort()
			return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}
		for _, tlv := range tlvs {
			if tlv.Tag == protocol.SymTagOutData {
				out = append(out, tlv.Value...)
			}
		}
	}

	d.logDebug("symmetric operation done", "operation", op, "mode", fmt.Sprintf("0x%02X", mode), "bytes", len(data))
	return out, nil
}
