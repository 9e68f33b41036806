package trustm

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-trustm/chunk"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/scheduler"
)

const (
	// readReserve is kept free in each read window.
	readReserve = 4

	// writeHeaderSize is OID(2) + OFFSET(2) in front of each written chunk.
	writeHeaderSize = 4

	// hashContextReserve covers the exported SHA-256 state (108 bytes) plus
	// the TLV headers of a CONTINUE frame.
	hashContextReserve = 128

	// hashDigestTag marks the digest in the final hash response.
	hashDigestTag = 0x01
)

// ReadData reads up to want bytes of a data object from offset 0. A want of
// zero or less reads the whole object.
func (d *Device) ReadData(ctx context.Context, oid uint16, want int) ([]byte, error) {
	return d.ReadDataAt(ctx, oid, 0, want)
}

// ReadDataAt reads up to want bytes of a data object from offset, in as
// many frames as needed. The read ends on a short chunk, on reaching want,
// or when the element reports the end of the object.
func (d *Device) ReadDataAt(ctx context.Context, oid uint16, offset, want int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readData(ctx, oid, offset, want)
}

// ReadMetadata reads the metadata of a data object.
func (d *Device) ReadMetadata(ctx context.Context, oid uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd := protocol.GetDataObject(oid, 0, uint16(d.capacity(readReserve)))
	cmd.Param = protocol.ParamReadMetadata
	return d.execute(ctx, fmt.Sprintf("read metadata 0x%04X", oid), cmd)
}

func (d *Device) readData(ctx context.Context, oid uint16, offset, want int) ([]byte, error) {
	r, err := chunk.NewReassembler(want, d.capacity(readReserve))
	if err != nil {
		return nil, err
	}

	op := fmt.Sprintf("read object 0x%04X", oid)
	for {
		off, length, ok := r.Window()
		if !ok {
			break
		}
		pos := offset + off
		if pos > protocol.MaxPayloadLength {
			r.Finish()
			break
		}

		out, err := d.execute(ctx, op, protocol.GetDataObject(oid, uint16(pos), uint16(length)))
		if err != nil && d.pastEnd(ctx, err) {
			r.Finish()
			break
		}
		if err != nil {
			return nil, err
		}
		if err := r.Add(out); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	d.logDebug("object read", "oid", fmt.Sprintf("0x%04X", oid), "bytes", len(r.Bytes()))
	return r.Bytes(), nil
}

// pastEnd reports whether err is the element refusing a read past the end
// of the object. When failures are not resolved to a DeviceError already,
// the last error code is read here so the end of an object whose length is
// a multiple of the read window is still recognised.
func (d *Device) pastEnd(ctx context.Context, err error) bool {
	var de *protocol.DeviceError
	if errors.As(err, &de) {
		return de.Code == protocol.ErrCodeDataObjectBoundary
	}
	if d.config.FetchLastError || !errors.Is(err, scheduler.ErrCommandFailed) {
		return false
	}
	code, lerr := d.lastError(ctx)
	if lerr != nil {
		d.logError("read last error failed", "error", lerr)
		return false
	}
	return code == protocol.ErrCodeDataObjectBoundary
}

// WriteData writes data to a data object at offset, split into frames. The
// first frame uses mode (protocol.ParamWrite, ParamEraseAndWrite or
// ParamWriteMetadata); the following frames continue with ParamWrite.
func (d *Device) WriteData(ctx context.Context, oid uint16, mode byte, offset uint16, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeData(ctx, oid, mode, offset, data, nil)
}

// writeData reports each finished chunk's size to progress, if set.
func (d *Device) writeData(ctx context.Context, oid uint16, mode byte, offset uint16, data []byte, progress func(int)) error {
	if int(offset)+len(data) > protocol.MaxPayloadLength {
		return fmt.Errorf("write of %d bytes at offset %d exceeds the object address space", len(data), offset)
	}

	capacity := d.capacity(writeHeaderSize)
	if mode == protocol.ParamWriteMetadata && len(data) > capacity {
		return fmt.Errorf("metadata of %d bytes does not fit one frame of %d", len(data), capacity)
	}

	plan, err := chunk.Begin(len(data), capacity, chunk.WithPayload(data))
	if err != nil {
		return err
	}

	op := fmt.Sprintf("write object 0x%04X", oid)
	for !plan.Done() {
		frame, err := plan.Next()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		m := mode
		if frame.Offset > 0 {
			m = protocol.ParamWrite
		}
		cmd := protocol.SetDataObject(oid, m, offset+uint16(frame.Offset), frame.Data)
		if _, err := d.execute(ctx, op, cmd); err != nil {
			plan.Abort()
			return err
		}
		if progress != nil {
			progress(frame.Length)
		}
	}

	d.logDebug("object written", "oid", fmt.Sprintf("0x%04X", oid), "bytes", len(data))
	return nil
}

// Hash computes the SHA-256 digest of data on the element. Data larger than
// one frame is streamed; the element's intermediate hash state travels back
// to the host after each frame and out again with the next one.
func (d *Device) Hash(ctx context.Context, data []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	capacity := d.capacity(hashContextReserve)
	plan, err := chunk.Begin(len(data), capacity, chunk.WithPayload(data), chunk.WithIntermediate())
	if err != nil {
		return nil, err
	}

	for !plan.Done() {
		frame, err := plan.Next()
		if err != nil {
			return nil, fmt.Errorf("hash: %w", err)
		}

		fields := []protocol.TLV{{Tag: byte(frame.Tag), Value: frame.Data}}
		if frame.Intermediate != nil {
			fields = append(fields, protocol.TLV{Tag: byte(chunk.TagIntermediate), Value: frame.Intermediate})
		}
		if !frame.Last {
			fields = append(fields, protocol.TLV{Tag: byte(chunk.TagContextOut)})
		}

		out, err := d.execute(ctx, fmt.Sprintf("hash %s", frame.Tag), protocol.CalcHash(protocol.HashSHA256, fields...))
		if err != nil {
			plan.Abort()
			return nil, err
		}

		tlvs, err := protocol.ParseTLVs(out)
		if err != nil {
			plan.Abort()
			return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
		}

		if frame.Last {
			for _, tlv := range tlvs {
				if tlv.Tag == hashDigestTag && len(tlv.Value) == protocol.SHA256DigestSize {
					return tlv.Value, nil
				}
			}
			return nil, fmt.Errorf("%w: no digest in final hash response", ErrUnexpectedResponse)
		}

		var state []byte
		for _, tlv := range tlvs {
			if chunk.Tag(tlv.Tag) == chunk.TagIntermediate {
				state = tlv.Value
			}
		}
		if state == nil {
			// Next() aborts the plan with ErrIntermediateLost.
			continue
		}
		if err := plan.AcceptIntermediate(state); err != nil {
			return nil, fmt.Errorf("hash: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: hash ended without a final frame", ErrUnexpectedResponse)
}

// capacity is the payload room per frame once reserve bytes are set aside.
func (d *Device) capacity(reserve int) int {
	return d.sched.Codec().MaxPayload() - reserve
}
