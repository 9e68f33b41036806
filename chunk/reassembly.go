package chunk

import "fmt"

// Reassembler collects a chunked read. Each window asks for at most
// capacity bytes; the read ends when the wanted total is reached or the
// device returns fewer bytes than asked for.
type Reassembler struct {
	want     int
	capacity int
	buf      []byte
	asked    int
	done     bool
}

// NewReassembler prepares a read of want bytes. A want of zero or less reads
// until the device returns a short chunk.
func NewReassembler(want, capacity int) (*Reassembler, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("frame capacity must be positive, got %d", capacity)
	}
	r := &Reassembler{want: want, capacity: capacity}
	if want > 0 {
		r.buf = make([]byte, 0, want)
	}
	return r, nil
}

// Window returns the offset and length of the next read. ok is false once
// the read is complete.
func (r *Reassembler) Window() (offset, length int, ok bool) {
	if r.done {
		return 0, 0, false
	}
	length = r.capacity
	if r.want > 0 && r.want-len(r.buf) < length {
		length = r.want - len(r.buf)
	}
	r.asked = length
	return len(r.buf), length, true
}

// Add appends the bytes returned for the current window.
func (r *Reassembler) Add(data []byte) error {
	if r.done {
		return fmt.Errorf("%w: data after the read completed", ErrOutOfOrder)
	}
	if len(data) > r.asked {
		return fmt.Errorf("device returned %d bytes for a %d byte window", len(data), r.asked)
	}

	r.buf = append(r.buf, data...)
	if len(data) < r.asked || (r.want > 0 && len(r.buf) == r.want) {
		r.done = true
	}
	return nil
}

// Finish ends the read early, keeping what was accumulated.
func (r *Reassembler) Finish() {
	r.done = true
}

// Done reports whether the read is complete.
func (r *Reassembler) Done() bool {
	return r.done
}

// Bytes returns the accumulated data.
func (r *Reassembler) Bytes() []byte {
	return r.buf
}
