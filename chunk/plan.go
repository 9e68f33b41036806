package chunk

import (
	"errors"
	"fmt"
)

// Tag identifies the role of a frame in a chunked operation.
// Values match the element's hash sequence tags.
type Tag byte

// Frame tags.
const (
	TagStart        Tag = 0x00
	TagStartFinal   Tag = 0x01
	TagContinue     Tag = 0x02
	TagFinal        Tag = 0x03
	TagIntermediate Tag = 0x06
	TagContextOut   Tag = 0x07
)

func (t Tag) String() string {
	switch t {
	case TagStart:
		return "START"
	case TagStartFinal:
		return "START_FINAL"
	case TagContinue:
		return "CONTINUE"
	case TagFinal:
		return "FINAL"
	case TagIntermediate:
		return "INTERMEDIATE"
	case TagContextOut:
		return "CONTEXT_OUT"
	default:
		return fmt.Sprintf("Tag(0x%02X)", byte(t))
	}
}

var (
	// ErrOutOfOrder is returned when frames or intermediate blobs arrive in
	// an order other than START, CONTINUE..., FINAL.
	ErrOutOfOrder = errors.New("chunk out of order")

	// ErrIntermediateLost is returned when a frame that must carry the
	// device's intermediate state is requested before that state was
	// accepted. The whole operation has to restart.
	ErrIntermediateLost = errors.New("intermediate state lost")

	// ErrPlanComplete is returned when a finished plan is asked for more frames.
	ErrPlanComplete = errors.New("chunk plan complete")

	// ErrAborted is returned by every call on an aborted plan.
	ErrAborted = errors.New("chunk plan aborted")
)

// Frame describes one frame of a Plan.
type Frame struct {
	// Tag is START, START_FINAL, CONTINUE or FINAL
	Tag Tag

	// Offset is the position of this frame's slice in the payload
	Offset int

	// Length is the size of this frame's slice
	Length int

	// Data is the slice itself when the plan was built WithPayload
	Data []byte

	// Intermediate is the device state to send along with this frame
	Intermediate []byte

	// Last is true for the FINAL or START_FINAL frame
	Last bool
}

// Option configures a Plan.
type Option func(*Plan)

// WithPayload makes the plan hand out slices of payload in Frame.Data.
// len(payload) must equal the plan's total.
func WithPayload(payload []byte) Option {
	return func(p *Plan) {
		p.payload = payload
	}
}

// WithIntermediate requires an intermediate blob to be accepted after every
// non-final frame before the next one is produced.
func WithIntermediate() Option {
	return func(p *Plan) {
		p.requireIntermediate = true
	}
}

// Plan splits a payload of known length into frames of at most capacity
// bytes. A Plan is not safe for concurrent use; it is owned by the one
// logical operation it describes.
type Plan struct {
	total    int
	capacity int
	payload  []byte

	requireIntermediate bool
	intermediate        []byte

	sent    int
	emitted int
	done    bool
	aborted bool
	order   Order
}

// Begin computes the frame boundaries for total bytes at capacity bytes per
// frame. A zero-length payload yields a single START_FINAL frame.
//
// Example:
//
//	plan, err := chunk.Begin(len(data), 640, chunk.WithPayload(data))
//	for !plan.Done() {
//	    frame, err := plan.Next()
//	    // send frame.Tag, frame.Data
//	}
func Begin(total, capacity int, opts ...Option) (*Plan, error) {
	if total < 0 {
		return nil, fmt.Errorf("total length must not be negative, got %d", total)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("frame capacity must be positive, got %d", capacity)
	}

	p := &Plan{total: total, capacity: capacity}
	for _, opt := range opts {
		opt(p)
	}

	if p.payload != nil && len(p.payload) != total {
		return nil, fmt.Errorf("payload is %d bytes, plan total is %d", len(p.payload), total)
	}

	return p, nil
}

// Total returns the payload length the plan covers.
func (p *Plan) Total() int {
	return p.total
}

// Count returns the number of frames the plan produces.
func (p *Plan) Count() int {
	if p.total == 0 {
		return 1
	}
	return (p.total + p.capacity - 1) / p.capacity
}

// Done reports whether the last frame has been produced.
func (p *Plan) Done() bool {
	return p.done
}

// Sent returns the number of payload bytes handed out so far.
func (p *Plan) Sent() int {
	return p.sent
}

// Next returns the next frame. The first frame is START (or START_FINAL when
// the payload fits one frame), middle frames CONTINUE, the last FINAL.
func (p *Plan) Next() (Frame, error) {
	if p.aborted {
		return Frame{}, ErrAborted
	}
	if p.done {
		return Frame{}, ErrPlanComplete
	}

	var carried []byte
	if p.emitted > 0 && p.requireIntermediate {
		if p.intermediate == nil {
			p.Abort()
			return Frame{}, fmt.Errorf("%w: frame %d of %d", ErrIntermediateLost, p.emitted+1, p.Count())
		}
		carried = p.intermediate
		p.intermediate = nil
	}

	length := p.total - p.sent
	if length > p.capacity {
		length = p.capacity
	}
	first := p.emitted == 0
	last := p.sent+length == p.total

	var tag Tag
	switch {
	case first && last:
		tag = TagStartFinal
	case first:
		tag = TagStart
	case last:
		tag = TagFinal
	default:
		tag = TagContinue
	}

	if err := p.order.Observe(tag); err != nil {
		p.Abort()
		return Frame{}, err
	}

	frame := Frame{
		Tag:          tag,
		Offset:       p.sent,
		Length:       length,
		Intermediate: carried,
		Last:         last,
	}
	if p.payload != nil {
		frame.Data = p.payload[p.sent : p.sent+length]
	}

	p.sent += length
	p.emitted++
	p.done = last

	return frame, nil
}

// AcceptIntermediate stores the device's intermediate state so that it is
// sent verbatim with the next frame. It is valid only between a non-final
// frame and its successor.
func (p *Plan) AcceptIntermediate(blob []byte) error {
	if p.aborted {
		return ErrAborted
	}
	if p.done {
		return fmt.Errorf("%w: no frame left to carry intermediate state", ErrPlanComplete)
	}
	if p.emitted == 0 {
		return fmt.Errorf("%w: intermediate state before the first frame", ErrOutOfOrder)
	}
	if p.intermediate != nil {
		return fmt.Errorf("%w: intermediate state accepted twice for frame %d", ErrOutOfOrder, p.emitted)
	}

	p.intermediate = append(make([]byte, 0, len(blob)), blob...)
	return nil
}

// Intermediate returns the pending intermediate state, if any.
func (p *Plan) Intermediate() []byte {
	return p.intermediate
}

// Abort discards the plan and its intermediate state.
func (p *Plan) Abort() {
	p.aborted = true
	p.intermediate = nil
	p.order.Reset()
}
