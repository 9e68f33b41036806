package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
)

// State is the transaction state of a Scheduler.
type State int

// Transaction states. At most one transaction is BUSY.
const (
	StateIdle State = iota
	StateBusy
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBusy:
		return "BUSY"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Status is the outcome of a command as delivered to its callback.
type Status int

// Command statuses.
const (
	StatusSuccess Status = iota
	StatusFailure
	StatusBusy
	StatusInvalidLength
	StatusIntegrityFailure
	StatusCancelled
	StatusTimeout
	StatusDeviceUnresponsive
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusBusy:
		return "busy"
	case StatusInvalidLength:
		return "invalid_length"
	case StatusIntegrityFailure:
		return "integrity_failure"
	case StatusCancelled:
		return "cancelled"
	case StatusTimeout:
		return "timeout"
	case StatusDeviceUnresponsive:
		return "device_unresponsive"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Request is one command for the element. The scheduler owns it from
// Submit until the callback runs.
type Request struct {
	// Opcode and Param form the command header
	Opcode byte
	Param  byte

	// Payload is the command data
	Payload []byte

	// ExpectedSize bounds the response payload; zero means unbounded
	ExpectedSize int

	// Protection is the level the command must travel with. LevelNone
	// sends it in the clear.
	Protection shielded.Level

	// Context saves the session after the command or restores it from the
	// configured store before it. Zero means ContextNone.
	Context shielded.ManageContext

	// Reestablish forces a fresh handshake before a protected command,
	// including out of an invalidated session.
	Reestablish bool
}

// CommandRequest wraps a command built by package protocol in a plaintext
// Request.
func CommandRequest(cmd protocol.Command) Request {
	return Request{Opcode: cmd.Opcode, Param: cmd.Param, Payload: cmd.Payload}
}

// Result is the outcome of a Request.
type Result struct {
	// Status classifies the outcome
	Status Status

	// Code is the element's status byte when a response was decoded
	Code byte

	// Payload is the response data
	Payload []byte

	// Err explains any status other than StatusSuccess
	Err error

	// Elapsed is the time from submit to completion
	Elapsed time.Duration
}

// OK reports whether the command succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Handle identifies a submitted command. It resolves exactly once.
type Handle struct {
	id     uint64
	done   chan struct{}
	once   sync.Once
	result Result
}

func newHandle(id uint64) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the handle's sequence number.
func (h *Handle) ID() uint64 {
	return h.id
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the result and whether the command has completed.
func (h *Handle) Result() (Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the command completes or ctx is done. Giving up on the
// wait does not cancel the command; use Scheduler.Cancel for that.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (h *Handle) resolve(r Result) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
	})
}
