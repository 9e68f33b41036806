package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moffa90/go-trustm/pal"
	"github.com/moffa90/go-trustm/protocol"
)

// ErrPoweredOff is returned by a Port whose supply is switched off.
var ErrPoweredOff = errors.New("sim: element powered off")

// Port is a pal.Port wired to an Element, or to a plain echo responder.
// Responses become ready Delay after the message was sent.
type Port struct {
	mu sync.Mutex

	element *Element
	codec   *protocol.Codec
	delay   time.Duration

	pending []byte
	readyAt time.Time

	tamper     func([]byte) []byte
	silent     bool
	sendFaults int
	powered    bool
	sent       int
	resets     int
}

// PortOption configures a Port.
type PortOption func(*Port)

// WithDelay sets how long the element takes to answer.
func WithDelay(d time.Duration) PortOption {
	return func(p *Port) {
		p.delay = d
	}
}

// WithTamper installs f to rewrite every response before the host sees it.
func WithTamper(f func([]byte) []byte) PortOption {
	return func(p *Port) {
		p.tamper = f
	}
}

// WithCodec sets the codec of the echo responder.
func WithCodec(c *protocol.Codec) PortOption {
	return func(p *Port) {
		if c != nil {
			p.codec = c
		}
	}
}

// NewPort connects a Port to e.
func NewPort(e *Element, opts ...PortOption) *Port {
	if e == nil {
		panic("element cannot be nil")
	}
	p := &Port{element: e, codec: e.codec, powered: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewEchoPort returns a Port that answers every plaintext command with a
// success response carrying the command's payload.
func NewEchoPort(opts ...PortOption) *Port {
	p := &Port{codec: protocol.NewCodec(), powered: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ pal.Port = (*Port)(nil)

// Send delivers msg to the element.
func (p *Port) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.powered {
		return ErrPoweredOff
	}
	if p.sendFaults > 0 {
		p.sendFaults--
		return errors.New("sim: injected send failure")
	}
	p.sent++
	if p.silent {
		return nil
	}

	var reply []byte
	if p.element != nil {
		reply = p.element.Handle(msg)
	} else {
		reply = p.echo(msg)
	}
	if p.tamper != nil {
		reply = p.tamper(reply)
	}

	p.pending = reply
	p.readyAt = time.Now().Add(p.delay)
	return nil
}

// Receive returns the pending response once its delay has passed.
func (p *Port) Receive(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.powered {
		return 0, ErrPoweredOff
	}
	if p.pending == nil || time.Now().Before(p.readyAt) {
		return 0, pal.ErrNotReady
	}
	if len(p.pending) > len(buf) {
		return 0, fmt.Errorf("response of %d bytes exceeds buffer of %d", len(p.pending), len(buf))
	}

	n := copy(buf, p.pending)
	p.pending = nil
	return n, nil
}

// Reset drops any pending response and resets the element.
func (p *Port) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = nil
	p.silent = false
	p.resets++
	if p.element != nil {
		p.element.Reset()
	}
	return nil
}

// Power switches the element. Switching it off loses the session like a
// reset does.
func (p *Port) Power(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !on {
		p.pending = nil
		if p.element != nil {
			p.element.Reset()
		}
	}
	p.powered = on
	return nil
}

// SetSilent makes the element swallow messages without answering, until
// the next Reset.
func (p *Port) SetSilent(silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent = silent
}

// SetTamper replaces the response rewrite hook.
func (p *Port) SetTamper(f func([]byte) []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tamper = f
}

// FailSends makes the next n sends fail.
func (p *Port) FailSends(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendFaults = n
}

// Sent returns how many messages reached the element.
func (p *Port) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Resets returns how many times the port was reset.
func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

func (p *Port) echo(msg []byte) []byte {
	if len(msg) == 0 || msg[0] != protocol.PresentationPlain {
		frame, _ := p.codec.EncodeResponse(protocol.StatusFailure, nil)
		return wrap(protocol.PresentationPlain, frame)
	}
	cmd, err := p.codec.DecodeCommand(msg[1:])
	if err != nil {
		frame, _ := p.codec.EncodeResponse(protocol.StatusFailure, nil)
		return wrap(protocol.PresentationPlain, frame)
	}
	frame, err := p.codec.EncodeResponse(protocol.StatusSuccess, cmd.Payload)
	if err != nil {
		frame, _ = p.codec.EncodeResponse(protocol.StatusFailure, nil)
	}
	return wrap(protocol.PresentationPlain, frame)
}
