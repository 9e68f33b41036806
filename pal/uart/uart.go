// Package uart provides a pal.Port for a secure element behind a serial
// bridge.
//
// Messages travel length-prefixed in both directions:
//
//	[LEN(2)][MESSAGE...]
//
// DTR drives the element's reset line (asserted high) and RTS its supply.
package uart

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moffa90/go-trustm/pal"
	"go.bug.st/serial"
)

const lengthSize = 2

// Defaults.
const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 5 * time.Millisecond
	DefaultResetHold   = 2 * time.Millisecond
	DefaultStartup     = 15 * time.Millisecond
)

// Conn is the part of serial.Port the Port uses.
type Conn interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	ResetInputBuffer() error
}

// Config holds the port configuration.
type Config struct {
	// BaudRate of the serial line
	BaudRate int

	// ReadTimeout bounds a single poll of the line
	ReadTimeout time.Duration

	// ResetHold is how long DTR is held asserted
	ResetHold time.Duration

	// Startup is how long to wait after reset or power-on
	Startup time.Duration
}

func defaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		ResetHold:   DefaultResetHold,
		Startup:     DefaultStartup,
	}
}

// Option is a functional option for configuring the Port.
type Option func(*Config)

// WithBaudRate sets the line speed.
func WithBaudRate(baud int) Option {
	return func(c *Config) {
		if baud > 0 {
			c.BaudRate = baud
		}
	}
}

// WithReadTimeout sets how long a single Receive waits for bytes.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadTimeout = d
		}
	}
}

// WithStartup sets the delay after reset or power-on.
func WithStartup(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.Startup = d
		}
	}
}

// Port frames messages over a serial line.
type Port struct {
	mu      sync.Mutex
	conn    Conn
	config  Config
	pending []byte
}

// Open opens the serial device at path (8N1) and returns a Port.
func Open(path string, opts ...Option) (*Port, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	if err := sp.SetReadTimeout(cfg.ReadTimeout); err != nil {
		sp.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	return New(sp, opts...), nil
}

// New returns a Port on an already opened connection. The connection's
// reads must time out (returning 0 bytes) rather than block.
func New(conn Conn, opts ...Option) *Port {
	if conn == nil {
		panic("conn cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Port{conn: conn, config: cfg}
}

var _ pal.Port = (*Port)(nil)

// Send writes one length-prefixed message.
func (p *Port) Send(msg []byte) error {
	if len(msg) > 0xFFFF {
		return fmt.Errorf("message of %d bytes exceeds the length prefix", len(msg))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	frame := make([]byte, lengthSize, lengthSize+len(msg))
	binary.BigEndian.PutUint16(frame, uint16(len(msg)))
	frame = append(frame, msg...)

	for len(frame) > 0 {
		n, err := p.conn.Write(frame)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		frame = frame[n:]
	}
	return nil
}

// Receive drains what the line has buffered and returns one message once it
// is complete. Partial messages are kept for the next call.
func (p *Port) Receive(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chunk := make([]byte, 256)
	for {
		if size, ok := p.complete(); ok {
			if size > len(buf) {
				return 0, fmt.Errorf("response of %d bytes exceeds buffer of %d", size, len(buf))
			}
			n := copy(buf, p.pending[lengthSize:lengthSize+size])
			p.pending = p.pending[lengthSize+size:]
			return n, nil
		}

		n, err := p.conn.Read(chunk)
		if err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return 0, pal.ErrNotReady
		}
		p.pending = append(p.pending, chunk[:n]...)
	}
}

// complete reports the size of the first message in pending, once all of
// it has arrived. The message stays buffered until the caller consumes it.
func (p *Port) complete() (int, bool) {
	if len(p.pending) < lengthSize {
		return 0, false
	}
	n := int(binary.BigEndian.Uint16(p.pending))
	if len(p.pending) < lengthSize+n {
		return 0, false
	}
	return n, true
}

// Reset pulses DTR and drops anything buffered from before the reset.
func (p *Port) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.conn.SetDTR(true); err != nil {
		return fmt.Errorf("assert reset: %w", err)
	}
	time.Sleep(p.config.ResetHold)
	if err := p.conn.SetDTR(false); err != nil {
		return fmt.Errorf("release reset: %w", err)
	}

	p.pending = nil
	if err := p.conn.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}

	time.Sleep(p.config.Startup)
	return nil
}

// Power switches the supply through RTS.
func (p *Port) Power(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.conn.SetRTS(on); err != nil {
		return fmt.Errorf("switch power: %w", err)
	}
	if on {
		time.Sleep(p.config.Startup)
	}
	return nil
}

// Close closes the serial line.
func (p *Port) Close() error {
	return p.conn.Close()
}
