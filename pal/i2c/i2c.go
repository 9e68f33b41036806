// Package i2c provides a pal.Port for a secure element on an I2C bus.
//
// The element exposes a small register map:
//
//	0x80 DATA        message in, response out
//	0x82 I2C_STATE   [flags][reserved][LEN(2)]; flag 0x40 = response ready
//	0x88 SOFT_RESET  write 0x0000 to restart the element
package i2c

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moffa90/go-trustm/pal"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Register addresses.
const (
	RegData      = 0x80
	RegState     = 0x82
	RegSoftReset = 0x88
)

// I2C_STATE flags.
const (
	StateBusy      = 0x80
	StateRespReady = 0x40
)

const stateSize = 4

// Defaults.
const (
	DefaultAddr      = 0x30
	DefaultFrequency = 400 * physic.KiloHertz
	DefaultResetHold = 2 * time.Millisecond
	DefaultStartup   = 15 * time.Millisecond
)

// ErrNoPin is returned by Power when no power line was configured.
var ErrNoPin = errors.New("i2c: no gpio line configured")

// Config holds the port configuration.
type Config struct {
	// Addr is the element's 7-bit I2C address
	Addr uint16

	// Frequency is the bus clock; zero keeps the bus default
	Frequency physic.Frequency

	// ResetPin and PowerPin are optional gpio lines. Without a reset line
	// Reset falls back to the SOFT_RESET register.
	ResetPin gpio.PinOut
	PowerPin gpio.PinOut

	// ResetHold is how long the reset line is held low
	ResetHold time.Duration

	// Startup is how long to wait after reset or power-on
	Startup time.Duration
}

func defaultConfig() Config {
	return Config{
		Addr:      DefaultAddr,
		Frequency: DefaultFrequency,
		ResetHold: DefaultResetHold,
		Startup:   DefaultStartup,
	}
}

// Option is a functional option for configuring the Port.
type Option func(*Config)

// WithAddr sets the element's I2C address.
func WithAddr(addr uint16) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithFrequency sets the bus clock.
func WithFrequency(f physic.Frequency) Option {
	return func(c *Config) {
		c.Frequency = f
	}
}

// WithResetPin drives the element's reset line from p.
func WithResetPin(p gpio.PinOut) Option {
	return func(c *Config) {
		c.ResetPin = p
	}
}

// WithPowerPin drives the element's supply switch from p.
func WithPowerPin(p gpio.PinOut) Option {
	return func(c *Config) {
		c.PowerPin = p
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

// Port talks to the element through its register map.
type Port struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	closer func() error
	config Config
}

// Open initializes the periph host, opens the named bus ("" for the first
// one) and returns a Port. Reset and power line names are looked up in the
// gpio registry; empty names leave the line unconfigured.
func Open(busName, resetPin, powerPin string, opts ...Option) (*Port, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open I2C bus %q: %w", busName, err)
	}

	if resetPin != "" {
		pin := gpioreg.ByName(resetPin)
		if pin == nil {
			bus.Close()
			return nil, fmt.Errorf("reset line %q not found", resetPin)
		}
		opts = append(opts, WithResetPin(pin))
	}
	if powerPin != "" {
		pin := gpioreg.ByName(powerPin)
		if pin == nil {
			bus.Close()
			return nil, fmt.Errorf("power line %q not found", powerPin)
		}
		opts = append(opts, WithPowerPin(pin))
	}

	p := New(bus, opts...)
	p.closer = bus.Close
	return p, nil
}

// New returns a Port on an already opened bus.
func New(bus i2c.Bus, opts ...Option) *Port {
	if bus == nil {
		panic("bus cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Frequency > 0 {
		// Not every bus supports changing speed; keep its default then.
		_ = bus.SetSpeed(cfg.Frequency)
	}

	return &Port{
		dev:    &i2c.Dev{Addr: cfg.Addr, Bus: bus},
		config: cfg,
	}
}

var _ pal.Port = (*Port)(nil)

// Send writes msg to the DATA register.
func (p *Port) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := make([]byte, 0, 1+len(msg))
	w = append(w, RegData)
	w = append(w, msg...)
	if err := p.dev.Tx(w, nil); err != nil {
		return fmt.Errorf("write data register: %w", err)
	}
	return nil
}

// Receive checks I2C_STATE and, once the response is ready, reads it from
// the DATA register.
func (p *Port) Receive(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := make([]byte, stateSize)
	if err := p.dev.Tx([]byte{RegState}, state); err != nil {
		return 0, fmt.Errorf("read state register: %w", err)
	}
	if state[0]&StateRespReady == 0 {
		return 0, pal.ErrNotReady
	}

	n := int(binary.BigEndian.Uint16(state[2:4]))
	if n > len(buf) {
		return 0, fmt.Errorf("response of %d bytes exceeds buffer of %d", n, len(buf))
	}
	if n == 0 {
		return 0, nil
	}
	if err := p.dev.Tx([]byte{RegData}, buf[:n]); err != nil {
		return 0, fmt.Errorf("read data register: %w", err)
	}
	return n, nil
}

// Reset pulses the reset line, or writes SOFT_RESET when none is wired.
func (p *Port) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.ResetPin != nil {
		if err := p.config.ResetPin.Out(gpio.Low); err != nil {
			return fmt.Errorf("assert reset: %w", err)
		}
		time.Sleep(p.config.ResetHold)
		if err := p.config.ResetPin.Out(gpio.High); err != nil {
			return fmt.Errorf("release reset: %w", err)
		}
	} else if err := p.dev.Tx([]byte{RegSoftReset, 0x00, 0x00}, nil); err != nil {
		return fmt.Errorf("soft reset: %w", err)
	}

	time.Sleep(p.config.Startup)
	return nil
}

// Power switches the supply line.
func (p *Port) Power(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.PowerPin == nil {
		return ErrNoPin
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := p.config.PowerPin.Out(level); err != nil {
		return fmt.Errorf("switch power: %w", err)
	}
	if on {
		time.Sleep(p.config.Startup)
	}
	return nil
}

// Close releases the bus if Open acquired it.
func (p *Port) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
