package shielded

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

// State is the lifecycle state of a shielded session.
type State int

// Session states.
const (
	StateUnestablished State = iota
	StateEstablishing
	StateEstablished
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateUnestablished:
		return "UNESTABLISHED"
	case StateEstablishing:
		return "ESTABLISHING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Role selects which half of the key schedule a channel uses.
type Role int

// Channel roles.
const (
	RoleHost Role = iota
	RoleDevice
)

// ManageContext tells the scheduler what to do with the session context
// around one command.
type ManageContext byte

// Manage-context values.
const (
	ContextNone    ManageContext = 0x33
	ContextSave    ManageContext = 0x22
	ContextRestore ManageContext = 0x11
)

// Channel constants.
const (
	// PreSharedSecretSize is the size of the platform binding secret
	PreSharedSecretSize = 64

	// RandomSize is the size of the device's handshake random
	RandomSize = 32

	// DefaultSequenceThreshold forces re-establishment before the 32-bit
	// counters wrap
	DefaultSequenceThreshold = 0xFFFFFFF0
)

// Channel is one end of a shielded session. It is safe for concurrent use.
type Channel struct {
	mu sync.Mutex

	provider  Provider
	role      Role
	secret    []byte
	rand      io.Reader
	threshold uint32

	state     State
	material  []byte
	seal      cipher.AEAD
	open      cipher.AEAD
	sealSalt  []byte
	openSalt  []byte
	txSeq     uint32
	rxSeq     uint32
	session   []byte
	random    []byte
	handshake uint32
	failures  int
}

// Option configures a Channel.
type Option func(*Channel)

// WithProvider selects the cryptographic provider. The default is
// DefaultProvider.
func WithProvider(p Provider) Option {
	return func(c *Channel) {
		if p != nil {
			c.provider = p
		}
	}
}

// WithRole selects the host or device half of the key schedule.
func WithRole(r Role) Option {
	return func(c *Channel) {
		c.role = r
	}
}

// WithRandom sets the randomness source used by the device role.
func WithRandom(r io.Reader) Option {
	return func(c *Channel) {
		if r != nil {
			c.rand = r
		}
	}
}

// WithSequenceThreshold lowers the counter value at which the session is
// invalidated.
func WithSequenceThreshold(n uint32) Option {
	return func(c *Channel) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// NewChannel creates an unestablished channel bound to the pre-shared
// platform binding secret.
//
// Example:
//
//	ch, err := shielded.NewChannel(secret)
//	hello, _ := ch.Hello()
//	// send hello, receive the device hello
//	finished, err := ch.HandleHello(deviceHello)
//	// send finished, receive the device finished
//	err = ch.Complete(deviceFinished)
func NewChannel(secret []byte, opts ...Option) (*Channel, error) {
	if len(secret) != PreSharedSecretSize {
		return nil, fmt.Errorf("pre-shared secret must be exactly %d bytes, got %d", PreSharedSecretSize, len(secret))
	}

	provider, err := LookupProvider(DefaultProvider)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		provider:  provider,
		role:      RoleHost,
		secret:    append([]byte(nil), secret...),
		rand:      rand.Reader,
		threshold: DefaultSequenceThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the current session state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Level returns the protection the session provides.
func (c *Channel) Level() Level {
	return c.provider.Level()
}

// Provider returns the channel's cryptographic provider.
func (c *Channel) Provider() Provider {
	return c.provider
}

// Sequence returns the last outbound and inbound sequence numbers.
func (c *Channel) Sequence() (tx, rx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txSeq, c.rxSeq
}

// Failures returns how many records failed to unprotect since the session
// was established.
func (c *Channel) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Require checks that a command asking for level can be served. LevelNone
// always passes; any other level must equal what the session provides.
func (c *Channel) Require(level Level) error {
	if level == LevelNone {
		return nil
	}
	if level != c.provider.Level() {
		return fmt.Errorf("%w: command asks for %s, session provides %s", ErrProtectionMismatch, level, c.provider.Level())
	}
	return nil
}

// Teardown invalidates an established session and wipes its keys.
func (c *Channel) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
}

// Reset returns the channel to StateUnestablished, wiping any session.
// Used after the element was reset and holds no session anymore.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipe()
	c.state = StateUnestablished
	c.txSeq, c.rxSeq = 0, 0
	c.session = nil
	c.failures = 0
}

// invalidate must be called with mu held.
func (c *Channel) invalidate() {
	c.wipe()
	c.state = StateInvalid
}

func (c *Channel) wipe() {
	for i := range c.material {
		c.material[i] = 0
	}
	c.material = nil
	c.seal, c.open = nil, nil
	c.sealSalt, c.openSalt = nil, nil
	c.random = nil
}

// install splits key material into this role's directions. Must be called
// with mu held.
func (c *Channel) install(material []byte) error {
	if len(material) != SessionKeySize {
		return fmt.Errorf("session key must be %d bytes, got %d", SessionKeySize, len(material))
	}

	encKey := material[0:KeySize]
	decKey := material[KeySize : 2*KeySize]
	encSalt := material[2*KeySize : 2*KeySize+NonceSaltSize]
	decSalt := material[2*KeySize+NonceSaltSize:]

	if c.role == RoleDevice {
		encKey, decKey = decKey, encKey
		encSalt, decSalt = decSalt, encSalt
	}

	seal, err := c.provider.NewAEAD(encKey)
	if err != nil {
		return fmt.Errorf("create sealing cipher: %w", err)
	}
	open, err := c.provider.NewAEAD(decKey)
	if err != nil {
		return fmt.Errorf("create opening cipher: %w", err)
	}

	c.material = append([]byte(nil), material...)
	c.seal, c.open = seal, open
	c.sealSalt = append([]byte(nil), encSalt...)
	c.openSalt = append([]byte(nil), decSalt...)
	return nil
}
