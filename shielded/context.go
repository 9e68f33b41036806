package shielded

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

const (
	contextVersion = 1
	contextLabel   = "Context Binding"
)

// savedContext is the session state captured by Save.
type savedContext struct {
	Provider string `cbor:"1,keyasint"`
	Role     int    `cbor:"2,keyasint"`
	Session  []byte `cbor:"3,keyasint"`
	Material []byte `cbor:"4,keyasint"`
	TxSeq    uint32 `cbor:"5,keyasint"`
	RxSeq    uint32 `cbor:"6,keyasint"`
}

// envelope is the persisted form: the CBOR context sealed with AES-GCM under
// a key derived from the pre-shared secret.
type envelope struct {
	Version int    `cbor:"1,keyasint"`
	Nonce   []byte `cbor:"2,keyasint"`
	Sealed  []byte `cbor:"3,keyasint"`
}

// Save captures the established session so that it survives a power cycle.
// The blob is confidential and bound to the pre-shared secret; only a
// channel holding the same secret can restore it.
func (c *Channel) Save() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}

	plain, err := cbor.Marshal(savedContext{
		Provider: c.provider.Name(),
		Role:     int(c.role),
		Session:  c.session,
		Material: c.material,
		TxSeq:    c.txSeq,
		RxSeq:    c.rxSeq,
	})
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}

	aead, err := c.wrapCipher()
	if err != nil {
		return nil, err
	}
	n := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, n); err != nil {
		return nil, fmt.Errorf("draw context nonce: %w", err)
	}

	blob, err := cbor.Marshal(envelope{
		Version: contextVersion,
		Nonce:   n,
		Sealed:  aead.Seal(nil, n, plain, []byte(contextLabel)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode context envelope: %w", err)
	}
	return blob, nil
}

// Restore resumes a session captured by Save without a new handshake.
// Counters continue from the saved values. A blob older than the live
// session it belongs to is refused with ErrStaleContext.
func (c *Channel) Restore(blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var env envelope
	if err := cbor.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("%w: %w", ErrContextInvalid, err)
	}
	if env.Version != contextVersion {
		return fmt.Errorf("%w: version %d", ErrContextInvalid, env.Version)
	}

	aead, err := c.wrapCipher()
	if err != nil {
		return err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return fmt.Errorf("%w: nonce is %d bytes", ErrContextInvalid, len(env.Nonce))
	}
	plain, err := aead.Open(nil, env.Nonce, env.Sealed, []byte(contextLabel))
	if err != nil {
		return fmt.Errorf("%w: authentication failed", ErrContextInvalid)
	}

	var saved savedContext
	if err := cbor.Unmarshal(plain, &saved); err != nil {
		return fmt.Errorf("%w: %w", ErrContextInvalid, err)
	}
	if saved.Provider != c.provider.Name() {
		return fmt.Errorf("%w: saved with provider %q, channel uses %q", ErrContextInvalid, saved.Provider, c.provider.Name())
	}
	if Role(saved.Role) != c.role {
		return fmt.Errorf("%w: saved by the other role", ErrContextInvalid)
	}
	if c.session != nil && bytes.Equal(c.session, saved.Session) &&
		(saved.TxSeq < c.txSeq || saved.RxSeq < c.rxSeq) {
		return fmt.Errorf("%w: saved counters 0x%08X/0x%08X behind live 0x%08X/0x%08X",
			ErrStaleContext, saved.TxSeq, saved.RxSeq, c.txSeq, c.rxSeq)
	}

	c.wipe()
	if err := c.install(saved.Material); err != nil {
		c.invalidate()
		return fmt.Errorf("%w: %w", ErrContextInvalid, err)
	}
	c.session = saved.Session
	c.txSeq = saved.TxSeq
	c.rxSeq = saved.RxSeq
	c.failures = 0
	c.state = StateEstablished
	return nil
}

func (c *Channel) wrapCipher() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tlsPRF(c.secret, contextLabel, nil, KeySize))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
