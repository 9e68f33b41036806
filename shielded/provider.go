package shielded

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"
	"golang.org/x/crypto/hkdf"
)

// Level is the protection a session applies to records.
type Level byte

// Protection levels.
const (
	LevelNone                Level = 0x00
	LevelEncrypt             Level = 0x01
	LevelEncryptAuthenticate Level = 0x02
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelEncrypt:
		return "encrypt"
	case LevelEncryptAuthenticate:
		return "encrypt+authenticate"
	default:
		return fmt.Sprintf("Level(0x%02X)", byte(l))
	}
}

// Key schedule layout. The session key material is split, from the host's
// point of view, into:
//
//	[ENC_KEY(16)][DEC_KEY(16)][ENC_NONCE(4)][DEC_NONCE(4)]
const (
	KeySize        = 16
	NonceSaltSize  = 4
	SessionKeySize = 2*KeySize + 2*NonceSaltSize

	// KeyLabel is the label mixed into the key derivation
	KeyLabel = "Platform Binding"
)

// Provider supplies key derivation and record protection for a session.
type Provider interface {
	// Name identifies the provider in saved contexts
	Name() string

	// Level is the protection the provider's records carry
	Level() Level

	// DeriveSessionKey expands the pre-shared secret and the handshake
	// random into SessionKeySize bytes of key material
	DeriveSessionKey(secret, random []byte) ([]byte, error)

	// NewAEAD returns the record cipher for one direction. Nonces are
	// 8 bytes: the 4-byte nonce salt followed by the sequence number.
	NewAEAD(key []byte) (cipher.AEAD, error)
}

// Built-in provider names.
const (
	ProviderCCMTLSPRF = "aes128-ccm-tls-prf"
	ProviderCCMHKDF   = "aes128-ccm-hkdf"
	ProviderCTRHKDF   = "aes128-ctr-hkdf"

	// DefaultProvider matches the element's documented secure channel
	DefaultProvider = ProviderCCMTLSPRF
)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// RegisterProvider makes a provider available by name. Registering a name
// twice replaces the earlier provider.
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// LookupProvider returns the provider registered under name.
func LookupProvider(name string) (Provider, error) {
	providersMu.RLock()
	defer providersMu.RUnlock()
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterProvider(ccmProvider{name: ProviderCCMTLSPRF, kdf: prfKDF})
	RegisterProvider(ccmProvider{name: ProviderCCMHKDF, kdf: hkdfKDF})
	RegisterProvider(ctrProvider{name: ProviderCTRHKDF, kdf: hkdfKDF})
}

// TagSize is the authentication tag length of CCM records.
const TagSize = 8

// recordNonceSize is NonceSaltSize plus the 4-byte sequence number.
const recordNonceSize = NonceSaltSize + 4

type kdfFunc func(secret, random []byte) ([]byte, error)

func prfKDF(secret, random []byte) ([]byte, error) {
	return tlsPRF(secret, KeyLabel, random, SessionKeySize), nil
}

func hkdfKDF(secret, random []byte) ([]byte, error) {
	out := make([]byte, SessionKeySize)
	r := hkdf.New(sha256.New, secret, random, []byte(KeyLabel))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// ccmProvider protects records with AES-128-CCM and an 8-byte tag.
type ccmProvider struct {
	name string
	kdf  kdfFunc
}

func (p ccmProvider) Name() string { return p.name }
func (ccmProvider) Level() Level   { return LevelEncryptAuthenticate }

func (p ccmProvider) DeriveSessionKey(secret, random []byte) ([]byte, error) {
	return p.kdf(secret, random)
}

func (ccmProvider) NewAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := ccm.NewCCM(block, TagSize, recordNonceSize)
	if err != nil {
		return nil, fmt.Errorf("ccm: %w", err)
	}
	return aead, nil
}

// ctrProvider encrypts records with AES-128-CTR and no tag. Records are
// confidential but a modified record goes undetected.
type ctrProvider struct {
	name string
	kdf  kdfFunc
}

func (p ctrProvider) Name() string { return p.name }
func (ctrProvider) Level() Level   { return LevelEncrypt }

func (p ctrProvider) DeriveSessionKey(secret, random []byte) ([]byte, error) {
	return p.kdf(secret, random)
}

func (ctrProvider) NewAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return ctrAEAD{block: block}, nil
}

// ctrAEAD adapts AES-CTR to the cipher.AEAD interface. The counter block is
// the record nonce followed by a zero block counter; additional data is ignored.
type ctrAEAD struct {
	block cipher.Block
}

func (ctrAEAD) NonceSize() int { return recordNonceSize }
func (ctrAEAD) Overhead() int  { return 0 }

func (c ctrAEAD) Seal(dst, nonce, plaintext, _ []byte) []byte {
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)

	out := make([]byte, len(plaintext))
	cipher.NewCTR(c.block, iv).XORKeyStream(out, plaintext)
	return append(dst, out...)
}

func (c ctrAEAD) Open(dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	return c.Seal(dst, nonce, ciphertext, aad), nil
}
