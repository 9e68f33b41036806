package trustm

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"testing"

	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
	"github.com/moffa90/go-trustm/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var symKey = bytes.Repeat([]byte{0x5C}, 16)

func TestEncryptDecryptSym(t *testing.T) {
	block, err := aes.NewCipher(symKey)
	require.NoError(t, err)
	iv := bytes.Repeat([]byte{0x0F}, protocol.SymBlockSize)

	tests := []struct {
		name   string
		mode   byte
		iv     []byte
		size   int
		frames int
	}{
		{name: "ecb one frame", mode: protocol.SymModeECB, size: 64, frames: 1},
		{name: "cbc one frame", mode: protocol.SymModeCBC, iv: iv, size: 256, frames: 1},
		{name: "cbc streamed", mode: protocol.SymModeCBC, iv: iv, size: 1600, frames: 3},
		{name: "ecb streamed", mode: protocol.SymModeECB, size: 2048, frames: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, []sim.ElementOption{sim.WithSymmetricKey(symKey)})
			ctx := context.Background()
			require.NoError(t, f.dev.OpenApplication(ctx))

			plain := make([]byte, tt.size)
			for i := range plain {
				plain[i] = byte(i * 13)
			}

			before := f.element.Commands()
			sealed, err := f.dev.EncryptSym(ctx, tt.mode, protocol.OIDSymmetricKey, tt.iv, plain)
			require.NoError(t, err)
			assert.Equal(t, tt.frames, f.element.Commands()-before)

			want := make([]byte, len(plain))
			if tt.mode == protocol.SymModeCBC {
				cipher.NewCBCEncrypter(block, tt.iv).CryptBlocks(want, plain)
			} else {
				for i := 0; i < len(plain); i += protocol.SymBlockSize {
					block.Encrypt(want[i:], plain[i:i+protocol.SymBlockSize])
				}
			}
			assert.Equal(t, want, sealed)

			opened, err := f.dev.DecryptSym(ctx, tt.mode, protocol.OIDSymmetricKey, tt.iv, sealed)
			require.NoError(t, err)
			assert.Equal(t, plain, opened)
		})
	}
}

func TestEncryptSymRejectsPartialBlock(t *testing.T) {
	f := newFixture(t, []sim.ElementOption{sim.WithSymmetricKey(symKey)})
	ctx := context.Background()
	require.NoError(t, f.dev.OpenApplication(ctx))

	before := f.element.Commands()
	_, err := f.dev.EncryptSym(ctx, protocol.SymModeECB, protocol.OIDSymmetricKey, nil, make([]byte, 17))
	assert.Error(t, err)
	assert.Equal(t, before, f.element.Commands(), "refused before submit")
}

func TestCBCMAC(t *testing.T) {
	f := newFixture(t, []sim.ElementOption{sim.WithSymmetricKey(symKey)})
	ctx := context.Background()
	require.NoError(t, f.dev.OpenApplication(ctx))

	data := bytes.Repeat([]byte{0x42}, 1280)
	mac, err := f.dev.EncryptSym(ctx, protocol.SymModeCBCMAC, protocol.OIDSymmetricKey, nil, data)
	require.NoError(t, err)

	block, err := aes.NewCipher(symKey)
	require.NoError(t, err)
	chained := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, make([]byte, protocol.SymBlockSize)).CryptBlocks(chained, data)
	assert.Equal(t, chained[len(chained)-protocol.SymBlockSize:], mac)
}

func TestHMAC(t *testing.T) {
	const keyOID = protocol.OIDArbitraryData + 2
	secret := []byte("hmac secret on the element")

	for _, level := range []shielded.Level{shielded.LevelNone, shielded.LevelEncryptAuthenticate} {
		t.Run(level.String(), func(t *testing.T) {
			f := newFixture(t, []sim.ElementOption{sim.WithObject(keyOID, secret)}, WithProtection(level))
			ctx := context.Background()
			require.NoError(t, f.dev.OpenApplication(ctx))

			data := make([]byte, 1500)
			for i := range data {
				data[i] = byte(i)
			}

			before := f.element.Commands()
			got, err := f.dev.HMAC(ctx, keyOID, data)
			require.NoError(t, err)
			assert.Greater(t, f.element.Commands()-before, 1, "1500 bytes need more than one frame")

			mac := hmac.New(sha256.New, secret)
			mac.Write(data)
			assert.Equal(t, mac.Sum(nil), got)
		})
	}
}

func TestHMACMissingKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.dev.OpenApplication(ctx))

	_, err := f.dev.HMAC(ctx, 0xF1DE, []byte("data"))
	var de *protocol.DeviceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, byte(protocol.ErrCodeInvalidOID), de.Code)
	assert.Equal(t, "encrypt START_FINAL", de.Operation)
}
