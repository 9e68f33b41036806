package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-trustm/shielded"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportSim, cfg.Transport)
	assert.Equal(t, shielded.LevelNone, cfg.Protection())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "trustm.toml", `
transport = "i2c"

[i2c]
bus = "1"
address = 0x30
reset_pin = "GPIO17"

[scheduler]
timeout = "250ms"
retries = 5

[shielded]
enabled = true
protection = "encrypt"
secret_file = "/etc/trustm/secret.hex"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportI2C, cfg.Transport)
	assert.Equal(t, "1", cfg.I2C.Bus)
	assert.Equal(t, uint16(0x30), cfg.I2C.Address)
	assert.Equal(t, "GPIO17", cfg.I2C.ResetPin)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.Timeout)
	assert.Equal(t, 5, cfg.Scheduler.Retries)
	assert.Equal(t, 10*time.Millisecond, cfg.Scheduler.RetryInterval, "unset keys keep defaults")
	assert.Equal(t, shielded.LevelEncrypt, cfg.Protection())
	assert.Equal(t, shielded.DefaultProvider, cfg.Shielded.Provider)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "trustm.yaml", `
transport: uart
uart:
  path: /dev/ttyUSB0
  baud_rate: 57600
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, TransportUART, cfg.Transport)
	assert.Equal(t, "/dev/ttyUSB0", cfg.UART.Path)
	assert.Equal(t, 57600, cfg.UART.BaudRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		errMsg  string
	}{
		{"bad extension", "trustm.ini", "transport = sim", "unsupported config file extension"},
		{"bad toml", "trustm.toml", "transport = ", "failed to parse"},
		{"unknown transport", "trustm.yaml", "transport: spi", "unknown transport"},
		{"uart without path", "trustm.yaml", "transport: uart", "uart path is required"},
		{"i2c address", "trustm.toml", "transport = \"i2c\"\n[i2c]\naddress = 0x90", "out of range"},
		{"negative retries", "trustm.yaml", "scheduler:\n  retries: -1", "cannot be negative"},
		{"unknown provider", "trustm.yaml", "shielded:\n  enabled: true\n  provider: rot13", "rot13"},
		{"missing secret", "trustm.yaml", "transport: uart\nuart:\n  path: /dev/ttyS0\nshielded:\n  enabled: true", "secret_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestParseProtection(t *testing.T) {
	tests := []struct {
		in      string
		want    shielded.Level
		wantErr bool
	}{
		{"none", shielded.LevelNone, false},
		{"", shielded.LevelNone, false},
		{"Encrypt", shielded.LevelEncrypt, false},
		{"encrypt-authenticate", shielded.LevelEncryptAuthenticate, false},
		{"full", shielded.LevelEncryptAuthenticate, false},
		{"sign", shielded.LevelNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProtection(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadSecret(t *testing.T) {
	raw := strings.Repeat("0A", shielded.PreSharedSecretSize)
	path := writeFile(t, "secret.hex", raw[:64]+"\n"+raw[64:]+"\n")

	secret, err := ReadSecret(path)
	require.NoError(t, err)
	assert.Len(t, secret, shielded.PreSharedSecretSize)
	assert.Equal(t, byte(0x0A), secret[0])

	_, err = ReadSecret(writeFile(t, "short.hex", "0A0B"))
	assert.ErrorContains(t, err, "expected 64")

	_, err = ReadSecret(writeFile(t, "bad.hex", "zz"))
	assert.ErrorContains(t, err, "not hex")
}
