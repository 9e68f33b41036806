// Package config loads the trustmctl configuration file. TOML and YAML are
// both accepted; the format follows the file extension.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-trustm/shielded"
)

// Transports.
const (
	TransportI2C  = "i2c"
	TransportUART = "uart"
	TransportSim  = "sim"
)

// Config is the complete tool configuration.
type Config struct {
	Transport string          `toml:"transport" yaml:"transport" mapstructure:"transport"`
	I2C       I2CConfig       `toml:"i2c" yaml:"i2c" mapstructure:"i2c"`
	UART      UARTConfig      `toml:"uart" yaml:"uart" mapstructure:"uart"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler" mapstructure:"scheduler"`
	Shielded  ShieldedConfig  `toml:"shielded" yaml:"shielded" mapstructure:"shielded"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// I2CConfig selects the bus and the optional control lines.
type I2CConfig struct {
	Bus       string `toml:"bus" yaml:"bus" mapstructure:"bus"`
	Address   uint16 `toml:"address" yaml:"address" mapstructure:"address"`
	ResetPin  string `toml:"reset_pin" yaml:"reset_pin" mapstructure:"reset_pin"`
	PowerPin  string `toml:"power_pin" yaml:"power_pin" mapstructure:"power_pin"`
	Frequency int64  `toml:"frequency_hz" yaml:"frequency_hz" mapstructure:"frequency_hz"`
}

type UARTConfig struct {
	Path     string `toml:"path" yaml:"path" mapstructure:"path"`
	BaudRate int    `toml:"baud_rate" yaml:"baud_rate" mapstructure:"baud_rate"`
}

// SchedulerConfig mirrors the scheduler options.
type SchedulerConfig struct {
	Timeout       time.Duration `toml:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Retries       int           `toml:"retries" yaml:"retries" mapstructure:"retries"`
	RetryInterval time.Duration `toml:"retry_interval" yaml:"retry_interval" mapstructure:"retry_interval"`
	FrameCheck    bool          `toml:"frame_check" yaml:"frame_check" mapstructure:"frame_check"`
}

// ShieldedConfig describes the protected channel. The pre-shared secret is
// read from SecretFile as hex.
type ShieldedConfig struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Provider     string `toml:"provider" yaml:"provider" mapstructure:"provider"`
	Protection   string `toml:"protection" yaml:"protection" mapstructure:"protection"`
	SecretFile   string `toml:"secret_file" yaml:"secret_file" mapstructure:"secret_file"`
	ContextStore string `toml:"context_store" yaml:"context_store" mapstructure:"context_store"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" mapstructure:"level"`
	Format string `toml:"format" yaml:"format" mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" yaml:"listen" mapstructure:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportSim,
		I2C: I2CConfig{
			Address:   0x30,
			Frequency: 400_000,
		},
		UART: UARTConfig{
			BaudRate: 115200,
		},
		Scheduler: SchedulerConfig{
			Timeout:       time.Second,
			Retries:       3,
			RetryInterval: 10 * time.Millisecond,
		},
		Shielded: ShieldedConfig{
			Provider:   shielded.DefaultProvider,
			Protection: "encrypt-authenticate",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// Load reads path on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	// #nosec G304 - path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportI2C:
		if c.I2C.Address == 0 || c.I2C.Address > 0x7F {
			return fmt.Errorf("i2c address 0x%X out of range", c.I2C.Address)
		}
	case TransportUART:
		if c.UART.Path == "" {
			return errors.New("uart path is required")
		}
		if c.UART.BaudRate <= 0 {
			return fmt.Errorf("invalid uart baud rate %d", c.UART.BaudRate)
		}
	case TransportSim:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	if c.Scheduler.Timeout <= 0 {
		return errors.New("scheduler timeout must be positive")
	}
	if c.Scheduler.Retries < 0 {
		return errors.New("scheduler retries cannot be negative")
	}

	if c.Shielded.Enabled {
		if _, err := shielded.LookupProvider(c.Shielded.Provider); err != nil {
			return err
		}
		if _, err := ParseProtection(c.Shielded.Protection); err != nil {
			return err
		}
		if c.Shielded.SecretFile == "" && c.Transport != TransportSim {
			return errors.New("shielded.secret_file is required")
		}
	}
	return nil
}

// Protection returns the configured protection level, LevelNone when the
// shielded channel is disabled.
func (c *Config) Protection() shielded.Level {
	if !c.Shielded.Enabled {
		return shielded.LevelNone
	}
	level, err := ParseProtection(c.Shielded.Protection)
	if err != nil {
		return shielded.LevelNone
	}
	return level
}

// ParseProtection maps a level name to a shielded.Level.
func ParseProtection(name string) (shielded.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return shielded.LevelNone, nil
	case "encrypt":
		return shielded.LevelEncrypt, nil
	case "encrypt-authenticate", "full":
		return shielded.LevelEncryptAuthenticate, nil
	default:
		return shielded.LevelNone, fmt.Errorf("unknown protection level %q", name)
	}
}

// ReadSecret reads a hex encoded pre-shared secret. Whitespace is ignored.
func ReadSecret(path string) ([]byte, error) {
	// #nosec G304 - path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}
	secret, err := hex.DecodeString(strings.Join(strings.Fields(string(data)), ""))
	if err != nil {
		return nil, fmt.Errorf("secret file is not hex: %w", err)
	}
	if len(secret) != shielded.PreSharedSecretSize {
		return nil, fmt.Errorf("secret is %d bytes, expected %d", len(secret), shielded.PreSharedSecretSize)
	}
	return secret, nil
}
