// Package logging adapts zerolog to the small Logger interfaces the driver
// packages accept.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Environment variables that override DefaultConfig.
const (
	// EnvLogLevel names the minimum level: trace, debug, info, warn, error or off
	EnvLogLevel = "TRUSTM_LOG_LEVEL"

	// EnvLogFormat selects console or json output
	EnvLogFormat = "TRUSTM_LOG_FORMAT"

	// EnvLogTimestamp turns timestamps on or off (any strconv.ParseBool value)
	EnvLogTimestamp = "TRUSTM_LOG_TIMESTAMP"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Profile picks the baseline settings DefaultConfig starts from.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config selects level, format and destination.
type Config struct {
	Level     zerolog.Level
	Format    string
	Timestamp bool
	Output    io.Writer
}

// DefaultConfig returns the profile's settings with env overrides applied.
func DefaultConfig(profile Profile) Config {
	cfg := Config{Output: os.Stderr}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Format = FormatConsole
		cfg.Timestamp = false
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Format = FormatConsole
		cfg.Timestamp = true
	}
	applyEnvOverrides(&cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if format, ok := parseFormat(os.Getenv(EnvLogFormat)); ok {
		cfg.Format = format
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
}

// Logger implements the Debug/Info/Error interface of the scheduler,
// trustm and pal packages on top of a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger from cfg.
//
// Example:
//
//	logger := logging.New(logging.DefaultConfig(logging.ProfileRuntime))
//	sched := scheduler.New(port, scheduler.WithLogger(logger.With("component", "scheduler")))
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isTerminal(out)}
	}

	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return &Logger{zl: ctx.Logger()}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(fields(keysAndValues)).Logger()}
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Debug logs msg with the given key-value pairs at debug level.
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.zl.Debug().Fields(fields(keysAndValues)).Msg(msg)
}

// Info logs msg with the given key-value pairs at info level.
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.zl.Info().Fields(fields(keysAndValues)).Msg(msg)
}

// Error logs msg with the given key-value pairs at error level.
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.zl.Error().Fields(fields(keysAndValues)).Msg(msg)
}

// fields turns alternating keys and values into a field map. A dangling
// key is logged under "!BADKEY".
func fields(keysAndValues []interface{}) map[string]interface{} {
	if len(keysAndValues) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 == len(keysAndValues) {
			m["!BADKEY"] = key
			break
		}
		value := keysAndValues[i+1]
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		m[key] = value
	}
	return m
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseFormat(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FormatJSON:
		return FormatJSON, true
	case FormatConsole, "text":
		return FormatConsole, true
	default:
		return "", false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// isTerminal reports whether w is a terminal that can render colour.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
