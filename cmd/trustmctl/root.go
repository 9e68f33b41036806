package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"periph.io/x/conn/v3/physic"

	"github.com/moffa90/go-trustm/internal/config"
	"github.com/moffa90/go-trustm/internal/logging"
	"github.com/moffa90/go-trustm/internal/metrics"
	"github.com/moffa90/go-trustm/pal"
	"github.com/moffa90/go-trustm/pal/i2c"
	"github.com/moffa90/go-trustm/pal/uart"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/scheduler"
	"github.com/moffa90/go-trustm/shielded"
	"github.com/moffa90/go-trustm/sim"
	"github.com/moffa90/go-trustm/trustm"
)

// envPrefix prefixes every environment override, e.g. TRUSTM_TRANSPORT or
// TRUSTM_SCHEDULER_TIMEOUT.
const envPrefix = "TRUSTM"

// app is the state shared by all subcommands, built in PersistentPreRunE.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	port     pal.Port
	element  *sim.Element
	sched    *scheduler.Scheduler
	dev      *trustm.Device
	server   *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "trustmctl",
		Short:         "Drive a secure element: random, data objects, hashing, provisioning",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (.toml, .yaml)")
	flags.String("transport", "", "transport: i2c, uart, sim")
	flags.String("i2c-bus", "", "I2C bus name")
	flags.String("uart-path", "", "serial device path")
	flags.Duration("timeout", 0, "command timeout")
	flags.Int("retries", -1, "send retries")
	flags.Bool("shielded", false, "protect commands with the shielded channel")
	flags.String("secret-file", "", "hex file holding the pre-shared secret")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address")

	bindings := map[string]string{
		"transport":            "transport",
		"i2c.bus":              "i2c-bus",
		"uart.path":            "uart-path",
		"scheduler.timeout":    "timeout",
		"scheduler.retries":    "retries",
		"shielded.enabled":     "shielded",
		"shielded.secret_file": "secret-file",
		"logging.level":        "log-level",
		"metrics.listen":       "metrics-listen",
	}
	for key, flag := range bindings {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newRandomCmd(a),
		newReadCmd(a),
		newWriteCmd(a),
		newHashCmd(a),
		newLastErrorCmd(a),
		newProvisionCmd(a),
		newEstablishCmd(a),
		newSessionCmd(a),
		newResetCmd(a),
		newInspectCmd(),
	)
	return root
}

// setup loads the configuration and opens the device.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.cfgFile != "" {
		loaded, err := config.Load(a.cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := a.override(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(cfg.Logging.Level); ok {
		logCfg.Level = lvl
	}
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}
	logCfg.Output = cmd.ErrOrStderr()
	a.logger = logging.New(logCfg)

	a.registry = prometheus.NewRegistry()
	collector, err := metrics.New(a.registry)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := a.serveMetrics(cfg.Metrics.Listen); err != nil {
			return err
		}
	}

	port, err := a.openPort(cfg)
	if err != nil {
		return err
	}
	a.port = port

	codec := protocol.NewCodec(protocol.WithFrameCheck(cfg.Scheduler.FrameCheck))
	opts := []scheduler.Option{
		scheduler.WithLogger(a.logger.With("component", "scheduler")),
		scheduler.WithMetrics(collector),
		scheduler.WithTimeout(cfg.Scheduler.Timeout),
		scheduler.WithRetries(cfg.Scheduler.Retries),
		scheduler.WithRetryInterval(cfg.Scheduler.RetryInterval),
		scheduler.WithCodec(codec),
	}
	if cfg.Shielded.Enabled {
		ch, err := a.openChannel(cfg)
		if err != nil {
			return err
		}
		opts = append(opts, scheduler.WithChannel(ch))
		if cfg.Shielded.ContextStore != "" {
			opts = append(opts, scheduler.WithStore(scheduler.FileStore{Path: cfg.Shielded.ContextStore}))
		}
	}
	a.sched = scheduler.New(port, opts...)

	a.dev = trustm.New(a.sched,
		trustm.WithLogger(a.logger.With("component", "device")),
		trustm.WithProtection(cfg.Protection()),
	)
	return nil
}

// override applies flags and TRUSTM_* variables on top of the file.
func (a *app) override(cfg *config.Config) error {
	v := a.v
	if s := v.GetString("transport"); s != "" {
		cfg.Transport = s
	}
	if s := v.GetString("i2c.bus"); s != "" {
		cfg.I2C.Bus = s
	}
	if s := v.GetString("uart.path"); s != "" {
		cfg.UART.Path = s
	}
	if d := v.GetDuration("scheduler.timeout"); d > 0 {
		cfg.Scheduler.Timeout = d
	}
	if v.IsSet("scheduler.retries") {
		if n := v.GetInt("scheduler.retries"); n >= 0 {
			cfg.Scheduler.Retries = n
		}
	}
	if v.GetBool("shielded.enabled") {
		cfg.Shielded.Enabled = true
	}
	if s := v.GetString("shielded.secret_file"); s != "" {
		cfg.Shielded.SecretFile = s
	}
	if s := v.GetString("logging.level"); s != "" {
		cfg.Logging.Level = s
	}
	if s := v.GetString("metrics.listen"); s != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = s
	}
	return nil
}

func (a *app) openPort(cfg *config.Config) (pal.Port, error) {
	switch cfg.Transport {
	case config.TransportI2C:
		return i2c.Open(cfg.I2C.Bus, cfg.I2C.ResetPin, cfg.I2C.PowerPin,
			i2c.WithAddr(cfg.I2C.Address),
			i2c.WithFrequency(physic.Frequency(cfg.I2C.Frequency)*physic.Hertz),
		)
	case config.TransportUART:
		return uart.Open(cfg.UART.Path, uart.WithBaudRate(cfg.UART.BaudRate))
	case config.TransportSim:
		secret, err := a.secret(cfg)
		if err != nil {
			return nil, err
		}
		e, err := sim.NewElement(secret)
		if err != nil {
			return nil, err
		}
		a.element = e
		return sim.NewPort(e), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func (a *app) openChannel(cfg *config.Config) (*shielded.Channel, error) {
	provider, err := shielded.LookupProvider(cfg.Shielded.Provider)
	if err != nil {
		return nil, err
	}
	secret, err := a.secret(cfg)
	if err != nil {
		return nil, err
	}
	return shielded.NewChannel(secret, shielded.WithProvider(provider))
}

// secret reads the configured pre-shared secret. The simulator falls back
// to a fixed development secret.
func (a *app) secret(cfg *config.Config) ([]byte, error) {
	if cfg.Shielded.SecretFile != "" {
		return config.ReadSecret(cfg.Shielded.SecretFile)
	}
	if cfg.Transport != config.TransportSim {
		return nil, errors.New("no pre-shared secret configured")
	}
	secret := make([]byte, shielded.PreSharedSecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}
	return secret, nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) teardown() error {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	if c, ok := a.port.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// context returns the command's context bounded by the overall run time of
// one operation.
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}
