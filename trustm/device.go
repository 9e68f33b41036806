package trustm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/scheduler"
)

// Device runs blocking, high-level operations on a secure element through a
// Scheduler. Multi-frame operations hold the device for their whole
// duration, so frames of two operations never interleave.
//
// Device is safe for concurrent use after initialization.
type Device struct {
	mu     sync.Mutex
	sched  *scheduler.Scheduler
	config Config
}

// New creates a Device on top of sched.
//
// Example:
//
//	sched := scheduler.New(port, scheduler.WithChannel(ch))
//	dev := trustm.New(sched,
//	    trustm.WithProtection(shielded.LevelEncryptAuthenticate),
//	    trustm.WithLogger(logger),
//	)
func New(sched *scheduler.Scheduler, opts ...Option) *Device {
	if sched == nil {
		panic("scheduler cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HandleStore == nil {
		cfg.HandleStore = &scheduler.MemoryStore{}
	}

	return &Device{
		sched:  sched,
		config: cfg,
	}
}

// Scheduler returns the scheduler the device submits to.
func (d *Device) Scheduler() *scheduler.Scheduler {
	return d.sched
}

// Establish runs the shielded handshake, replacing an invalidated session.
func (d *Device) Establish(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.sched.Establish(ctx); err != nil {
		return fmt.Errorf("establish shielded session: %w", err)
	}
	d.logInfo("shielded session ready")
	return nil
}

// Execute submits one command with the device's protection and waits for
// its response payload. A command the element rejects is reported as a
// *protocol.DeviceError carrying the last error code.
func (d *Device) Execute(ctx context.Context, cmd protocol.Command) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.execute(ctx, fmt.Sprintf("command 0x%02X", cmd.Opcode), cmd)
}

// OpenApplication opens a fresh application context.
func (d *Device) OpenApplication(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd, err := protocol.OpenApplication(nil)
	if err != nil {
		return err
	}
	if _, err := d.execute(ctx, "open application", cmd); err != nil {
		return err
	}
	d.logDebug("application opened")
	return nil
}

// RestoreApplication reopens the application context saved by a
// hibernating CloseApplication.
func (d *Device) RestoreApplication(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	handle, err := d.config.HandleStore.Load()
	if errors.Is(err, scheduler.ErrNoContext) {
		return ErrNoHandle
	}
	if err != nil {
		return fmt.Errorf("load hibernation handle: %w", err)
	}

	cmd, err := protocol.OpenApplication(handle)
	if err != nil {
		return err
	}
	if _, err := d.execute(ctx, "restore application", cmd); err != nil {
		return err
	}
	d.logDebug("application restored")
	return nil
}

// CloseApplication closes the application. With hibernate set, the element
// saves the application context and the returned handle is kept in the
// handle store for RestoreApplication.
func (d *Device) CloseApplication(ctx context.Context, hibernate bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	out, err := d.execute(ctx, "close application", protocol.CloseApplication(hibernate))
	if err != nil {
		return err
	}
	if !hibernate {
		return nil
	}

	handle, err := protocol.ParseContextHandle(out)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	if err := d.config.HandleStore.Save(handle); err != nil {
		return fmt.Errorf("save hibernation handle: %w", err)
	}
	d.logDebug("application hibernated")
	return nil
}

// GetRandom draws n random bytes (8 to 256) from source, which is
// protocol.ParamRandomTRNG or protocol.ParamRandomDRNG.
func (d *Device) GetRandom(ctx context.Context, source byte, n int) ([]byte, error) {
	cmd, err := protocol.GetRandom(source, n)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out, err := d.execute(ctx, "get random", cmd)
	if err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: asked for %d random bytes, got %d", ErrUnexpectedResponse, n, len(out))
	}
	return out, nil
}

// LastError reads the element's last error code without clearing it.
func (d *Device) LastError(ctx context.Context) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError(ctx)
}

// execute must be called with mu held.
func (d *Device) execute(ctx context.Context, op string, cmd protocol.Command) ([]byte, error) {
	res, err := d.submit(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.OK() {
		return res.Payload, nil
	}

	if res.Status == scheduler.StatusFailure && res.Code == protocol.StatusFailure && d.config.FetchLastError {
		code, lerr := d.lastError(ctx)
		if lerr != nil {
			d.logError("read last error failed", "operation", op, "error", lerr)
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		d.logDebug("command rejected", "operation", op, "code", fmt.Sprintf("0x%02X", code))
		return nil, &protocol.DeviceError{Operation: op, Code: code}
	}
	return nil, fmt.Errorf("%s: %w", op, res.Err)
}

// submit runs one request to completion. Cancelling ctx cancels the
// in-flight command.
func (d *Device) submit(ctx context.Context, cmd protocol.Command) (scheduler.Result, error) {
	if err := ctx.Err(); err != nil {
		return scheduler.Result{}, err
	}

	req := scheduler.CommandRequest(cmd)
	req.Protection = d.config.Protection

	h, err := d.sched.Submit(req, nil)
	if err != nil {
		return scheduler.Result{}, err
	}

	res, err := h.Wait(ctx)
	if err != nil {
		_ = d.sched.Cancel(h)
		return scheduler.Result{}, err
	}
	return res, nil
}

func (d *Device) lastError(ctx context.Context) (byte, error) {
	res, err := d.submit(ctx, protocol.GetLastError())
	if err != nil {
		return 0, err
	}
	if !res.OK() {
		return 0, fmt.Errorf("read last error: %w", res.Err)
	}
	return protocol.ParseLastError(res.Payload)
}

// reportProgress calls the progress callback if configured.
func (d *Device) reportProgress(progress Progress) {
	if d.config.ProgressCallback != nil {
		d.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (d *Device) logDebug(msg string, keysAndValues ...interface{}) {
	if d.config.Logger != nil {
		d.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (d *Device) logInfo(msg string, keysAndValues ...interface{}) {
	if d.config.Logger != nil {
		d.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (d *Device) logError(msg string, keysAndValues ...interface{}) {
	if d.config.Logger != nil {
		d.config.Logger.Error(msg, keysAndValues...)
	}
}
