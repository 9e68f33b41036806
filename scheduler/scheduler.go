package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-trustm/pal"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
	"golang.org/x/time/rate"
)

// Scheduler serializes commands onto one secure element. Submit returns as
// soon as the command is on the wire; completion is detected by polling the
// port from timer callbacks and delivered to the command's callback and
// Handle.
//
// Scheduler is safe for concurrent use. It never queues: a Submit while a
// command is in flight fails with ErrBusy.
type Scheduler struct {
	port    pal.Port
	config  Config
	limiter *rate.Limiter
	buf     []byte

	state        State
	current      *transaction
	nextID       uint64
	timeouts     int
	unresponsive bool

	// owed counts responses still due for abandoned commands. They are
	// collected before the next command goes out.
	owed int
}

type phase int

const (
	phaseCommand phase = iota
	phaseHello
	phaseFinished
)

// transaction is the in-flight command. It belongs to the scheduler from
// start until settle.
type transaction struct {
	req           Request
	cb            Callback
	handle        *Handle
	apdu          []byte
	phase         phase
	shielded      bool
	handshakeOnly bool
	started       time.Time
	stopper       pal.Stopper
	receiveErrors int

	// restored holds the context blob this transaction resumed, if any
	restored []byte
}

// New creates a Scheduler driving port.
//
// Example:
//
//	sched := scheduler.New(port,
//	    scheduler.WithTimeout(500*time.Millisecond),
//	    scheduler.WithChannel(ch),
//	)
func New(port pal.Port, opts ...Option) *Scheduler {
	if port == nil {
		panic("port cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.NewCodec()
	}
	if cfg.Timer == nil {
		cfg.Timer = pal.StdTimer{}
	}
	if cfg.Lock == nil {
		cfg.Lock = pal.NewMutexLock()
	}

	// Presentation byte, record header and tag around the largest frame.
	bufSize := cfg.Codec.MaxFrameSize() + 1 + shielded.RecordHeaderSize + shielded.TagSize

	return &Scheduler{
		port:    port,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
		buf:     make([]byte, bufSize),
	}
}

// State returns the transaction state.
func (s *Scheduler) State() State {
	s.config.Lock.Acquire()
	defer s.config.Lock.Release()
	return s.state
}

// Channel returns the configured shielded channel, or nil.
func (s *Scheduler) Channel() *shielded.Channel {
	return s.config.Channel
}

// Codec returns the frame codec in use.
func (s *Scheduler) Codec() *protocol.Codec {
	return s.config.Codec
}

// Submit encodes req, protects it if asked to, writes it to the port and
// returns. cb (which may be nil) and the returned Handle receive the result.
//
// Submit fails synchronously, without touching the in-flight command, with
// ErrBusy while not IDLE, ErrDeviceUnresponsive after repeated timeouts, a
// framing error for an oversized payload, a session error when the
// requested protection cannot be served, or ErrTransport when the write
// still fails after the retry budget.
//
// After a cancelled or timed-out command, Submit first waits up to Timeout
// for that command's late response and discards it.
//
// A protected request on an unestablished channel runs the handshake
// first, as part of the same transaction. An invalidated channel is only
// re-established when req.Reestablish is set.
func (s *Scheduler) Submit(req Request, cb Callback) (*Handle, error) {
	s.config.Lock.Acquire()
	defer s.config.Lock.Release()

	if err := s.ready(); err != nil {
		return nil, err
	}

	tx, err := s.prepare(req, cb)
	if err != nil {
		return nil, err
	}
	if err := s.start(tx); err != nil {
		return nil, err
	}
	return tx.handle, nil
}

// Cancel abandons the in-flight command identified by h. The response, if
// the element still sends one, is discarded. The command's callback runs
// with StatusCancelled. Cancelling a protected command tears the session
// down because its counters can no longer be trusted to be in step.
func (s *Scheduler) Cancel(h *Handle) error {
	s.config.Lock.Acquire()

	tx := s.current
	if tx == nil || h == nil || tx.handle != h {
		s.config.Lock.Release()
		return ErrNotBusy
	}

	s.abandon(tx)
	res := Result{Status: StatusCancelled, Err: ErrCancelled}
	s.settle(tx, &res)
	s.config.Lock.Release()

	s.logDebug("command cancelled", "id", h.ID())
	s.deliver(tx, res)
	return nil
}

// Establish runs the shielded handshake and blocks until it completes or
// ctx is done. It re-establishes an invalidated session.
func (s *Scheduler) Establish(ctx context.Context) error {
	s.config.Lock.Acquire()
	if err := s.ready(); err != nil {
		s.config.Lock.Release()
		return err
	}
	if s.config.Channel == nil {
		s.config.Lock.Release()
		return ErrNoChannel
	}

	tx := &transaction{phase: phaseHello, shielded: true, handshakeOnly: true}
	err := s.start(tx)
	s.config.Lock.Release()
	if err != nil {
		return err
	}

	res, err := tx.handle.Wait(ctx)
	if err != nil {
		_ = s.Cancel(tx.handle)
		return err
	}
	return res.Err
}

// SessionSave captures the shielded session. The blob is also written to
// the configured SessionStore, if any.
func (s *Scheduler) SessionSave() ([]byte, error) {
	s.config.Lock.Acquire()
	defer s.config.Lock.Release()

	if s.state != StateIdle {
		return nil, ErrBusy
	}
	return s.saveContext()
}

// SessionRestore resumes a session captured by SessionSave. A nil blob is
// loaded from the configured SessionStore.
func (s *Scheduler) SessionRestore(blob []byte) error {
	s.config.Lock.Acquire()
	defer s.config.Lock.Release()

	if s.state != StateIdle {
		return ErrBusy
	}
	return s.restoreContext(blob)
}

// Reinitialize resets the element through the port and clears the
// unresponsive condition. Any in-flight command is cancelled and the
// shielded session, which the element loses on reset, is dropped.
func (s *Scheduler) Reinitialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.config.Lock.Acquire()

	tx := s.current
	var res Result
	if tx != nil {
		s.abandon(tx)
		res = Result{Status: StatusCancelled, Err: ErrCancelled}
		s.settle(tx, &res)
	}

	s.config.Lock.EnterCritical()
	err := s.port.Reset()
	s.config.Lock.ExitCritical()

	if err == nil {
		if ch := s.config.Channel; ch != nil {
			ch.Reset()
		}
		s.timeouts = 0
		s.unresponsive = false
		s.owed = 0
	}
	s.config.Lock.Release()

	if tx != nil {
		s.deliver(tx, res)
	}
	if err != nil {
		s.logError("reset failed", "error", err)
		return fmt.Errorf("%w: reset: %w", ErrTransport, err)
	}

	s.logInfo("element reinitialized")
	return nil
}

// ready must be called with the lock held.
func (s *Scheduler) ready() error {
	if s.unresponsive {
		return ErrDeviceUnresponsive
	}
	if s.state != StateIdle {
		return ErrBusy
	}
	return nil
}

// prepare validates req and builds its transaction. It does not touch the
// port. Must be called with the lock held.
func (s *Scheduler) prepare(req Request, cb Callback) (*transaction, error) {
	apdu, err := s.config.Codec.EncodeCommand(req.Opcode, req.Param, req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode command 0x%02X: %w", req.Opcode, err)
	}

	tx := &transaction{req: req, cb: cb, apdu: apdu, phase: phaseCommand}
	if req.Protection == shielded.LevelNone {
		return tx, nil
	}

	ch := s.config.Channel
	if ch == nil {
		return nil, ErrNoChannel
	}
	if err := ch.Require(req.Protection); err != nil {
		return nil, err
	}
	if req.Context == shielded.ContextRestore && s.config.Store == nil {
		return nil, ErrNoStore
	}
	tx.shielded = true
	return tx, nil
}

// resume restores the stored session when the request asks for it and
// picks the first phase of a protected command. Must be called with the
// lock held, after any owed response was collected.
func (s *Scheduler) resume(tx *transaction) error {
	ch := s.config.Channel
	req := tx.req
	if req.Context == shielded.ContextRestore {
		blob, err := s.config.Store.Load()
		if err != nil {
			return fmt.Errorf("load session context: %w", err)
		}
		if err := s.restoreContext(blob); err != nil {
			return err
		}
		tx.restored = blob
	}

	switch ch.State() {
	case shielded.StateEstablished:
		if req.Reestablish {
			tx.phase = phaseHello
		}
	case shielded.StateInvalid:
		if !req.Reestablish {
			return fmt.Errorf("%w: set Reestablish or call Establish", shielded.ErrSessionInvalid)
		}
		tx.phase = phaseHello
	default:
		tx.phase = phaseHello
	}
	return nil
}

// start puts the transaction's first message on the wire and arms the poll
// timer. Must be called with the lock held.
func (s *Scheduler) start(tx *transaction) error {
	if s.owed > 0 {
		s.collect()
	}

	ch := s.config.Channel
	if tx.shielded && !tx.handshakeOnly {
		if err := s.resume(tx); err != nil {
			return err
		}
	}

	var msg []byte
	switch {
	case tx.phase == phaseHello:
		hello, err := ch.Hello()
		if err != nil {
			return err
		}
		msg = shieldedMessage(hello)
	case tx.shielded:
		record, err := ch.Protect(tx.apdu)
		if err != nil {
			s.sessionEvent(EventInvalidated)
			return err
		}
		msg = shieldedMessage(record)
	default:
		msg = plainMessage(tx.apdu)
	}

	s.state = StateBusy
	if err := s.send(msg); err != nil {
		s.state = StateIdle
		if tx.shielded {
			switch {
			case tx.phase == phaseHello:
				// Nothing reached the element; the old session was already discarded.
				ch.Reset()
			case tx.restored != nil:
				// The record never left; keep the session as it was resumed.
				ch.Reset()
				if rerr := ch.Restore(tx.restored); rerr != nil {
					s.sessionEvent(EventInvalidated)
				}
			default:
				ch.Teardown()
				s.sessionEvent(EventInvalidated)
			}
		}
		s.logError("send failed", "opcode", fmt.Sprintf("0x%02X", tx.req.Opcode), "error", err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	s.nextID++
	tx.handle = newHandle(s.nextID)
	tx.started = time.Now()
	s.current = tx
	s.arm(tx)

	s.logDebug("command submitted",
		"id", tx.handle.ID(),
		"opcode", fmt.Sprintf("0x%02X", tx.req.Opcode),
		"shielded", tx.shielded,
		"handshake", tx.phase == phaseHello,
	)
	return nil
}

// poll runs on the timer goroutine.
func (s *Scheduler) poll(tx *transaction) {
	s.config.Lock.Acquire()
	if s.current != tx {
		// Cancelled or reinitialized while the timer was pending.
		s.config.Lock.Release()
		return
	}

	res, done := s.step(tx)
	if !done {
		s.config.Lock.Release()
		return
	}

	s.settle(tx, &res)
	s.config.Lock.Release()
	s.deliver(tx, res)
}

// step checks the port once. It returns done=false when the transaction
// continues (not ready yet, or the next handshake message went out).
func (s *Scheduler) step(tx *transaction) (Result, bool) {
	s.config.Lock.EnterCritical()
	n, err := s.port.Receive(s.buf)
	s.config.Lock.ExitCritical()

	switch {
	case errors.Is(err, pal.ErrNotReady):
		if time.Since(tx.started) >= s.config.Timeout {
			return s.timedOut(tx), true
		}
		s.arm(tx)
		return Result{}, false
	case err != nil:
		tx.receiveErrors++
		if tx.receiveErrors > s.config.Retries {
			return s.fail(tx, fmt.Errorf("%w: receive: %w", ErrTransport, err)), true
		}
		s.logDebug("receive failed", "attempt", tx.receiveErrors, "error", err)
		s.arm(tx)
		return Result{}, false
	}

	msg := make([]byte, n)
	copy(msg, s.buf[:n])
	return s.advance(tx, msg)
}

// advance consumes one message from the element.
func (s *Scheduler) advance(tx *transaction, msg []byte) (Result, bool) {
	if len(msg) == 0 {
		return s.fail(tx, fmt.Errorf("%w: empty message", protocol.ErrMalformedResponse)), true
	}
	pctr, body := msg[0], msg[1:]
	ch := s.config.Channel

	if tx.shielded && pctr != protocol.PresentationShielded {
		// A plaintext answer to a protected exchange is a downgrade.
		ch.Teardown()
		return s.sessionFailed(tx, fmt.Errorf("%w: unprotected response (presentation 0x%02X)",
			shielded.ErrIntegrityFailure, pctr)), true
	}

	switch tx.phase {
	case phaseHello:
		finished, err := ch.HandleHello(body)
		if err != nil {
			return s.sessionFailed(tx, err), true
		}
		tx.phase = phaseFinished
		return s.continueWith(tx, shieldedMessage(finished))

	case phaseFinished:
		if err := ch.Complete(body); err != nil {
			return s.sessionFailed(tx, err), true
		}
		s.sessionEvent(EventEstablished)
		s.logInfo("shielded session established", "provider", ch.Provider().Name())
		if tx.handshakeOnly {
			return Result{Status: StatusSuccess}, true
		}

		tx.phase = phaseCommand
		record, err := ch.Protect(tx.apdu)
		if err != nil {
			return s.sessionFailed(tx, err), true
		}
		return s.continueWith(tx, shieldedMessage(record))
	}

	apdu := body
	if tx.shielded {
		plain, err := ch.Unprotect(body)
		if err != nil {
			return s.sessionFailed(tx, err), true
		}
		apdu = plain
	} else if pctr != protocol.PresentationPlain {
		return s.fail(tx, fmt.Errorf("%w: unexpected presentation 0x%02X", protocol.ErrMalformedResponse, pctr)), true
	}

	resp, err := s.config.Codec.DecodeResponse(apdu)
	if err != nil {
		return s.fail(tx, fmt.Errorf("decode response: %w", err)), true
	}

	res := Result{Status: StatusSuccess, Code: resp.Status, Payload: resp.Payload}
	if !resp.OK() {
		res.Status = StatusFailure
		res.Err = fmt.Errorf("%w: command 0x%02X status 0x%02X", ErrCommandFailed, tx.req.Opcode, resp.Status)
		return res, true
	}
	if tx.req.ExpectedSize > 0 && len(resp.Payload) > tx.req.ExpectedSize {
		res.Status = StatusInvalidLength
		res.Err = fmt.Errorf("%w: response is %d bytes, expected at most %d",
			protocol.ErrMalformedResponse, len(resp.Payload), tx.req.ExpectedSize)
		return res, true
	}

	if tx.shielded && tx.req.Context == shielded.ContextSave {
		if _, err := s.saveContext(); err != nil {
			s.logError("save session context failed", "error", err)
		}
	}
	return res, true
}

// continueWith sends the next handshake message and keeps polling.
func (s *Scheduler) continueWith(tx *transaction, msg []byte) (Result, bool) {
	if err := s.send(msg); err != nil {
		s.config.Channel.Teardown()
		s.sessionEvent(EventInvalidated)
		return s.fail(tx, fmt.Errorf("%w: %w", ErrTransport, err)), true
	}
	s.arm(tx)
	return Result{}, false
}

func (s *Scheduler) timedOut(tx *transaction) Result {
	s.timeouts++
	s.owed++
	if tx.shielded {
		s.config.Channel.Teardown()
		s.sessionEvent(EventInvalidated)
	}

	limit := s.config.Retries
	if limit < 1 {
		limit = 1
	}
	if s.timeouts >= limit {
		s.unresponsive = true
		s.logError("device unresponsive", "timeouts", s.timeouts)
		return Result{Status: StatusDeviceUnresponsive, Err: ErrDeviceUnresponsive}
	}

	s.logDebug("command timed out", "id", tx.handle.ID(), "timeouts", s.timeouts)
	return Result{Status: StatusTimeout, Err: fmt.Errorf("%w after %s", ErrTimeout, s.config.Timeout)}
}

func (s *Scheduler) fail(tx *transaction, err error) Result {
	s.logError("command failed", "opcode", fmt.Sprintf("0x%02X", tx.req.Opcode), "error", err)
	return Result{Status: StatusOf(err), Err: err}
}

func (s *Scheduler) sessionFailed(tx *transaction, err error) Result {
	s.sessionEvent(EventInvalidated)
	return s.fail(tx, err)
}

// abandon stops tx's timer and records that its response is still owed.
// Must be called with the lock held.
func (s *Scheduler) abandon(tx *transaction) {
	if tx.stopper != nil {
		tx.stopper.Stop()
	}
	s.owed++
	if tx.shielded {
		s.config.Channel.Teardown()
		s.sessionEvent(EventInvalidated)
	}
}

// settle moves the scheduler through DONE back to IDLE. The lock is held,
// so no caller observes DONE; the callback runs after the lock is released
// and may submit again.
func (s *Scheduler) settle(tx *transaction, res *Result) {
	s.state = StateDone
	s.current = nil
	res.Elapsed = time.Since(tx.started)

	switch res.Status {
	case StatusTimeout, StatusDeviceUnresponsive, StatusCancelled:
	default:
		s.timeouts = 0
	}

	if s.config.Metrics != nil {
		s.config.Metrics.CommandCompleted(tx.req.Opcode, res.Status.String(), res.Elapsed)
	}
	s.state = StateIdle
}

func (s *Scheduler) deliver(tx *transaction, res Result) {
	if tx.cb != nil {
		tx.cb(res)
	}
	tx.handle.resolve(res)
}

func (s *Scheduler) arm(tx *transaction) {
	tx.stopper = s.config.Timer.AfterFunc(s.config.PollInterval, func() {
		s.poll(tx)
	})
}

// send writes msg, resending up to Retries times at the limiter's pace.
func (s *Scheduler) send(msg []byte) error {
	var err error
	for attempt := 0; attempt <= s.config.Retries; attempt++ {
		if attempt > 0 {
			if s.config.Metrics != nil {
				s.config.Metrics.SendRetried()
			}
			if werr := s.limiter.Wait(context.Background()); werr != nil {
				break
			}
		}

		s.config.Lock.EnterCritical()
		err = s.port.Send(msg)
		s.config.Lock.ExitCritical()
		if err == nil {
			return nil
		}
		s.logDebug("send failed", "attempt", attempt+1, "error", err)
	}
	return err
}

// collect consumes the responses owed to abandoned commands, one message
// each, waiting up to Timeout for them. A transport that queues replies
// would otherwise hand them to the next command. Responses that never
// arrive are given up on.
func (s *Scheduler) collect() {
	deadline := time.Now().Add(s.config.Timeout)
	for s.owed > 0 {
		s.config.Lock.EnterCritical()
		n, err := s.port.Receive(s.buf)
		s.config.Lock.ExitCritical()

		switch {
		case err == nil:
			s.owed--
			s.logDebug("discarded stale response", "bytes", n)
			continue
		case !errors.Is(err, pal.ErrNotReady):
			s.logDebug("receive failed while discarding stale response", "error", err)
		}
		if !time.Now().Before(deadline) {
			s.logDebug("stale response never arrived", "owed", s.owed)
			s.owed = 0
			return
		}
		time.Sleep(s.config.PollInterval)
	}
}

func (s *Scheduler) saveContext() ([]byte, error) {
	ch := s.config.Channel
	if ch == nil {
		return nil, ErrNoChannel
	}
	blob, err := ch.Save()
	if err != nil {
		return nil, err
	}
	if s.config.Store != nil {
		if err := s.config.Store.Save(blob); err != nil {
			return nil, fmt.Errorf("store session context: %w", err)
		}
	}
	s.sessionEvent(EventSaved)
	return blob, nil
}

func (s *Scheduler) restoreContext(blob []byte) error {
	ch := s.config.Channel
	if ch == nil {
		return ErrNoChannel
	}
	if blob == nil {
		if s.config.Store == nil {
			return ErrNoStore
		}
		loaded, err := s.config.Store.Load()
		if err != nil {
			return fmt.Errorf("load session context: %w", err)
		}
		blob = loaded
	}
	if err := ch.Restore(blob); err != nil {
		return err
	}
	s.sessionEvent(EventRestored)
	return nil
}

func (s *Scheduler) sessionEvent(event string) {
	if s.config.Metrics != nil {
		s.config.Metrics.SessionEvent(event)
	}
}

func plainMessage(apdu []byte) []byte {
	return append([]byte{protocol.PresentationPlain}, apdu...)
}

func shieldedMessage(body []byte) []byte {
	return append([]byte{protocol.PresentationShielded}, body...)
}

// logDebug logs a debug message if a logger is configured.
func (s *Scheduler) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (s *Scheduler) logInfo(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (s *Scheduler) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, keysAndValues...)
	}
}
