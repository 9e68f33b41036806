// Package scheduler drives commands to a secure element one at a time.
//
// # Transaction States
//
//	IDLE --Submit--> BUSY --response, timeout or Cancel--> DONE --> IDLE
//
// Submit never blocks on the element: it encodes the request, protects it
// when the request asks for a protection level, writes it to the port and
// arms a one-shot poll timer. Each timer callback checks the port; when the
// response is there it is unprotected and decoded, the scheduler settles
// back to IDLE and only then the callback runs. A callback may therefore
// submit the next command of a chained operation directly.
//
// # Basic Usage
//
//	sched := scheduler.New(port, scheduler.WithTimeout(500*time.Millisecond))
//
//	h, err := sched.Submit(scheduler.Request{
//	    Opcode:  protocol.CmdGetRandom,
//	    Param:   protocol.ParamRandomTRNG,
//	    Payload: []byte{0x00, 0x20},
//	}, nil)
//	if err != nil {
//	    return err // ErrBusy, framing or transport error
//	}
//	res, err := h.Wait(ctx)
//
// # Shielded Commands
//
// With WithChannel, a request whose Protection is not LevelNone travels as
// a shielded record. The first such request runs the handshake inside the
// same transaction. Any integrity failure invalidates the session; later
// protected requests fail with shielded.ErrSessionInvalid until Establish
// is called or a request sets Reestablish.
//
//	[PCTR][BODY]    PCTR 0x00: plaintext APDU
//	                PCTR 0x08: handshake message or record
//
// # Failures
//
// A command with no response within the timeout completes with
// StatusTimeout. After Retries consecutive timeouts the result is
// StatusDeviceUnresponsive and Submit refuses work with
// ErrDeviceUnresponsive until Reinitialize resets the element. Failed
// writes are resent up to Retries times, paced by a rate limiter. Framing
// errors are never retried.
package scheduler
