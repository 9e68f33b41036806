package scheduler

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moffa90/go-trustm/internal/metrics"
	"github.com/moffa90/go-trustm/pal/uart"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/sim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wait(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err, "command did not complete")
	return res
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func echoRequest(payload []byte) Request {
	return Request{Opcode: 0x8C, Param: 0x00, Payload: payload}
}

func TestEchoEndToEnd(t *testing.T) {
	port := sim.NewEchoPort(sim.WithDelay(10 * time.Millisecond))
	s := New(port)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	got := make(chan Result, 1)

	h, err := s.Submit(echoRequest(payload), func(r Result) { got <- r })
	require.NoError(t, err)
	assert.Equal(t, StateBusy, s.State())

	res := wait(t, h)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, payload, res.Payload)
	assert.GreaterOrEqual(t, res.Elapsed, 9*time.Millisecond)
	assert.Equal(t, StateIdle, s.State())

	select {
	case cbRes := <-got:
		assert.Equal(t, res, cbRes)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestEchoWithFrameCheck(t *testing.T) {
	codec := protocol.NewCodec(protocol.WithFrameCheck(true))
	port := sim.NewEchoPort(sim.WithCodec(codec))
	s := New(port, WithCodec(codec))

	h, err := s.Submit(echoRequest([]byte{1, 2, 3}), nil)
	require.NoError(t, err)
	res := wait(t, h)
	assert.Equal(t, []byte{1, 2, 3}, res.Payload)
}

func TestSubmitWhileBusy(t *testing.T) {
	port := sim.NewEchoPort(sim.WithDelay(50 * time.Millisecond))
	s := New(port)

	first := []byte{0x01, 0x02, 0x03, 0x04}
	h, err := s.Submit(echoRequest(first), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h2, err := s.Submit(echoRequest([]byte{0xFF}), nil)
		assert.ErrorIs(t, err, ErrBusy)
		assert.Nil(t, h2)
		assert.Equal(t, StatusBusy, StatusOf(err))
	}
	assert.Equal(t, StateBusy, s.State())
	assert.Equal(t, 1, port.Sent(), "rejected submits must not reach the port")

	res := wait(t, h)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, first, res.Payload, "in-flight command was not disturbed")
}

func TestCancel(t *testing.T) {
	port := sim.NewEchoPort(sim.WithDelay(time.Hour))
	s := New(port)

	var cbRes Result
	called := make(chan struct{})
	h, err := s.Submit(echoRequest([]byte{1}), func(r Result) {
		cbRes = r
		close(called)
	})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(h))
	<-called
	assert.Equal(t, StatusCancelled, cbRes.Status)
	assert.ErrorIs(t, cbRes.Err, ErrCancelled)
	assert.Equal(t, StateIdle, s.State())

	res, ok := h.Result()
	assert.True(t, ok)
	assert.Equal(t, StatusCancelled, res.Status)

	assert.ErrorIs(t, s.Cancel(h), ErrNotBusy)
	assert.ErrorIs(t, s.Cancel(nil), ErrNotBusy)
}

func TestCancelOtherHandle(t *testing.T) {
	port := sim.NewEchoPort(sim.WithDelay(20 * time.Millisecond))
	s := New(port)

	old, err := s.Submit(echoRequest([]byte{1}), nil)
	require.NoError(t, err)
	wait(t, old)

	h, err := s.Submit(echoRequest([]byte{2}), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Cancel(old), ErrNotBusy)

	res := wait(t, h)
	assert.Equal(t, []byte{2}, res.Payload)
}

func TestTimeoutThenUnresponsive(t *testing.T) {
	port := sim.NewEchoPort()
	port.SetSilent(true)
	s := New(port, WithTimeout(20*time.Millisecond), WithRetries(2))

	h, err := s.Submit(echoRequest([]byte{1}), nil)
	require.NoError(t, err)
	res := wait(t, h)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.GreaterOrEqual(t, res.Elapsed, 20*time.Millisecond)
	assert.Equal(t, StateIdle, s.State())

	h, err = s.Submit(echoRequest([]byte{2}), nil)
	require.NoError(t, err)
	res = wait(t, h)
	assert.Equal(t, StatusDeviceUnresponsive, res.Status)

	_, err = s.Submit(echoRequest([]byte{3}), nil)
	assert.ErrorIs(t, err, ErrDeviceUnresponsive)

	require.NoError(t, s.Reinitialize(context.Background()))
	assert.Equal(t, 1, port.Resets())

	h, err = s.Submit(echoRequest([]byte{4}), nil)
	require.NoError(t, err)
	res = wait(t, h)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []byte{4}, res.Payload)
}

func TestSuccessResetsTimeoutCount(t *testing.T) {
	port := sim.NewEchoPort()
	s := New(port, WithTimeout(15*time.Millisecond), WithRetries(2))

	for i := 0; i < 3; i++ {
		port.SetSilent(true)
		h, err := s.Submit(echoRequest([]byte{1}), nil)
		require.NoError(t, err)
		assert.Equal(t, StatusTimeout, wait(t, h).Status, "round %d", i)

		port.SetSilent(false)
		h, err = s.Submit(echoRequest([]byte{2}), nil)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, wait(t, h).Status, "round %d", i)
	}
}

func TestReentrantSubmit(t *testing.T) {
	port := sim.NewEchoPort(sim.WithDelay(time.Millisecond))
	s := New(port)

	results := make(chan Result, 3)
	var next func(n byte) Callback
	next = func(n byte) Callback {
		return func(r Result) {
			results <- r
			if n < 3 {
				_, err := s.Submit(echoRequest([]byte{n + 1}), next(n+1))
				assert.NoError(t, err, "submit from callback")
			}
		}
	}

	_, err := s.Submit(echoRequest([]byte{1}), next(1))
	require.NoError(t, err)

	for want := byte(1); want <= 3; want++ {
		select {
		case r := <-results:
			assert.Equal(t, StatusSuccess, r.Status)
			assert.Equal(t, []byte{want}, r.Payload, "responses arrive in submission order")
		case <-time.After(2 * time.Second):
			t.Fatalf("chained command %d never completed", want)
		}
	}
}

func TestSendRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	port := sim.NewEchoPort()
	s := New(port, WithRetries(3), WithRetryInterval(time.Millisecond), WithMetrics(m))

	port.FailSends(2)
	h, err := s.Submit(echoRequest([]byte{7}), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, wait(t, h).Status)

	port.FailSends(10)
	_, err = s.Submit(echoRequest([]byte{8}), nil)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateIdle, s.State())

	// Two retries for the first command, the whole budget for the second.
	assert.Equal(t, float64(2+3), gatherValue(t, reg, "trustm_send_retries_total"))

	n, err := testutil.GatherAndCount(reg, "trustm_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the rejected submit never became a command")
}

func TestFramingErrorsAreSynchronous(t *testing.T) {
	port := sim.NewEchoPort()
	s := New(port)

	_, err := s.Submit(echoRequest(make([]byte, protocol.DefaultMaxFrameSize)), nil)
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	assert.Equal(t, StatusInvalidLength, StatusOf(err))
	assert.Equal(t, 0, port.Sent())
	assert.Equal(t, StateIdle, s.State())
}

func TestExpectedSize(t *testing.T) {
	s := New(sim.NewEchoPort())

	req := echoRequest([]byte{1, 2, 3, 4})
	req.ExpectedSize = 2
	h, err := s.Submit(req, nil)
	require.NoError(t, err)

	res := wait(t, h)
	assert.Equal(t, StatusInvalidLength, res.Status)
}

func TestNewPanicsOnNilPort(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want Status
	}{
		{nil, StatusSuccess},
		{ErrBusy, StatusBusy},
		{ErrCancelled, StatusCancelled},
		{ErrTimeout, StatusTimeout},
		{ErrDeviceUnresponsive, StatusDeviceUnresponsive},
		{protocol.ErrMalformedResponse, StatusInvalidLength},
		{protocol.ErrChecksumMismatch, StatusIntegrityFailure},
		{ErrTransport, StatusFailure},
		{errors.New("other"), StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

// queuedBridge is a serial bridge whose element answers every command with
// its own payload, after a delay, in the order the commands were written.
// Unlike sim.Port, replies queue up instead of replacing one another.
type queuedBridge struct {
	mu      sync.Mutex
	codec   *protocol.Codec
	delay   time.Duration
	delays  []time.Duration
	replies []queuedReply
}

type queuedReply struct {
	at    time.Time
	bytes []byte
}

func (b *queuedBridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := int(binary.BigEndian.Uint16(p))
	msg := p[2 : 2+n]
	cmd, err := b.codec.DecodeCommand(msg[1:])
	if err != nil {
		return 0, err
	}
	frame, err := b.codec.EncodeResponse(protocol.StatusSuccess, cmd.Payload)
	if err != nil {
		return 0, err
	}
	reply := append([]byte{protocol.PresentationPlain}, frame...)
	wire := binary.BigEndian.AppendUint16(nil, uint16(len(reply)))

	delay := b.delay
	if len(b.delays) > 0 {
		delay, b.delays = b.delays[0], b.delays[1:]
	}
	b.replies = append(b.replies, queuedReply{at: time.Now().Add(delay), bytes: append(wire, reply...)})
	return len(p), nil
}

func (b *queuedBridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.replies) == 0 || time.Now().Before(b.replies[0].at) {
		return 0, nil
	}
	n := copy(p, b.replies[0].bytes)
	b.replies[0].bytes = b.replies[0].bytes[n:]
	if len(b.replies[0].bytes) == 0 {
		b.replies = b.replies[1:]
	}
	return n, nil
}

func (b *queuedBridge) Close() error            { return nil }
func (b *queuedBridge) SetDTR(bool) error       { return nil }
func (b *queuedBridge) SetRTS(bool) error       { return nil }
func (b *queuedBridge) ResetInputBuffer() error { return nil }

func TestLateReplyNotDeliveredToNextCommand(t *testing.T) {
	t.Run("after cancel", func(t *testing.T) {
		bridge := &queuedBridge{codec: protocol.NewCodec(), delay: 30 * time.Millisecond}
		s := New(uart.New(bridge))

		h, err := s.Submit(echoRequest([]byte("AAAA")), nil)
		require.NoError(t, err)
		require.NoError(t, s.Cancel(h))

		for _, payload := range []string{"BBBB", "CCCC"} {
			h, err := s.Submit(echoRequest([]byte(payload)), nil)
			require.NoError(t, err)
			res := wait(t, h)
			require.Equal(t, StatusSuccess, res.Status, "%v", res.Err)
			assert.Equal(t, payload, string(res.Payload))
		}
	})

	t.Run("after timeout", func(t *testing.T) {
		bridge := &queuedBridge{
			codec:  protocol.NewCodec(),
			delay:  5 * time.Millisecond,
			delays: []time.Duration{60 * time.Millisecond},
		}
		s := New(uart.New(bridge), WithTimeout(40*time.Millisecond), WithRetries(3))

		h, err := s.Submit(echoRequest([]byte("AAAA")), nil)
		require.NoError(t, err)
		assert.Equal(t, StatusTimeout, wait(t, h).Status)

		for _, payload := range []string{"BBBB", "CCCC"} {
			h, err := s.Submit(echoRequest([]byte(payload)), nil)
			require.NoError(t, err)
			res := wait(t, h)
			require.Equal(t, StatusSuccess, res.Status, "%v", res.Err)
			assert.Equal(t, payload, string(res.Payload))
		}
	})
}

func TestLostReplyIsGivenUp(t *testing.T) {
	port := sim.NewEchoPort()
	port.SetSilent(true)
	s := New(port, WithTimeout(20*time.Millisecond), WithRetries(3))

	h, err := s.Submit(echoRequest([]byte{1}), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, wait(t, h).Status)

	port.SetSilent(false)
	start := time.Now()
	h, err = s.Submit(echoRequest([]byte{2}), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "submit waited for the owed reply")

	res := wait(t, h)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []byte{2}, res.Payload)
}
