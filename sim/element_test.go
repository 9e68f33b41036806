package sim

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/moffa90/go-trustm/chunk"
	"github.com/moffa90/go-trustm/pal"
	"github.com/moffa90/go-trustm/protocol"
	"github.com/moffa90/go-trustm/shielded"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	secret := make([]byte, shielded.PreSharedSecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}
	return secret
}

func newElement(t *testing.T, opts ...ElementOption) *Element {
	t.Helper()
	e, err := NewElement(testSecret(), opts...)
	require.NoError(t, err)
	return e
}

// exec sends cmd in plaintext and decodes the reply.
func exec(t *testing.T, e *Element, cmd protocol.Command) protocol.Response {
	t.Helper()
	codec := protocol.NewCodec()
	frame, err := codec.EncodeCommand(cmd.Opcode, cmd.Param, cmd.Payload)
	require.NoError(t, err)

	reply := e.Handle(append([]byte{protocol.PresentationPlain}, frame...))
	require.NotEmpty(t, reply)
	require.Equal(t, byte(protocol.PresentationPlain), reply[0])

	resp, err := codec.DecodeResponse(reply[1:])
	require.NoError(t, err)
	return resp
}

func openApp(t *testing.T, e *Element) {
	t.Helper()
	cmd, err := protocol.OpenApplication(nil)
	require.NoError(t, err)
	require.True(t, exec(t, e, cmd).OK())
}

func TestApplicationMustBeOpen(t *testing.T) {
	e := newElement(t)

	cmd, err := protocol.GetRandom(protocol.ParamRandomTRNG, 16)
	require.NoError(t, err)
	resp := exec(t, e, cmd)
	assert.False(t, resp.OK())
	assert.Equal(t, byte(protocol.ErrCodeApplicationNotOpen), e.LastError())

	// The last error stays readable with the application closed.
	resp = exec(t, e, protocol.GetLastError())
	require.True(t, resp.OK())
	code, err := protocol.ParseLastError(resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, byte(protocol.ErrCodeApplicationNotOpen), code)

	openApp(t, e)
	assert.True(t, e.Open())
	resp = exec(t, e, cmd)
	require.True(t, resp.OK())
	assert.Len(t, resp.Payload, 16)
	assert.Equal(t, byte(protocol.ErrCodeNone), e.LastError(), "clear bit resets the last error")
}

func TestHibernateAndRestore(t *testing.T) {
	e := newElement(t)
	openApp(t, e)

	resp := exec(t, e, protocol.CloseApplication(true))
	require.True(t, resp.OK())
	handle, err := protocol.ParseContextHandle(resp.Payload)
	require.NoError(t, err)
	assert.False(t, e.Open())

	wrong := append([]byte(nil), handle...)
	wrong[7] ^= 0xFF
	cmd, err := protocol.OpenApplication(wrong)
	require.NoError(t, err)
	assert.False(t, exec(t, e, cmd).OK())

	cmd, err = protocol.OpenApplication(handle)
	require.NoError(t, err)
	assert.True(t, exec(t, e, cmd).OK())
	assert.True(t, e.Open())

	// A handle restores once.
	exec(t, e, protocol.CloseApplication(false))
	assert.False(t, exec(t, e, cmd).OK())
}

func TestDataObjects(t *testing.T) {
	e := newElement(t, WithObjectSize(64))
	openApp(t, e)

	oid := uint16(protocol.OIDArbitraryData)
	require.True(t, exec(t, e, protocol.SetDataObject(oid, protocol.ParamEraseAndWrite, 0, []byte("hello"))).OK())
	require.True(t, exec(t, e, protocol.SetDataObject(oid, protocol.ParamWrite, 5, []byte(" world"))).OK())

	obj, ok := e.Object(oid)
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), obj)

	resp := exec(t, e, protocol.GetDataObject(oid, 6, 100))
	require.True(t, resp.OK())
	assert.Equal(t, []byte("world"), resp.Payload)

	resp = exec(t, e, protocol.GetDataObject(oid, 11, 10))
	assert.False(t, resp.OK())
	assert.Equal(t, byte(protocol.ErrCodeDataObjectBoundary), e.LastError())

	resp = exec(t, e, protocol.SetDataObject(oid, protocol.ParamWrite, 60, make([]byte, 8)))
	assert.False(t, resp.OK())

	resp = exec(t, e, protocol.GetDataObject(protocol.OIDPlatformBindingSecret, 0, 64))
	assert.False(t, resp.OK())
	assert.Equal(t, byte(protocol.ErrCodeAccessConditions), e.LastError())
}

func TestChunkedHash(t *testing.T) {
	e := newElement(t)
	openApp(t, e)

	data := make([]byte, 700)
	for i := range data {
		data[i] = byte(i * 3)
	}

	plan, err := chunk.Begin(len(data), 256, chunk.WithPayload(data), chunk.WithIntermediate())
	require.NoError(t, err)

	var digest []byte
	for !plan.Done() {
		frame, err := plan.Next()
		require.NoError(t, err)

		fields := []protocol.TLV{{Tag: byte(frame.Tag), Value: frame.Data}}
		if frame.Intermediate != nil {
			fields = append(fields, protocol.TLV{Tag: byte(chunk.TagIntermediate), Value: frame.Intermediate})
		}
		if !frame.Last {
			fields = append(fields, protocol.TLV{Tag: byte(chunk.TagContextOut)})
		}

		resp := exec(t, e, protocol.CalcHash(protocol.HashSHA256, fields...))
		require.True(t, resp.OK(), "frame %s", frame.Tag)

		out, err := protocol.ParseTLVs(resp.Payload)
		require.NoError(t, err)
		require.Len(t, out, 1)
		if frame.Last {
			digest = out[0].Value
		} else {
			require.NoError(t, plan.AcceptIntermediate(out[0].Value))
		}
	}

	want := sha256.Sum256(data)
	assert.Equal(t, want[:], digest)
}

func TestHashOutOfOrder(t *testing.T) {
	e := newElement(t)
	openApp(t, e)

	resp := exec(t, e, protocol.CalcHash(protocol.HashSHA256,
		protocol.TLV{Tag: byte(chunk.TagContinue), Value: []byte("x")},
		protocol.TLV{Tag: byte(chunk.TagIntermediate), Value: []byte{1}},
	))
	assert.False(t, resp.OK())
	assert.Equal(t, byte(protocol.ErrCodeCommandOutOfSequence), e.LastError())
}

func TestShieldedExchange(t *testing.T) {
	e := newElement(t)
	openApp(t, e)

	host, err := shielded.NewChannel(testSecret())
	require.NoError(t, err)

	send := func(body []byte) []byte {
		reply := e.Handle(append([]byte{protocol.PresentationShielded}, body...))
		require.Equal(t, byte(protocol.PresentationShielded), reply[0])
		return reply[1:]
	}

	hello, err := host.Hello()
	require.NoError(t, err)
	finished, err := host.HandleHello(send(hello))
	require.NoError(t, err)
	require.NoError(t, host.Complete(send(finished)))
	require.Equal(t, shielded.StateEstablished, e.Channel().State())

	cmd, err := protocol.GetRandom(protocol.ParamRandomDRNG, 8)
	require.NoError(t, err)
	frame, err := protocol.NewCodec().EncodeCommand(cmd.Opcode, cmd.Param, cmd.Payload)
	require.NoError(t, err)

	record, err := host.Protect(frame)
	require.NoError(t, err)
	apdu, err := host.Unprotect(send(record))
	require.NoError(t, err)

	resp, err := protocol.NewCodec().DecodeResponse(apdu)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Len(t, resp.Payload, 8)

	// A replayed record draws an alert.
	reply := send(record)
	assert.Equal(t, byte(shielded.SCTRAlert), reply[0])
}

func TestResetLosesSession(t *testing.T) {
	e := newElement(t, WithObject(protocol.OIDArbitraryData, []byte{1, 2, 3}))
	openApp(t, e)
	e.Reset()

	assert.False(t, e.Open())
	assert.Equal(t, shielded.StateUnestablished, e.Channel().State())
	obj, ok := e.Object(protocol.OIDArbitraryData)
	assert.True(t, ok, "data objects survive a reset")
	assert.Equal(t, []byte{1, 2, 3}, obj)
}

func TestPortDelayAndFaults(t *testing.T) {
	p := NewEchoPort(WithDelay(20 * time.Millisecond))

	frame, err := protocol.NewCodec().EncodeCommand(0x01, 0x00, []byte{0xAB})
	require.NoError(t, err)
	require.NoError(t, p.Send(append([]byte{protocol.PresentationPlain}, frame...)))

	buf := make([]byte, 64)
	_, err = p.Receive(buf)
	assert.ErrorIs(t, err, pal.ErrNotReady)

	require.Eventually(t, func() bool {
		n, err := p.Receive(buf)
		if err != nil {
			return false
		}
		resp, err := protocol.NewCodec().DecodeResponse(buf[1:n])
		return err == nil && resp.OK() && resp.Payload[0] == 0xAB
	}, time.Second, 5*time.Millisecond)

	p.FailSends(1)
	assert.Error(t, p.Send([]byte{0x00}))
	assert.Equal(t, 1, p.Sent())

	require.NoError(t, p.Power(false))
	assert.ErrorIs(t, p.Send([]byte{0x00}), ErrPoweredOff)
	require.NoError(t, p.Power(true))
}

func TestGetRandomBounds(t *testing.T) {
	e := newElement(t)
	openApp(t, e)

	payload := binary.BigEndian.AppendUint16(nil, 4)
	resp := exec(t, e, protocol.Command{Opcode: protocol.CmdGetRandom, Param: protocol.ParamRandomTRNG, Payload: payload})
	assert.False(t, resp.OK())
	assert.Equal(t, byte(protocol.ErrCodeInvalidParamInData), e.LastError())
}
