package i2c

import (
	"errors"
	"testing"

	"github.com/moffa90/go-trustm/pal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestSendWritesDataRegister(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: DefaultAddr, W: []byte{RegData, 0x00, 0x8C, 0x00, 0x00, 0x02, 0x00, 0x20}},
	}}
	p := New(bus, WithFrequency(0))

	require.NoError(t, p.Send([]byte{0x00, 0x8C, 0x00, 0x00, 0x02, 0x00, 0x20}))
	assert.NoError(t, bus.Close())
}

func TestReceive(t *testing.T) {
	t.Run("not ready", func(t *testing.T) {
		bus := &i2ctest.Playback{Ops: []i2ctest.IO{
			{Addr: DefaultAddr, W: []byte{RegState}, R: []byte{StateBusy, 0x00, 0x00, 0x00}},
		}}
		p := New(bus, WithFrequency(0))

		_, err := p.Receive(make([]byte, 16))
		assert.ErrorIs(t, err, pal.ErrNotReady)
		assert.NoError(t, bus.Close())
	})

	t.Run("ready", func(t *testing.T) {
		bus := &i2ctest.Playback{Ops: []i2ctest.IO{
			{Addr: DefaultAddr, W: []byte{RegState}, R: []byte{StateRespReady, 0x00, 0x00, 0x05}},
			{Addr: DefaultAddr, W: []byte{RegData}, R: []byte{0x00, 0x00, 0x00, 0x00, 0x00}},
		}}
		p := New(bus, WithFrequency(0))

		buf := make([]byte, 16)
		n, err := p.Receive(buf)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.NoError(t, bus.Close())
	})

	t.Run("oversized", func(t *testing.T) {
		bus := &i2ctest.Playback{Ops: []i2ctest.IO{
			{Addr: DefaultAddr, W: []byte{RegState}, R: []byte{StateRespReady, 0x00, 0x01, 0x00}},
		}}
		p := New(bus, WithFrequency(0))

		_, err := p.Receive(make([]byte, 16))
		assert.ErrorContains(t, err, "exceeds buffer")
	})
}

func TestResetSoft(t *testing.T) {
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: 0x31, W: []byte{RegSoftReset, 0x00, 0x00}},
	}}
	p := New(bus, WithAddr(0x31), WithFrequency(0), WithStartup(0))

	require.NoError(t, p.Reset())
	assert.NoError(t, bus.Close())
}

func TestResetAndPowerLines(t *testing.T) {
	bus := &i2ctest.Playback{}
	rst := &gpiotest.Pin{N: "RST"}
	pwr := &gpiotest.Pin{N: "PWR"}
	p := New(bus, WithFrequency(0), WithStartup(0), WithResetPin(rst), WithPowerPin(pwr))

	require.NoError(t, p.Reset())
	assert.Equal(t, gpio.High, rst.Read(), "reset released after the pulse")

	require.NoError(t, p.Power(true))
	assert.Equal(t, gpio.High, pwr.Read())
	require.NoError(t, p.Power(false))
	assert.Equal(t, gpio.Low, pwr.Read())
}

func TestPowerWithoutLine(t *testing.T) {
	p := New(&i2ctest.Playback{}, WithFrequency(0))
	assert.True(t, errors.Is(p.Power(true), ErrNoPin))
}
