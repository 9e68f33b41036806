package pal

import "errors"

// ErrNotReady is returned by Port.Receive while no response is available.
// The caller is expected to poll again later.
var ErrNotReady = errors.New("pal: response not ready")

// Port is a byte transport to one secure element.
//
// Send and Receive carry whole messages: the transport's own framing (I2C
// length register, UART length prefix) is handled by the implementation.
type Port interface {
	// Send writes one message to the element
	Send(msg []byte) error

	// Receive copies the pending response into buf and returns its length.
	// It returns ErrNotReady when the element has not finished yet.
	Receive(buf []byte) (int, error)

	// Reset restarts the element. Any session it held is lost.
	Reset() error

	// Power switches the element's supply
	Power(on bool) error
}
