package ld2412

import (
	"errors"
	"io"
	"time"

	"go.bug.st/serial"
)

// serialPort is the subset of go.bug.st/serial.Port that Channel needs.
// Narrowing to an interface lets tests substitute an in-memory fake
// instead of opening a real device.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Drain() error
}

// Channel is the UART transport the radar protocol rides on: open/close
// lifecycle, a one-byte peek cache in front of the driver, and the small
// set of operations the framed protocol needs. Grounded on the stack's
// serial port wrapper, generalized from a fixed 115200 8-N-1 NCP link to
// the radar's identical line settings.
type Channel struct {
	port      serialPort
	peeked    byte
	hasPeeked bool
}

// OpenUART opens the named serial device at the radar's fixed line
// settings (115200 8-N-1, no flow control).
func OpenUART(path string) (*Channel, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return NewChannel(p), nil
}

// NewChannel wraps an already-open port. Used directly by tests with a
// fake serialPort.
func NewChannel(p serialPort) *Channel {
	return &Channel{port: p}
}

// Close releases the underlying port.
func (c *Channel) Close() error {
	return c.port.Close()
}

// Send writes bytes to the wire, blocking until the driver accepts them.
func (c *Channel) Send(b []byte) error {
	_, err := c.port.Write(b)
	return err
}

// SendWithBreak writes b, waits for it to drain, then pauses for breakLen
// before returning. No break condition is signalled on the line; the
// pause is the only gap it adds.
func (c *Channel) SendWithBreak(b []byte, breakLen time.Duration) error {
	if err := c.Send(b); err != nil {
		return err
	}
	if err := c.WaitAllSent(); err != nil {
		return err
	}
	time.Sleep(breakLen)
	return nil
}

// WaitAllSent blocks until the output buffer has fully drained.
func (c *Channel) WaitAllSent() error {
	return c.port.Drain()
}

// Flush discards any buffered input, including the peek cache.
func (c *Channel) Flush() error {
	c.hasPeeked = false
	return c.port.ResetInputBuffer()
}

// PeekByte returns the next byte without consuming it from Read's point
// of view. A cached peek is returned immediately; otherwise it blocks up
// to wait for one byte and caches it.
func (c *Channel) PeekByte(wait time.Duration) (byte, bool, error) {
	if c.hasPeeked {
		return c.peeked, true, nil
	}
	if err := c.port.SetReadTimeout(wait); err != nil {
		return 0, false, err
	}
	var b [1]byte
	n, err := c.port.Read(b[:])
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil // timeout, no data
	}
	c.peeked = b[0]
	c.hasPeeked = true
	return c.peeked, true, nil
}

// ReadByte consumes and returns one byte, the cached peek byte first.
func (c *Channel) ReadByte(wait time.Duration) (byte, bool, error) {
	if c.hasPeeked {
		c.hasPeeked = false
		return c.peeked, true, nil
	}
	if err := c.port.SetReadTimeout(wait); err != nil {
		return 0, false, err
	}
	var b [1]byte
	n, err := c.port.Read(b[:])
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return b[0], true, nil
}

// Read fills buf from the cached peek byte (if any) followed by a single
// driver read, returning the number of bytes actually read.
func (c *Channel) Read(buf []byte, wait time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := 0
	if c.hasPeeked {
		buf[0] = c.peeked
		c.hasPeeked = false
		n = 1
		if len(buf) == 1 {
			return n, nil
		}
	}
	if err := c.port.SetReadTimeout(wait); err != nil {
		return n, err
	}
	got, err := c.port.Read(buf[n:])
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n + got, nil
}
