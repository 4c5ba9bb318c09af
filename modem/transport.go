package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to a modem.
//
// A Transport is assumed to be already connected and ready for use. Reads
// must be bounded: once SetReadTimeout has been called a Read without data
// returns 0, nil after at most the timeout, which is how the engine polls
// its deadlines. Typical implementations include serial ports, TCP
// connections to a serial relay, or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds every subsequent Read.
	SetReadTimeout(t time.Duration) error
}

// Flusher is implemented by transports able to wait until written bytes
// have left the local buffers.
type Flusher interface {
	Flush() error
}

// Buffered is implemented by transports that can report the number of
// received bytes ready to be read without blocking.
type Buffered interface {
	Buffered() (int, error)
}

// BaudRateSetter is implemented by transports whose line speed can be
// changed in place, which enables autobaud probing.
type BaudRateSetter interface {
	SetBaudRate(baud int) error
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, a TCP relay, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a modem over a local serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	// BaudRate is used when Mode is nil. Defaults to 9600, the factory
	// speed of most satellite and cellular modules.
	BaudRate int
	Mode     *serial.Mode
}

// Dial opens the serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("atcommand: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("atcommand: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 9600
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("atcommand: unable to open %s: %w", d.PortName, err)
	}
	return &serialTransport{port: port, mode: *mode}, nil
}

type serialTransport struct {
	port serial.Port
	mode serial.Mode
}

func (s *serialTransport) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialTransport) Close() error                { return s.port.Close() }
func (s *serialTransport) Flush() error                { return s.port.Drain() }

func (s *serialTransport) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

func (s *serialTransport) SetBaudRate(baud int) error {
	s.mode.BaudRate = baud
	if err := s.port.SetMode(&s.mode); err != nil {
		return err
	}
	return s.port.ResetInputBuffer()
}

// TCPDialer connects to a serial relay (see package relay) over TCP.
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

// Dial connects to the relay.
func (d TCPDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Address == "" {
		return nil, errors.New("atcommand: relay address is required")
	}
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("atcommand: unable to open %s: %w", d.Address, err)
	}
	return NewConnTransport(conn), nil
}

// NewConnTransport adapts a net.Conn to a Transport, turning read deadline
// expiry into an empty read.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{conn: conn}
}

type connTransport struct {
	conn    net.Conn
	timeout time.Duration
}

func (c *connTransport) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := c.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (c *connTransport) Write(p []byte) (int, error) { return c.conn.Write(p) }
func (c *connTransport) Close() error                { return c.conn.Close() }

func (c *connTransport) SetReadTimeout(t time.Duration) error {
	c.timeout = t
	return nil
}
