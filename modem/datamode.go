package modem

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Gate switches a Client between command mode and data mode. While the
// gate is open the command grammar is suspended: no byte is framed and
// the transport belongs to the data mode handler.
type Gate struct {
	c      *Client
	active atomic.Bool
}

// Enter opens the gate and returns the raw connection.
func (g *Gate) Enter() *DataConn {
	if g.active.CompareAndSwap(false, true) {
		g.c.logger.Debug("data mode entered")
	}
	return &DataConn{g: g}
}

// Exit closes the gate. Command framing resumes with the next byte.
func (g *Gate) Exit() {
	if g.active.CompareAndSwap(true, false) {
		g.c.logger.Debug("data mode exited")
	}
}

// Active reports whether data mode is in effect.
func (g *Gate) Active() bool {
	return g.active.Load()
}

// Run opens the gate, runs fn and closes the gate whatever fn returns.
func (g *Gate) Run(ctx context.Context, fn DataHandler) error {
	conn := g.Enter()
	defer g.Exit()
	return fn(ctx, conn)
}

// DataConn is the raw byte stream of a data mode session. Bytes already
// received but not yet framed when the gate opened are delivered first.
type DataConn struct {
	g *Gate
	// mu serializes access to the client's unframed bytes with Close.
	mu sync.Mutex
}

// Read reads raw bytes. Like the transport, it returns 0, nil when no
// data arrived within the poll interval.
func (d *DataConn) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.g.Active() {
		return 0, ErrDataMode
	}
	c := d.g.c
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return d.dropLF(p, n), nil
	}
	n, err := c.transport.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: read: %w", ErrConnection, err)
	}
	return d.dropLF(p, n), nil
}

// dropLF removes the line feed that still belonged to the final result
// that opened the gate.
func (d *DataConn) dropLF(p []byte, n int) int {
	c := d.g.c
	if n == 0 || !c.lfDue {
		return n
	}
	c.lfDue = false
	if p[0] != c.cfg.LF {
		return n
	}
	return copy(p, p[1:n])
}

// Write writes raw bytes.
func (d *DataConn) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.g.Active() {
		return 0, ErrDataMode
	}
	n, err := d.g.c.transport.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: write: %w", ErrConnection, err)
	}
	return n, nil
}

// Flush waits for written bytes to leave the transport when it supports
// flushing.
func (d *DataConn) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.g.Active() {
		return ErrDataMode
	}
	if f, ok := d.g.c.transport.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// ReadFull reads exactly len(p) bytes unless timeout elapses first, in
// which case the bytes read so far are returned with io.ErrUnexpectedEOF.
func (d *DataConn) ReadFull(p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	read := 0
	for read < len(p) {
		n, err := d.Read(p[read:])
		read += n
		if err != nil {
			return read, err
		}
		if read < len(p) && time.Now().After(deadline) {
			return read, io.ErrUnexpectedEOF
		}
	}
	return read, nil
}

// DataSession is a data mode session opened with EnterDataMode.
type DataSession struct {
	c    *Client
	conn *DataConn
}

// Conn returns the raw connection of the session.
func (s *DataSession) Conn() *DataConn {
	return s.conn
}

// Close leaves data mode. Bytes received after the session still count as
// command mode output, so a final result sent by the modem on exit is
// queued as a URC.
func (s *DataSession) Close() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.gate.Exit()
	return nil
}

// EnterDataMode opens the gate outside of any command, for modems that
// switch to data mode on their own (a CONNECT URC). Send fails with
// ErrDataModeActive until the session is closed.
func (c *Client) EnterDataMode(ctx context.Context) (*DataSession, error) {
	if c.transport == nil {
		return nil, ErrNotInitialized
	}
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrConnection, ErrAlreadyClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate.Active() {
		return nil, ErrDataModeActive
	}
	c.logger.Info("entering data mode", zap.Int("buffered", len(c.pending)))
	return &DataSession{c: c, conn: c.gate.Enter()}, nil
}

// DataMode runs fn in a data mode session and leaves data mode when fn
// returns.
func (c *Client) DataMode(ctx context.Context, fn DataHandler) error {
	s, err := c.EnterDataMode(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s.Conn())
}
