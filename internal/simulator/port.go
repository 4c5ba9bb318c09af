package simulator

import (
	"io"
	"sync"
	"time"
)

// Port is the DTE side of the simulated serial line. It implements
// modem.Transport together with the optional Buffered, Flusher and
// BaudRateSetter capabilities.
type Port struct {
	m *Modem

	mu      sync.Mutex
	rest    []byte
	timeout time.Duration
	baud    int
}

// Read returns bytes sent by the modem, or 0, nil once the read timeout
// elapses without output.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.rest) > 0 {
		n := copy(b, p.rest)
		p.rest = p.rest[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.timeout
	p.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data := <-p.m.tx:
		n := copy(b, data)
		p.mu.Lock()
		p.rest = append(p.rest, data[n:]...)
		p.mu.Unlock()
		return n, nil
	case <-expired:
		return 0, nil
	case <-p.m.done:
		return 0, io.EOF
	}
}

// Write delivers b to the modem. Bytes sent at a baud rate other than the
// modem's are lost on the line.
func (p *Port) Write(b []byte) (int, error) {
	select {
	case <-p.m.done:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	baud := p.baud
	p.mu.Unlock()
	if baud != p.m.BaudRate() {
		return len(b), nil
	}
	select {
	case p.m.rx <- append([]byte(nil), b...):
		return len(b), nil
	case <-p.m.done:
		return 0, io.ErrClosedPipe
	}
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

// SetBaudRate changes the DTE line speed.
func (p *Port) SetBaudRate(baud int) error {
	p.mu.Lock()
	p.baud = baud
	p.rest = nil
	p.mu.Unlock()
	return nil
}

// Buffered reports how many bytes are ready without blocking. Queued
// modem writes are counted once each, which is enough to tell idle from
// busy.
func (p *Port) Buffered() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rest) + len(p.m.tx), nil
}

// Flush returns at once: writes reach the modem synchronously.
func (p *Port) Flush() error {
	return nil
}

// Close hangs up the line and stops the modem.
func (p *Port) Close() error {
	return p.m.Close()
}

// dce is the modem side of the line.
type dce struct {
	m    *Modem
	rest []byte
}

const dcePoll = 10 * time.Millisecond

// Read waits up to dcePoll for input from the DTE.
func (d *dce) Read(b []byte) (int, error) {
	if len(d.rest) > 0 {
		n := copy(b, d.rest)
		d.rest = d.rest[n:]
		return n, nil
	}
	timer := time.NewTimer(dcePoll)
	defer timer.Stop()
	select {
	case data := <-d.m.rx:
		n := copy(b, data)
		d.rest = data[n:]
		return n, nil
	case <-timer.C:
		return 0, nil
	case <-d.m.done:
		return 0, io.EOF
	}
}

func (d *dce) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	select {
	case d.m.tx <- append([]byte(nil), b...):
		return len(b), nil
	case <-d.m.done:
		return 0, io.ErrClosedPipe
	}
}
