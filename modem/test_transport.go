package modem

import (
	"io"
	"sync"
	"time"
)

// TestTransport is a test helper that simulates a serial line using channels.
// Reads block until data is queued with SendData or the read timeout
// elapses, like a real serial port would. Every write is published on
// Writes so a test can answer commands as they are sent.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	writes   chan []byte
	rest     []byte
	timeout  time.Duration
	closed   bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 64),
		writes:   make(chan []byte, 64),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	select {
	case t.writes <- append([]byte(nil), p...):
	default:
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.rest) > 0 {
		n = copy(p, t.rest)
		t.rest = t.rest[n:]
		return n, nil
	}

	var timeout <-chan time.Time
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-t.readChan:
		if !ok {
			return 0, io.EOF
		}
		n = copy(p, data)
		t.rest = data[n:]
		return n, nil
	case <-timeout:
		return 0, nil
	}
}

func (t *TestTransport) SetReadTimeout(d time.Duration) error {
	t.timeout = d
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Writes returns the bytes written by the client, one slice per Write.
func (t *TestTransport) Writes() <-chan []byte {
	return t.writes
}
