// Package simulator provides an in-memory modem answering AT commands from
// a command table. It is used to exercise the client end to end without
// hardware.
package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/atcommand/at"
	"i4.energy/across/atcommand/modem"
	"i4.energy/across/atcommand/xmodem"
)

const (
	verboseOK    = "\r\nOK\r\n"
	verboseError = "\r\nERROR\r\n"

	autoExit = "<auto>"
	// autoIdle is how many idle polls end an automatic data mode session.
	autoIdle = 5
	// pauseLimit bounds an intermediate pause nobody releases.
	pauseLimit = 5 * time.Second
)

// Modem is a simulated DCE.
type Modem struct {
	logger *zap.Logger
	table  *Table

	mu       sync.Mutex
	cfg      at.Config
	baud     int
	requests []string
	received [][]byte

	rx      chan []byte
	tx      chan []byte
	release chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	conn *dce
	port *Port
}

// Option configures a Modem.
type Option func(*Modem)

func WithLogger(l *zap.Logger) Option {
	return func(m *Modem) { m.logger = l }
}

// WithTable replaces the built in command table.
func WithTable(t *Table) Option {
	return func(m *Modem) { m.table = t }
}

// WithConfig sets the power-on grammar of the modem.
func WithConfig(cfg at.Config) Option {
	return func(m *Modem) { m.cfg = cfg }
}

// WithBaudRate sets the modem line speed. The port starts at 9600 regardless.
func WithBaudRate(baud int) Option {
	return func(m *Modem) { m.baud = baud }
}

// New starts a simulated modem. Close stops it.
func New(opts ...Option) *Modem {
	m := &Modem{
		logger:  zap.NewNop(),
		cfg:     at.DefaultConfig(),
		baud:    9600,
		rx:      make(chan []byte, 64),
		tx:      make(chan []byte, 1024),
		release: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.table == nil {
		m.table = DefaultTable()
	}
	m.logger = m.logger.With(zap.String("component", "simulator"))
	m.conn = &dce{m: m}
	m.port = &Port{m: m, baud: 9600}

	m.wg.Add(1)
	go m.run()
	return m
}

// Dial returns the DTE side of the line, making a Modem a modem.Dialer.
func (m *Modem) Dial(ctx context.Context) (modem.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-m.done:
		return nil, errors.New("simulator: modem closed")
	default:
	}
	return m.port, nil
}

// Port returns the DTE side of the line.
func (m *Modem) Port() *Port {
	return m.port
}

// Close stops the modem and waits for it to finish.
func (m *Modem) Close() error {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
	return nil
}

// Config returns the current grammar of the modem.
func (m *Modem) Config() at.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Configure changes the grammar without a command, as a modem reset or a
// setting stored in its profile would.
func (m *Modem) Configure(fn func(*at.Config)) {
	m.mu.Lock()
	fn(&m.cfg)
	m.mu.Unlock()
}

// BaudRate returns the modem line speed.
func (m *Modem) BaudRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baud
}

// Requests returns the command lines received so far.
func (m *Modem) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// Received returns the payloads received in data mode or by XMODEM, one
// per session.
func (m *Modem) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	for i, r := range m.received {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Release resumes a command held by an intermediate pause.
func (m *Modem) Release() {
	select {
	case m.release <- struct{}{}:
	default:
	}
}

// InjectURC sends unsolicited result codes framed in the current grammar.
func (m *Modem) InjectURC(urcs ...string) {
	for _, urc := range urcs {
		m.respond(m.render(at.CRLF+urc+at.CRLF, false))
	}
}

// Inject sends raw bytes as they are.
func (m *Modem) Inject(raw string) {
	m.conn.Write([]byte(raw))
}

func (m *Modem) run() {
	defer m.wg.Done()
	var line []byte
	buf := make([]byte, 256)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			switch b {
			case at.CR:
				m.handle(string(line))
				line = line[:0]
			case at.LF:
			case at.BS:
				if len(line) > 0 {
					line = line[:len(line)-1]
				}
			default:
				line = append(line, b)
			}
		}
	}
}

// handle answers one command line.
func (m *Modem) handle(request string) {
	request = strings.TrimSpace(request)
	if request == "" {
		return
	}
	m.mu.Lock()
	m.requests = append(m.requests, request)
	cfg := m.cfg
	m.mu.Unlock()
	m.logger.Debug("request", zap.String("line", at.Printable(request)))

	cmd, valid := request, true
	if cfg.CRC {
		prefix, _, ok := at.SplitCRC(request, cfg.CRCSep)
		valid = ok && cfg.CRCVariant.Validate(request, cfg.CRCSep)
		if valid {
			cmd = prefix
		}
	}

	entry, arg, found := m.table.Lookup(cmd)
	if cfg.Echo && !(found && entry.HasEcho) {
		m.conn.Write([]byte(request + cfg.Terminator()))
	}
	if !valid {
		m.logger.Debug("crc mismatch", zap.String("line", request))
		m.respond(m.render(verboseError, false))
		return
	}
	if resp, ok := m.delay(cmd); ok {
		m.respond(m.render(resp, false))
		return
	}
	if resp, ok := m.builtin(cmd); ok {
		m.respond(m.render(resp, false))
		return
	}
	if !found {
		m.respond(m.render(verboseError, false))
		return
	}
	m.execute(entry, arg)
}

// builtin answers the commands that change the modem state.
func (m *Modem) builtin(cmd string) (string, bool) {
	upper := strings.ToUpper(cmd)
	m.mu.Lock()
	defer m.mu.Unlock()

	switch upper {
	case "AT":
	case "ATE", "ATE0":
		m.cfg.Echo = false
	case "ATE1":
		m.cfg.Echo = true
	case "ATV", "ATV0":
		m.cfg.Verbose = false
	case "ATV1":
		m.cfg.Verbose = true
	case "ATZ":
		variant := m.cfg.CRCVariant
		m.cfg = at.DefaultConfig()
		m.cfg.CRCVariant = variant
	case at.CmdCRCOn:
		m.cfg.CRC = true
	case at.CmdCRCOff:
		m.cfg.CRC = false
	default:
		return "", false
	}
	return verboseOK, true
}

// delay answers AT+DELAY=<ms> with OK after the given time.
func (m *Modem) delay(cmd string) (string, bool) {
	ms, ok := strings.CutPrefix(strings.ToUpper(cmd), "AT+DELAY=")
	if !ok {
		return "", false
	}
	d, err := strconv.Atoi(ms)
	if err != nil {
		return verboseError, true
	}
	m.sleep(time.Duration(d) * time.Millisecond)
	return verboseOK, true
}

// execute runs a table command.
func (m *Modem) execute(c Command, arg string) {
	m.sleep(time.Duration(c.DelayMS) * time.Millisecond)
	response := strings.ReplaceAll(c.Response, "{request}", arg)

	mid := c.IntermediateResponse != "" || c.XModem
	if mid {
		m.conn.Write([]byte(c.IntermediateResponse))
		if c.IntermediatePause {
			m.pause()
		}
		switch {
		case c.XModem:
			m.transfer(c)
		case c.DataModeEntry:
			m.dataMode(c)
			return
		case c.DataReply != "":
			m.sleep(time.Duration(c.DataDelayMS) * time.Millisecond)
			m.conn.Write([]byte(c.DataReply))
		}
	}

	if c.BadByte {
		response = insertBadByte(response, arg)
	}
	if response != "" {
		m.respond(m.render(response, c.BadCRC))
	}

	switch {
	case mid:
	case c.DataModeEntry:
		m.conn.Write([]byte(c.DataModeURC))
		m.dataMode(c)
	case c.DataReply != "":
		m.sleep(time.Duration(c.DataDelayMS) * time.Millisecond)
		m.conn.Write([]byte(c.DataReply))
	}
}

// dataMode receives raw data until the exit sequence, then answers with
// the exit response.
func (m *Modem) dataMode(c Command) {
	m.logger.Debug("data mode entered")
	if c.DataReply != "" {
		m.conn.Write([]byte(c.DataReply))
	}

	var data bytes.Buffer
	exit := []byte(c.DataModeExitSequence)
	auto := c.DataModeExitSequence == autoExit || c.DataModeExitSequence == ""
	buf := make([]byte, 256)
	idle := 0
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			if auto && data.Len() > 0 {
				if idle++; idle >= autoIdle {
					break
				}
			}
			continue
		}
		idle = 0
		data.Write(buf[:n])
		if !auto && bytes.HasSuffix(data.Bytes(), exit) {
			data.Truncate(data.Len() - len(exit))
			break
		}
	}

	m.store(data.Bytes())
	m.logger.Debug("data mode exited", zap.Int("bytes", data.Len()))
	if c.DataModeExitResponse != "" {
		m.respond(m.render(c.DataModeExitResponse, false))
	}
}

// transfer runs the XMODEM side of a command.
func (m *Modem) transfer(c Command) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts := []xmodem.Option{
		xmodem.WithTimeout(time.Second),
		xmodem.WithLogger(m.logger),
	}
	if c.DataReply != "" {
		if err := xmodem.Send(ctx, m.conn, []byte(c.DataReply), opts...); err != nil {
			m.logger.Debug("xmodem send failed", zap.Error(err))
		}
		return
	}
	data, err := xmodem.Receive(ctx, m.conn, opts...)
	if err != nil {
		m.logger.Debug("xmodem receive failed", zap.Error(err))
		return
	}
	m.store(data)
}

func (m *Modem) store(data []byte) {
	m.mu.Lock()
	m.received = append(m.received, append([]byte(nil), data...))
	m.mu.Unlock()
}

func (m *Modem) pause() {
	timer := time.NewTimer(pauseLimit)
	defer timer.Stop()
	select {
	case <-m.release:
	case <-timer.C:
	case <-m.done:
	}
}

func (m *Modem) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-m.done:
	}
}

func (m *Modem) respond(b []byte) {
	m.logger.Debug("response", zap.String("data", at.Printable(string(b))))
	m.conn.Write(b)
}

// render converts a verbose response to the current grammar and appends a
// CRC trailer when CRC framing is on.
func (m *Modem) render(response string, badCRC bool) []byte {
	cfg := m.Config()
	if !cfg.Verbose {
		response = numeric(response)
	}
	if !cfg.CRC {
		return []byte(response)
	}
	crc := cfg.CRCVariant.Checksum([]byte(response))
	if badCRC {
		crc ^= 0xFFFF
	}
	return fmt.Appendf([]byte(response), "%c%04X%s", cfg.CRCSep, crc, cfg.ResponseTerminator())
}

// numeric rewrites a verbose response for ATV0: information lines lose
// their header and the final result becomes its numeric code.
func numeric(response string) string {
	var parts []string
	for _, p := range strings.Split(response, at.CRLF) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return response
	}
	var b strings.Builder
	for i, p := range parts {
		if i == len(parts)-1 && at.IsTextualFinal(p) {
			b.WriteString(numericCode(p))
			b.WriteByte(at.CR)
			break
		}
		b.WriteString(p)
		b.WriteString(at.CRLF)
	}
	return b.String()
}

func numericCode(final string) string {
	switch final {
	case at.OK:
		return at.V0OK
	case at.NoCarrier:
		return "3"
	case at.NoDialtone:
		return "6"
	case at.Busy:
		return "7"
	case at.NoAnswer:
		return "8"
	default:
		return at.V0Error
	}
}

// insertBadByte corrupts the first information line of response.
func insertBadByte(response, where string) string {
	start := strings.Index(response, at.CRLF)
	if start < 0 {
		return response
	}
	start += len(at.CRLF)
	end := strings.Index(response[start:], at.CRLF)
	if end < 0 {
		return response
	}
	end += start

	pos := start
	switch strings.ToUpper(strings.Trim(where, `"`)) {
	case "M":
		pos = start + (end-start)/2
	case "E":
		pos = end
	}
	return response[:pos] + "\xff" + response[pos:]
}
