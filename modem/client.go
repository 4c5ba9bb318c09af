package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"i4.energy/across/atcommand/at"
)

// probeTimeout bounds a single AT probe while connecting.
const probeTimeout = time.Second

// Client drives a modem through AT commands.
//
// A Client owns its transport exclusively. Send blocks the calling
// goroutine until the command completes; other goroutines may poll URCs
// concurrently. Every byte read from the transport passes through a
// single Framer under mu, so bytes are classified strictly in arrival
// order and never consumed by two readers.
type Client struct {
	// mu serialises transport I/O and guards the parser state below.
	mu sync.Mutex
	// transport provides the physical connection to the modem.
	transport Transport
	// config contains the client configuration settings.
	config Config
	logger *zap.Logger

	// cfg is the grammar in effect. It is only changed at line boundaries.
	cfg at.Config
	// snapshot publishes a copy of cfg for readers not holding mu.
	snapshot atomic.Pointer[at.Config]

	framer  *at.Framer
	readBuf []byte
	// pending holds bytes read from the transport but not yet framed.
	// While the gate is open they are served to the data mode reader.
	pending []byte

	// idleRaw and urcRaw keep the framing of the most recent URC so an
	// unsolicited CRC trailer can be checked.
	idleRaw []byte
	urcRaw  []byte

	// lfDue is set when a verbose line ended at its carriage return and the
	// line feed had not been read yet. A data mode reader drops it.
	lfDue bool

	// late is a timed out transaction absorbing its late response.
	late *transaction

	urcs urcQueue
	gate *Gate

	lastDecode atomic.Pointer[at.DecodeError]
	closed     atomic.Bool
}

// New creates a Client with the given configuration. It dials the
// transport and probes the modem with AT until it answers or the init
// timeout elapses.
//
// Returns an error wrapping ErrConnection if the transport cannot be
// opened or the modem never answers.
func New(ctx context.Context, config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()
	if err := config.AT.Validate(); err != nil {
		return nil, err
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	c, err := newClient(transport, config)
	if err != nil {
		transport.Close()
		return nil, err
	}

	if err := c.init(ctx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}
	return c, nil
}

func newClient(transport Transport, config Config) (*Client, error) {
	if err := transport.SetReadTimeout(config.PollInterval); err != nil {
		return nil, fmt.Errorf("%w: set read timeout: %w", ErrConnection, err)
	}
	c := &Client{
		transport: transport,
		config:    config,
		logger:    config.Logger.With(zap.String("component", "modem")),
		cfg:       config.AT,
		framer:    at.NewFramer(config.MaxLineLength),
		readBuf:   make([]byte, 256),
	}
	c.gate = &Gate{c: c}
	c.publish()
	return c, nil
}

// init probes the modem, cycling baud rates when the transport supports it.
func (c *Client) init(ctx context.Context) error {
	setter, autobaud := c.transport.(BaudRateSetter)
	autobaud = autobaud && len(c.config.BaudRates) > 0
	deadline := time.Now().Add(c.config.InitTimeout)

	for attempt := 0; ; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if autobaud {
			baud := c.config.BaudRates[attempt%len(c.config.BaudRates)]
			if err := setter.SetBaudRate(baud); err != nil {
				return fmt.Errorf("%w: set baud rate %d: %w", ErrConnection, baud, err)
			}
			c.logger.Debug("probing", zap.Int("baud", baud))
		}

		_, err := c.Send(ctx, at.CmdAt, WithTimeout(min(probeTimeout, c.config.ATTimeout, remaining)))
		if err == nil {
			c.logger.Info("modem connected", zap.Stringer("config", c.Config()))
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			return err
		}
	}
	return fmt.Errorf("%w: timed out waiting for %s", ErrConnection, at.CmdAt)
}

// Config returns the grammar currently observed on the modem.
func (c *Client) Config() at.Config {
	return *c.snapshot.Load()
}

func (c *Client) publish() {
	cfg := c.cfg
	c.snapshot.Store(&cfg)
}

// LastDecodeError returns the most recent line dropped by the framer, or
// nil.
func (c *Client) LastDecodeError() error {
	if e := c.lastDecode.Load(); e != nil {
		return e
	}
	return nil
}

// Send writes cmd to the modem and waits for its final result.
//
// A CRC suffix is appended when CRC framing is active. The response is
// returned even when the modem answered with an error result; only a
// missing final result (ErrTimeout), cancellation of ctx and transport
// faults (ErrConnection) are returned as errors.
func (c *Client) Send(ctx context.Context, cmd string, opts ...SendOption) (at.Response, error) {
	if c.transport == nil {
		return at.Response{}, ErrNotInitialized
	}
	if c.closed.Load() {
		return at.Response{}, fmt.Errorf("%w: %w", ErrConnection, ErrAlreadyClosed)
	}
	o := sendOptions{timeout: c.config.ATTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gate.Active() {
		return at.Response{}, ErrDataModeActive
	}
	if err := c.settle(); err != nil {
		return at.Response{}, err
	}
	c.process(ctx, nil)

	tx, err := c.begin(cmd, o)
	if err != nil {
		return at.Response{}, err
	}
	logger := c.logger.With(zap.String("tx", tx.id))
	logger.Debug("tx", zap.String("data", at.Printable(tx.wire+c.cfg.Terminator())))

	if err := c.write([]byte(tx.wire + c.cfg.Terminator())); err != nil {
		return at.Response{}, err
	}

	err = c.await(ctx, tx)
	resp := tx.asm.Response()
	switch {
	case errors.Is(err, ErrTimeout):
		tx.state = stateTimedOut
		c.late = tx
		logger.Warn("command timed out", zap.String("command", tx.command), zap.Duration("timeout", o.timeout))
		return resp, fmt.Errorf("%w: %s after %v", ErrTimeout, tx.command, o.timeout)
	case err != nil && ctx.Err() != nil:
		tx.state = stateCancelled
		c.late = tx
		return resp, err
	case err != nil:
		logger.Error("command failed", zap.Error(err))
		return resp, err
	}

	if resp.Noncompliant {
		logger.Warn("noncompliant response", zap.String("command", tx.command))
	}
	logger.Debug("response",
		zap.Stringer("result", resp.Result),
		zap.String("info", resp.Info),
		zap.Stringer("crc", resp.CRC),
		zap.Duration("elapsed", time.Since(tx.sentAt)))

	if tx.promptErr != nil {
		return resp, fmt.Errorf("intermediate prompt: %w", tx.promptErr)
	}
	if o.dataMode != nil && resp.OK() {
		if err := c.gate.Run(ctx, o.dataMode); err != nil {
			return resp, fmt.Errorf("data mode: %w", err)
		}
	}
	return resp, nil
}

// begin prepares the transaction for cmd.
func (c *Client) begin(cmd string, o sendOptions) (*transaction, error) {
	cmd = strings.TrimSpace(cmd)
	base, wire := cmd, cmd
	if prefix, _, ok := at.SplitCRC(cmd, c.cfg.CRCSep); ok {
		if !c.cfg.CRCVariant.Validate(cmd, c.cfg.CRCSep) {
			return nil, fmt.Errorf("%w: invalid crc suffix on %s", at.ErrCRCConfig, cmd)
		}
		base = prefix
	} else if c.cfg.CRC {
		wire = c.cfg.CRCVariant.ApplySep(cmd, c.cfg.CRCSep)
	}

	now := time.Now()
	tx := &transaction{
		id:       uuid.NewString(),
		command:  base,
		wire:     wire,
		opts:     o,
		sentAt:   now,
		deadline: now.Add(o.timeout),
		state:    stateSent,
	}
	tx.extended = at.ExtendedPrefixes(base)
	if o.hasPrefix {
		tx.prefix = o.prefix
	}
	tx.asm = at.NewAssembler(tx.prefix)
	switch {
	case strings.EqualFold(base, c.config.CRCEnable):
		tx.toggle = crcOn
	case strings.EqualFold(base, c.config.CRCDisable):
		tx.toggle = crcOff
	}

	if c.cfg.Echo {
		tx.state = stateAwaitingEcho
	} else {
		tx.state = stateAwaitingResult
	}
	c.framer.MarkBoundary()
	return tx, nil
}

// settle releases the previous timed out transaction. Input still pending
// on the transport is drained first so a late response cannot be taken
// for the reply to the next command.
func (c *Client) settle() error {
	if c.late == nil {
		return nil
	}
	for {
		c.process(context.Background(), nil)
		if c.late == nil {
			return nil
		}
		n, err := c.fill()
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	late := c.late
	c.late = nil
	for _, line := range late.asm.Lines() {
		c.enqueueURC(line)
	}
	return nil
}

// await runs the receive loop until tx completes or fails.
func (c *Client) await(ctx context.Context, tx *transaction) error {
	for {
		c.process(ctx, tx)
		if tx.finished() {
			return nil
		}

		now := time.Now()
		if tx.state == stateAwaitingTrailer && now.After(tx.trailerDeadline) {
			c.logger.Warn("missing crc trailer", zap.String("tx", tx.id))
			tx.asm.MissingCRC()
			tx.state = stateCompleted
			return nil
		}
		if tx.state != stateAwaitingTrailer && now.After(tx.deadline) {
			return ErrTimeout
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := c.fill(); err != nil {
			return err
		}
	}
}

// fill performs one bounded read from the transport.
func (c *Client) fill() (int, error) {
	n, err := c.transport.Read(c.readBuf)
	if n > 0 {
		c.pending = append(c.pending, c.readBuf[:n]...)
		c.logger.Debug("rx", zap.String("data", at.Printable(string(c.readBuf[:n]))))
	}
	if err != nil {
		c.logger.Error("transport read failed", zap.Error(err))
		return n, fmt.Errorf("%w: read: %w", ErrConnection, err)
	}
	return n, nil
}

func (c *Client) write(p []byte) error {
	if _, err := c.transport.Write(p); err != nil {
		c.logger.Error("transport write failed", zap.Error(err))
		return fmt.Errorf("%w: write: %w", ErrConnection, err)
	}
	if f, ok := c.transport.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %w", ErrConnection, err)
		}
	}
	return nil
}

// process frames pending bytes until they are exhausted, tx completes or
// the gate is opened. tx may be nil when no command is in flight. Line
// anomalies are logged and never stop processing.
func (c *Client) process(ctx context.Context, tx *transaction) {
	for len(c.pending) > 0 && !c.gate.Active() {
		b := c.pending[0]
		c.pending = c.pending[1:]
		c.lfDue = false

		st := c.feed(b, tx)
		if st.anomaly != nil {
			c.logger.Debug("line anomaly", zap.Error(st.anomaly))
		}
		switch st.action {
		case actionPrompt:
			c.prompt(ctx, tx)
		case actionDone:
			c.skipLF()
			return
		}
	}
}

// skipLF consumes the line feed of a verbose line completed at its
// carriage return, so the gate never opens on the tail of a final result.
func (c *Client) skipLF() {
	if !c.cfg.Verbose || !c.framer.AfterCR() {
		return
	}
	if len(c.pending) == 0 {
		c.lfDue = true
		return
	}
	if c.pending[0] == c.cfg.LF {
		c.framer.Feed(c.pending[0], c.cfg)
		c.pending = c.pending[1:]
	}
}

// feed passes one byte through the framer and routes the line it
// completes.
func (c *Client) feed(b byte, tx *transaction) step {
	line, ok := c.framer.Feed(b, c.cfg)
	var st step
	if ok {
		if tx == nil {
			st = c.routeIdle(line)
		} else {
			st = c.route(line, tx)
		}
	}
	if st.action == actionNone && tx != nil && tx.wantsPrompt() && tx.scanPrompt(b) {
		st.action = actionPrompt
	}
	return st
}

// prompt runs the intermediate prompt callback. The gate is closed again
// when the callback returns whatever its outcome.
func (c *Client) prompt(ctx context.Context, tx *transaction) {
	tx.promptDone = true
	if text := strings.TrimSpace(c.framer.Partial()); text != "" {
		tx.asm.AddInfo(at.Line{Text: text})
	}
	defer c.framer.Reset()
	c.logger.Debug("intermediate prompt", zap.String("tx", tx.id), zap.String("prompt", at.Printable(tx.opts.prompt)))
	defer c.gate.Exit()
	if err := tx.opts.onPrompt(ctx, c.gate); err != nil {
		c.logger.Warn("intermediate prompt callback failed", zap.String("tx", tx.id), zap.Error(err))
		tx.promptErr = err
	}
}

// decodeError records a dropped line.
func (c *Client) decodeError(line at.Line) error {
	c.lastDecode.Store(line.Err)
	c.logger.Warn("invalid char", zap.Uint8("byte", line.Err.Byte), zap.String("line", at.Printable(string(line.Err.Line))))
	return line.Err
}

// route assigns a completed line to tx or the URC queue.
func (c *Client) route(line at.Line, tx *transaction) step {
	if line.Err != nil {
		tx.asm.Hold(line)
		return step{anomaly: c.decodeError(line)}
	}
	if line.Blank {
		tx.asm.Hold(line)
		return step{}
	}

	kind := at.Classify(line, c.cfg, tx.first())
	if tx.state == stateAwaitingTrailer {
		if kind == at.KindTrailer {
			if tx.asm.Trailer(line, c.cfg) == at.CRCInvalid {
				c.logger.Warn("invalid crc", zap.String("tx", tx.id), zap.String("trailer", line.Text))
			}
			tx.state = stateCompleted
			return step{action: actionDone}
		}
		c.enqueueURC(line.Text)
		return step{}
	}

	switch kind {
	case at.KindTrailer:
		return step{anomaly: fmt.Errorf("%w: trailer %s before final result", at.ErrCRCConfig, line.Text)}
	case at.KindFinal:
		c.final(line, tx)
		return step{action: actionDone}
	}

	switch {
	case tx.isEcho(line.Text):
		c.echo(tx)
	case c.isURC(line.Text, tx):
		tx.asm.Discard()
		c.enqueueURC(line.Text)
	case tx.awaitingEcho():
		tx.held = append(tx.held, line)
		if rest, ok := tx.splitEcho(); ok {
			tx.held = rest
			c.echo(tx)
		}
	default:
		tx.asm.AddInfo(line)
	}
	return step{}
}

// echo consumes the echo of the command line. Lines held while waiting
// for it arrived before the command was processed and are unsolicited.
func (c *Client) echo(tx *transaction) {
	tx.echoSeen = true
	if !c.cfg.Echo {
		c.logger.Info("echo detected")
		c.cfg.Echo = true
		c.publish()
	}
	for _, held := range tx.held {
		c.enqueueURC(held.Text)
	}
	tx.held = nil
	tx.asm.Discard()
	tx.promptBuf = nil
	tx.state = stateAwaitingResult
}

// final closes the response and applies what it reveals about the modem
// configuration.
func (c *Client) final(line at.Line, tx *transaction) {
	if tx.awaitingEcho() {
		c.logger.Info("echo not received, assuming echo off", zap.String("tx", tx.id))
		c.cfg.Echo = false
		for _, held := range tx.held {
			tx.asm.AddInfo(held)
		}
		tx.held = nil
	}

	result := tx.asm.Final(line)
	switch {
	case at.IsNumericFinal(line.Text) && c.cfg.Verbose:
		c.logger.Info("numeric result detected, verbose off", zap.String("tx", tx.id))
		c.cfg.Verbose = false
	case at.IsTextualFinal(line.Text) && line.Header && !c.cfg.Verbose:
		c.logger.Info("verbose result detected", zap.String("tx", tx.id))
		c.cfg.Verbose = true
	}

	if result == at.ResultOK {
		switch {
		case strings.EqualFold(tx.command, at.CmdEchoOff):
			c.cfg.Echo = false
		case strings.EqualFold(tx.command, at.CmdEchoOn):
			c.cfg.Echo = true
		case strings.EqualFold(tx.command, at.CmdVerboseOff):
			c.cfg.Verbose = false
		case strings.EqualFold(tx.command, at.CmdVerboseOn):
			c.cfg.Verbose = true
		}
		switch tx.toggle {
		case crcOn:
			c.cfg.CRC = true
		case crcOff:
			c.cfg.CRC = false
		}
	}
	c.publish()

	if c.cfg.CRC {
		tx.state = stateAwaitingTrailer
		tx.trailerDeadline = time.Now().Add(c.config.TrailerTimeout)
		return
	}
	tx.state = stateCompleted
}

// isURC reports whether a text line received during tx is unsolicited:
// it starts with a configured URC prefix, or carries an extended prefix
// other than the one the command answers with.
func (c *Client) isURC(text string, tx *transaction) bool {
	for _, p := range c.config.URCPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	prefix := at.LinePrefix(text)
	if prefix == "" || len(tx.extended) == 0 {
		return false
	}
	if tx.opts.hasPrefix && tx.prefix != "" && strings.HasPrefix(text, tx.prefix) {
		return false
	}
	for _, p := range tx.extended {
		if strings.EqualFold(prefix, p) {
			return false
		}
	}
	return true
}

// routeIdle handles a line received with no command in flight.
func (c *Client) routeIdle(line at.Line) step {
	if line.Err != nil {
		return step{anomaly: c.decodeError(line)}
	}
	if line.Blank {
		c.idleRaw = append(c.idleRaw, line.Raw...)
		return step{}
	}

	if c.late != nil {
		return c.routeLate(line)
	}

	if at.Classify(line, c.cfg, false) == at.KindTrailer {
		if !c.cfg.CRC {
			c.logger.Info("crc trailer detected, crc on")
			c.cfg.CRC = true
			c.publish()
		}
		if at.CheckTrailer(c.urcRaw, line, c.cfg) == at.CRCInvalid {
			c.logger.Warn("invalid crc", zap.String("trailer", line.Text))
		}
		c.urcRaw = nil
		c.idleRaw = nil
		return step{}
	}

	c.urcRaw = append(c.idleRaw, line.Raw...)
	c.idleRaw = nil
	c.enqueueURC(line.Text)
	return step{}
}

// routeLate feeds the response of a timed out command to its transaction
// so it is not mistaken for URCs. Its final result is discarded.
func (c *Client) routeLate(line at.Line) step {
	tx := c.late
	switch at.Classify(line, c.cfg, tx.first()) {
	case at.KindFinal:
		c.logger.Warn("late response discarded",
			zap.String("tx", tx.id),
			zap.String("command", tx.command),
			zap.String("result", line.Text))
		c.late = nil
	case at.KindTrailer:
	default:
		switch {
		case tx.isEcho(line.Text):
			tx.echoSeen = true
		case c.isURC(line.Text, tx):
			c.enqueueURC(line.Text)
		default:
			tx.asm.AddInfo(line)
		}
	}
	return step{}
}

func (c *Client) enqueueURC(text string) {
	urc := strings.TrimSpace(text)
	c.logger.Debug("urc", zap.String("urc", urc))
	c.urcs.push(urc)
}

// URC returns the oldest queued unsolicited result code. It reads input
// that arrived since the last command when the transport is free.
func (c *Client) URC() (string, bool) {
	if urc, ok := c.urcs.pop(); ok {
		return urc, true
	}
	c.poll()
	return c.urcs.pop()
}

// CheckURC reports whether an unsolicited result code is queued.
func (c *Client) CheckURC() bool {
	if c.urcs.len() > 0 {
		return true
	}
	c.poll()
	return c.urcs.len() > 0
}

// poll reads available input without disturbing a command in flight: when
// another goroutine owns the transport, its receive loop is already
// routing URCs to the queue. Reading continues while bytes keep arriving
// and no new URC is complete, for at most one poll interval.
func (c *Client) poll() {
	if c.closed.Load() || !c.mu.TryLock() {
		return
	}
	defer c.mu.Unlock()
	if c.gate.Active() {
		return
	}
	queued := c.urcs.len()
	c.process(context.Background(), nil)
	deadline := time.Now().Add(c.config.PollInterval)
	for c.urcs.len() == queued && !c.gate.Active() {
		if b, ok := c.transport.(Buffered); ok {
			if n, err := b.Buffered(); err == nil && n == 0 && !c.framer.Pending() {
				return
			}
		}
		n, err := c.fill()
		if err != nil {
			return
		}
		c.process(context.Background(), nil)
		if (n == 0 && !c.framer.Pending()) || time.Now().After(deadline) {
			return
		}
	}
}

// Close ends any data mode session, drains pending output and closes the
// transport. A Send in progress fails with ErrConnection.
func (c *Client) Close() error {
	if c.transport == nil {
		return ErrNotInitialized
	}
	if !c.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	c.gate.Exit()
	var err error
	if f, ok := c.transport.(Flusher); ok {
		err = f.Flush()
	}
	return multierr.Append(err, c.transport.Close())
}
