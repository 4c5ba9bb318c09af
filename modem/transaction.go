package modem

import (
	"bytes"
	"strings"
	"time"

	"i4.energy/across/atcommand/at"
)

// txState is the position of a transaction in its lifecycle.
type txState int

const (
	stateSent txState = iota
	stateAwaitingEcho
	stateAwaitingResult
	stateAwaitingTrailer
	stateCompleted
	stateTimedOut
	stateCancelled
)

func (s txState) String() string {
	switch s {
	case stateSent:
		return "sent"
	case stateAwaitingEcho:
		return "awaiting echo"
	case stateAwaitingResult:
		return "awaiting result"
	case stateAwaitingTrailer:
		return "awaiting trailer"
	case stateCompleted:
		return "completed"
	case stateTimedOut:
		return "timed out"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// crcToggle records whether a command switches CRC framing.
type crcToggle int

const (
	crcKeep crcToggle = iota
	crcOn
	crcOff
)

// action is what the receive loop must do after a byte or line was routed.
type action int

const (
	actionNone action = iota
	actionPrompt
	actionDone
)

// step is the outcome of routing one line. anomaly carries a recoverable
// line level problem that was logged; it never fails the transaction.
type step struct {
	action  action
	anomaly error
}

// transaction is the single command in flight.
type transaction struct {
	id string
	// command is the requested line without CRC suffix.
	command string
	// wire is the line written to the modem without terminator.
	wire string
	// prefix is stripped from information lines.
	prefix string
	// extended are the prefixes derived from the command line, used to tell
	// URCs from information.
	extended []string

	opts            sendOptions
	sentAt          time.Time
	deadline        time.Time
	trailerDeadline time.Time
	state           txState
	toggle          crcToggle

	asm *at.Assembler
	// held are lines received before the echo, whose ownership is decided
	// by whether the echo arrives.
	held     []at.Line
	echoSeen bool

	promptBuf  []byte
	promptDone bool
	promptErr  error
}

func (tx *transaction) awaitingEcho() bool {
	return tx.state == stateAwaitingEcho
}

// first reports whether no text of the response has been seen yet.
func (tx *transaction) first() bool {
	return len(tx.asm.Lines()) == 0 && len(tx.held) == 0
}

func (tx *transaction) finished() bool {
	return tx.state == stateCompleted
}

func (tx *transaction) isEcho(text string) bool {
	if tx.echoSeen || len(tx.asm.Lines()) > 0 {
		return false
	}
	return strings.EqualFold(text, tx.wire) || strings.EqualFold(text, tx.command)
}

// wantsPrompt reports whether raw bytes must still be scanned for the
// intermediate prompt.
func (tx *transaction) wantsPrompt() bool {
	return tx.opts.onPrompt != nil && tx.opts.prompt != "" && !tx.promptDone && !tx.asm.Done()
}

// scanPrompt records b and reports whether the prompt is now complete.
// While the echo is outstanding, bytes that could still be the echo of the
// command line are not matched against the prompt.
func (tx *transaction) scanPrompt(b byte) bool {
	tx.promptBuf = append(tx.promptBuf, b)
	if !bytes.Contains(tx.promptBuf, []byte(tx.opts.prompt)) {
		return false
	}
	if tx.awaitingEcho() && tx.couldBeEcho() {
		return false
	}
	return true
}

// splitEcho reports whether the held lines end with the echo broken into
// fragments, which happens when a URC lands in the middle of the echoed
// command line. It returns the held lines that are not echo fragments.
func (tx *transaction) splitEcho() ([]at.Line, bool) {
	if tx.echoSeen || len(tx.held) < 2 {
		return nil, false
	}
	for _, echo := range []string{tx.wire, tx.command} {
		if rest, ok := joinEcho(tx.held, echo); ok {
			return rest, true
		}
	}
	return nil, false
}

// joinEcho matches lines against echo from its end. The last line must be
// a fragment and at least two fragments must make up echo.
func joinEcho(lines []at.Line, echo string) ([]at.Line, bool) {
	fragment := make([]bool, len(lines))
	fragments := 0
	for i := len(lines) - 1; i >= 0 && echo != ""; i-- {
		text := lines[i].Text
		if text != "" && len(text) <= len(echo) && strings.EqualFold(echo[len(echo)-len(text):], text) {
			echo = echo[:len(echo)-len(text)]
			fragment[i] = true
			fragments++
		} else if i == len(lines)-1 {
			return nil, false
		}
	}
	if echo != "" || fragments < 2 {
		return nil, false
	}
	var rest []at.Line
	for i, line := range lines {
		if !fragment[i] {
			rest = append(rest, line)
		}
	}
	return rest, true
}

func (tx *transaction) couldBeEcho() bool {
	s := strings.Trim(string(tx.promptBuf), "\r\n")
	return len(s) <= len(tx.wire) && strings.EqualFold(tx.wire[:len(s)], s)
}
