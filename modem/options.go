package modem

import (
	"context"
	"time"
)

// PromptFunc is invoked when an intermediate prompt arrives while a command
// is in flight, for example the "> " of AT+CMGS or the "C" of an XMODEM
// receiver. It usually opens the gate, streams data and returns; the gate
// is closed on return if the callback left it open.
//
// A PromptFunc runs on the goroutine executing Send and must not call Send.
type PromptFunc func(ctx context.Context, g *Gate) error

// DataHandler drives a data mode session over conn.
type DataHandler func(ctx context.Context, conn *DataConn) error

// SendOption customises a single Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	timeout   time.Duration
	prefix    string
	hasPrefix bool
	prompt    string
	onPrompt  PromptFunc
	dataMode  DataHandler
}

// WithTimeout overrides the command timeout for this command.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) {
		o.timeout = d
	}
}

// WithPrefix sets the information prefix stripped from response lines.
// By default information lines are returned as received.
func WithPrefix(prefix string) SendOption {
	return func(o *sendOptions) {
		o.prefix = prefix
		o.hasPrefix = true
	}
}

// WithMidPrompt runs fn as soon as prompt is seen in the raw response
// bytes, even if it is not followed by a terminator.
func WithMidPrompt(prompt string, fn PromptFunc) SendOption {
	return func(o *sendOptions) {
		o.prompt = prompt
		o.onPrompt = fn
	}
}

// WithDataMode runs fn in data mode after the command completed with OK.
// The modem is expected to have switched to data mode by then.
func WithDataMode(fn DataHandler) SendOption {
	return func(o *sendOptions) {
		o.dataMode = fn
	}
}
