package at

import "bytes"

// DefaultMaxLineLength bounds a single line before it is dropped.
const DefaultMaxLineLength = 1024

// Line is a fragment of modem output completed by a terminator.
type Line struct {
	// Text is the content without terminators, empty for blank lines.
	Text string
	// Raw holds every byte consumed since the previous line completed,
	// including swallowed line feeds and this line's terminator.
	Raw []byte
	// Blank is set for lines without text, including dropped lines.
	Blank bool
	// Header is set when a blank line directly preceded this text line,
	// which is how V1 frames information and result lines.
	Header bool
	// Err is set when the line was dropped.
	Err *DecodeError
}

// Framer splits a modem byte stream into lines.
//
// A carriage return completes a line. A line feed directly after a
// carriage return, or before any text, belongs to the framing and is
// swallowed; a line feed after text also completes the line so modems
// terminating with LF alone are understood. Backspace removes the last
// buffered character.
//
// A byte outside the printable range poisons the current line: it is
// reported through Line.Err when its terminator arrives and the stream
// continues with the next line.
//
// The Framer is fed one byte at a time and never blocks, so it can be
// stopped at any byte boundary (for example when entering data mode) and
// resumed later.
type Framer struct {
	max     int
	buf     []byte
	raw     []byte
	bad     *DecodeError
	afterCR bool
	blank   bool
}

// NewFramer creates a Framer dropping lines longer than maxLine bytes.
// A non positive maxLine selects DefaultMaxLineLength.
func NewFramer(maxLine int) *Framer {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &Framer{max: maxLine}
}

// Feed consumes b using the terminators of cfg and returns the completed
// line when b terminates one.
func (f *Framer) Feed(b byte, cfg Config) (Line, bool) {
	f.raw = append(f.raw, b)

	switch {
	case b == cfg.CR:
		f.afterCR = true
		return f.complete(), true

	case b == cfg.LF:
		if f.afterCR || (len(f.buf) == 0 && f.bad == nil) {
			f.afterCR = false
			return Line{}, false
		}
		return f.complete(), true

	case b == cfg.BS:
		f.afterCR = false
		if len(f.buf) > 0 {
			f.buf = f.buf[:len(f.buf)-1]
		}
		return Line{}, false
	}

	f.afterCR = false
	if f.bad != nil {
		return Line{}, false
	}
	if !IsPrintable(b) {
		f.bad = &DecodeError{Byte: b, Err: ErrDecode}
		return Line{}, false
	}
	if len(f.buf) >= f.max {
		f.bad = &DecodeError{Byte: b, Err: ErrLineTooLong}
		return Line{}, false
	}
	f.buf = append(f.buf, b)
	return Line{}, false
}

func (f *Framer) complete() Line {
	line := Line{Raw: f.raw}
	switch {
	case f.bad != nil:
		f.bad.Line = trimFraming(f.raw)
		line.Err = f.bad
		line.Blank = true
		f.blank = true
	case len(bytes.TrimSpace(f.buf)) == 0:
		line.Blank = true
		f.blank = true
	default:
		line.Text = string(f.buf)
		line.Header = f.blank
		f.blank = false
	}
	f.buf = nil
	f.raw = nil
	f.bad = nil
	return line
}

// Partial returns the text buffered for the line in progress.
func (f *Framer) Partial() string {
	return string(f.buf)
}

// AfterCR reports whether the last line was completed by a carriage return
// whose line feed has not arrived yet.
func (f *Framer) AfterCR() bool {
	return f.afterCR && len(f.raw) == 0
}

// Pending reports whether any bytes of an incomplete line are buffered.
func (f *Framer) Pending() bool {
	return len(f.buf) > 0 || f.bad != nil
}

// MarkBoundary forgets header state so the next text line is judged on its
// own framing, as at the start of a new command.
func (f *Framer) MarkBoundary() {
	f.blank = false
}

// Reset drops any partial line.
func (f *Framer) Reset() {
	f.buf = nil
	f.raw = nil
	f.bad = nil
	f.afterCR = false
	f.blank = false
}

func trimFraming(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b == CR || b == LF {
			continue
		}
		out = append(out, b)
	}
	return out
}
