package at

import (
	"bytes"
	"strings"
)

// ResultCode is the outcome of a command.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultError
	ResultCMEError
	ResultCMSError
	ResultTimeout
	ResultUnknown
)

func (r ResultCode) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultError:
		return "ERROR"
	case ResultCMEError:
		return "CME ERROR"
	case ResultCMSError:
		return "CMS ERROR"
	case ResultTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// CRCStatus records whether a response carried a valid CRC trailer.
type CRCStatus int

const (
	CRCUnused CRCStatus = iota
	CRCValid
	CRCInvalid
)

func (s CRCStatus) String() string {
	switch s {
	case CRCValid:
		return "valid"
	case CRCInvalid:
		return "invalid"
	default:
		return "unused"
	}
}

// Response is the completed result of one command.
type Response struct {
	Result ResultCode
	// Info is the cleaned information text, lines joined by "\n". For CME
	// and CMS errors it holds the error text.
	Info string
	CRC  CRCStatus
	// Noncompliant is set when the final result lacked its V1 framing.
	Noncompliant bool
}

// OK reports whether the command succeeded.
func (r Response) OK() bool {
	return r.Result == ResultOK
}

// CRCOK reports the CRC outcome: ok is only meaningful when used is true.
func (r Response) CRCOK() (ok bool, used bool) {
	return r.CRC == CRCValid, r.CRC != CRCUnused
}

// ParseResult maps a final result line to its code and, for extended
// errors, the error text.
func ParseResult(line string) (ResultCode, string) {
	switch {
	case line == OK:
		return ResultOK, ""
	case line == ERROR, line == NoCarrier, line == NoDialtone, line == Busy, line == NoAnswer:
		return ResultError, ""
	case strings.HasPrefix(line, CmeError):
		return ResultCMEError, strings.TrimSpace(line[len(CmeError):])
	case strings.HasPrefix(line, CmsError):
		return ResultCMSError, strings.TrimSpace(line[len(CmsError):])
	}
	if code, ok := v0Finals[line]; ok {
		return code, ""
	}
	return ResultUnknown, line
}

// Assembler accumulates the lines of the command in flight into a
// Response.
//
// Raw bytes are tracked separately from the cleaned lines so a CRC trailer
// can be checked against exactly what the modem framed. Lines that turn
// out not to belong to the command (URCs) are never committed.
type Assembler struct {
	prefix  string
	lines   []string
	raw     []byte
	pending []byte

	final        bool
	result       ResultCode
	errText      string
	noncompliant bool
	crc          CRCStatus
}

// NewAssembler creates an Assembler stripping prefix from each info line.
func NewAssembler(prefix string) *Assembler {
	return &Assembler{prefix: prefix}
}

// Hold buffers the raw bytes of framing lines until it is known whether
// the next text line belongs to the response.
func (a *Assembler) Hold(l Line) {
	a.pending = append(a.pending, l.Raw...)
}

// Discard drops held framing bytes, used when the next line was a URC.
func (a *Assembler) Discard() {
	a.pending = a.pending[:0]
}

func (a *Assembler) commit(l Line) {
	a.raw = append(a.raw, a.pending...)
	a.raw = append(a.raw, l.Raw...)
	a.pending = a.pending[:0]
}

// AddInfo appends an information line.
func (a *Assembler) AddInfo(l Line) {
	a.commit(l)
	text := strings.TrimSpace(l.Text)
	if a.prefix != "" && strings.HasPrefix(text, a.prefix) {
		text = strings.TrimSpace(text[len(a.prefix):])
	}
	a.lines = append(a.lines, text)
}

// Lines returns the information lines collected so far.
func (a *Assembler) Lines() []string {
	return a.lines
}

// Final closes the response with a final result line.
func (a *Assembler) Final(l Line) ResultCode {
	a.commit(l)
	a.final = true
	a.result, a.errText = ParseResult(l.Text)
	a.noncompliant = IsTextualFinal(l.Text) && !l.Header
	return a.result
}

// Done reports whether a final result has been seen.
func (a *Assembler) Done() bool {
	return a.final
}

// Trailer validates a CRC trailer line against the committed raw bytes.
func (a *Assembler) Trailer(l Line, cfg Config) CRCStatus {
	raw := append(append([]byte(nil), a.raw...), a.pending...)
	a.crc = CheckTrailer(raw, l, cfg)
	a.pending = a.pending[:0]
	return a.crc
}

// CheckTrailer validates trailer against the raw bytes of the output it
// closes.
func CheckTrailer(raw []byte, trailer Line, cfg Config) CRCStatus {
	_, want, ok := SplitCRC(trailer.Text, cfg.CRCSep)
	if !ok {
		return CRCInvalid
	}
	if cfg.CRCVariant.Checksum(TrailerCoverage(raw, trailer, cfg)) != want {
		return CRCInvalid
	}
	return CRCValid
}

// TrailerCoverage returns the bytes a trailer checks: raw followed by the
// framing that precedes the separator on the trailer line. A line feed
// left over from the terminator of earlier output is not covered.
func TrailerCoverage(raw []byte, trailer Line, cfg Config) []byte {
	covered := append([]byte(nil), raw...)
	if i := bytes.LastIndexByte(trailer.Raw, cfg.CRCSep); i >= 0 {
		covered = append(covered, trailer.Raw[:i]...)
	}
	if len(covered) > 1 && covered[0] == cfg.LF && covered[1] == cfg.CR {
		covered = covered[1:]
	}
	return covered
}

// MissingCRC records that a CRC trailer was expected but never arrived.
func (a *Assembler) MissingCRC() {
	a.crc = CRCInvalid
}

// Raw returns the committed raw bytes of the response.
func (a *Assembler) Raw() []byte {
	return a.raw
}

// Response builds the immutable result.
func (a *Assembler) Response() Response {
	r := Response{
		Result:       a.result,
		CRC:          a.crc,
		Noncompliant: a.noncompliant,
	}
	if !a.final {
		r.Result = ResultTimeout
	}
	switch {
	case a.result == ResultCMEError || a.result == ResultCMSError:
		r.Info = a.errText
	case a.result == ResultUnknown && a.final:
		r.Info = strings.Join(append(a.lines[:len(a.lines):len(a.lines)], a.errText), "\n")
	default:
		r.Info = strings.Join(a.lines, "\n")
	}
	if r.Info == "" && a.noncompliant {
		r.Info = MissingTrailer
	}
	return r
}
