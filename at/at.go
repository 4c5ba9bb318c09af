package at

const (
	// Terminal Control
	CR     = '\r'
	LF     = '\n'
	BS     = '\b'
	CRLF   = "\r\n"
	Prompt = ">"

	// CRCSep separates a line from its CRC-16 suffix.
	CRCSep = '*'

	// Response Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"

	// Numeric (V0) result codes
	V0OK    = "0"
	V0Error = "4"

	// MissingTrailer is reported as info when a modem closes a command
	// without the framing the verbose grammar requires.
	MissingTrailer = "Missing trailer"
)

// Common commands used by the engine itself.
const (
	CmdAt         = "AT"
	CmdEchoOn     = "ATE1"
	CmdEchoOff    = "ATE0"
	CmdVerboseOn  = "ATV1"
	CmdVerboseOff = "ATV0"
	CmdCRCOn      = "AT%CRC=1"
	CmdCRCOff     = "AT%CRC=0"
)

// Kind is the grammatical class of a completed line.
type Kind int

const (
	KindText    Kind = iota // Echo, information or URC, decided by the caller
	KindFinal               // OK, ERROR, +CME ERROR, V0 codes
	KindTrailer             // CRC trailer "*XXXX"
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFinal:
		return "final"
	case KindTrailer:
		return "trailer"
	default:
		return "unknown"
	}
}
