package at

import (
	"fmt"
	"strings"
)

// Config is the modem reported configuration that drives the grammar.
//
// The engine treats a Config as a value: the Framer and Classify receive a
// snapshot per line and updates are only applied at line boundaries.
type Config struct {
	// Echo reports the modem echoes command lines (ATE1).
	Echo bool
	// Verbose selects the V1 textual grammar, false selects V0 numeric codes.
	Verbose bool
	// CRC reports a CRC trailer is appended to responses and expected on
	// commands.
	CRC bool
	// CRCVariant picks the CRC-16 parameters.
	CRCVariant CRCVariant

	CR     byte
	LF     byte
	BS     byte
	CRCSep byte
}

// DefaultConfig returns the factory state assumed for a new connection:
// echo on, verbose on, no CRC.
func DefaultConfig() Config {
	return Config{
		Echo:    true,
		Verbose: true,
		CR:      CR,
		LF:      LF,
		BS:      BS,
		CRCSep:  CRCSep,
	}
}

// Terminator returns the command line terminator.
func (c Config) Terminator() string {
	return string(c.CR)
}

// ResponseTerminator returns the line framing expected from the modem in
// the current grammar.
func (c Config) ResponseTerminator() string {
	if c.Verbose {
		return string([]byte{c.CR, c.LF})
	}
	return string(c.CR)
}

// Validate checks the terminator bytes are distinct control characters and
// the CRC separator is printable.
func (c Config) Validate() error {
	for name, b := range map[string]byte{"cr": c.CR, "lf": c.LF, "bs": c.BS} {
		if b >= 0x20 {
			return fmt.Errorf("%w: %s must be a control character, got %q", ErrInvalidConfig, name, b)
		}
	}
	if c.CR == c.LF || c.CR == c.BS || c.LF == c.BS {
		return fmt.Errorf("%w: cr, lf and bs must differ", ErrInvalidConfig)
	}
	if !IsPrintable(c.CRCSep) || c.CRCSep == c.CR || c.CRCSep == c.LF {
		return fmt.Errorf("%w: crc separator %q must be printable", ErrInvalidConfig, c.CRCSep)
	}
	return nil
}

// String renders the config with terminators made visible.
func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "echo=%t verbose=%t crc=%t", c.Echo, c.Verbose, c.CRC)
	if c.CRC {
		fmt.Fprintf(&b, " crc_variant=%s", c.CRCVariant)
	}
	fmt.Fprintf(&b, " cr=%s lf=%s bs=%s crc_sep=%c",
		Printable(string(c.CR)), Printable(string(c.LF)), Printable(string(c.BS)), c.CRCSep)
	return b.String()
}

// IsPrintable reports whether b may appear inside a line: ASCII 32..125.
// Terminators and backspace are handled by the Framer before this check.
func IsPrintable(b byte) bool {
	return b >= 32 && b <= 125
}

// Printable renders s on a single line for logging.
func Printable(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == CR:
			b.WriteString("<cr>")
		case c == LF:
			b.WriteString("<lf>")
		case c == BS:
			b.WriteString("<bs>")
		case !IsPrintable(c):
			fmt.Fprintf(&b, "[%d]", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
