package at

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sigurn/crc16"
)

// CRCVariant selects the CRC-16 parameters used for line framing.
type CRCVariant int

const (
	// CRCXModem is CRC-16/XMODEM: polynomial 0x1021, initial value 0.
	CRCXModem CRCVariant = iota
	// CRCCCITTFalse is CRC-16/CCITT-FALSE: polynomial 0x1021, initial value
	// 0xFFFF. Satellite modems implementing AT%CRC use this variant.
	CRCCCITTFalse
)

var crcTables = map[CRCVariant]*crc16.Table{
	CRCXModem:     crc16.MakeTable(crc16.CRC16_XMODEM),
	CRCCCITTFalse: crc16.MakeTable(crc16.CRC16_CCITT_FALSE),
}

func (v CRCVariant) String() string {
	switch v {
	case CRCXModem:
		return "xmodem"
	case CRCCCITTFalse:
		return "ccitt-false"
	default:
		return "unknown"
	}
}

// Checksum computes the 16-bit CRC of data.
func (v CRCVariant) Checksum(data []byte) uint16 {
	table, ok := crcTables[v]
	if !ok {
		table = crcTables[CRCXModem]
	}
	return crc16.Checksum(data, table)
}

// Apply appends the separator and 4 uppercase hex digits of the CRC of line.
func (v CRCVariant) Apply(line string) string {
	return v.ApplySep(line, CRCSep)
}

// ApplySep is Apply with a configurable separator.
func (v CRCVariant) ApplySep(line string, sep byte) string {
	return fmt.Sprintf("%s%c%04X", line, sep, v.Checksum([]byte(line)))
}

// Validate splits line on the last occurrence of sep and reports whether
// the hex suffix matches the CRC of the prefix.
func (v CRCVariant) Validate(line string, sep byte) bool {
	prefix, want, ok := SplitCRC(line, sep)
	if !ok {
		return false
	}
	return v.Checksum([]byte(prefix)) == want
}

// ApplyCRC appends a CRC-16/XMODEM suffix to line: line + "*" + hex16.
func ApplyCRC(line string) string {
	return CRCXModem.Apply(line)
}

// ValidateCRC checks a CRC-16/XMODEM suffix separated by sep.
func ValidateCRC(line string, sep byte) bool {
	return CRCXModem.Validate(line, sep)
}

// SplitCRC separates line at the last sep into the covered prefix and the
// parsed suffix value. The suffix must be exactly 4 hex digits.
func SplitCRC(line string, sep byte) (prefix string, crc uint16, ok bool) {
	i := strings.LastIndexByte(line, sep)
	if i < 0 {
		return "", 0, false
	}
	suffix := line[i+1:]
	if len(suffix) != 4 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(suffix, 16, 16)
	if err != nil {
		return "", 0, false
	}
	return line[:i], uint16(n), true
}

// HasCRC reports whether line ends in a well formed CRC suffix.
func HasCRC(line string, sep byte) bool {
	_, _, ok := SplitCRC(line, sep)
	return ok
}
