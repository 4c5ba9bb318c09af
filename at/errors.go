package at

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode is matched by every *DecodeError.
	//
	// A decode error is a line level anomaly. The offending line is
	// discarded and parsing continues with the next line.
	ErrDecode = errors.New("invalid character in line")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrCRCConfig is returned when CRC framing is used inconsistently, for
	// example a command carrying a suffix that does not validate.
	ErrCRCConfig = errors.New("crc configuration mismatch")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid modem config")
)

// DecodeError describes a line that was dropped by the Framer.
type DecodeError struct {
	// Line holds the raw bytes received for the dropped line.
	Line []byte
	// Byte is the first offending byte.
	Byte byte
	// Err is ErrDecode or ErrLineTooLong.
	Err error
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Err, ErrLineTooLong) {
		return fmt.Sprintf("%v (%d bytes)", e.Err, len(e.Line))
	}
	return fmt.Sprintf("%v [%d]: %s", e.Err, e.Byte, Printable(string(e.Line)))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
