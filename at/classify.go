package at

import (
	"slices"
	"strings"
)

// v0Finals is the closed set of numeric result codes closing a command.
// 1 (CONNECT) and 2 (RING) are intermediate or unsolicited and excluded.
var v0Finals = map[string]ResultCode{
	"0": ResultOK,
	"3": ResultError, // NO CARRIER
	"4": ResultError,
	"6": ResultError, // NO DIALTONE
	"7": ResultError, // BUSY
	"8": ResultError, // NO ANSWER
}

// Classify identifies the grammatical nature of a completed line.
//
// Numeric V0 codes are final when cfg establishes V0, or when the line is
// the first line of a response and was not framed by a V1 header. The
// latter is how a switch to V0 (ATV0, or a modem reset to V0) is detected
// without mistaking numeric V1 information lines for results.
func Classify(l Line, cfg Config, first bool) Kind {
	if l.Blank {
		return KindText
	}
	text := l.Text
	if isTrailer(text, cfg.CRCSep) {
		return KindTrailer
	}
	if IsTextualFinal(text) {
		return KindFinal
	}
	if _, ok := v0Finals[text]; ok {
		if !cfg.Verbose || (first && !l.Header) {
			return KindFinal
		}
	}
	return KindText
}

// IsTextualFinal reports whether line is a V1 final result token.
func IsTextualFinal(line string) bool {
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return true
	}
	return strings.HasPrefix(line, CmeError) || strings.HasPrefix(line, CmsError)
}

// IsNumericFinal reports whether line is one of the V0 final codes.
func IsNumericFinal(line string) bool {
	_, ok := v0Finals[line]
	return ok
}

func isTrailer(line string, sep byte) bool {
	if len(line) != 5 || line[0] != sep {
		return false
	}
	return HasCRC(line, sep)
}

// ExtendedPrefix returns the information prefix an extended command is
// expected to answer with, for example "+CGDCONT:" for "AT+CGDCONT?".
// Basic commands (ATI, ATE0, ...) have no prefix. Only the first command
// of a concatenated line is considered.
func ExtendedPrefix(cmd string) string {
	if len(cmd) < 3 || !strings.EqualFold(cmd[:2], "AT") {
		return ""
	}
	return commandPrefix(cmd[2:])
}

// ExtendedPrefixes returns the prefixes of every extended command in a
// command line, so "AT+CSQ;+CREG?" yields "+CSQ:" and "+CREG:".
func ExtendedPrefixes(cmd string) []string {
	if len(cmd) < 3 || !strings.EqualFold(cmd[:2], "AT") {
		return nil
	}
	var prefixes []string
	for _, sub := range splitCommands(cmd[2:]) {
		p := commandPrefix(strings.TrimSpace(sub))
		if p != "" && !slices.Contains(prefixes, p) {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

// commandPrefix derives the prefix of one command without its AT.
func commandPrefix(sub string) string {
	if len(sub) < 2 {
		return ""
	}
	switch sub[0] {
	case '+', '%', '!', '$', '^', '#':
	default:
		return ""
	}
	name := sub[1:]
	if end := strings.IndexAny(name, "=?*;"); end >= 0 {
		name = name[:end]
	}
	if name == "" {
		return ""
	}
	return string(sub[0]) + strings.ToUpper(name) + ":"
}

// splitCommands splits a concatenated command line on semicolons outside
// quoted strings.
func splitCommands(line string) []string {
	var (
		parts  []string
		start  int
		quoted bool
	)
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ';':
			if !quoted {
				parts = append(parts, line[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, line[start:])
}

// LinePrefix returns the extended prefix ("+CEREG:") a line starts with, or
// the empty string.
func LinePrefix(line string) string {
	if len(line) < 3 {
		return ""
	}
	switch line[0] {
	case '+', '%', '!', '$', '^', '#':
	default:
		return ""
	}
	i := strings.IndexByte(line, ':')
	if i < 2 {
		return ""
	}
	for _, c := range line[1:i] {
		if !isNameChar(c) {
			return ""
		}
	}
	return line[:i+1]
}

func isNameChar(c rune) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '.'
}
