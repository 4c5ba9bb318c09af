package simulator

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed commands.toml
var defaultTable []byte

// Command describes how the simulator answers one command.
//
// Responses are written in the verbose grammar and converted when the
// simulated modem runs with ATV0.
type Command struct {
	// Name is matched case-insensitively. A name ending in '=' matches any
	// argument, available to Response as {request}.
	Name     string `toml:"name"`
	Response string `toml:"response"`
	DelayMS  int    `toml:"delay_ms"`
	// HasEcho means Response already contains the echo of the command.
	HasEcho bool `toml:"has_echo"`
	// BadByte inserts 0xFF at the position named by the argument: B, M or
	// E for the beginning, middle or end of the first information line.
	BadByte bool `toml:"bad_byte"`
	BadCRC  bool `toml:"bad_crc"`

	// IntermediateResponse is sent before the command completes, for
	// example a "> " data prompt.
	IntermediateResponse string `toml:"intermediate_response"`
	// IntermediatePause holds the command after the intermediate response
	// until Release is called.
	IntermediatePause bool `toml:"intermediate_pause"`

	DataModeEntry bool   `toml:"data_mode_entry"`
	DataModeURC   string `toml:"data_mode_urc"`
	// DataModeExitSequence ends data mode when received. "<auto>" ends it
	// once the line goes idle after some data.
	DataModeExitSequence string `toml:"data_mode_exit_sequence"`
	DataModeExitResponse string `toml:"data_mode_exit_response"`

	// DataReply is binary output of the command: sent after the
	// intermediate response, after entering data mode, or after the final
	// result when neither applies.
	DataReply   string `toml:"data_reply"`
	DataDelayMS int    `toml:"data_delay_ms"`

	// XModem runs an XMODEM-CRC transfer after the intermediate response.
	// The simulator sends DataReply, or receives when it is empty.
	XModem bool `toml:"xmodem"`
}

func (c Command) wildcard() bool {
	return strings.HasSuffix(c.Name, "=")
}

// Table is a set of simulated commands.
type Table struct {
	Commands []Command `toml:"command"`
}

// ParseTable decodes a TOML command table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse command table: %w", err)
	}
	for i, c := range t.Commands {
		if c.Name == "" {
			return nil, fmt.Errorf("parse command table: command %d has no name", i)
		}
	}
	return &t, nil
}

// LoadTable reads a TOML command table from path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTable(data)
}

// DefaultTable returns the built in command table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTable)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup finds the command answering request. Exact names win over
// wildcards; among wildcards the longest name wins. arg is the text after a
// matched wildcard.
func (t *Table) Lookup(request string) (cmd Command, arg string, ok bool) {
	best := -1
	for i, c := range t.Commands {
		if strings.EqualFold(c.Name, request) {
			return c, "", true
		}
		if c.wildcard() && len(request) >= len(c.Name) && strings.EqualFold(request[:len(c.Name)], c.Name) {
			if best < 0 || len(c.Name) > len(t.Commands[best].Name) {
				best = i
			}
		}
	}
	if best < 0 {
		return Command{}, "", false
	}
	c := t.Commands[best]
	return c, request[len(c.Name):], true
}
