package simulator

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"i4.energy/across/atcommand/at"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// exchange writes line to the modem and collects its output until it has
// been quiet for a while.
func exchange(t *testing.T, m *Modem, line string) string {
	t.Helper()
	p := m.Port()
	p.SetReadTimeout(50 * time.Millisecond)
	if _, err := p.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}
	return drain(p)
}

func drain(p *Port) string {
	var out strings.Builder
	buf := make([]byte, 256)
	for quiet := 0; quiet < 3; {
		n, _ := p.Read(buf)
		if n == 0 {
			quiet++
			continue
		}
		quiet = 0
		out.Write(buf[:n])
	}
	return out.String()
}

func TestModemResponses(t *testing.T) {
	tests := []struct {
		name     string
		setup    []string
		line     string
		expected string
	}{
		{"Echo and OK", nil, "AT\r", "AT\r\r\nOK\r\n"},
		{"Echo off", []string{"ATE0\r"}, "AT\r", "\r\nOK\r\n"},
		{"Numeric results", []string{"ATE0\r", "ATV0\r"}, "AT+GMI\r", "Simulated Modems Inc\r\n0\r"},
		{"Verbose information", []string{"ATE0\r"}, "AT+GMI\r", "\r\nSimulated Modems Inc\r\n\r\nOK\r\n"},
		{"Unknown command", []string{"ATE0\r"}, "AT+NOPE\r", "\r\nERROR\r\n"},
		{"Wildcard argument", []string{"ATE0\r"}, "AT+TEST=42\r", "\r\n+TEST: 42\r\n\r\nOK\r\n"},
		{"Backspace edits the line", []string{"ATE0\r"}, "ATX\bI\r", "\r\nSimulated Modems Inc\r\n\r\nModel 1 Revision 1.0\r\n\r\nOK\r\n"},
		{"CRC trailer", []string{"ATE0\r", "AT%CRC=1\r"}, "AT*248C\r", "\r\nOK\r\n*88D5\r\n"},
		{"CRC required", []string{"ATE0\r", "AT%CRC=1\r"}, "AT\r", "\r\nERROR\r\n*9CAB\r\n"},
		{"Bad byte", []string{"ATE0\r"}, "AT+BADBYTE=M\r", "\r\nInfo\xff line\r\n\r\nOK\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			defer m.Close()
			for _, s := range tt.setup {
				exchange(t, m, s)
			}
			if got := exchange(t, m, tt.line); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestModemBaudRate(t *testing.T) {
	m := New(WithBaudRate(115200))
	defer m.Close()

	if got := exchange(t, m, "AT\r"); got != "" {
		t.Fatalf("expected silence at the wrong speed, got %q", got)
	}
	m.Port().SetBaudRate(115200)
	if got := exchange(t, m, "AT\r"); got != "AT\r\r\nOK\r\n" {
		t.Errorf("unexpected response %q", got)
	}
}

func TestModemDataMode(t *testing.T) {
	m := New(WithConfig(at.Config{Verbose: true, CR: at.CR, LF: at.LF, BS: at.BS, CRCSep: at.CRCSep}))
	defer m.Close()

	if got := exchange(t, m, "AT+SESSION\r"); got != "\r\nOK\r\n\r\nCONNECT\r\n" {
		t.Fatalf("unexpected session start %q", got)
	}
	exchange(t, m, "raw\rdata")
	if got := exchange(t, m, "+++"); got != "\r\nOK\r\n" {
		t.Fatalf("unexpected session end %q", got)
	}
	received := m.Received()
	if len(received) != 1 || string(received[0]) != "raw\rdata" {
		t.Errorf("unexpected data %q", received)
	}
	if got := exchange(t, m, "AT\r"); got != "\r\nOK\r\n" {
		t.Errorf("expected command mode after the session, got %q", got)
	}
}

func TestModemInjectURC(t *testing.T) {
	m := New()
	defer m.Close()

	m.InjectURC("RING")
	if got := drain(withTimeout(m.Port())); got != "\r\nRING\r\n" {
		t.Errorf("unexpected urc %q", got)
	}

	m.Configure(func(c *at.Config) { c.Verbose = false })
	m.InjectURC("RING")
	if got := drain(m.Port()); got != "RING\r\n" {
		t.Errorf("unexpected numeric urc %q", got)
	}
}

func withTimeout(p *Port) *Port {
	p.SetReadTimeout(50 * time.Millisecond)
	return p
}

func TestTableLookup(t *testing.T) {
	table := DefaultTable()
	tests := []struct {
		request string
		name    string
		arg     string
		found   bool
	}{
		{"AT+GMI", "AT+GMI", "", true},
		{"at+gmi", "AT+GMI", "", true},
		{"AT+TEST=abc", "AT+TEST=", "abc", true},
		{"AT+TEST", "", "", false},
		{"AT+UNKNOWN", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.request, func(t *testing.T) {
			c, arg, ok := table.Lookup(tt.request)
			if ok != tt.found {
				t.Fatalf("expected found=%v, got %v", tt.found, ok)
			}
			if c.Name != tt.name || arg != tt.arg {
				t.Errorf("expected %q/%q, got %q/%q", tt.name, tt.arg, c.Name, arg)
			}
		})
	}
}

func TestParseTable(t *testing.T) {
	t.Run("Missing name", func(t *testing.T) {
		if _, err := ParseTable([]byte("[[command]]\nresponse = \"x\"\n")); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("Invalid syntax", func(t *testing.T) {
		if _, err := ParseTable([]byte("[[command]\n")); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("Escapes", func(t *testing.T) {
		table, err := ParseTable([]byte("[[command]]\nname = \"AT+X\"\nresponse = \"\\r\\nOK\\r\\n\"\n"))
		if err != nil {
			t.Fatal(err)
		}
		if table.Commands[0].Response != "\r\nOK\r\n" {
			t.Errorf("unexpected response %q", table.Commands[0].Response)
		}
	})
}

func TestNumeric(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"\r\nOK\r\n", "0\r"},
		{"\r\nERROR\r\n", "4\r"},
		{"\r\n+CME ERROR: 10\r\n", "4\r"},
		{"\r\nNO CARRIER\r\n", "3\r"},
		{"\r\nInfo\r\n\r\nOK\r\n", "Info\r\n0\r"},
		{"\r\nRING\r\n", "RING\r\n"},
	}
	for _, tt := range tests {
		t.Run(at.Printable(tt.input), func(t *testing.T) {
			if got := numeric(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
