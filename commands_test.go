package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"i4.energy/across/atcommand/at"
	"i4.energy/across/atcommand/internal/simulator"
	"i4.energy/across/atcommand/relay"
)

func init() {
	color.NoColor = true
}

// startRelay shares a simulated modem over TCP for the lifetime of the test.
func startRelay(t *testing.T) string {
	t.Helper()
	sim := simulator.New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		sim.Close()
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	srv := &relay.Server{Dialer: sim, PollInterval: 5 * time.Millisecond}
	go func() {
		done <- srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("unexpected error from Serve(): %v", err)
		}
		sim.Close()
	})
	return ln.Addr().String()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendCommand(t *testing.T) {
	t.Run("Prints each response", func(t *testing.T) {
		addr := startRelay(t)
		out, err := run(t, "--remote-address", addr, "send", "AT+GMI", "AT+TEST=5")
		if err != nil {
			t.Fatalf("unexpected error: %v\n%s", err, out)
		}
		expected := "> AT+GMI\nSimulated Modems Inc\nOK\n> AT+TEST=5\n+TEST: 5\nOK\n"
		if out != expected {
			t.Errorf("expected %q, got %q", expected, out)
		}
	})

	t.Run("Strips the requested prefix", func(t *testing.T) {
		addr := startRelay(t)
		out, err := run(t, "--remote-address", addr, "send", "--prefix", "+TEST:", "AT+TEST=5")
		if err != nil {
			t.Fatalf("unexpected error: %v\n%s", err, out)
		}
		if expected := "> AT+TEST=5\n5\nOK\n"; out != expected {
			t.Errorf("expected %q, got %q", expected, out)
		}
	})

	t.Run("Stops at the first failed command", func(t *testing.T) {
		addr := startRelay(t)
		out, err := run(t, "--remote-address", addr, "send", "AT+NOPE", "AT+GMI")
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(out, "> AT+NOPE\nERROR\n") || strings.Contains(out, "AT+GMI") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("Requires a command", func(t *testing.T) {
		if _, err := run(t, "send"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("Relay refuses a remote modem", func(t *testing.T) {
		if _, err := run(t, "--remote-address", "127.0.0.1:1", "relay"); err == nil {
			t.Error("expected error")
		}
	})
}

func TestPrintResponse(t *testing.T) {
	tests := []struct {
		name     string
		resp     at.Response
		expected string
	}{
		{"OK without information", at.Response{Result: at.ResultOK}, "> AT\nOK\n"},
		{"Multiline information", at.Response{Result: at.ResultOK, Info: "a\nb"}, "> AT\na\nb\nOK\n"},
		{"Noncompliant", at.Response{Result: at.ResultOK, Noncompliant: true}, "> AT\nOK (noncompliant)\n"},
		{"CRC checked", at.Response{Result: at.ResultError, CRC: at.CRCInvalid}, "> AT\nERROR [crc invalid]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printResponse(&out, "AT", tt.resp)
			if out.String() != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, out.String())
			}
		})
	}
}
