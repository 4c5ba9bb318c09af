package at_test

import (
	"errors"
	"strings"
	"testing"

	"i4.energy/across/atcommand/at"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*at.Config)
		valid  bool
	}{
		{"Defaults", func(*at.Config) {}, true},
		{"Printable terminator", func(c *at.Config) { c.CR = 'x' }, false},
		{"Terminator equals line feed", func(c *at.Config) { c.CR = at.LF }, false},
		{"Backspace equals carriage return", func(c *at.Config) { c.BS = at.CR }, false},
		{"Control character separator", func(c *at.Config) { c.CRCSep = 0x01 }, false},
		{"Custom separator", func(c *at.Config) { c.CRCSep = '#' }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := at.DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid config, got %v", err)
			}
			if !tt.valid && !errors.Is(err, at.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigTerminators(t *testing.T) {
	cfg := at.DefaultConfig()
	if cfg.Terminator() != "\r" {
		t.Errorf("unexpected terminator %q", cfg.Terminator())
	}
	if cfg.ResponseTerminator() != "\r\n" {
		t.Errorf("unexpected verbose terminator %q", cfg.ResponseTerminator())
	}
	cfg.Verbose = false
	if cfg.ResponseTerminator() != "\r" {
		t.Errorf("unexpected numeric terminator %q", cfg.ResponseTerminator())
	}
}

func TestConfigString(t *testing.T) {
	cfg := at.DefaultConfig()
	cfg.CRC = true

	s := cfg.String()
	for _, want := range []string{"echo=true", "verbose=true", "crc=true", "crc_variant=xmodem", "cr=<cr>", "lf=<lf>"} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in %q", want, s)
		}
	}
}

func TestPrintable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"AT\r", "AT<cr>"},
		{"\r\nOK\r\n", "<cr><lf>OK<cr><lf>"},
		{"AB\bC", "AB<bs>C"},
		{"Info\xffline", "Info[255]line"},
		{"\x1a", "[26]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := at.Printable(tt.input); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
