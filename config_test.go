package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atcommand.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fSet.String("serial-port", "/dev/ttyUSB0", "")
	fSet.Int("baud-rate", 115200, "")
	fSet.String("remote-address", "", "")
	fSet.String("log-level", "info", "")
	fSet.Bool("dev", false, "")
	fSet.StringSlice("urc-prefix", nil, "")
	if err := fSet.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fSet
}

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		c, err := LoadConfig(WithDefaults())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := &Config{
			BindAddress:  "0.0.0.0:8080",
			SerialPort:   "/dev/ttyUSB0",
			BaudRate:     115200,
			LogLevel:     "info",
			RelayAddress: "0.0.0.0:7000",
		}
		if !reflect.DeepEqual(c, expected) {
			t.Errorf("expected %+v, got %+v", expected, c)
		}
	})

	t.Run("File overrides defaults for the keys it sets", func(t *testing.T) {
		path := writeConfigFile(t, `
serial_port = "/dev/ttyACM0"
baud_rate = 9600
urc_prefixes = ["+UUSORD:", "+QIURC:"]
`)
		c, err := LoadConfig(WithDefaults(), WithFile(path))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.SerialPort != "/dev/ttyACM0" || c.BaudRate != 9600 {
			t.Errorf("file values not applied: %+v", c)
		}
		if c.LogLevel != "info" || c.BindAddress != "0.0.0.0:8080" {
			t.Errorf("defaults lost: %+v", c)
		}
		if !reflect.DeepEqual(c.URCPrefixes, []string{"+UUSORD:", "+QIURC:"}) {
			t.Errorf("unexpected urc prefixes %q", c.URCPrefixes)
		}
	})

	t.Run("Empty file path is ignored", func(t *testing.T) {
		if _, err := LoadConfig(WithDefaults(), WithFile("")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		if _, err := LoadConfig(WithFile(filepath.Join(t.TempDir(), "absent.toml"))); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("Invalid file", func(t *testing.T) {
		path := writeConfigFile(t, "baud_rate = \"fast\"\n")
		if _, err := LoadConfig(WithFile(path)); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("Environment overrides file", func(t *testing.T) {
		path := writeConfigFile(t, "serial_port = \"/dev/ttyACM0\"\n")
		t.Setenv("SERIAL_PORT", "/dev/ttyS1")
		t.Setenv("BAUD_RATE", "57600")
		t.Setenv("REMOTE_ADDRESS", "10.0.0.5:7000")
		c, err := LoadConfig(WithDefaults(), WithFile(path), WithEnv())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.SerialPort != "/dev/ttyS1" || c.BaudRate != 57600 || c.RemoteAddress != "10.0.0.5:7000" {
			t.Errorf("environment not applied: %+v", c)
		}
	})

	t.Run("Invalid baud rate in environment is ignored", func(t *testing.T) {
		t.Setenv("BAUD_RATE", "fast")
		c, err := LoadConfig(WithDefaults(), WithEnv())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.BaudRate != 115200 {
			t.Errorf("expected default baud rate, got %d", c.BaudRate)
		}
	})

	t.Run("Only flags that were set override", func(t *testing.T) {
		t.Setenv("SERIAL_PORT", "/dev/ttyS1")
		fSet := testFlags(t, "--baud-rate", "230400", "--dev", "--urc-prefix", "+A:,+B:")
		c, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(fSet))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.SerialPort != "/dev/ttyS1" {
			t.Errorf("unset flag overrode environment: %q", c.SerialPort)
		}
		if c.BaudRate != 230400 || !c.Development {
			t.Errorf("flags not applied: %+v", c)
		}
		if !reflect.DeepEqual(c.URCPrefixes, []string{"+A:", "+B:"}) {
			t.Errorf("unexpected urc prefixes %q", c.URCPrefixes)
		}
	})
}
