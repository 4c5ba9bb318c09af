package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP gateway listens on (e.g. "0.0.0.0:8080")
	BindAddress string `toml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `toml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `toml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `toml:"log_level"`
	// Development switches to human readable log output
	Development bool `toml:"development"`
	// RelayAddress is the address the serial relay listens on
	RelayAddress string `toml:"relay_address"`
	// RemoteAddress, when set, reaches the modem through a relay instead
	// of the local serial port (e.g. "192.168.1.10:7000")
	RemoteAddress string `toml:"remote_address"`
	// URCPrefixes are additional line prefixes always treated as URCs
	URCPrefixes []string `toml:"urc_prefixes"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.RelayAddress = "0.0.0.0:7000"
		return nil
	}
}

// WithFile loads configuration from a TOML file. Keys absent from the
// file keep their current value. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if addr := os.Getenv("RELAY_ADDRESS"); addr != "" {
			c.RelayAddress = addr
		}

		if addr := os.Getenv("REMOTE_ADDRESS"); addr != "" {
			c.RemoteAddress = addr
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags that were set
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *pflag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "dev":
				c.Development = f.Value.String() == "true"
			case "relay-address":
				c.RelayAddress = f.Value.String()
			case "remote-address":
				c.RemoteAddress = f.Value.String()
			case "urc-prefix":
				if s, ok := f.Value.(pflag.SliceValue); ok {
					c.URCPrefixes = s.GetSlice()
				} else {
					c.URCPrefixes = strings.Split(f.Value.String(), ",")
				}
			}
		})
		return nil
	}
}
