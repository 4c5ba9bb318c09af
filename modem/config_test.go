package modem_test

import (
	"errors"
	"testing"
	"time"

	"i4.energy/across/atcommand/at"
	"i4.energy/across/atcommand/internal/simulator"
	"i4.energy/across/atcommand/modem"
)

func TestConfig(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := modem.NewConfigBuilder().Build()

		if err != modem.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Defaults are applied", func(t *testing.T) {
		sim := simulator.New()
		defer sim.Close()

		cfg, err := modem.NewConfigBuilder().WithDialer(sim).Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Logger == nil {
			t.Error("expected a default logger")
		}
		if cfg.AT != at.DefaultConfig() {
			t.Errorf("expected the factory grammar, got %v", cfg.AT)
		}
		if cfg.ATTimeout != 5*time.Second || cfg.TrailerTimeout != 500*time.Millisecond {
			t.Errorf("unexpected timeouts %v %v", cfg.ATTimeout, cfg.TrailerTimeout)
		}
		if cfg.CRCEnable != at.CmdCRCOn || cfg.CRCDisable != at.CmdCRCOff {
			t.Errorf("unexpected crc commands %q %q", cfg.CRCEnable, cfg.CRCDisable)
		}
		if cfg.MaxLineLength != at.DefaultMaxLineLength {
			t.Errorf("unexpected max line length %d", cfg.MaxLineLength)
		}
	})

	t.Run("Invalid grammar is rejected", func(t *testing.T) {
		sim := simulator.New()
		defer sim.Close()

		bad := at.DefaultConfig()
		bad.CR = 'x'
		_, err := modem.NewConfigBuilder().WithDialer(sim).WithATConfig(bad).Build()
		if !errors.Is(err, at.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got: %v", err)
		}
	})

	t.Run("Builder slices are copied", func(t *testing.T) {
		sim := simulator.New()
		defer sim.Close()

		b := modem.NewConfigBuilder().WithDialer(sim).WithURCPrefixes("RING")
		cfg, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		b.WithURCPrefixes("+CREG:")
		if len(cfg.URCPrefixes) != 1 {
			t.Errorf("expected built config to be unaffected, got %v", cfg.URCPrefixes)
		}
	})
}
