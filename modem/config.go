package modem

import (
	"time"

	"go.uber.org/zap"

	"i4.energy/across/atcommand/at"
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

// Config controls how a Client connects to and talks with a modem.
type Config struct {
	Dialer Dialer
	Logger *zap.Logger

	// AT is the grammar assumed before the first response is seen.
	AT at.Config

	// ATTimeout is the default time allowed for a final result.
	ATTimeout time.Duration
	// InitTimeout bounds the initial probe in New.
	InitTimeout time.Duration
	// PollInterval is the transport read timeout, the granularity at which
	// deadlines and cancellation are noticed.
	PollInterval time.Duration
	// TrailerTimeout is how long to wait for a CRC trailer after the final
	// result before the response is marked invalid.
	TrailerTimeout time.Duration
	MaxLineLength  int

	CRCEnable  string
	CRCDisable string

	// URCPrefixes are line prefixes that are always unsolicited.
	URCPrefixes []string
	// BaudRates are tried in order during the probe when the transport
	// implements BaudRateSetter.
	BaudRates []int
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.AT == (at.Config{}) {
		c.AT = at.DefaultConfig()
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 5 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.TrailerTimeout == 0 {
		c.TrailerTimeout = 500 * time.Millisecond
	}
	if c.MaxLineLength == 0 {
		c.MaxLineLength = at.DefaultMaxLineLength
	}
	if c.CRCEnable == "" {
		c.CRCEnable = at.CmdCRCOn
	}
	if c.CRCDisable == "" {
		c.CRCDisable = at.CmdCRCOff
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	cfg Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.cfg.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *zap.Logger) *ConfigBuilder {
	b.cfg.Logger = l
	return b
}

// WithATConfig sets the grammar assumed at connect time, for example when
// the modem is known to start with echo disabled.
func (b *ConfigBuilder) WithATConfig(c at.Config) *ConfigBuilder {
	b.cfg.AT = c
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.cfg.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithTrailerTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.TrailerTimeout = d
	return b
}

func (b *ConfigBuilder) WithMaxLineLength(n int) *ConfigBuilder {
	b.cfg.MaxLineLength = n
	return b
}

// WithCRCCommands overrides the commands that switch CRC framing on and off.
func (b *ConfigBuilder) WithCRCCommands(enable, disable string) *ConfigBuilder {
	b.cfg.CRCEnable = enable
	b.cfg.CRCDisable = disable
	return b
}

func (b *ConfigBuilder) WithURCPrefixes(prefixes ...string) *ConfigBuilder {
	b.cfg.URCPrefixes = append(b.cfg.URCPrefixes, prefixes...)
	return b
}

func (b *ConfigBuilder) WithBaudRates(rates ...int) *ConfigBuilder {
	b.cfg.BaudRates = append(b.cfg.BaudRates, rates...)
	return b
}

// Build applies defaults and validates the result.
func (b *ConfigBuilder) Build() (Config, error) {
	cfg := b.cfg
	cfg.URCPrefixes = append([]string(nil), b.cfg.URCPrefixes...)
	cfg.BaudRates = append([]int(nil), b.cfg.BaudRates...)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.AT.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
