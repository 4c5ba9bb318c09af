// Package logging builds the zap loggers used by the command line tools.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger at level ("debug", "info", "warn", "error").
// Development loggers are human readable with ISO8601 times; production
// loggers write JSON with epoch milliseconds.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var config zap.Config
	var encoderConf zapcore.EncoderConfig
	if development {
		config = zap.NewDevelopmentConfig()
		encoderConf = zap.NewDevelopmentEncoderConfig()
		encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConf = zap.NewProductionEncoderConfig()
		encoderConf.EncodeTime = zapcore.EpochMillisTimeEncoder
	}
	config.EncoderConfig = encoderConf
	config.Level = zap.NewAtomicLevelAt(lvl)

	return config.Build()
}
