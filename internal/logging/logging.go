// Package logging builds the gateway's zap logger from the configured
// logging mode.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/howard-nolan/isogate/internal/config"
)

// New returns a logger matching the configured mode: off disables
// logging entirely, metadata logs at Info, debug logs at Debug. The
// mode has already been validated by config.Load.
func New(mode string) *zap.Logger {
	if mode == config.LogOff {
		return zap.NewNop()
	}

	level := zap.InfoLevel
	if mode == config.LogDebug {
		level = zap.DebugLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	return zap.New(core)
}
