// Package obslog builds the structured zap logger shared across the CLI
// commands and the long-running orchestrators, matching the level/profile
// knobs the teacher's configuration tests describe.
package obslog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Bootstrap is a usable logger available before configuration has loaded
// (flag parsing errors, config load failures). Commands replace it with a
// properly leveled logger once config.Load succeeds.
var Bootstrap = mustBootstrap()

func mustBootstrap() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		// Development config construction only fails on programmer error
		// (bad encoder name); a Nop logger keeps callers from needing a
		// second error path for something that cannot fail at runtime.
		return zap.NewNop()
	}
	return logger
}

// New builds a production-profile logger at the given level ("debug",
// "info", "warn", "error"; empty defaults to "info"). Timestamps are
// ISO8601, matching the teacher's STRUCTURED logging profile.
func New(level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("obslog: invalid log level %q: %w", level, err)
	}
	return lvl, nil
}
