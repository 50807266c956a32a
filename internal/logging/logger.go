// Package logging builds the zap logger for the configured environment.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Constants for different environment types.
const (
	EnvLocal = "local"
	EnvDev   = "development"
	EnvProd  = "production"
)

// New builds a logger for env. Unknown environments get a minimal
// error-level JSON logger that reports the misconfiguration.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config

	switch env {
	case EnvLocal:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case EnvDev:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.EncoderConfig.TimeKey = "ts"
	case EnvProd:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		cfg.EncoderConfig.TimeKey = ""
	default:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
		cfg.EncoderConfig.TimeKey = ""
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build %q logger: %w", env, err)
	}

	if !Known(env) {
		logger.Error("The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			zap.String("available_envs", "local, development, production"))
	}
	return logger, nil
}

// Known reports whether env names a supported environment.
func Known(env string) bool {
	switch env {
	case EnvLocal, EnvDev, EnvProd:
		return true
	}
	return false
}
