package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. The local environment gets a
// human-readable development logger; everything else logs JSON.
func NewLogger(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "local" || env == "dev" || env == "test" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.DisableStacktrace = true

	return cfg.Build(zap.Fields(zap.String("service", "ekaya-analyst")))
}
