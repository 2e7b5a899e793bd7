package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

type Style string

const (
	StyleJSON     Style = "json"
	StyleTerminal Style = "terminal"
	StyleNoop     Style = "noop"
)

type Config struct {
	Level Level
	Style Style
}

// NewLogger builds a zap logger for the CLI. Unknown levels fall back to info.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Style == StyleNoop {
		return zap.NewNop(), nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(string(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	switch cfg.Style {
	case StyleTerminal, "":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	case StyleJSON:
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log style %q", cfg.Style)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
