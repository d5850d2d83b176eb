// Package logging wraps zap.Logger with this module's level/format
// conventions. It is the only logging entry point the manager constructor
// takes; there is no global logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config configures a Logger. Zero value is valid and yields an
// info-level JSON logger on stdout.
type Config struct {
	Level        Level
	Format       Format
	OutputPaths  []string
	EnableCaller bool
}

// New builds a *zap.Logger from cfg, following the teacher's
// level/format/output-path setup.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	var level zapcore.Level
	switch cfg.Level {
	case LevelDebug:
		level = zapcore.DebugLevel
	case LevelWarn:
		level = zapcore.WarnLevel
	case LevelError:
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      false,
		Encoding:         string(cfg.Format),
		EncoderConfig:    encoderCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.EnableCaller {
		return zc.Build(zap.AddCaller())
	}
	return zc.Build()
}

// Nop returns a no-op logger, used as the default when the caller passes
// nil to a constructor that needs one.
func Nop() *zap.Logger { return zap.NewNop() }
