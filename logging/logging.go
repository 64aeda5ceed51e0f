// Package logging builds the zap.Logger the rest of the engine logs
// through, optionally backed by a lumberjack-rotated file instead of
// stderr, mirroring how this project's ecosystem wires the two together.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/go-fcgi/fcgiserver/config"
)

// New builds a *zap.Logger from cfg. An empty cfg.FilePath logs to
// stderr; otherwise a rolling file sink is used and nothing is written to
// the process's own stderr.
func New(cfg config.Logging) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	sink := zapcore.AddSync(newWriter(cfg))
	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

// newWriter returns stderr's sync writer, or a lumberjack-rotated file
// writer when cfg.FilePath is set.
func newWriter(cfg config.Logging) zapcore.WriteSyncer {
	if cfg.FilePath == "" {
		return zapcore.Lock(zapcore.AddSync(os.Stderr))
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	})
}
