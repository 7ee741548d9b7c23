// Package logging builds the zap loggers used across observe.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/najoast/observe/config"
)

// ANSI color codes
const (
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"

	red          = "\033[31m"
	gray         = "\033[90m"
	brightRed    = "\033[91m"
	brightYellow = "\033[93m"
	brightWhite  = "\033[97m"
)

// Component names for sub-loggers
const (
	ComponentActor        = "actor"
	ComponentChannel      = "channel"
	ComponentHost         = "host"
	ComponentClient       = "client"
	ComponentRegistry     = "registry"
	ComponentSubscription = "subscription"
	ComponentConfig       = "config"
	ComponentLifecycle    = "lifecycle"
)

// ParseLevel converts a configured level into a zap level.
func ParseLevel(level config.LogLevel) (zapcore.Level, error) {
	switch level {
	case config.LogLevelDebug:
		return zapcore.DebugLevel, nil
	case config.LogLevelInfo, "":
		return zapcore.InfoLevel, nil
	case config.LogLevelWarn:
		return zapcore.WarnLevel, nil
	case config.LogLevelError:
		return zapcore.ErrorLevel, nil
	case config.LogLevelFatal:
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, level)
	}
}

// New builds a logger from cfg. The returned level can be changed at runtime,
// e.g. after a config reload.
func New(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console", "":
		encoder = consoleEncoder(cfg.Color)
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("%w: %q", config.ErrInvalidLogFormat, cfg.Format)
	}

	sink, err := openOutput(cfg.Output)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), level, nil
}

// Component returns a sub-logger tagged with the component name.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}

func openOutput(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		return zapcore.Lock(zapcore.AddSync(file)), nil
	}
}

func levelColor(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return gray
	case zapcore.InfoLevel:
		return brightWhite
	case zapcore.WarnLevel:
		return brightYellow
	case zapcore.ErrorLevel:
		return brightRed
	default:
		return red
	}
}

// consoleEncoder prints short timestamps, single letter levels and bare
// file names.
func consoleEncoder(colors bool) zapcore.Encoder {
	encCfg := zap.NewDevelopmentEncoderConfig()

	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		ts := t.Format("15:04:05.000")
		if colors {
			ts = dim + ts + reset
		}
		enc.AppendString(ts)
	}

	encCfg.EncodeLevel = func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		s := strings.ToUpper(level.String()[:1])
		if colors {
			s = levelColor(level) + bold + s + reset
		}
		enc.AppendString(s)
	}

	encCfg.EncodeCaller = func(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		file := caller.File
		if idx := strings.LastIndex(file, "/"); idx >= 0 {
			file = file[idx+1:]
		}
		file = fmt.Sprintf("%s:%d", strings.TrimSuffix(file, ".go"), caller.Line)
		if colors {
			file = dim + file + reset
		}
		enc.AppendString(file)
	}

	return zapcore.NewConsoleEncoder(encCfg)
}
