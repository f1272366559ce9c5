// Package logger builds the zap loggers used by pools, queues and the CLI.
//
// Libraries never log through a package-level logger they did not receive: every
// constructor takes an optional *zap.Logger and falls back to Get. Get lazily builds a
// JSON logger at info level the first time it is needed.
package logger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global   *zap.Logger
	globalMu sync.RWMutex
	initOnce sync.Once
)

type contextKey string

// Context keys whose string values WithContext copies into log fields
const (
	RequestIDKey contextKey = "request_id"
	PoolKey      contextKey = "pool"
	QueueKey     contextKey = "queue"
)

var contextFields = []contextKey{RequestIDKey, PoolKey, QueueKey}

// Config selects level, encoding and sinks
type Config struct {
	Level       string   `yaml:"level" json:"level" mapstructure:"level" toml:"level"`
	Development bool     `yaml:"development" json:"development" mapstructure:"development" toml:"development"`
	Encoding    string   `yaml:"encoding" json:"encoding" mapstructure:"encoding" toml:"encoding"` // json or console
	OutputPaths []string `yaml:"output_paths" json:"output_paths" mapstructure:"output_paths" toml:"output_paths"`
}

// DefaultConfig is info-level JSON to stdout
func DefaultConfig() Config {
	return Config{Level: "info", Encoding: "json"}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Encoding == "" {
		c.Encoding = d.Encoding
	}
	if len(c.OutputPaths) == 0 {
		c.OutputPaths = []string{"stdout"}
	}
	return c
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	if development {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

// New builds a logger from cfg. It does not touch the global logger.
func New(cfg Config) (*zap.Logger, error) {
	cfg = cfg.withDefaults()
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    encoderConfig(cfg.Development),
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	l, err := zc.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Init installs a logger built from cfg as the global one. Only the first call has any
// effect; SetGlobal replaces the logger unconditionally.
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		var l *zap.Logger
		if l, err = New(cfg); err == nil {
			SetGlobal(l)
		}
	})
	return err
}

// Get returns the global logger, building the default one on first use
func Get() *zap.Logger {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	if err := Init(DefaultConfig()); err != nil {
		return zap.NewNop()
	}
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// SetGlobal replaces the global logger
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	global = l
	globalMu.Unlock()
}

// ForComponent names a child logger after the component kind ("pool", "queue", ...) and
// tags it with the instance name. A nil base uses the global logger.
func ForComponent(base *zap.Logger, kind, name string) *zap.Logger {
	if base == nil {
		base = Get()
	}
	return base.Named(kind).With(zap.String(kind, name))
}

// WithContext returns the global logger with any request, pool or queue names found in ctx
func WithContext(ctx context.Context) *zap.Logger {
	l := Get()
	for _, key := range contextFields {
		if v, ok := ctx.Value(key).(string); ok {
			l = l.With(zap.String(string(key), v))
		}
	}
	return l
}

func Debug(msg string, fields ...zap.Field) { Get().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { Get().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { Get().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }

// With returns the global logger with fields attached
func With(fields ...zap.Field) *zap.Logger { return Get().With(fields...) }

// Sync flushes the global logger if one was built
func Sync() error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
