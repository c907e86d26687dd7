// Package logging provides a component-scoped leveled logger backed by
// go.uber.org/zap, with a plain human-readable format for local runs
// and a JSON format for production log collection.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// Logger is a component-scoped wrapper around a shared *zap.Logger.
type Logger struct {
	component string
	zl        *zap.Logger
}

var (
	mu     sync.Mutex
	base   *zap.Logger = mustBuild("plain")
	format             = "plain"
)

func mustBuild(format string) *zap.Logger {
	var cfg zap.Config
	if strings.EqualFold(format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cfg.DisableStacktrace = true
	// Lifecycle events are written to standard output, not stderr.
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}
	l, err := cfg.Build()
	if err != nil {
		// Falling back to a no-op logger keeps the proxy itself from
		// failing to start over a logging misconfiguration.
		return zap.NewNop()
	}
	return l
}

// Setup configures the process-wide logger output/format ("plain" or
// "json"). Subsequent calls to New pick up the new configuration.
func Setup(f string) {
	mu.Lock()
	defer mu.Unlock()
	format = f
	base = mustBuild(f)
}

// New returns a logger scoped to component, using the current
// process-wide format.
func New(component string) *Logger {
	mu.Lock()
	zl := base
	mu.Unlock()
	return &Logger{component: component, zl: zl}
}

func toZapFields(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	zf := make([]zap.Field, len(fields))
	for i, f := range fields {
		zf[i] = zap.Any(f.Key, f.Value)
	}
	return zf
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.zl.Info(msg, append([]zap.Field{zap.String("component", l.component)}, toZapFields(fields)...)...)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.zl.Error(msg, append([]zap.Field{zap.String("component", l.component)}, toZapFields(fields)...)...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info(fmt.Sprintf(format, args...), zap.String("component", l.component))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error(fmt.Sprintf(format, args...), zap.String("component", l.component))
}

// Sync flushes any buffered log entries. Callers should defer it in
// main after constructing the process-wide logger.
func Sync() error {
	mu.Lock()
	zl := base
	mu.Unlock()
	return zl.Sync()
}
