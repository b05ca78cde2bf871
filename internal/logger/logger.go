/**
 * @description
 * Structured logger for the Racewise backend.
 * Info messages go to stdout and errors to stderr so hosted log collectors
 * don't label every line as an error.
 *
 * @dependencies
 * - go.uber.org/zap
 */

package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	exitFn = os.Exit
)

func init() {
	setLogger(build("development"))
}

// Init rebuilds the process logger for the given environment.
// "production" and "staging" emit JSON; anything else uses the console encoder.
func Init(env string) {
	setLogger(build(env))
}

// Set replaces the process logger. Tests use it with zaptest/observer cores.
func Set(l *zap.Logger) {
	setLogger(l)
}

// L returns the structured logger for field-based logging.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Info logs an info message to stdout
func Info(format string, v ...interface{}) {
	s().Infof(format, v...)
}

// Warn logs a warning to stdout
func Warn(format string, v ...interface{}) {
	s().Warnf(format, v...)
}

// Error logs an error message to stderr
func Error(format string, v ...interface{}) {
	s().Errorf(format, v...)
}

// Fatal logs an error and exits
func Fatal(format string, v ...interface{}) {
	s().Errorf(format, v...)
	_ = Sync()
	exitFn(1)
}

// Sync flushes buffered entries.
func Sync() error {
	return L().Sync()
}

func s() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func setLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	// the printf wrappers add one frame
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func build(env string) *zap.Logger {
	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	switch env {
	case "production", "staging":
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	infoLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l < zapcore.ErrorLevel
	})
	errorLevel := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel
	})

	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), infoLevel),
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), errorLevel),
	)
	return zap.New(core, zap.AddCaller())
}

// Truncate shortens s to limit runes for log output.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return fmt.Sprintf("%s...(truncated %d)", string(runes[:limit]), len(runes)-limit)
}
