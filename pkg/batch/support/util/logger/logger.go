// Package logger provides the logging utility used across importd.
// It exposes a printf-style, level-filtered API backed by a zap SugaredLogger.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

var (
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar       = newSugar("console")
)

func newSugar(format string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), atomicLevel)
	return zap.New(core).Sugar()
}

// SetLogLevel sets the global log level.
// Valid string values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// If an invalid value is specified, the default "INFO" level is used.
func SetLogLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG", "TRACE":
		atomicLevel.SetLevel(zapcore.DebugLevel)
	case "INFO":
		atomicLevel.SetLevel(zapcore.InfoLevel)
	case "WARN":
		atomicLevel.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		atomicLevel.SetLevel(zapcore.ErrorLevel)
	case "FATAL", "SILENT":
		atomicLevel.SetLevel(zapcore.FatalLevel)
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
		atomicLevel.SetLevel(zapcore.InfoLevel)
	}
}

// SetFormat switches the encoder between "console" and "json".
func SetFormat(format string) {
	_ = sugar.Sync()
	sugar = newSugar(format)
}

// CurrentLevel returns the active level.
func CurrentLevel() LogLevel {
	switch atomicLevel.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelFatal
	}
}

// Named returns a child SugaredLogger for components that prefer structured key/value logging.
func Named(name string) *zap.SugaredLogger {
	return sugar.Named(name)
}

// Debugf formats and outputs a DEBUG level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Debugf(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Infof(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	sugar.Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program.
func Fatalf(format string, v ...interface{}) {
	sugar.Fatalf(format, v...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return sugar.Sync()
}
