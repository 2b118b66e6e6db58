// Package logger holds the process-wide zap loggers. Log and Sugar discard
// everything until Init runs, so tests and libraries can log freely.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   = zap.NewNop()
	Sugar = Log.Sugar()

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init writes JSON lines to stdout at lvl ("debug", "info", "warn",
// "error"). An unknown level falls back to info with a warning.
func Init(lvl string) {
	err := SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stdout), level)
	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()

	if err != nil {
		Sugar.Warnf("%v; logging at info", err)
	}
}

// SetLevel changes the level of the running logger.
func SetLevel(lvl string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(lvl)))); err != nil {
		level.SetLevel(zapcore.InfoLevel)
		return fmt.Errorf("logger: unknown level %q", lvl)
	}
	level.SetLevel(l)
	return nil
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Log.Sync()
}
