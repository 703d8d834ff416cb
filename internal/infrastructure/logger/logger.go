package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewRunLogger builds the orchestrator run logger: timestamped JSON lines to
// <runDir>/logs/orchestrator.log plus human-readable console output on
// stderr at level (default info). Verbose lowers the console threshold to
// debug; the file always gets debug.
func NewRunLogger(runDir, level string, verbose bool) (*zap.Logger, func(), error) {
	logsDir := filepath.Join(runDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create logs dir: %w", err)
	}

	logPath := filepath.Join(logsDir, "orchestrator.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open run log: %w", err)
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.TimeKey = "timestamp"
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEnc),
		zapcore.AddSync(f),
		zapcore.DebugLevel,
	)

	consoleLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		consoleLevel = zapcore.InfoLevel
	}
	if verbose {
		consoleLevel = zapcore.DebugLevel
	}
	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEnc),
		zapcore.AddSync(os.Stderr),
		consoleLevel,
	)

	log := zap.New(zapcore.NewTee(fileCore, consoleCore))
	closer := func() {
		_ = log.Sync()
		_ = f.Close()
	}
	return log, closer, nil
}
