package utils

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for a log file. Zero values fall back to lumberjack's defaults.
type LogRotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Configure the slog logger with a specific log level and potential output file.
//
// Valid log levels are "none", "error", "warn", "info", "debug". Any other value returns an error.
// logFile may either specify a file path or none, in which case the logger points to stdout.
// A log file is written as JSON and rotated according to rotation.
//
// Returns the io.Closer that slog writes to, so it may be gracefully shut:
// ```
// logCloser, err := utils.ConfigureDefaultLogger(...)
//
//	if logCloser != nil{
//		defer logCloser.Close()
//	}
//
// ```
func ConfigureDefaultLogger(
	logLevel string,
	logFile string,
	rotation LogRotation,
	loggerOptions slog.HandlerOptions,
) (io.Closer, error) {

	switch logLevel {
	case "none":
		// No logging is required, disable the logger and return
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		loggerOptions.Level = slog.LevelError
	case "warn":
		loggerOptions.Level = slog.LevelWarn
	case "info":
		loggerOptions.Level = slog.LevelInfo
	case "debug":
		loggerOptions.Level = slog.LevelDebug
	default:
		return nil, errors.New("unexpected log level")
	}

	// --------------------------------------------------------------------------------

	var logCloser io.Closer
	var slogHandler slog.Handler
	if logFile == "" {
		slogHandler = slog.NewTextHandler(os.Stdout, &loggerOptions)
	} else {
		logWriter := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    rotation.MaxSizeMB,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAgeDays,
		}
		logCloser = logWriter
		slogHandler = slog.NewJSONHandler(logWriter, &loggerOptions)
	}

	// --------------------------------------------------------------------------------

	slog.SetDefault(slog.New(slogHandler))
	return logCloser, nil
}
