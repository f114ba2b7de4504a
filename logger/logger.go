package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// InitLogger logs to stdout and, when logPath is set, to logPath as well.
// An unknown level falls back to INFO with a warning.
func InitLogger(logPath string, logLevel string) (io.Closer, error) {

	var writer io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if logPath != "" {

		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)

		if err != nil {
			return nil, err
		}

		writer = io.MultiWriter(os.Stdout, logFile)
		closer = logFile
	}

	level, levelErr := ParseLevel(logLevel)

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})

	slog.SetDefault(slog.New(handler))

	if levelErr != nil {
		slog.Warn(levelErr.Error())
	}

	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel maps a config level name to a slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q, using INFO", levelStr)
	}
}
