package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logFileMaxSizeMB is the size at which the log file is rotated.
	logFileMaxSizeMB = 10

	// logFileMaxBackups is the number of rotated log files kept.
	logFileMaxBackups = 3

	// logFileMaxAgeDays is how long rotated log files are kept.
	logFileMaxAgeDays = 28
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// When file is non-empty, output is also written to a rotating log file.
func NewLogger(env, file string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	w := output(file)

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func output(file string) io.Writer {
	if file == "" {
		return os.Stdout
	}

	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		MaxAge:     logFileMaxAgeDays,
	})
}
