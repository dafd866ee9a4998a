// Package sysutil holds process-level helpers: global log level and the
// zerolog writer setup used by cmd/server.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tbourn/go-study-sidebar/internal/config"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// LogWriter returns the sink for process logs: stdout (pretty when asked)
// and, when LOG_FILE is set, a size-rotated JSON file as well. The returned
// closer flushes the file; it is a no-op without one.
func LogWriter(stdout io.Writer, pretty bool, lf config.LogFileConfig) (io.Writer, io.Closer) {
	var console io.Writer = stdout
	if pretty {
		console = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}
	if strings.TrimSpace(lf.Path) == "" {
		return console, nopCloser{}
	}
	file := &lumberjack.Logger{
		Filename:   lf.Path,
		MaxSize:    lf.MaxSizeMB,
		MaxBackups: lf.MaxBackups,
		MaxAge:     lf.MaxAgeDays,
		Compress:   true,
	}
	return zerolog.MultiLevelWriter(console, file), file
}

// NewLogger builds the process logger from cfg and sets the global level.
func NewLogger(cfg config.Config) (zerolog.Logger, io.Closer) {
	SetLogLevel(cfg.LogLevel)
	w, closer := LogWriter(os.Stdout, cfg.LogPretty, cfg.LogFile)
	return zerolog.New(w).With().Timestamp().Logger(), closer
}

// FirstNonEmpty returns the first non-empty string from a variadic list.
// If all values are empty, it returns "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
