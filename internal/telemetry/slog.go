package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logLevel backs the default logger so the level can change without rebuilding handlers.
var logLevel = new(slog.LevelVar)

// ParseLevel maps a config string to a slog level; unknown values become info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger configures the global slog default logger based on the supplied format and level
// strings read from application configuration.
//
// format: "json"  → JSONHandler (machine readable; recommended for production)
//
//	anything else → TextHandler (human readable; suitable for local development)
//
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
func SetupLogger(format, level string) {
	setupLogger(os.Stdout, format, level)
}

func setupLogger(w io.Writer, format, level string) {
	lvl := ParseLevel(level)
	logLevel.Set(lvl)

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// SetLevel changes the level of the default logger in place. Used on config reload.
func SetLevel(level string) {
	lvl := ParseLevel(level)
	if logLevel.Level() == lvl {
		return
	}
	logLevel.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}
