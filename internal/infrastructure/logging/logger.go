package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/smartfarm/farmbridge/internal/infrastructure/config"
)

// ServiceName is attached to every log entry as the "service" field.
const ServiceName = "farmbridge"

// Logger wraps slog.Logger with farmbridge defaults. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the destination named in cfg.Output
// (stdout unless "stderr"). Format is JSON unless cfg.Format is "text".
// Attributes named password, token or dsn are always redacted.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// secretKeys are attribute keys whose values are replaced before output.
var secretKeys = map[string]bool{
	"password": true,
	"token":    true,
	"dsn":      true,
}

// redactedValue replaces the value of any attribute named in secretKeys.
const redactedValue = "[redacted]"

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// parseLevel maps debug, info, warn and error; anything else is info.
func parseLevel(level string) slog.Level {
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

// With returns a child Logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Component is shorthand for With("component", name).
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the JSON stdout logger used until configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Discard returns a logger that drops everything. Intended for tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
