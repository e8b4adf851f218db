package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Swapped in tests to capture console output.
var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
}

// Option adds an output or decoration to Setup.
type Option func(*setupOptions)

type setupOptions struct {
	console  bool
	gelf     io.Writer
	provider ContextProvider
}

// WithConsole keeps the colored console output even when a file is given.
func WithConsole() Option {
	return func(o *setupOptions) { o.console = true }
}

// WithGELF adds a JSON handler writing to a GELF writer.
func WithGELF(w io.Writer) Option {
	return func(o *setupOptions) { o.gelf = w }
}

// WithContext adds the attributes returned by p to every record.
func WithContext(p ContextProvider) Option {
	return func(o *setupOptions) { o.provider = p }
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system with file and optional OTel output.
// If provider is nil, OTel logging is disabled. The console is written only
// when file is nil or WithConsole is given.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, opts ...Option) {
	lvl := parseLevel(level)
	m.logProvider = provider

	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	// Build list of handlers
	var handlers []slog.Handler

	// Console handler
	if file == nil || o.console {
		handlers = append(handlers, tint.NewHandler(osStdout, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		}))
	}

	// File handler
	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	}

	// GELF handler
	if o.gelf != nil {
		handlers = append(handlers, slog.NewJSONHandler(o.gelf, handlerOpts))
	}

	// OTel handler (if provider is available)
	if provider != nil {
		otelHandler := otelslog.NewHandler("endurance", otelslog.WithLoggerProvider(provider))
		handlers = append(handlers, otelHandler)
	}

	// Combine all handlers
	var handler slog.Handler = NewMultiHandler(handlers...)
	if o.provider != nil {
		handler = NewContextHandler(handler, o.provider)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
