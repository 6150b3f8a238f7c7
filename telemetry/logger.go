package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/yairfalse/decom/internal/i18n"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration and a localized message printer
type Logger struct {
	zerolog.Logger
	printer *message.Printer
}

// NewLogger creates a logger writing JSON lines to w
func NewLogger(service string, w io.Writer, lang language.Tag) *Logger {
	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger, printer: i18n.NewPrinter(lang)}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), printer: i18n.NewPrinter(language.English)}
}

// OpenLogFile opens path for appending, creating parent directories.
func OpenLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	// #nosec G304 -- path comes from operator config
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// ConsoleAndFile tees human-readable console output and JSON file output.
func ConsoleAndFile(console io.Writer, file io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: console, TimeFormat: "2006-01-02 15:04:05"}
	if file == nil {
		return cw
	}
	return zerolog.MultiLevelWriter(cw, file)
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		Logger:  l.Logger.With().Str(key, value).Logger(),
		printer: l.printer,
	}
}

// T renders a catalog message in the configured language.
func (l *Logger) T(key string, args ...interface{}) string {
	return l.printer.Sprintf(key, args...)
}

// Convenience methods for instance lifecycle logging

func (l *Logger) LogInstanceStatus(ctx context.Context, instanceID, state string) {
	l.WithContext(ctx).Info().
		Str("instance_id", instanceID).
		Str("state", state).
		Msg(l.T(i18n.InstanceStatus, instanceID, state))
}

func (l *Logger) LogRequest(ctx context.Context, instanceID, action, label string, accepted bool) {
	if accepted {
		l.WithContext(ctx).Info().
			Str("instance_id", instanceID).
			Str("action", action).
			Msg(l.T(i18n.RequestAccepted, instanceID, l.T(label)))
		return
	}
	l.WithContext(ctx).Error().
		Str("instance_id", instanceID).
		Str("action", action).
		Msg(l.T(i18n.RequestRejected, instanceID, l.T(label)))
}

func (l *Logger) LogSummary(ctx context.Context, total, succeeded int) {
	l.WithContext(ctx).Info().
		Int("total", total).
		Int("succeeded", succeeded).
		Msg(l.T(i18n.Summary, total, succeeded))
}
