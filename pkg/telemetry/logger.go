package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/msrv/pkg/engine"
)

// Logger is a zerolog logger that also renders lifecycle events as progress. It implements
// engine.Reporter.
type Logger struct {
	zlog zerolog.Logger

	// out is the log file opened by NewLogger, if any.
	out io.Closer
}

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger creates a logger writing to cfg.Output: "stdout", "stderr" (default) or a file
// that is appended to.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w, closer = f, f
	}

	l := newLogger(w, cfg)
	l.out = closer
	return l, nil
}

func newLogger(w io.Writer, cfg LoggingConfig) *Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat(cfg.TimeFormat)}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	return &Logger{zlog: ctx.Logger()}
}

func consoleTimeFormat(format string) string {
	switch format {
	case "unix":
		return "unix"
	case "kitchen":
		return time.Kitchen
	default:
		return time.RFC3339
	}
}

// Close closes the log file, if the logger opened one.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.Close()
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger(), out: l.out}
}

// NewComponentLogger returns a child logger tagged with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithField returns a child logger with one more field.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithRunID returns a child logger tagged with the run.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("run_id", runID) })
}

// WithError returns a child logger carrying err.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

// WithContext stores the logger in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored in ctx, or an info-level JSON logger on stderr.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return newLogger(os.Stderr, LoggingConfig{Level: "info", Format: "json"})
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...any) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// OnEvent logs lifecycle events as progress: run boundaries and verdicts at info, retries at
// warn, intermediate transitions and ledger hits at debug.
func (l *Logger) OnEvent(event engine.LifecycleEvent) {
	var e *zerolog.Event
	switch {
	case event.Type == engine.EventTypeSearchStarted, event.Type == engine.EventTypeSearchFinished:
		e = l.zlog.Info()
	case event.Type == engine.EventTypeRetry:
		e = l.zlog.Warn().Int("attempt", event.Attempt)
	case event.Type == engine.EventTypeTransition && event.To.IsTerminal():
		e = l.zlog.Info()
	default:
		e = l.zlog.Debug()
	}

	e = e.Str("run_id", event.RunID).Str("event", string(event.Type))
	if event.Version != nil {
		e = e.Str("version", event.Version.String())
	}
	if event.Outcome != nil && event.Outcome.Reason != "" {
		e = e.Str("reason", event.Outcome.Reason)
	}
	if event.Elapsed > 0 {
		e = e.Dur("elapsed", event.Elapsed)
	}
	e.Msg(event.Message)
}
