// Package logger builds the zerolog loggers used across emailer and carries
// them, with the request correlation id and the email being worked on,
// through context.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service is stamped on every entry so emailer lines can be picked out of a
// shared log stream.
const Service = "emailer"

// LoggingConfig mirrors config.LoggingConfig so this package stays free of
// application imports.
type LoggingConfig struct {
	Level      string
	Output     string // stdout (default), console, file
	FilePath   string
	MaxSizeMB  int
	MaxFiles   int
	MaxAgeDays int
	Compress   bool
}

type ctxKey int

const (
	loggerKey ctxKey = iota
	correlationIDKey
	emailIDKey
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a JSON logger on stdout. Unknown or empty levels mean info.
func New(level string) zerolog.Logger {
	return build(os.Stdout, level)
}

// NewFromConfig returns a logger for cfg.Output together with the closer
// for whatever it writes to. Only the "file" output holds a resource; the
// other outputs return a no-op closer.
func NewFromConfig(cfg LoggingConfig) (zerolog.Logger, io.Closer) {
	switch cfg.Output {
	case "file":
		w := newRotatingWriter(cfg)
		return build(w, cfg.Level), w
	case "console":
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
		return build(cw, cfg.Level), nopCloser{}
	default:
		return build(os.Stdout, cfg.Level), nopCloser{}
	}
}

func build(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if level == "" || err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("service", Service).
		Logger()
}

// ForEmail returns log with the email id attached.
func ForEmail(log zerolog.Logger, id uuid.UUID) zerolog.Logger {
	return log.With().Str("email_id", id.String()).Logger()
}

func WithLogger(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithEmailID marks ctx as working on one email record; FromContext adds
// the id to every line logged through it.
func WithEmailID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, emailIDKey, id)
}

// CorrelationIDFromContext returns "" when no id was set.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// EmailIDFromContext reports the email id set by WithEmailID.
func EmailIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(emailIDKey).(uuid.UUID)
	return id, ok
}

// FromContext returns the logger stored in ctx, or an info logger on stdout
// when there is none, with the correlation and email ids from ctx attached.
func FromContext(ctx context.Context) zerolog.Logger {
	log, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		log = New("info")
	}
	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}
	if id, ok := EmailIDFromContext(ctx); ok {
		log = ForEmail(log, id)
	}
	return log
}

func NewCorrelationID() string {
	return uuid.NewString()
}
