// Package report surfaces operator-facing errors.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Reporter receives errors an operator should see. Critical is for failures
// that lose or abandon work; Debug for recoverable ones.
type Reporter interface {
	Critical(ctx context.Context, err error, fields map[string]any)
	Debug(ctx context.Context, err error, fields map[string]any)
}

// Config enables Sentry when DSN is set.
type Config struct {
	DSN         string
	Environment string
}

// New returns a Sentry reporter when cfg.DSN is set, otherwise a zerolog
// one. The returned flush function must be called before exit.
func New(cfg Config, log zerolog.Logger) (Reporter, func(time.Duration) bool, error) {
	if cfg.DSN == "" {
		return NewZerolog(log), func(time.Duration) bool { return true }, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init sentry: %w", err)
	}
	return NewSentry(client, log), client.Flush, nil
}

// Zerolog writes reports to the log only.
type Zerolog struct {
	log zerolog.Logger
}

func NewZerolog(log zerolog.Logger) *Zerolog {
	return &Zerolog{log: log}
}

func (z *Zerolog) Critical(_ context.Context, err error, fields map[string]any) {
	z.log.Error().Err(err).Fields(fields).Msg("critical error")
}

func (z *Zerolog) Debug(_ context.Context, err error, fields map[string]any) {
	z.log.Debug().Err(err).Fields(fields).Msg("recoverable error")
}

// Sentry captures reports as Sentry events and also logs them.
type Sentry struct {
	hub *sentry.Hub
	log *Zerolog
}

func NewSentry(client *sentry.Client, log zerolog.Logger) *Sentry {
	return &Sentry{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: NewZerolog(log),
	}
}

func (s *Sentry) Critical(ctx context.Context, err error, fields map[string]any) {
	s.capture(sentry.LevelError, err, fields)
	s.log.Critical(ctx, err, fields)
}

func (s *Sentry) Debug(ctx context.Context, err error, fields map[string]any) {
	s.capture(sentry.LevelDebug, err, fields)
	s.log.Debug(ctx, err, fields)
}

func (s *Sentry) capture(level sentry.Level, err error, fields map[string]any) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for k, v := range fields {
			scope.SetTag(k, fmt.Sprint(v))
		}
		s.hub.CaptureException(err)
	})
}
