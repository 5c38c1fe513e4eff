// Package gc removes old logs and clears the HTML bodies of delivered mail.
package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/metrics"
)

// Store is the part of storage.Querier the collector needs.
type Store interface {
	DeleteCommonLogsBefore(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteEmailLogsBefore(ctx context.Context, before time.Time, limit int) (int64, error)
	ClearSentHTMLBodiesBefore(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Config sets retention per kind of data. Rows exactly as old as the TTL
// are collected.
type Config struct {
	CommonLogTTL time.Duration
	EmailLogTTL  time.Duration
	BodyTTL      time.Duration
	BatchSize    int
}

// DefaultConfig keeps common logs for 14 days and email logs and bodies
// for three months.
func DefaultConfig() Config {
	return Config{
		CommonLogTTL: 14 * 24 * time.Hour,
		EmailLogTTL:  90 * 24 * time.Hour,
		BodyTTL:      90 * 24 * time.Hour,
		BatchSize:    1000,
	}
}

// Stats counts the rows each step touched.
type Stats struct {
	CommonLogs int64
	EmailLogs  int64
	HTMLBodies int64
}

// Collector runs the cleanup steps.
type Collector struct {
	cfg   Config
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(cfg Config, store Store, log zerolog.Logger, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Collector{cfg: cfg, store: store, log: log, now: now}
}

// Run removes at most one batch per step. Every step runs even if an earlier
// one fails; the failures are joined into the returned error.
func (c *Collector) Run(ctx context.Context) (Stats, error) {
	now := c.now()
	var (
		stats Stats
		errs  []error
	)

	steps := []struct {
		name string
		ttl  time.Duration
		fn   func(context.Context, time.Time, int) (int64, error)
		out  *int64
	}{
		{"common_logs", c.cfg.CommonLogTTL, c.store.DeleteCommonLogsBefore, &stats.CommonLogs},
		{"email_logs", c.cfg.EmailLogTTL, c.store.DeleteEmailLogsBefore, &stats.EmailLogs},
		{"html_bodies", c.cfg.BodyTTL, c.store.ClearSentHTMLBodiesBefore, &stats.HTMLBodies},
	}

	for _, s := range steps {
		n, err := s.fn(ctx, now.Add(-s.ttl), c.cfg.BatchSize)
		if err != nil {
			metrics.GCErrorsTotal.WithLabelValues(s.name).Inc()
			c.log.Error().Err(err).Str("step", s.name).Msg("gc step failed")
			errs = append(errs, fmt.Errorf("gc %s: %w", s.name, err))
			continue
		}
		*s.out = n
		metrics.GCRowsTotal.WithLabelValues(s.name).Add(float64(n))
	}

	c.log.Info().
		Int64("common_logs", stats.CommonLogs).
		Int64("email_logs", stats.EmailLogs).
		Int64("html_bodies", stats.HTMLBodies).
		Msg("gc finished")

	return stats, errors.Join(errs...)
}
