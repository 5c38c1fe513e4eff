package main

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sungwon/emailer/internal/queue"
)

func newWorkerCommand(a *app) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Send queued emails, then collect old logs and bodies",
		Long: `Runs the queue runner once until its timeout elapses and then the
garbage collector. With --schedule the pair repeats on a cron schedule
until the process is interrupted; overlapping runs are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := a.build(ctx)
			if err != nil {
				return err
			}
			if schedule == "" {
				schedule = a.cfg.Queue.Schedule
			}
			if schedule == "" {
				return a.work(ctx, c)
			}
			return a.workOnSchedule(ctx, c, schedule)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression, overrides queue.schedule")
	return cmd
}

// work performs one runner pass followed by best-effort garbage collection.
// A lease held by another process is not an error. A collection failure is
// reported on its own and does not fail the pass.
func (a *app) work(ctx context.Context, c *components) error {
	res, err := a.runner(c).Run(ctx)
	switch {
	case errors.Is(err, queue.ErrLeaseHeld):
		return nil
	case err != nil:
		a.log.Error().Err(err).Msg("runner failed")
		return err
	}
	a.log.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("processed", res.Processed).
		Dur("duration", res.Duration).
		Msg("runner finished")

	if _, err := a.collector(c).Run(ctx); err != nil {
		a.log.Error().Err(err).Msg("garbage collection failed")
		c.reporter.Critical(ctx, err, map[string]any{"component": "gc"})
	}
	return nil
}

func (a *app) workOnSchedule(ctx context.Context, c *components, schedule string) error {
	logger := cronLogger{log: a.log}
	sched := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	_, err := sched.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		_ = a.work(ctx, c)
	})
	if err != nil {
		return err
	}

	a.log.Info().Str("schedule", schedule).Msg("worker scheduled")
	sched.Start()
	<-ctx.Done()
	a.log.Info().Msg("shutting down worker")
	<-sched.Stop().Done()
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
