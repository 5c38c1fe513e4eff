// Package queue runs the dispatch loop that delivers stored emails.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/logger"
	"github.com/sungwon/emailer/internal/message"
	"github.com/sungwon/emailer/internal/metrics"
	"github.com/sungwon/emailer/internal/report"
	"github.com/sungwon/emailer/internal/storage"
	"github.com/sungwon/emailer/internal/transport"
)

const noteTimeLayout = "2006-01-02 15:04:05"

// Preparer builds a transport-ready message from a stored record.
type Preparer interface {
	Build(ctx context.Context, e storage.Email) (*message.Prepared, error)
}

// AuditLogger records entries in the persistent log. LogTo writes through
// w, which lets entries about a claimed email join the claim transaction.
type AuditLogger interface {
	Log(ctx context.Context, level storage.LogLevel, message string, emailID *uuid.UUID) error
	LogTo(ctx context.Context, w storage.LogWriter, level storage.LogLevel, message string, emailID *uuid.UUID) error
}

// Claimer hands out eligible emails under a row lock, see storage.DB.ClaimNext.
type Claimer interface {
	ClaimNext(ctx context.Context, now time.Time, fn func(q storage.Querier, e storage.Email) error) error
}

// Result summarizes one Run.
type Result struct {
	Sent      int
	Failed    int
	Processed int
	Duration  time.Duration
}

// Runner selects due emails one at a time, in priority order, and sends them.
type Runner struct {
	cfg       Config
	store     storage.Querier
	claimer   Claimer
	preparer  Preparer
	transport transport.Transport
	audit     AuditLogger
	reporter  report.Reporter
	lease     *Lease
	retry     RetryPolicy
	log       zerolog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithClaimer makes the runner lock each email it selects.
func WithClaimer(c Claimer) Option {
	return func(r *Runner) { r.claimer = c }
}

// WithLease makes Run hold l for its whole duration.
func WithLease(l *Lease) Option {
	return func(r *Runner) { r.lease = l }
}

// WithRetryPolicy replaces the policy derived from Config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Runner) { r.retry = p }
}

// WithClock replaces time.Now and the context-aware sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRunner creates a Runner.
func NewRunner(
	cfg Config,
	store storage.Querier,
	preparer Preparer,
	t transport.Transport,
	audit AuditLogger,
	reporter report.Reporter,
	log zerolog.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		cfg:       cfg,
		store:     store,
		preparer:  preparer,
		transport: t,
		audit:     audit,
		reporter:  reporter,
		retry:     NewRetryPolicy(cfg.MaxAllowedAttempts, cfg.RetryBackoff),
		log:       log,
		now:       time.Now,
		sleep:     sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes due emails until the configured timeout elapses or ctx is
// cancelled. Both end the loop normally. Store failures abort the run and
// are returned. An email being processed when ctx is cancelled is finished
// and persisted first.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.lease != nil {
		release, err := r.lease.Acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrLeaseHeld) {
				metrics.RunnerRunsTotal.WithLabelValues("lease_held").Inc()
				r.log.Info().Msg("another runner holds the lease, skipping run")
			}
			return Result{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn().Err(err).Msg("failed to release runner lease")
			}
		}()
	}

	start := r.now()
	var res Result

	r.log.Info().
		Dur("timeout", r.cfg.Timeout).
		Str("transport", r.transport.Name()).
		Msg("runner started")

	for ctx.Err() == nil && r.now().Sub(start) <= r.cfg.Timeout {
		outcome, err := r.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.RunnerRunsTotal.WithLabelValues("failed").Inc()
			r.reporter.Critical(ctx, err, map[string]any{"component": "runner"})
			res.Duration = r.now().Sub(start)
			return res, err
		}

		delay := r.cfg.EmailDelay
		switch outcome {
		case outcomeIdle:
			metrics.RunnerIdleIterationsTotal.Inc()
			delay = r.cfg.CheckIterationDelay
		case outcomeSent:
			res.Sent++
			res.Processed++
		case outcomeSkipped:
			res.Processed++
		default:
			res.Failed++
			res.Processed++
		}
		if outcome != outcomeIdle {
			metrics.EmailsProcessedTotal.WithLabelValues(string(outcome)).Inc()
		}

		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}

	res.Duration = r.now().Sub(start)
	// Only deliveries count as sent; empty-body emails end in
	// preparing-error and show up in Processed instead.
	summary := fmt.Sprintf("FINISHED: sender was running for %s and it sent %d e-mails",
		formatDuration(res.Duration), res.Sent)
	if err := r.audit.Log(context.WithoutCancel(ctx), storage.LogLevelInfo, summary, nil); err != nil {
		metrics.RunnerRunsTotal.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("write run summary: %w", err)
	}
	metrics.RunnerRunsTotal.WithLabelValues("completed").Inc()
	return res, nil
}

type outcome string

const (
	outcomeIdle           outcome = "idle"
	outcomeSent           outcome = "sent"
	outcomeRetry          outcome = "retry"
	outcomePreparingError outcome = "preparing_error"
	outcomeSendingError   outcome = "sending_error"
	outcomeSkipped        outcome = "skipped"
)

// next selects one due email and processes it.
func (r *Runner) next(ctx context.Context) (outcome, error) {
	now := r.now()

	if r.claimer != nil {
		// Once a row is claimed the transaction must commit even if ctx is
		// cancelled mid-send, or a delivered email would roll back to due.
		var out outcome
		err := r.claimer.ClaimNext(context.WithoutCancel(ctx), now, func(q storage.Querier, e storage.Email) error {
			var err error
			out, err = r.process(ctx, q, e)
			return err
		})
		if errors.Is(err, storage.ErrNotFound) {
			return outcomeIdle, nil
		}
		if err != nil {
			return "", fmt.Errorf("claim next email: %w", err)
		}
		return out, nil
	}

	e, err := r.store.NextEligibleEmail(ctx, now)
	if errors.Is(err, storage.ErrNotFound) {
		return outcomeIdle, nil
	}
	if err != nil {
		return "", fmt.Errorf("select next email: %w", err)
	}
	return r.process(ctx, r.store, e)
}

// process sends e and persists the outcome through q. Only store failures
// are returned; preparation and transport failures become state changes.
func (r *Runner) process(ctx context.Context, q storage.Querier, e storage.Email) (outcome, error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.ForEmail(r.log, e.ID)

	prepStart := r.now()
	prepared, err := r.preparer.Build(ctx, e)
	prepDur := r.now().Sub(prepStart)
	metrics.PrepareDuration.Observe(prepDur.Seconds())

	if err == nil && prepared.Empty() {
		note := r.now().Format(noteTimeLayout) + " - E-mail was not sent (empty body)"
		log.Warn().Msg("email has an empty body")
		return r.commit(ctx, q, outcomePreparingError, storage.UpdateEmailStateParams{
			ID:                  e.ID,
			Status:              storage.StatusPreparingError,
			Priority:            e.Priority,
			FailedAttemptsCount: e.FailedAttemptsCount,
			PreparingDurationMs: ms(prepDur),
			AppendNote:          []string{note},
		})
	}

	if err == nil {
		sendStart := r.now()
		err = r.transport.Send(ctx, prepared)
		sendDur := r.now().Sub(sendStart)
		metrics.SendDuration.Observe(sendDur.Seconds())

		if err == nil {
			sentAt := r.now()
			out, cerr := r.commit(ctx, q, outcomeSent, storage.UpdateEmailStateParams{
				ID:                  e.ID,
				Status:              storage.StatusSent,
				Priority:            e.Priority,
				FailedAttemptsCount: e.FailedAttemptsCount,
				PreparingDurationMs: ms(prepDur),
				SendingDurationMs:   ms(sendDur),
				SentAt:              &sentAt,
			})
			if cerr != nil || out != outcomeSent {
				return out, cerr
			}
			msg := fmt.Sprintf(`E-mail was successfully sent to "%s" with subject "%s". Preparation took "%s" and sending took "%s"`,
				strings.Join(e.Payload.To, ", "), strings.TrimSpace(prepared.Subject),
				formatDuration(prepDur), formatDuration(sendDur))
			if err := r.audit.LogTo(ctx, q, storage.LogLevelInfo, msg, &e.ID); err != nil {
				return "", fmt.Errorf("log sent email %s: %w", e.ID, err)
			}
			return outcomeSent, nil
		}
	}

	return r.fail(ctx, q, e, err)
}

// fail applies the retry policy to an email whose preparation or delivery
// failed with cause.
func (r *Runner) fail(ctx context.Context, q storage.Querier, e storage.Email, cause error) (outcome, error) {
	msg := "Failed to send: " + cause.Error() + ", details has been logged."
	if err := r.audit.LogTo(ctx, q, storage.LogLevelError, msg, &e.ID); err != nil {
		return "", fmt.Errorf("log failed email %s: %w", e.ID, err)
	}

	now := r.now()
	attempts := e.FailedAttemptsCount + 1
	fields := map[string]any{
		"email_id": e.ID.String(),
		"attempts": attempts,
	}

	if r.retry.ShouldRetry(attempts) {
		r.reporter.Debug(ctx, cause, fields)
		next := r.retry.NextAttemptAt(now)
		return r.commit(ctx, q, outcomeRetry, storage.UpdateEmailStateParams{
			ID:                        e.ID,
			Status:                    storage.StatusWaitingForNextAttempt,
			Priority:                  e.Priority,
			FailedAttemptsCount:       attempts,
			SendEarliestNextAttemptAt: &next,
		})
	}

	r.reporter.Critical(ctx, cause, fields)
	status, out := storage.StatusPreparingError, outcomePreparingError
	if transport.IsSendError(cause) {
		status, out = storage.StatusSendingError, outcomeSendingError
	}
	return r.commit(ctx, q, out, storage.UpdateEmailStateParams{
		ID:                  e.ID,
		Status:              status,
		Priority:            e.Priority,
		FailedAttemptsCount: attempts,
		AppendNote:          []string{now.Format(noteTimeLayout) + ": " + cause.Error()},
	})
}

// commit persists one transition. A record that another writer already
// moved to a terminal status is left alone.
func (r *Runner) commit(ctx context.Context, q storage.Querier, out outcome, params storage.UpdateEmailStateParams) (outcome, error) {
	_, err := q.UpdateEmailState(ctx, params)
	if errors.Is(err, storage.ErrTerminal) {
		r.log.Warn().
			Str("email_id", params.ID.String()).
			Str("status", string(params.Status)).
			Msg("email was finished by another writer, outcome dropped")
		return outcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("update email %s: %w", params.ID, err)
	}
	return out, nil
}

func ms(d time.Duration) *float64 {
	v := float64(d) / float64(time.Millisecond)
	return &v
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
