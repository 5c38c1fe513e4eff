package emailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/emailer/internal/logger"
	"github.com/sungwon/emailer/internal/metrics"
	"github.com/sungwon/emailer/internal/storage"
)

// Send routes req. Non-urgent mail is queued when the queue is enabled;
// everything else is sent immediately, with NORMAL priority if none is set.
func (s *Service) Send(ctx context.Context, req Request) (storage.Email, error) {
	urgent := req.Priority != nil && *req.Priority == storage.PriorityUrgent
	if !urgent && s.cfg.UseQueue {
		return s.Enqueue(ctx, req)
	}
	if req.Priority == nil {
		p := storage.PriorityNormal
		req.Priority = &p
	}
	return s.SendNow(ctx, req)
}

// SendNow records req and delivers it synchronously. A request whose ID
// names a record that already reached a terminal status returns that record
// unchanged. Delivery failures are reported, scheduled for a quick retry and
// reflected in the returned record; only validation and storage errors are
// returned.
func (s *Service) SendNow(ctx context.Context, req Request) (storage.Email, error) {
	email, done, err := s.recordFor(ctx, req)
	if err != nil || done {
		return email, err
	}

	log := logger.ForEmail(logger.FromContext(ctx), email.ID)

	prepStart := s.now()
	prepared, err := s.preparer.Build(ctx, email)
	if err == nil && prepared.Empty() {
		err = ErrEmptyBody
	}
	prepMs := durationMs(s.now().Sub(prepStart))

	var sendMs *float64
	if err == nil {
		sendStart := s.now()
		err = s.transport.Send(ctx, prepared)
		sendMs = durationMs(s.now().Sub(sendStart))
	}

	now := s.now()
	params := storage.UpdateEmailStateParams{
		ID:                  email.ID,
		Priority:            email.Priority,
		FailedAttemptsCount: email.FailedAttemptsCount,
		PreparingDurationMs: prepMs,
		SendingDurationMs:   sendMs,
	}
	if err == nil {
		params.Status = storage.StatusSent
		params.SentAt = &now
		metrics.ImmediateSendsTotal.WithLabelValues("sent").Inc()
		log.Info().Msg("email sent immediately")
	} else {
		next := now.Add(s.cfg.ImmediateRetryBackoff)
		params.Status = storage.StatusWaitingForNextAttempt
		params.FailedAttemptsCount = email.FailedAttemptsCount + 1
		params.SendEarliestNextAttemptAt = &next
		metrics.ImmediateSendsTotal.WithLabelValues("failed").Inc()
		s.reporter.Critical(ctx, err, map[string]any{"email_id": email.ID.String()})
	}

	updated, uerr := s.store.UpdateEmailState(ctx, params)
	if errors.Is(uerr, storage.ErrTerminal) {
		// Another writer finished the record first.
		return s.store.GetEmail(ctx, email.ID)
	}
	if uerr != nil {
		return storage.Email{}, fmt.Errorf("update email %s: %w", email.ID, uerr)
	}
	return updated, nil
}

// recordFor returns the record SendNow operates on. done is true when the
// record must be returned without sending.
func (s *Service) recordFor(ctx context.Context, req Request) (email storage.Email, done bool, err error) {
	if req.ID != uuid.Nil {
		existing, err := s.store.GetEmail(ctx, req.ID)
		switch {
		case err == nil:
			return existing, existing.Status.Terminal(), nil
		case !errors.Is(err, storage.ErrNotFound):
			return storage.Email{}, false, fmt.Errorf("get email %s: %w", req.ID, err)
		}
	}
	email, err = s.Enqueue(ctx, req)
	return email, false, err
}

func durationMs(d time.Duration) *float64 {
	ms := float64(d) / float64(time.Millisecond)
	return &ms
}
