package emailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sungwon/emailer/internal/attachment"
	"github.com/sungwon/emailer/internal/locale"
	"github.com/sungwon/emailer/internal/logger"
	"github.com/sungwon/emailer/internal/metrics"
	"github.com/sungwon/emailer/internal/storage"
)

// Enqueue persists req as an in-queue record. Blank bodies are rejected
// with ErrEmptyBody before anything is stored. A missing sender is filled
// from Config.DefaultFrom.
func (s *Service) Enqueue(ctx context.Context, req Request) (storage.Email, error) {
	payload := req.Payload
	if !payload.HasBody() {
		metrics.EmailsRejectedTotal.WithLabelValues("empty_body").Inc()
		return storage.Email{}, ErrEmptyBody
	}

	if payload.From == "" {
		payload.From = s.cfg.DefaultFrom
	}

	log := logger.FromContext(ctx)
	now := s.now()

	keys, err := s.storeFiles(ctx, &payload, req.Files)
	if err != nil {
		return storage.Email{}, err
	}

	earliest := req.SendEarliestAt
	if len(payload.Attachments) > 0 {
		base := now
		if earliest != nil && earliest.After(now) {
			base = *earliest
		}
		at := base.Add(s.cfg.AttachmentGrace)
		earliest = &at
	}

	priority := storage.PriorityNormal
	if req.Priority != nil {
		priority = storage.ClampPriority(*req.Priority)
	}

	email, err := s.store.InsertEmail(ctx, storage.InsertEmailParams{
		ID:             req.ID,
		Status:         storage.StatusInQueue,
		Priority:       priority,
		SendEarliestAt: earliest,
		SourceIP:       SourceIPFromContext(ctx),
		Locale:         s.resolveLocale(ctx, req.Locale),
		Payload:        payload,
		InsertedAt:     now,
	})
	if err != nil {
		s.discardFiles(ctx, keys)
		return storage.Email{}, fmt.Errorf("insert email: %w", err)
	}

	metrics.EmailsEnqueuedTotal.WithLabelValues(priority.String()).Inc()
	log.Debug().
		Str("email_id", email.ID.String()).
		Str("priority", priority.String()).
		Msg("email enqueued")
	return email, nil
}

// resolveLocale prefers an explicit locale and otherwise asks the resolver.
// Resolution failures leave the locale unset.
func (s *Service) resolveLocale(ctx context.Context, explicit string) *string {
	l := locale.Normalize(explicit)
	if l == "" && s.locale != nil {
		if resolved, err := s.locale.Locale(ctx); err == nil {
			l = locale.Normalize(resolved)
		}
	}
	if l == "" {
		return nil
	}
	return &l
}

func (s *Service) storeFiles(ctx context.Context, payload *storage.Payload, files []File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.attachments == nil {
		return nil, errors.New("emailer: attachments given but no attachment store configured")
	}

	keys := make([]string, 0, len(files))
	attachments := append([]storage.Attachment(nil), payload.Attachments...)
	for _, f := range files {
		key := attachment.NewKey()
		if err := s.attachments.Put(ctx, key, f.Content, f.ContentType); err != nil {
			s.discardFiles(ctx, keys)
			return nil, fmt.Errorf("store attachment %q: %w", f.Filename, err)
		}
		keys = append(keys, key)
		attachments = append(attachments, storage.Attachment{
			Filename:    f.Filename,
			ContentType: f.ContentType,
			ContentID:   f.ContentID,
			Inline:      f.Inline,
			StorageKey:  key,
			Size:        int64(len(f.Content)),
		})
	}
	payload.Attachments = attachments
	return keys, nil
}

func (s *Service) discardFiles(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.attachments.Delete(ctx, key); err != nil && !errors.Is(err, attachment.ErrNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to remove orphaned attachment")
		}
	}
}
