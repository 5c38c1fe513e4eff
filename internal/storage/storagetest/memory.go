// Package storagetest provides an in-memory storage.Querier for tests.
package storagetest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/emailer/internal/storage"
)

// Store is an in-memory storage.Querier with the same filtering, ordering
// and update rules as the PostgreSQL queries.
type Store struct {
	mu      sync.Mutex
	emails  map[uuid.UUID]*storage.Email
	order   []uuid.UUID
	logs    []storage.Log
	nextLog int64
	fail    map[string]error
}

var _ storage.Querier = (*Store)(nil)

func New() *Store {
	return &Store{
		emails: make(map[uuid.UUID]*storage.Email),
		fail:   make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, method)
		return
	}
	s.fail[method] = err
}

func (s *Store) failure(method string) error {
	return s.fail[method]
}

// Put stores e as is, replacing any record with the same ID.
func (s *Store) Put(e storage.Email) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	c := clone(e)
	s.emails[e.ID] = &c
}

// PutLog stores l as is, assigning an ID.
func (s *Store) PutLog(l storage.Log) storage.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLog++
	l.ID = s.nextLog
	s.logs = append(s.logs, l)
	return l
}

// Emails returns every record in insertion order.
func (s *Store) Emails() []storage.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Email, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clone(*s.emails[id]))
	}
	return out
}

// Logs returns every log entry in insertion order.
func (s *Store) Logs() []storage.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs)
}

func clone(e storage.Email) storage.Email {
	e.Note = slices.Clone(e.Note)
	e.Payload.To = slices.Clone(e.Payload.To)
	e.Payload.Cc = slices.Clone(e.Payload.Cc)
	e.Payload.Bcc = slices.Clone(e.Payload.Bcc)
	e.Payload.Attachments = slices.Clone(e.Payload.Attachments)
	return e
}

func (s *Store) InsertEmail(_ context.Context, arg storage.InsertEmailParams) (storage.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertEmail"); err != nil {
		return storage.Email{}, err
	}
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	if arg.Status == "" {
		arg.Status = storage.StatusInQueue
	}
	e := storage.Email{
		ID:             arg.ID,
		Status:         arg.Status,
		Priority:       storage.ClampPriority(arg.Priority),
		SendEarliestAt: arg.SendEarliestAt,
		Note:           []string{},
		SourceIP:       arg.SourceIP,
		Locale:         arg.Locale,
		Payload:        arg.Payload,
		InsertedAt:     arg.InsertedAt,
	}
	if _, ok := s.emails[e.ID]; !ok {
		s.order = append(s.order, e.ID)
	}
	c := clone(e)
	s.emails[e.ID] = &c
	return clone(e), nil
}

func (s *Store) GetEmail(_ context.Context, id uuid.UUID) (storage.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetEmail"); err != nil {
		return storage.Email{}, err
	}
	e, ok := s.emails[id]
	if !ok {
		return storage.Email{}, storage.ErrNotFound
	}
	return clone(*e), nil
}

func eligible(e *storage.Email, now time.Time) bool {
	switch e.Status {
	case storage.StatusInQueue:
	case storage.StatusWaitingForNextAttempt:
		if e.SendEarliestNextAttemptAt != nil && e.SendEarliestNextAttemptAt.After(now) {
			return false
		}
	default:
		return false
	}
	return e.SendEarliestAt == nil || !e.SendEarliestAt.After(now)
}

func (s *Store) NextEligibleEmail(_ context.Context, now time.Time) (storage.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("NextEligibleEmail"); err != nil {
		return storage.Email{}, err
	}
	var best *storage.Email
	for _, id := range s.order {
		e := s.emails[id]
		if !eligible(e, now) {
			continue
		}
		if best == nil || e.Priority < best.Priority {
			best = e
		}
	}
	if best == nil {
		return storage.Email{}, storage.ErrNotFound
	}
	return clone(*best), nil
}

func (s *Store) ClaimNextEligibleEmail(ctx context.Context, now time.Time) (storage.Email, error) {
	return s.NextEligibleEmail(ctx, now)
}

func (s *Store) UpdateEmailState(_ context.Context, arg storage.UpdateEmailStateParams) (storage.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdateEmailState"); err != nil {
		return storage.Email{}, err
	}
	e, ok := s.emails[arg.ID]
	if !ok {
		return storage.Email{}, storage.ErrNotFound
	}
	if e.Status.Terminal() {
		return storage.Email{}, storage.ErrTerminal
	}
	e.Status = arg.Status
	e.Priority = storage.ClampPriority(arg.Priority)
	e.FailedAttemptsCount = max(e.FailedAttemptsCount, arg.FailedAttemptsCount)
	e.SendEarliestNextAttemptAt = arg.SendEarliestNextAttemptAt
	if arg.SendingDurationMs != nil {
		e.SendingDurationMs = arg.SendingDurationMs
	}
	if arg.PreparingDurationMs != nil {
		e.PreparingDurationMs = arg.PreparingDurationMs
	}
	e.SentAt = arg.SentAt
	e.Note = append(e.Note, arg.AppendNote...)
	return clone(*e), nil
}

func (s *Store) CountEmailsByStatus(_ context.Context) (map[storage.Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CountEmailsByStatus"); err != nil {
		return nil, err
	}
	out := make(map[storage.Status]int64)
	for _, e := range s.emails {
		out[e.Status]++
	}
	return out, nil
}

func (s *Store) InsertLog(_ context.Context, arg storage.InsertLogParams) (storage.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertLog"); err != nil {
		return storage.Log{}, err
	}
	s.nextLog++
	l := storage.Log{
		ID:         s.nextLog,
		Level:      arg.Level,
		Message:    arg.Message,
		EmailID:    arg.EmailID,
		InsertedAt: arg.InsertedAt,
	}
	s.logs = append(s.logs, l)
	return l, nil
}

func (s *Store) ListLogsByEmail(_ context.Context, emailID uuid.UUID) ([]storage.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListLogsByEmail"); err != nil {
		return nil, err
	}
	var out []storage.Log
	for _, l := range s.logs {
		if l.EmailID != nil && *l.EmailID == emailID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) deleteLogs(method string, before time.Time, limit int, withEmail bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(method); err != nil {
		return 0, err
	}
	var (
		kept    []storage.Log
		deleted int64
	)
	for _, l := range s.logs {
		if int(deleted) < limit && (l.EmailID != nil) == withEmail && !l.InsertedAt.After(before) {
			deleted++
			continue
		}
		kept = append(kept, l)
	}
	s.logs = kept
	return deleted, nil
}

func (s *Store) DeleteCommonLogsBefore(_ context.Context, before time.Time, limit int) (int64, error) {
	return s.deleteLogs("DeleteCommonLogsBefore", before, limit, false)
}

func (s *Store) DeleteEmailLogsBefore(_ context.Context, before time.Time, limit int) (int64, error) {
	return s.deleteLogs("DeleteEmailLogsBefore", before, limit, true)
}

func (s *Store) ClearSentHTMLBodiesBefore(_ context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ClearSentHTMLBodiesBefore"); err != nil {
		return 0, err
	}
	var cleared int64
	for _, id := range s.order {
		if int(cleared) >= limit {
			break
		}
		e := s.emails[id]
		if e.Status == storage.StatusSent && !e.InsertedAt.After(before) && e.Payload.HTMLBody != "" {
			e.Payload.HTMLBody = ""
			cleared++
		}
	}
	return cleared, nil
}

// ClaimNext mirrors storage.DB.ClaimNext. The store is serialized by its
// mutex per call, so no lock is held across fn.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, fn func(q storage.Querier, e storage.Email) error) error {
	e, err := s.ClaimNextEligibleEmail(ctx, now)
	if err != nil {
		return err
	}
	return fn(s, e)
}
