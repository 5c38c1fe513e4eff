package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrTerminal is returned when a state update targets an email that is
	// already in a terminal status.
	ErrTerminal = errors.New("storage: email is in a terminal status")
)

// Querier is the data access surface used by the queue components.
// LogWriter appends audit entries. Queries and a transaction bound Queries
// both satisfy it.
type LogWriter interface {
	InsertLog(ctx context.Context, arg InsertLogParams) (Log, error)
}

type Querier interface {
	InsertEmail(ctx context.Context, arg InsertEmailParams) (Email, error)
	GetEmail(ctx context.Context, id uuid.UUID) (Email, error)
	// NextEligibleEmail returns the highest-priority email that may be sent
	// at now, or ErrNotFound.
	NextEligibleEmail(ctx context.Context, now time.Time) (Email, error)
	// ClaimNextEligibleEmail is NextEligibleEmail with a row lock that
	// concurrent claimers skip. Only meaningful inside a transaction.
	ClaimNextEligibleEmail(ctx context.Context, now time.Time) (Email, error)
	UpdateEmailState(ctx context.Context, arg UpdateEmailStateParams) (Email, error)
	CountEmailsByStatus(ctx context.Context) (map[Status]int64, error)

	InsertLog(ctx context.Context, arg InsertLogParams) (Log, error)
	ListLogsByEmail(ctx context.Context, emailID uuid.UUID) ([]Log, error)

	DeleteCommonLogsBefore(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteEmailLogsBefore(ctx context.Context, before time.Time, limit int) (int64, error)
	ClearSentHTMLBodiesBefore(ctx context.Context, before time.Time, limit int) (int64, error)
}

var _ Querier = (*Queries)(nil)

// InsertEmailParams holds the fields for a new queue record.
type InsertEmailParams struct {
	ID             uuid.UUID
	Status         Status
	Priority       Priority
	SendEarliestAt *time.Time
	SourceIP       string
	Locale         *string
	Payload        Payload
	InsertedAt     time.Time
}

// UpdateEmailStateParams carries one state transition. Notes are appended to
// the existing trail and the attempt counter never decreases.
type UpdateEmailStateParams struct {
	ID                        uuid.UUID
	Status                    Status
	Priority                  Priority
	FailedAttemptsCount       int
	SendEarliestNextAttemptAt *time.Time
	SendingDurationMs         *float64
	PreparingDurationMs       *float64
	SentAt                    *time.Time
	AppendNote                []string
}

// InsertLogParams holds the fields for a new log entry.
type InsertLogParams struct {
	Level      LogLevel
	Message    string
	EmailID    *uuid.UUID
	InsertedAt time.Time
}
