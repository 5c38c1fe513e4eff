package emailer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/storage"
)

// DBLogger writes audit entries to the store and mirrors them to zerolog.
type DBLogger struct {
	store storage.LogWriter
	log   zerolog.Logger
	now   func() time.Time
}

func NewDBLogger(store storage.LogWriter, log zerolog.Logger, now func() time.Time) *DBLogger {
	if now == nil {
		now = time.Now
	}
	return &DBLogger{store: store, log: log, now: now}
}

// Log records message at level, optionally tied to an email.
func (l *DBLogger) Log(ctx context.Context, level storage.LogLevel, message string, emailID *uuid.UUID) error {
	return l.LogTo(ctx, l.store, level, message, emailID)
}

// LogTo is Log writing through w instead of the logger's own store. Entries
// about an email whose row is locked by a transaction must go through that
// transaction: the email_id foreign key check would otherwise wait on the
// lock.
func (l *DBLogger) LogTo(ctx context.Context, w storage.LogWriter, level storage.LogLevel, message string, emailID *uuid.UUID) error {
	ev := l.log.WithLevel(zerologLevel(level))
	if emailID != nil {
		ev = ev.Str("email_id", emailID.String())
	}
	ev.Msg(message)

	if _, err := w.InsertLog(ctx, storage.InsertLogParams{
		Level:      level,
		Message:    message,
		EmailID:    emailID,
		InsertedAt: l.now(),
	}); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func zerologLevel(level storage.LogLevel) zerolog.Level {
	switch level {
	case storage.LogLevelInfo:
		return zerolog.InfoLevel
	case storage.LogLevelWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
