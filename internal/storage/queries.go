package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries implements Querier on PostgreSQL.
type Queries struct {
	db DBTX
}

// New returns Queries running against db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries running inside tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const emailColumns = `id, status, priority, failed_attempts_count, send_earliest_at,
	send_earliest_next_attempt_at, sending_duration_ms, preparing_duration_ms, note,
	source_ip, locale, payload, html_body, inserted_at, sent_at`

const eligibleEmail = `SELECT ` + emailColumns + `
FROM emailer_email
WHERE (status = 'in-queue'
       OR (status = 'waiting-for-next-attempt'
           AND (send_earliest_next_attempt_at IS NULL OR send_earliest_next_attempt_at <= $1)))
  AND (send_earliest_at IS NULL OR send_earliest_at <= $1)
ORDER BY priority ASC
LIMIT 1`

func scanEmail(row pgx.Row) (Email, error) {
	var (
		e        Email
		status   string
		priority int
		note     []byte
		payload  []byte
		htmlBody *string
	)
	err := row.Scan(
		&e.ID,
		&status,
		&priority,
		&e.FailedAttemptsCount,
		&e.SendEarliestAt,
		&e.SendEarliestNextAttemptAt,
		&e.SendingDurationMs,
		&e.PreparingDurationMs,
		&note,
		&e.SourceIP,
		&e.Locale,
		&payload,
		&htmlBody,
		&e.InsertedAt,
		&e.SentAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Email{}, ErrNotFound
	}
	if err != nil {
		return Email{}, err
	}

	e.Status = ParseStatus(status)
	e.Priority = ClampPriority(Priority(priority))
	if len(note) > 0 {
		if err := json.Unmarshal(note, &e.Note); err != nil {
			return Email{}, fmt.Errorf("decode note of %s: %w", e.ID, err)
		}
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return Email{}, fmt.Errorf("decode payload of %s: %w", e.ID, err)
	}
	if htmlBody != nil {
		e.Payload.HTMLBody = *htmlBody
	}
	return e, nil
}

const insertEmail = `INSERT INTO emailer_email (
	id, status, priority, failed_attempts_count, send_earliest_at, note,
	source_ip, locale, payload, html_body, inserted_at
) VALUES ($1, $2, $3, 0, $4, '[]'::jsonb, $5, $6, $7, $8, $9)
RETURNING ` + emailColumns

func (q *Queries) InsertEmail(ctx context.Context, arg InsertEmailParams) (Email, error) {
	payload, err := json.Marshal(arg.Payload)
	if err != nil {
		return Email{}, fmt.Errorf("encode payload: %w", err)
	}
	var htmlBody *string
	if arg.Payload.HTMLBody != "" {
		htmlBody = &arg.Payload.HTMLBody
	}
	if arg.ID == uuid.Nil {
		arg.ID = uuid.New()
	}
	if arg.Status == "" {
		arg.Status = StatusInQueue
	}
	row := q.db.QueryRow(ctx, insertEmail,
		arg.ID,
		string(arg.Status),
		int(ClampPriority(arg.Priority)),
		arg.SendEarliestAt,
		arg.SourceIP,
		arg.Locale,
		payload,
		htmlBody,
		arg.InsertedAt,
	)
	return scanEmail(row)
}

const getEmail = `SELECT ` + emailColumns + ` FROM emailer_email WHERE id = $1`

func (q *Queries) GetEmail(ctx context.Context, id uuid.UUID) (Email, error) {
	return scanEmail(q.db.QueryRow(ctx, getEmail, id))
}

func (q *Queries) NextEligibleEmail(ctx context.Context, now time.Time) (Email, error) {
	return scanEmail(q.db.QueryRow(ctx, eligibleEmail, now))
}

func (q *Queries) ClaimNextEligibleEmail(ctx context.Context, now time.Time) (Email, error) {
	return scanEmail(q.db.QueryRow(ctx, eligibleEmail+"\nFOR UPDATE SKIP LOCKED", now))
}

const updateEmailState = `UPDATE emailer_email SET
	status = $2,
	priority = $3,
	failed_attempts_count = GREATEST(failed_attempts_count, $4),
	send_earliest_next_attempt_at = $5,
	sending_duration_ms = COALESCE($6, sending_duration_ms),
	preparing_duration_ms = COALESCE($7, preparing_duration_ms),
	sent_at = $8,
	note = note || $9::jsonb
WHERE id = $1
  AND status NOT IN ('sent', 'not-ready-to-queue', 'preparing-error', 'sending-error')
RETURNING ` + emailColumns

func (q *Queries) UpdateEmailState(ctx context.Context, arg UpdateEmailStateParams) (Email, error) {
	notes := arg.AppendNote
	if notes == nil {
		notes = []string{}
	}
	appendNote, err := json.Marshal(notes)
	if err != nil {
		return Email{}, fmt.Errorf("encode note: %w", err)
	}
	e, err := scanEmail(q.db.QueryRow(ctx, updateEmailState,
		arg.ID,
		string(arg.Status),
		int(ClampPriority(arg.Priority)),
		arg.FailedAttemptsCount,
		arg.SendEarliestNextAttemptAt,
		arg.SendingDurationMs,
		arg.PreparingDurationMs,
		arg.SentAt,
		appendNote,
	))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := q.GetEmail(ctx, arg.ID); getErr == nil {
			return Email{}, ErrTerminal
		}
	}
	return e, err
}

const countEmailsByStatus = `SELECT status, count(*) FROM emailer_email GROUP BY status`

func (q *Queries) CountEmailsByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := q.db.Query(ctx, countEmailsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int64, len(Statuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ParseStatus(status)] += n
	}
	return counts, rows.Err()
}

const logColumns = `id, level, message, email_id, inserted_at`

func scanLog(row pgx.Row) (Log, error) {
	var (
		l     Log
		level int
	)
	if err := row.Scan(&l.ID, &level, &l.Message, &l.EmailID, &l.InsertedAt); err != nil {
		return Log{}, err
	}
	l.Level = LogLevel(level)
	return l, nil
}

const insertLog = `INSERT INTO emailer_log (level, message, email_id, inserted_at)
VALUES ($1, $2, $3, $4)
RETURNING ` + logColumns

func (q *Queries) InsertLog(ctx context.Context, arg InsertLogParams) (Log, error) {
	return scanLog(q.db.QueryRow(ctx, insertLog, int(arg.Level), arg.Message, arg.EmailID, arg.InsertedAt))
}

const listLogsByEmail = `SELECT ` + logColumns + ` FROM emailer_log WHERE email_id = $1 ORDER BY id`

func (q *Queries) ListLogsByEmail(ctx context.Context, emailID uuid.UUID) ([]Log, error) {
	rows, err := q.db.Query(ctx, listLogsByEmail, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const deleteCommonLogsBefore = `DELETE FROM emailer_log WHERE id IN (
	SELECT id FROM emailer_log
	WHERE email_id IS NULL AND inserted_at <= $1
	ORDER BY id
	LIMIT $2
)`

func (q *Queries) DeleteCommonLogsBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteCommonLogsBefore, before, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteEmailLogsBefore = `DELETE FROM emailer_log WHERE id IN (
	SELECT id FROM emailer_log
	WHERE email_id IS NOT NULL AND inserted_at <= $1
	ORDER BY id
	LIMIT $2
)`

func (q *Queries) DeleteEmailLogsBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteEmailLogsBefore, before, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const clearSentHTMLBodiesBefore = `UPDATE emailer_email SET html_body = NULL WHERE id IN (
	SELECT id FROM emailer_email
	WHERE status = 'sent' AND inserted_at <= $1 AND html_body IS NOT NULL AND html_body <> ''
	LIMIT $2
)`

func (q *Queries) ClearSentHTMLBodiesBefore(ctx context.Context, before time.Time, limit int) (int64, error) {
	tag, err := q.db.Exec(ctx, clearSentHTMLBodiesBefore, before, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
