package storage

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queued email.
type Status string

const (
	StatusInQueue               Status = "in-queue"
	StatusNotReadyToQueue       Status = "not-ready-to-queue"
	StatusWaitingForNextAttempt Status = "waiting-for-next-attempt"
	StatusSent                  Status = "sent"
	StatusPreparingError        Status = "preparing-error"
	StatusSendingError          Status = "sending-error"
)

// Statuses lists every known status in display order.
var Statuses = []Status{
	StatusInQueue,
	StatusNotReadyToQueue,
	StatusWaitingForNextAttempt,
	StatusSent,
	StatusPreparingError,
	StatusSendingError,
}

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusNotReadyToQueue, StatusPreparingError, StatusSendingError:
		return true
	}
	return false
}

// ParseStatus maps a stored value to a Status. Unknown values are treated
// as a preparation failure so they can never be picked up again.
func ParseStatus(s string) Status {
	for _, st := range Statuses {
		if string(st) == s {
			return st
		}
	}
	return StatusPreparingError
}

// Priority orders delivery; lower values are sent first.
type Priority int

const (
	PriorityUrgent Priority = 0
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// ClampPriority forces p into the URGENT..LOW range.
func ClampPriority(p Priority) Priority {
	if p < PriorityUrgent {
		return PriorityUrgent
	}
	if p > PriorityLow {
		return PriorityLow
	}
	return p
}

func (p Priority) String() string {
	switch ClampPriority(p) {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Attachment references attachment content held in the attachment store.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
	Inline      bool   `json:"inline,omitempty"`
	StorageKey  string `json:"storage_key"`
	Size        int64  `json:"size"`
}

// Payload is the mail content owned by an Email. HTMLBody lives in its own
// column so old bodies can be cleared without rewriting the payload.
type Payload struct {
	From        string            `json:"from"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	TextBody    string            `json:"text_body,omitempty"`
	HTMLBody    string            `json:"-"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// HasBody reports whether the text or HTML body contains anything other
// than whitespace.
func (p Payload) HasBody() bool {
	return strings.TrimSpace(p.TextBody) != "" || strings.TrimSpace(p.HTMLBody) != ""
}

// Recipients returns every envelope recipient: To, Cc and Bcc.
func (p Payload) Recipients() []string {
	out := make([]string, 0, len(p.To)+len(p.Cc)+len(p.Bcc))
	out = append(out, p.To...)
	out = append(out, p.Cc...)
	out = append(out, p.Bcc...)
	return out
}

// Email is a queue record.
type Email struct {
	ID                        uuid.UUID
	Status                    Status
	Priority                  Priority
	FailedAttemptsCount       int
	SendEarliestAt            *time.Time
	SendEarliestNextAttemptAt *time.Time
	SendingDurationMs         *float64
	PreparingDurationMs       *float64
	Note                      []string
	SourceIP                  string
	Locale                    *string
	Payload                   Payload
	InsertedAt                time.Time
	SentAt                    *time.Time
}

// LogLevel is an ordered severity; higher is more severe.
type LogLevel int

const (
	LogLevelInfo    LogLevel = 1
	LogLevelWarning LogLevel = 2
	LogLevelError   LogLevel = 5
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// ParseLogLevel maps a level name to a LogLevel. Unknown names are ERROR.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LogLevelInfo
	case "WARNING", "WARN":
		return LogLevelWarning
	default:
		return LogLevelError
	}
}

// Log is an audit entry, optionally tied to an Email.
type Log struct {
	ID         int64
	Level      LogLevel
	Message    string
	EmailID    *uuid.UUID
	InsertedAt time.Time
}
