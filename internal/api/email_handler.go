package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sungwon/emailer/internal/emailer"
	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/logger"
	"github.com/sungwon/emailer/internal/mimeparse"
	"github.com/sungwon/emailer/internal/storage"
)

// maxSubmissionBytes caps request bodies, attachments included.
const maxSubmissionBytes = 25 << 20

// Sender accepts an email and routes it to the queue or an immediate send.
type Sender interface {
	Send(ctx context.Context, req emailer.Request) (storage.Email, error)
}

// Assembler renders a registered email type into a request.
type Assembler interface {
	Assemble(ctx context.Context, typeName string, params map[string]any, overwrite bool) (*emailer.Request, error)
}

// EmailReader is the read side of the store used by the API.
type EmailReader interface {
	GetEmail(ctx context.Context, id uuid.UUID) (storage.Email, error)
	ListLogsByEmail(ctx context.Context, emailID uuid.UUID) ([]storage.Log, error)
	CountEmailsByStatus(ctx context.Context) (map[storage.Status]int64, error)
}

type attachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
	Inline      bool   `json:"inline"`
	Content     []byte `json:"content"` // base64 in JSON
}

type emailRequest struct {
	ID             string              `json:"id"`
	From           string              `json:"from"`
	ReplyTo        string              `json:"reply_to"`
	To             []string            `json:"to"`
	Cc             []string            `json:"cc"`
	Bcc            []string            `json:"bcc"`
	Subject        string              `json:"subject"`
	Text           string              `json:"text"`
	HTML           string              `json:"html"`
	Headers        map[string]string   `json:"headers"`
	Priority       string              `json:"priority"`
	SendEarliestAt *time.Time          `json:"send_earliest_at"`
	Locale         string              `json:"locale"`
	Attachments    []attachmentRequest `json:"attachments"`
}

type templateRequest struct {
	Params    map[string]any `json:"params"`
	Overwrite bool           `json:"overwrite"`
}

type logResponse struct {
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	InsertedAt time.Time `json:"inserted_at"`
}

type emailResponse struct {
	ID                        string        `json:"id"`
	Status                    string        `json:"status"`
	Priority                  string        `json:"priority"`
	FailedAttemptsCount       int           `json:"failed_attempts_count"`
	SendEarliestAt            *time.Time    `json:"send_earliest_at,omitempty"`
	SendEarliestNextAttemptAt *time.Time    `json:"send_earliest_next_attempt_at,omitempty"`
	PreparingDurationMs       *float64      `json:"preparing_duration_ms,omitempty"`
	SendingDurationMs         *float64      `json:"sending_duration_ms,omitempty"`
	Note                      []string      `json:"note"`
	SourceIP                  string        `json:"source_ip"`
	Locale                    *string       `json:"locale,omitempty"`
	From                      string        `json:"from"`
	To                        []string      `json:"to"`
	Subject                   string        `json:"subject"`
	InsertedAt                time.Time     `json:"inserted_at"`
	SentAt                    *time.Time    `json:"sent_at,omitempty"`
	Logs                      []logResponse `json:"logs,omitempty"`
}

func toEmailResponse(e storage.Email) emailResponse {
	note := e.Note
	if note == nil {
		note = []string{}
	}
	return emailResponse{
		ID:                        e.ID.String(),
		Status:                    string(e.Status),
		Priority:                  e.Priority.String(),
		FailedAttemptsCount:       e.FailedAttemptsCount,
		SendEarliestAt:            e.SendEarliestAt,
		SendEarliestNextAttemptAt: e.SendEarliestNextAttemptAt,
		PreparingDurationMs:       e.PreparingDurationMs,
		SendingDurationMs:         e.SendingDurationMs,
		Note:                      note,
		SourceIP:                  e.SourceIP,
		Locale:                    e.Locale,
		From:                      e.Payload.From,
		To:                        e.Payload.To,
		Subject:                   e.Payload.Subject,
		InsertedAt:                e.InsertedAt,
		SentAt:                    e.SentAt,
	}
}

// statusFor answers 201 for mail that already left and 202 for mail still
// waiting in the queue.
func statusFor(e storage.Email) int {
	if e.Status == storage.StatusSent {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

// CreateEmailHandler handles POST /api/v1/emails.
// Accepts a JSON document or, with Content-Type message/rfc822, a raw message.
func CreateEmailHandler(sender Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

		var (
			req     emailer.Request
			details []string
		)
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		switch mediaType {
		case "message/rfc822":
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			req, details = requestFromMIME(raw)
		default:
			var body emailRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				respondError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			req, details = requestFromJSON(body)
		}
		if len(details) > 0 {
			respondValidationErrors(w, details)
			return
		}

		send(w, r, sender, req)
	}
}

// CreateTemplatedEmailHandler handles POST /api/v1/emails/types/{type}.
func CreateTemplatedEmailHandler(sender Sender, assembler Assembler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)

		var body templateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req, err := assembler.Assemble(r.Context(), chi.URLParam(r, "type"), body.Params, body.Overwrite)
		switch {
		case errors.Is(err, emailer.ErrUnknownType):
			respondError(w, http.StatusNotFound, "unknown email type")
			return
		case errors.Is(err, emailer.ErrNoTemplate), errors.Is(err, emailer.ErrInvalidParam):
			respondValidationErrors(w, []string{err.Error()})
			return
		case err != nil:
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("failed to assemble email")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		send(w, r, sender, *req)
	}
}

func send(w http.ResponseWriter, r *http.Request, sender Sender, req emailer.Request) {
	email, err := sender.Send(r.Context(), req)
	if errors.Is(err, emailer.ErrEmptyBody) {
		respondValidationErrors(w, []string{"text or html body is required"})
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("failed to accept email")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, statusFor(email), toEmailResponse(email))
}

func requestFromJSON(body emailRequest) (emailer.Request, []string) {
	req := emailer.Request{
		Payload: storage.Payload{
			From:     body.From,
			ReplyTo:  body.ReplyTo,
			To:       body.To,
			Cc:       body.Cc,
			Bcc:      body.Bcc,
			Subject:  body.Subject,
			TextBody: body.Text,
			HTMLBody: body.HTML,
			Headers:  body.Headers,
		},
		SendEarliestAt: body.SendEarliestAt,
		Locale:         body.Locale,
	}
	var details []string

	if body.ID != "" {
		id, err := uuid.Parse(body.ID)
		if err != nil {
			details = append(details, "id must be a UUID")
		}
		req.ID = id
	}
	if body.Priority != "" {
		p, err := emailer.ParsePriority(body.Priority)
		if err != nil {
			details = append(details, "priority must be one of urgent, high, normal, low")
		}
		req.Priority = &p
	}
	for i, a := range body.Attachments {
		if a.Filename == "" {
			details = append(details, fmt.Sprintf("attachments[%d].filename is required", i))
		}
		req.Files = append(req.Files, emailer.File{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
			Inline:      a.Inline,
			Content:     a.Content,
		})
	}

	return req, append(details, validateAddresses(req.Payload)...)
}

func requestFromMIME(raw []byte) (emailer.Request, []string) {
	msg, err := mimeparse.Parse(raw)
	if err != nil {
		return emailer.Request{}, []string{err.Error()}
	}
	req := emailer.FromMIME(msg)
	return req, validateAddresses(req.Payload)
}

func validateAddresses(p storage.Payload) []string {
	var details []string
	if len(p.To) == 0 {
		details = append(details, "to is required")
	}
	check := func(field string, list []string) {
		for _, addr := range list {
			if !fixer.IsEmail(fixer.Bare(addr)) {
				details = append(details, fmt.Sprintf("%s: invalid address %q", field, addr))
			}
		}
	}
	if p.From != "" {
		check("from", []string{p.From})
	}
	if p.ReplyTo != "" {
		check("reply_to", []string{p.ReplyTo})
	}
	check("to", p.To)
	check("cc", p.Cc)
	check("bcc", p.Bcc)
	return details
}

// GetEmailHandler handles GET /api/v1/emails/{id}.
// Returns the record with its log entries.
func GetEmailHandler(store EmailReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid email id")
			return
		}

		email, err := store.GetEmail(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "email not found")
			return
		}
		if err != nil {
			log := logger.ForEmail(logger.FromContext(r.Context()), id)
			log.Error().Err(err).Msg("failed to get email")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		logs, err := store.ListLogsByEmail(r.Context(), id)
		if err != nil {
			log := logger.ForEmail(logger.FromContext(r.Context()), id)
			log.Error().Err(err).Msg("failed to list email logs")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		resp := toEmailResponse(email)
		for _, l := range logs {
			resp.Logs = append(resp.Logs, logResponse{
				Level:      l.Level.String(),
				Message:    l.Message,
				InsertedAt: l.InsertedAt,
			})
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// ListEmailTypesHandler handles GET /api/v1/emails/types.
func ListEmailTypesHandler(registry *emailer.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type typeResponse struct {
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
		}
		out := []typeResponse{}
		for _, name := range registry.Names() {
			t, err := registry.Get(name)
			if err != nil {
				continue
			}
			out = append(out, typeResponse{Name: name, Description: strings.TrimSpace(t.Description())})
		}
		respondJSON(w, http.StatusOK, map[string]any{"types": out})
	}
}
