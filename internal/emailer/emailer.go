// Package emailer accepts outbound messages and routes them to the queue or
// to an immediate send.
package emailer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/attachment"
	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/locale"
	"github.com/sungwon/emailer/internal/message"
	"github.com/sungwon/emailer/internal/report"
	"github.com/sungwon/emailer/internal/storage"
	"github.com/sungwon/emailer/internal/transport"
)

var (
	// ErrEmptyBody is returned when both the text and HTML bodies are blank.
	ErrEmptyBody = errors.New("emailer: empty mail (no body)")
	// ErrNoRecipients is returned when an alert has nowhere to go.
	ErrNoRecipients = errors.New("emailer: no valid recipients")
)

// Preparer builds a transport-ready message from a stored record.
type Preparer interface {
	Build(ctx context.Context, e storage.Email) (*message.Prepared, error)
}

// Config holds the routing and sender settings.
type Config struct {
	UseQueue              bool
	ImmediateRetryBackoff time.Duration
	AttachmentGrace       time.Duration
	DefaultFrom           string
	AdminEmails           []string
}

// File is attachment content supplied with a request. It is written to the
// attachment store when the request is accepted.
type File struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Content     []byte
}

// Request is a message handed to the Service.
type Request struct {
	// ID is optional. When set, SendNow treats it as an idempotency key.
	ID             uuid.UUID
	Payload        storage.Payload
	Priority       *storage.Priority
	SendEarliestAt *time.Time
	Locale         string
	Files          []File
}

// Service is the entry point for sending mail.
type Service struct {
	cfg         Config
	store       storage.Querier
	preparer    Preparer
	transport   transport.Transport
	attachments attachment.Store
	locale      locale.Resolver
	fixer       fixer.Fixer
	reporter    report.Reporter
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithAttachmentStore sets where request files are stored.
func WithAttachmentStore(s attachment.Store) Option {
	return func(svc *Service) { svc.attachments = s }
}

// WithLocaleResolver sets how the requester locale is captured.
func WithLocaleResolver(r locale.Resolver) Option {
	return func(svc *Service) { svc.locale = r }
}

// WithFixer sets the address fixer used for alert recipients.
func WithFixer(f fixer.Fixer) Option {
	return func(svc *Service) { svc.fixer = f }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

// New returns a Service.
func New(cfg Config, store storage.Querier, p Preparer, t transport.Transport, r report.Reporter, log zerolog.Logger, opts ...Option) *Service {
	if cfg.ImmediateRetryBackoff <= 0 {
		cfg.ImmediateRetryBackoff = 10 * time.Second
	}
	if cfg.AttachmentGrace <= 0 {
		cfg.AttachmentGrace = time.Minute
	}
	s := &Service{
		cfg:       cfg,
		store:     store,
		preparer:  p,
		transport: t,
		reporter:  r,
		fixer:     fixer.Nop{},
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ctxKey int

const (
	sourceIPKey ctxKey = iota
	requestURLKey
)

// DefaultSourceIP is recorded when no client address is known.
const DefaultSourceIP = "127.0.0.1"

// WithSourceIP stores the requester address in ctx.
func WithSourceIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, sourceIPKey, ip)
}

// SourceIPFromContext returns the requester address, or DefaultSourceIP.
func SourceIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(sourceIPKey).(string); ok && ip != "" {
		return ip
	}
	return DefaultSourceIP
}

// WithRequestURL stores the URL being served, shown in administrator alerts.
func WithRequestURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, requestURLKey, url)
}

func requestURLFromContext(ctx context.Context) string {
	url, _ := ctx.Value(requestURLKey).(string)
	return url
}
