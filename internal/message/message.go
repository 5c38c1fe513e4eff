// Package message builds transport-ready messages from stored queue records.
package message

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/sungwon/emailer/internal/attachment"
	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/render"
	"github.com/sungwon/emailer/internal/storage"
)

// PrepareError marks a failure that happened before the transport was
// invoked.
type PrepareError struct {
	EmailID uuid.UUID
	Err     error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare email %s: %v", e.EmailID, e.Err)
}

func (e *PrepareError) Unwrap() error { return e.Err }

// IsPrepareError reports whether err is or wraps a *PrepareError.
func IsPrepareError(err error) bool {
	var pe *PrepareError
	return errors.As(err, &pe)
}

// Part is an attachment with its content loaded.
type Part struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Content     []byte
}

// Prepared is a message ready for a transport.
type Prepared struct {
	EmailID      uuid.UUID
	From         string
	EnvelopeFrom string
	To           []string
	Cc           []string
	Bcc          []string
	ReplyTo      string
	Subject      string
	TextBody     string
	HTMLBody     string
	Headers      map[string]string
	Attachments  []Part
	Priority     storage.Priority

	// Raw is the complete RFC 5322 message, DKIM signed when configured.
	Raw []byte
}

// Empty reports whether neither body has content.
func (p *Prepared) Empty() bool {
	return strings.TrimSpace(p.TextBody) == "" && strings.TrimSpace(p.HTMLBody) == ""
}

// Recipients returns the bare envelope recipients: To, Cc and Bcc.
func (p *Prepared) Recipients() []string {
	out := make([]string, 0, len(p.To)+len(p.Cc)+len(p.Bcc))
	for _, list := range [][]string{p.To, p.Cc, p.Bcc} {
		for _, r := range list {
			out = append(out, fixer.Bare(r))
		}
	}
	return out
}

// Builder performs the prepare phase.
type Builder struct {
	attachments attachment.Store
	signer      *Signer
	now         func() time.Time
	hostname    string
}

// Option configures a Builder.
type Option func(*Builder)

// WithAttachmentStore sets where attachment content is loaded from.
func WithAttachmentStore(s attachment.Store) Option {
	return func(b *Builder) { b.attachments = s }
}

// WithSigner enables DKIM signing.
func WithSigner(s *Signer) Option {
	return func(b *Builder) { b.signer = s }
}

// WithClock overrides the time source used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithHostname sets the domain used in generated Message-ID headers.
func WithHostname(h string) Option {
	return func(b *Builder) { b.hostname = h }
}

// NewBuilder returns a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{now: time.Now, hostname: "localhost"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// xPriority maps queue priority to the X-Priority header scale.
var xPriority = map[storage.Priority]int{
	storage.PriorityUrgent: 1,
	storage.PriorityHigh:   2,
	storage.PriorityNormal: 3,
	storage.PriorityLow:    5,
}

// Build prepares e for sending. A record with no body yields a Prepared
// whose Empty reports true and no Raw content; every other failure is a
// *PrepareError.
func (b *Builder) Build(ctx context.Context, e storage.Email) (*Prepared, error) {
	p := e.Payload
	prep := &Prepared{
		EmailID:  e.ID,
		From:     p.From,
		To:       p.To,
		Cc:       p.Cc,
		Bcc:      p.Bcc,
		ReplyTo:  p.ReplyTo,
		Subject:  p.Subject,
		TextBody: p.TextBody,
		HTMLBody: p.HTMLBody,
		Headers:  customHeaders(p.Headers),
		Priority: e.Priority,
	}
	if prep.Empty() {
		return prep, nil
	}

	fail := func(err error) (*Prepared, error) {
		return nil, &PrepareError{EmailID: e.ID, Err: err}
	}

	if strings.TrimSpace(p.From) == "" {
		return fail(errors.New("missing sender"))
	}
	prep.EnvelopeFrom = fixer.Bare(p.From)
	if len(prep.Recipients()) == 0 {
		return fail(errors.New("no recipients"))
	}
	if strings.TrimSpace(prep.TextBody) == "" {
		prep.TextBody = render.PlainText(prep.HTMLBody)
	}

	for _, a := range p.Attachments {
		if b.attachments == nil {
			return fail(fmt.Errorf("attachment %q: no attachment store configured", a.Filename))
		}
		content, err := b.attachments.Get(ctx, a.StorageKey)
		if err != nil {
			return fail(fmt.Errorf("load attachment %q: %w", a.Filename, err))
		}
		prep.Attachments = append(prep.Attachments, Part{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			ContentID:   a.ContentID,
			Inline:      a.Inline,
			Content:     content,
		})
	}

	raw, err := b.compose(prep)
	if err != nil {
		return fail(err)
	}
	if b.signer != nil {
		raw, err = b.signer.Sign(raw, prep.EnvelopeFrom)
		if err != nil {
			return fail(err)
		}
	}
	prep.Raw = raw
	return prep, nil
}

// compose writes the MIME message. Bcc recipients are left out of the
// headers and only travel in the envelope.
// reservedHeaders are composed from the payload fields or by the MIME
// writer. Custom headers with these names are dropped so the message cannot
// disagree with its envelope. Bcc never appears in a sent message.
var reservedHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Date":                      true,
	"Message-Id":                true,
	"X-Priority":                true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
}

// customHeaders canonicalizes the payload's extra headers and drops the
// reserved ones.
func customHeaders(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = textproto.CanonicalMIMEHeaderKey(k)
		if !reservedHeaders[k] {
			out[k] = v
		}
	}
	return out
}

func (b *Builder) compose(p *Prepared) ([]byte, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", p.From)
	if len(p.To) > 0 {
		m.SetHeader("To", p.To...)
	}
	if len(p.Cc) > 0 {
		m.SetHeader("Cc", p.Cc...)
	}
	if p.ReplyTo != "" {
		m.SetHeader("Reply-To", p.ReplyTo)
	}
	m.SetHeader("Subject", p.Subject)
	m.SetDateHeader("Date", b.now())
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", p.EmailID, b.hostname))
	if xp, ok := xPriority[p.Priority]; ok {
		m.SetHeader("X-Priority", strconv.Itoa(xp))
	}
	for k, v := range p.Headers {
		m.SetHeader(k, v)
	}

	switch {
	case p.HTMLBody != "":
		m.SetBody("text/plain", p.TextBody)
		m.AddAlternative("text/html", p.HTMLBody)
	default:
		m.SetBody("text/plain", p.TextBody)
	}

	for _, part := range p.Attachments {
		part := part
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(part.Content)
				return err
			}),
		}
		headers := map[string][]string{}
		if part.ContentType != "" {
			headers["Content-Type"] = []string{part.ContentType}
		}
		if part.Inline {
			if part.ContentID != "" {
				headers["Content-ID"] = []string{"<" + part.ContentID + ">"}
			}
			if len(headers) > 0 {
				settings = append(settings, gomail.SetHeader(headers))
			}
			m.Embed(part.Filename, settings...)
			continue
		}
		if len(headers) > 0 {
			settings = append(settings, gomail.SetHeader(headers))
		}
		m.Attach(part.Filename, settings...)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write mime message: %w", err)
	}
	return buf.Bytes(), nil
}
