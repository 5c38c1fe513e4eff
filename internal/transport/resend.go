package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/resend/resend-go/v3"

	"github.com/sungwon/emailer/internal/message"
)

type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend delivers through the Resend HTTP API.
type Resend struct {
	emails resendEmails
}

// NewResend returns a Resend transport authenticated with cfg.ResendAPIKey.
func NewResend(cfg Config) (*Resend, error) {
	if cfg.ResendAPIKey == "" {
		return nil, errors.New("resend api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resend.NewCustomClient(&http.Client{Timeout: timeout}, cfg.ResendAPIKey)
	return &Resend{emails: client.Emails}, nil
}

func (r *Resend) Name() string { return "resend" }

func (r *Resend) Send(ctx context.Context, msg *message.Prepared) error {
	req := &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
		Headers: msg.Headers,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
			ContentId:   a.ContentID,
		})
	}

	if _, err := r.emails.SendWithContext(ctx, req); err != nil {
		return classifyHTTP(r.Name(), 0, fmt.Errorf("send email: %w", err))
	}
	return nil
}
