package smtp

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/emailer"
	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/metrics"
	"github.com/sungwon/emailer/internal/mimeparse"
)

var (
	errTooManyConnections = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "Too many connections",
	}
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errInvalidCredentials = &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication credentials invalid",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         503,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "No valid recipients",
	}
	errMalformed = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "Malformed message",
	}
	errEmptyBody = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "Message has no body",
	}
	errTemporary = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure, try again later",
	}
)

// Session is one SMTP conversation. The envelope is reset after each
// message; authentication survives resets.
type Session struct {
	ctx     context.Context
	log     zerolog.Logger
	backend *Backend

	authenticated bool
	sender        string
	recipients    []string
}

// AuthMechanisms advertises PLAIN when credentials are configured.
func (s *Session) AuthMechanisms() []string {
	if !s.backend.requiresAuth() {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth starts a SASL exchange.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain || !s.backend.requiresAuth() {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		cfg := s.backend.cfg
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1
		if !userOK || !passOK {
			metrics.SMTPAuthAttemptsTotal.WithLabelValues("failure").Inc()
			s.log.Warn().Str("username", username).Msg("SMTP authentication failed")
			return errInvalidCredentials
		}
		metrics.SMTPAuthAttemptsTotal.WithLabelValues("success").Inc()
		s.authenticated = true
		s.log.Info().Str("username", username).Msg("SMTP authentication succeeded")
		return nil
	}), nil
}

func (s *Session) checkAuth() error {
	if s.backend.requiresAuth() && !s.authenticated {
		return errAuthRequired
	}
	return nil
}

// Mail sets the envelope sender.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if err := s.checkAuth(); err != nil {
		return err
	}
	if err := ValidateEmailAddress(from); err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}
	if !domainAllowed(from, s.backend.cfg.AllowedSenderDomains) {
		s.log.Warn().Str("sender", from).Msg("sender domain not allowed")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "Sender domain not allowed",
		}
	}
	s.sender = from
	return nil
}

// Rcpt adds an envelope recipient.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if err := s.checkAuth(); err != nil {
		return err
	}
	if err := ValidateEmailAddress(to); err != nil {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient address",
		}
	}
	s.recipients = append(s.recipients, to)
	return nil
}

// Data parses the message and submits it. Envelope recipients missing from
// the To, Cc and Bcc headers are added as Bcc, and header recipients outside
// the envelope are dropped, so delivery follows the envelope.
func (s *Session) Data(r io.Reader) error {
	if err := s.checkAuth(); err != nil {
		return err
	}
	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			return smtpErr
		}
		s.log.Error().Err(err).Msg("failed to read message data")
		return errTemporary
	}

	msg, err := mimeparse.Parse(raw)
	if err != nil {
		metrics.SMTPMessagesTotal.WithLabelValues("malformed").Inc()
		s.log.Warn().Err(err).Msg("rejected malformed message")
		return errMalformed
	}

	req := emailer.FromMIME(msg)
	if req.Payload.From == "" {
		req.Payload.From = s.sender
	}
	req.Payload.To, req.Payload.Cc, req.Payload.Bcc = envelope(s.recipients, req.Payload.To, req.Payload.Cc, req.Payload.Bcc)

	email, err := s.backend.sender.Send(s.ctx, req)
	switch {
	case errors.Is(err, emailer.ErrEmptyBody):
		metrics.SMTPMessagesTotal.WithLabelValues("empty_body").Inc()
		return errEmptyBody
	case err != nil:
		metrics.SMTPMessagesTotal.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Msg("failed to accept message")
		return errTemporary
	}

	metrics.SMTPMessagesTotal.WithLabelValues("accepted").Inc()
	s.log.Info().
		Str("email_id", email.ID.String()).
		Str("status", string(email.Status)).
		Int("recipients", len(s.recipients)).
		Msg("message accepted")
	return nil
}

// Reset clears the envelope.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout releases the connection slot.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	metrics.SMTPActiveSessions.Dec()
	s.log.Info().Msg("SMTP session closed")
	return nil
}

// envelope filters the header lists down to envelope recipients and appends
// envelope-only recipients to bcc. Addresses compare case-insensitively
// without display names.
func envelope(rcpts, to, cc, bcc []string) ([]string, []string, []string) {
	wanted := make(map[string]bool, len(rcpts))
	for _, r := range rcpts {
		wanted[strings.ToLower(fixer.Bare(r))] = false
	}
	keep := func(list []string) []string {
		var out []string
		for _, addr := range list {
			key := strings.ToLower(fixer.Bare(addr))
			if seen, ok := wanted[key]; ok && !seen {
				wanted[key] = true
				out = append(out, addr)
			}
		}
		return out
	}
	to, cc, bcc = keep(to), keep(cc), keep(bcc)
	for _, r := range rcpts {
		key := strings.ToLower(fixer.Bare(r))
		if !wanted[key] {
			wanted[key] = true
			bcc = append(bcc, r)
		}
	}
	return to, cc, bcc
}
