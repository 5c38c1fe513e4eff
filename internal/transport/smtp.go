package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/sungwon/emailer/internal/message"
)

// SMTP relays messages to an SMTP server.
type SMTP struct {
	addr      string
	host      string
	username  string
	password  string
	tlsMode   string
	helo      string
	timeout   time.Duration
	tlsConfig *tls.Config
}

// NewSMTP validates cfg and returns an SMTP transport.
func NewSMTP(cfg Config) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("port must be positive")
	}
	mode := cfg.TLS
	switch mode {
	case "":
		mode = "starttls"
	case "none", "starttls", "implicit":
	default:
		return nil, fmt.Errorf("unknown TLS mode %q (use starttls, implicit, or none)", cfg.TLS)
	}
	helo := cfg.Helo
	if helo == "" {
		helo = "localhost"
	}
	return &SMTP{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:      cfg.Host,
		username:  cfg.Username,
		password:  cfg.Password,
		tlsMode:   mode,
		helo:      helo,
		timeout:   cfg.Timeout,
		tlsConfig: &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
	}, nil
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) dial() (*smtp.Client, error) {
	switch s.tlsMode {
	case "implicit":
		return smtp.DialTLS(s.addr, s.tlsConfig)
	case "starttls":
		return smtp.DialStartTLS(s.addr, s.tlsConfig)
	default:
		return smtp.Dial(s.addr)
	}
}

// Send delivers msg.Raw to every envelope recipient in one transaction.
func (s *SMTP) Send(ctx context.Context, msg *message.Prepared) error {
	if err := ctx.Err(); err != nil {
		return wrap(s.Name(), err)
	}

	c, err := s.dial()
	if err != nil {
		return wrap(s.Name(), fmt.Errorf("dial %s: %w", s.addr, err))
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	if s.timeout > 0 {
		c.CommandTimeout = s.timeout
		c.SubmissionTimeout = s.timeout
	}

	if err := c.Hello(s.helo); err != nil {
		return wrap(s.Name(), fmt.Errorf("hello: %w", err))
	}
	if s.username != "" && s.password != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return wrap(s.Name(), fmt.Errorf("auth: %w", err))
		}
	}
	if err := c.SendMail(msg.EnvelopeFrom, msg.Recipients(), bytes.NewReader(msg.Raw)); err != nil {
		return wrap(s.Name(), fmt.Errorf("send mail: %w", err))
	}
	if err := c.Quit(); err != nil {
		return wrap(s.Name(), fmt.Errorf("quit: %w", err))
	}
	return nil
}
