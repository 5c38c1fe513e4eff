// Package transport delivers prepared messages.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/message"
)

// Transport hands a prepared message to a delivery mechanism. Every failure
// returned by Send is a *SendError.
type Transport interface {
	Send(ctx context.Context, msg *message.Prepared) error
	// Name returns the transport identifier (e.g. "smtp", "resend").
	Name() string
}

// Config selects and configures a Transport.
type Config struct {
	Type         string // smtp, sendmail, resend, stdout, file
	Host         string
	Port         int
	Username     string
	Password     string
	TLS          string // none, starttls, implicit
	Helo         string
	SendmailPath string
	ResendAPIKey string
	OutputDir    string
	Timeout      time.Duration
	// Fallbacks are tried in order when this transport fails transiently.
	Fallbacks []Config
}

// New creates the transport named by cfg.Type, wrapped in a Failover when
// fallbacks are configured.
func New(cfg Config, log zerolog.Logger) (Transport, error) {
	primary, err := newSingle(cfg, log)
	if err != nil || len(cfg.Fallbacks) == 0 {
		return primary, err
	}
	members := []Transport{primary}
	for _, fc := range cfg.Fallbacks {
		t, err := newSingle(fc, log)
		if err != nil {
			return nil, err
		}
		members = append(members, t)
	}
	f := NewFailover(log, members...)
	log.Info().Str("transport", f.Name()).Msg("failover configured")
	return f, nil
}

func newSingle(cfg Config, log zerolog.Logger) (Transport, error) {
	var (
		t   Transport
		err error
	)
	switch cfg.Type {
	case "smtp":
		t, err = NewSMTP(cfg)
	case "sendmail":
		t, err = NewSendmail(cfg)
	case "resend":
		t, err = NewResend(cfg)
	case "stdout":
		t = NewStdout()
	case "file":
		t = NewFile(cfg.OutputDir)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s transport config: %w", cfg.Type, err)
	}

	log.Info().Str("transport", t.Name()).Msg("transport configured")
	return t, nil
}
