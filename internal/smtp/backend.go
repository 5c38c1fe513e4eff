// Package smtp accepts mail submitted over SMTP and hands it to the
// emailer service, which queues or sends it like any other request.
package smtp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/emailer"
	"github.com/sungwon/emailer/internal/logger"
	"github.com/sungwon/emailer/internal/metrics"
	"github.com/sungwon/emailer/internal/storage"
)

// Sender accepts a submission. *emailer.Service satisfies it.
type Sender interface {
	Send(ctx context.Context, req emailer.Request) (storage.Email, error)
}

// Config configures the listener and the session policy. Authentication is
// required only when Username is set.
type Config struct {
	Addr                 string
	Domain               string
	MaxConnections       int
	MaxMessageBytes      int64
	MaxRecipients        int
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	Username             string
	Password             string
	AllowInsecureAuth    bool
	AllowedSenderDomains []string
}

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	cfg    Config
	sender Sender
	log    zerolog.Logger
	active atomic.Int64
}

// NewBackend creates a Backend that forwards accepted messages to sender.
func NewBackend(cfg Config, sender Sender, log zerolog.Logger) *Backend {
	return &Backend{cfg: cfg, sender: sender, log: log}
}

// NewServer returns a go-smtp server for b configured from its Config.
func NewServer(b *Backend) *gosmtp.Server {
	s := gosmtp.NewServer(b)
	s.Addr = b.cfg.Addr
	s.Domain = b.cfg.Domain
	s.ReadTimeout = b.cfg.ReadTimeout
	s.WriteTimeout = b.cfg.WriteTimeout
	s.MaxMessageBytes = b.cfg.MaxMessageBytes
	s.MaxRecipients = b.cfg.MaxRecipients
	s.AllowInsecureAuth = b.cfg.AllowInsecureAuth
	return s
}

// NewSession is called after a client connects. It enforces the connection
// limit and creates a Session carrying a fresh correlation ID.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	current := b.active.Add(1)
	if b.cfg.MaxConnections > 0 && int(current) > b.cfg.MaxConnections {
		b.active.Add(-1)
		metrics.SMTPConnectionsTotal.WithLabelValues("rejected").Inc()
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.cfg.MaxConnections).
			Msg("connection limit reached")
		return nil, errTooManyConnections
	}
	metrics.SMTPConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.SMTPActiveSessions.Inc()

	remote := remoteIP(conn)
	correlationID := logger.NewCorrelationID()
	sessionLog := b.log.With().
		Str("correlation_id", correlationID).
		Str("remote_addr", remote).
		Logger()

	ctx := logger.WithCorrelationID(context.Background(), correlationID)
	ctx = logger.WithLogger(ctx, sessionLog)
	ctx = emailer.WithSourceIP(ctx, remote)

	sessionLog.Info().Msg("new SMTP session")

	return &Session{
		ctx:     ctx,
		log:     sessionLog,
		backend: b,
	}, nil
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}

func (b *Backend) requiresAuth() bool {
	return b.cfg.Username != ""
}

func remoteIP(conn *gosmtp.Conn) string {
	if conn == nil || conn.Conn() == nil {
		return ""
	}
	addr := conn.Conn().RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
