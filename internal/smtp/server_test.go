package smtp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/emailer"
	"github.com/sungwon/emailer/internal/message"
	"github.com/sungwon/emailer/internal/storage"
	"github.com/sungwon/emailer/internal/storage/storagetest"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []*message.Prepared
}

func (t *recordingTransport) Name() string { return "recording" }

func (t *recordingTransport) Send(_ context.Context, m *message.Prepared) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, m)
	return nil
}

type nopReporter struct{}

func (nopReporter) Critical(context.Context, error, map[string]any) {}
func (nopReporter) Debug(context.Context, error, map[string]any)    {}

func startServer(t *testing.T, cfg Config, sender Sender) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg.Domain = "localhost"
	cfg.AllowInsecureAuth = true
	srv := NewServer(NewBackend(cfg, sender, zerolog.Nop()))
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return l.Addr().String()
}

// submit delivers raw over a plain connection, authenticating first when
// auth is set.
func submit(t *testing.T, addr string, auth sasl.Client, from string, to []string, raw string) error {
	t.Helper()
	c, err := gosmtp.Dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, strings.NewReader(raw)); err != nil {
		return err
	}
	return c.Quit()
}

func TestServer_QueuesSubmission(t *testing.T) {
	store := storagetest.New()
	now := func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	svc := emailer.New(emailer.Config{UseQueue: true},
		store, message.NewBuilder(message.WithClock(now)), &recordingTransport{}, nopReporter{}, zerolog.Nop(),
		emailer.WithClock(now))
	addr := startServer(t, Config{MaxConnections: 4}, svc)

	raw := "From: shop@example.com\r\n" +
		"To: customer@example.com\r\n" +
		"Subject: Receipt\r\n" +
		"\r\n" +
		"Thank you.\r\n"
	if err := submit(t, addr, nil, "shop@example.com", []string{"customer@example.com"}, raw); err != nil {
		t.Fatalf("submit: %v", err)
	}

	emails := store.Emails()
	if len(emails) != 1 {
		t.Fatalf("stored %d emails, want 1", len(emails))
	}
	e := emails[0]
	if e.Status != storage.StatusInQueue {
		t.Errorf("status = %s, want %s", e.Status, storage.StatusInQueue)
	}
	if e.Payload.Subject != "Receipt" {
		t.Errorf("subject = %q", e.Payload.Subject)
	}
	if e.SourceIP != "127.0.0.1" {
		t.Errorf("source ip = %q", e.SourceIP)
	}
}

func TestServer_AuthRequired(t *testing.T) {
	sender := &fakeSender{}
	addr := startServer(t, Config{Username: "app", Password: "secret"}, sender)
	raw := "Subject: x\r\n\r\nbody\r\n"

	err := submit(t, addr, nil, "shop@example.com", []string{"c@example.com"}, raw)
	var smtpErr *gosmtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 530 {
		t.Fatalf("unauthenticated submission: err = %v, want 530", err)
	}

	err = submit(t, addr, sasl.NewPlainClient("", "app", "wrong"), "shop@example.com", []string{"c@example.com"}, raw)
	if !errors.As(err, &smtpErr) || smtpErr.Code != 535 {
		t.Fatalf("bad credentials: err = %v, want 535", err)
	}

	auth := sasl.NewPlainClient("", "app", "secret")
	if err := submit(t, addr, auth, "shop@example.com", []string{"c@example.com"}, raw); err != nil {
		t.Fatalf("authenticated submit: %v", err)
	}
	if n := len(sender.requests()); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}
