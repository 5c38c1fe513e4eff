package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

func TestNew_WithoutDSNUsesZerolog(t *testing.T) {
	r, flush, err := New(Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := r.(*Zerolog); !ok {
		t.Errorf("expected *Zerolog, got %T", r)
	}
	if !flush(0) {
		t.Error("noop flush should report success")
	}
}

func TestNew_InvalidDSN(t *testing.T) {
	if _, _, err := New(Config{DSN: "::not a dsn"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid DSN")
	}
}

func TestZerolog_Levels(t *testing.T) {
	var buf bytes.Buffer
	r := NewZerolog(zerolog.New(&buf).Level(zerolog.DebugLevel))

	r.Critical(context.Background(), errors.New("db down"), map[string]any{"email_id": "x"})
	r.Debug(context.Background(), errors.New("retry later"), nil)

	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "db down") || !strings.Contains(out, `"email_id":"x"`) {
		t.Errorf("missing critical entry: %s", out)
	}
	if !strings.Contains(out, `"level":"debug"`) || !strings.Contains(out, "retry later") {
		t.Errorf("missing debug entry: %s", out)
	}
}

func TestSentry_CapturesEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	r := NewSentry(client, zerolog.Nop())
	r.Critical(context.Background(), errors.New("transport down"), map[string]any{"email_id": "abc"})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Level != sentry.LevelError {
		t.Errorf("level = %s, want error", events[0].Level)
	}
	if events[0].Tags["email_id"] != "abc" {
		t.Errorf("tags = %v", events[0].Tags)
	}
}
