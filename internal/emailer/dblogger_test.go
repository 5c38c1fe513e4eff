package emailer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/storage"
	"github.com/sungwon/emailer/internal/storage/storagetest"
)

func TestDBLogger_Log(t *testing.T) {
	store := storagetest.New()
	var buf bytes.Buffer
	l := NewDBLogger(store, zerolog.New(&buf), func() time.Time { return testNow })

	id := uuid.New()
	if err := l.Log(context.Background(), storage.LogLevelInfo, "sent", &id); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log(context.Background(), storage.LogLevelError, "runner crashed", nil); err != nil {
		t.Fatalf("Log: %v", err)
	}

	logs := store.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].EmailID == nil || *logs[0].EmailID != id || logs[0].Level != storage.LogLevelInfo {
		t.Errorf("unexpected first log %+v", logs[0])
	}
	if logs[1].EmailID != nil || logs[1].Level != storage.LogLevelError || !logs[1].InsertedAt.Equal(testNow) {
		t.Errorf("unexpected second log %+v", logs[1])
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, id.String()) {
		t.Errorf("missing info mirror: %s", out)
	}
	if !strings.Contains(out, `"level":"error"`) {
		t.Errorf("missing error mirror: %s", out)
	}
}

func TestDBLogger_StoreFailure(t *testing.T) {
	store := storagetest.New()
	store.FailOn("InsertLog", errors.New("db down"))
	l := NewDBLogger(store, zerolog.Nop(), nil)
	if err := l.Log(context.Background(), storage.LogLevelWarning, "x", nil); err == nil {
		t.Fatal("expected error")
	}
}
