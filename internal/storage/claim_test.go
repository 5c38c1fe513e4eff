//go:build integration

package storage_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/emailer/internal/emailer"
	"github.com/sungwon/emailer/internal/message"
	"github.com/sungwon/emailer/internal/queue"
	"github.com/sungwon/emailer/internal/report"
	"github.com/sungwon/emailer/internal/storage"
)

type countingTransport struct{ sent atomic.Int32 }

func (*countingTransport) Name() string { return "counting" }

func (c *countingTransport) Send(context.Context, *message.Prepared) error {
	c.sent.Add(1)
	return nil
}

// The email_id foreign key check on emailer_log needs a key-share lock on
// the email row, which the claim's FOR UPDATE lock blocks. Audit entries
// for a claimed email must therefore be written inside the claim.
func TestClaimNext_RunnerWithPoolAudit(t *testing.T) {
	db, queries := setupTestDB(t)
	ctx := context.Background()

	id := uuid.New()
	if _, err := queries.InsertEmail(ctx, newEmailParams(id, storage.PriorityNormal, time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	tr := &countingTransport{}
	runner := queue.NewRunner(queue.Config{
		Timeout:             time.Second,
		CheckIterationDelay: 100 * time.Millisecond,
		MaxAllowedAttempts:  3,
		RetryBackoff:        queue.MinRetryBackoff,
	}, queries, message.NewBuilder(), tr,
		emailer.NewDBLogger(queries, nopLogger(), nil),
		report.NewZerolog(nopLogger()), nopLogger(),
		queue.WithClaimer(db))

	type outcome struct {
		res queue.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := runner.Run(ctx)
		done <- outcome{res, err}
	}()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("runner did not finish; claim transaction deadlocked")
	}
	if got.err != nil {
		t.Fatalf("Run: %v", got.err)
	}
	if got.res.Sent != 1 || tr.sent.Load() != 1 {
		t.Errorf("result = %+v, transport sends = %d", got.res, tr.sent.Load())
	}

	e, err := queries.GetEmail(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Status != storage.StatusSent {
		t.Errorf("status = %s, want sent", e.Status)
	}
	logs, err := queries.ListLogsByEmail(ctx, id)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Level != storage.LogLevelInfo {
		t.Errorf("email logs = %+v", logs)
	}
}
