package emailer

import (
	"testing"

	"github.com/sungwon/emailer/internal/mimeparse"
	"github.com/sungwon/emailer/internal/storage"
)

func TestFromMIME(t *testing.T) {
	msg := &mimeparse.Message{
		From:     "Shop <shop@example.com>",
		To:       []string{"a@example.com"},
		Subject:  "Hi",
		Priority: 2,
		TextBody: "hello",
		Headers:  map[string]string{"X-Campaign": "spring"},
		Attachments: []mimeparse.Attachment{
			{Filename: "a.pdf", ContentType: "application/pdf", Content: []byte("%PDF")},
		},
	}

	req := FromMIME(msg)

	if req.Payload.From != msg.From || req.Payload.Subject != "Hi" || req.Payload.TextBody != "hello" {
		t.Errorf("payload = %+v", req.Payload)
	}
	if req.Priority == nil || *req.Priority != storage.PriorityHigh {
		t.Errorf("priority = %v, want high", req.Priority)
	}
	if len(req.Files) != 1 || req.Files[0].Filename != "a.pdf" {
		t.Errorf("files = %+v", req.Files)
	}
	if req.Payload.Headers["X-Campaign"] != "spring" {
		t.Errorf("headers = %v", req.Payload.Headers)
	}
}

func TestFromMIME_NoPriority(t *testing.T) {
	req := FromMIME(&mimeparse.Message{To: []string{"a@example.com"}})
	if req.Priority != nil {
		t.Errorf("priority = %v, want nil", *req.Priority)
	}
}

func TestPriorityFromXPriority(t *testing.T) {
	tests := []struct {
		x    int
		want storage.Priority
	}{
		{1, storage.PriorityUrgent},
		{2, storage.PriorityHigh},
		{3, storage.PriorityNormal},
		{4, storage.PriorityLow},
		{5, storage.PriorityLow},
	}
	for _, tt := range tests {
		if got := PriorityFromXPriority(tt.x); got != tt.want {
			t.Errorf("PriorityFromXPriority(%d) = %v, want %v", tt.x, got, tt.want)
		}
	}
}
