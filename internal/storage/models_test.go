package storage

import "testing"

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusInQueue, false},
		{StatusWaitingForNextAttempt, false},
		{StatusSent, true},
		{StatusNotReadyToQueue, true},
		{StatusPreparingError, true},
		{StatusSendingError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseStatus_UnknownIsPreparingError(t *testing.T) {
	if got := ParseStatus("in-queue"); got != StatusInQueue {
		t.Errorf("expected in-queue, got %s", got)
	}
	if got := ParseStatus("bogus"); got != StatusPreparingError {
		t.Errorf("expected preparing-error for unknown status, got %s", got)
	}
}

func TestClampPriority(t *testing.T) {
	tests := []struct {
		in, want Priority
	}{
		{-4, PriorityUrgent},
		{PriorityUrgent, PriorityUrgent},
		{PriorityNormal, PriorityNormal},
		{PriorityLow, PriorityLow},
		{12, PriorityLow},
	}
	for _, tt := range tests {
		if got := ClampPriority(tt.in); got != tt.want {
			t.Errorf("ClampPriority(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"info", LogLevelInfo},
		{"WARNING", LogLevelWarning},
		{"warn", LogLevelWarning},
		{"error", LogLevelError},
		{"whatever", LogLevelError},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if LogLevelInfo >= LogLevelWarning || LogLevelWarning >= LogLevelError {
		t.Error("log levels must be ordered by severity")
	}
}

func TestPayload_HasBody(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    bool
	}{
		{"empty", Payload{}, false},
		{"whitespace only", Payload{TextBody: "  \n", HTMLBody: "\t"}, false},
		{"text", Payload{TextBody: "hello"}, true},
		{"html", Payload{HTMLBody: "<p>hi</p>"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.HasBody(); got != tt.want {
				t.Errorf("HasBody() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPayload_Recipients(t *testing.T) {
	p := Payload{To: []string{"a@x.cz"}, Cc: []string{"b@x.cz"}, Bcc: []string{"c@x.cz"}}
	got := p.Recipients()
	if len(got) != 3 || got[0] != "a@x.cz" || got[2] != "c@x.cz" {
		t.Errorf("unexpected recipients %v", got)
	}
}
