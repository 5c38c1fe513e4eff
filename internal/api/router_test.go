package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/emailer/internal/emailer"
	"github.com/sungwon/emailer/internal/fixer"
	"github.com/sungwon/emailer/internal/message"
	"github.com/sungwon/emailer/internal/render"
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

type memFiles struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memFiles) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memFiles) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memFiles) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type testServer struct {
	handler   http.Handler
	store     *storagetest.Store
	transport *recordingTransport
	files     *memFiles
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	now := func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	s := &testServer{
		store:     storagetest.New(),
		transport: &recordingTransport{},
		files:     &memFiles{data: map[string][]byte{}},
	}
	builder := message.NewBuilder(message.WithAttachmentStore(s.files), message.WithClock(now))
	svc := emailer.New(emailer.Config{UseQueue: true, DefaultFrom: "Shop <shop@example.com>"},
		s.store, builder, s.transport, nopReporter{}, zerolog.Nop(),
		emailer.WithClock(now), emailer.WithAttachmentStore(s.files))

	fsys := fstest.MapFS{
		"welcome.en.gohtml": {Data: []byte(`<h1>Welcome {{ .name }}</h1>`)},
	}
	types, err := emailer.DiscoverTypes(fsys, map[string]any{"name": "customer"})
	if err != nil {
		t.Fatalf("DiscoverTypes: %v", err)
	}
	reg := emailer.NewRegistry(types...)
	asm := emailer.NewAssembler(reg, render.NewDefaultChain(fsys), fixer.Nop{}, nil, "en", "Shop <shop@example.com>")

	s.handler = NewRouter(Deps{
		Sender:    svc,
		Store:     s.store,
		DB:        pingFunc(func(context.Context) error { return nil }),
		Assembler: asm,
		Registry:  reg,
	}, zerolog.Nop())
	return s
}

func (s *testServer) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateEmail_Queued(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/emails", "application/json",
		`{"to":["alice@example.com"],"subject":"Hi","text":"hello","priority":"low"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[emailResponse](t, rec)
	if resp.Status != string(storage.StatusInQueue) || resp.Priority != "low" {
		t.Errorf("response = %+v", resp)
	}
	if resp.From != "Shop <shop@example.com>" {
		t.Errorf("from = %q, want the default sender", resp.From)
	}
	if resp.SourceIP != "192.0.2.1" {
		t.Errorf("source ip = %q", resp.SourceIP)
	}
	if len(s.transport.sent) != 0 {
		t.Errorf("queued mail was sent immediately")
	}
}

func TestCreateEmail_UrgentIsSent(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/emails", "application/json",
		`{"to":["alice@example.com"],"subject":"Reset","html":"<p>code</p>","priority":"urgent",
		  "attachments":[{"filename":"a.txt","content_type":"text/plain","content":"aGVsbG8="}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[emailResponse](t, rec)
	if resp.Status != string(storage.StatusSent) || resp.SentAt == nil {
		t.Errorf("response = %+v", resp)
	}
	if len(s.transport.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(s.transport.sent))
	}
	atts := s.transport.sent[0].Attachments
	if len(atts) != 1 || string(atts[0].Content) != "hello" {
		t.Errorf("attachments = %+v", atts)
	}
}

func TestCreateEmail_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantDetail string
	}{
		{"missing recipients", `{"text":"hi"}`, "to is required"},
		{"bad recipient", `{"to":["nope"],"text":"hi"}`, "to: invalid address"},
		{"bad priority", `{"to":["a@example.com"],"text":"hi","priority":"asap"}`, "priority must be"},
		{"bad id", `{"id":"123","to":["a@example.com"],"text":"hi"}`, "id must be a UUID"},
		{"unnamed attachment", `{"to":["a@example.com"],"text":"hi","attachments":[{"content":""}]}`, "attachments[0].filename"},
		{"empty body", `{"to":["a@example.com"],"text":"  "}`, "text or html body is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.do(http.MethodPost, "/api/v1/emails", "application/json", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), tt.wantDetail) {
				t.Errorf("body %s does not mention %q", rec.Body, tt.wantDetail)
			}
			if n := len(s.store.Emails()); n != 0 {
				t.Errorf("stored %d records, want none", n)
			}
		})
	}
}

func TestCreateEmail_InvalidJSON(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/emails", "application/json", `{"to":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateEmail_IdempotentImmediateSend(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New().String()
	body := `{"id":"` + id + `","to":["alice@example.com"],"text":"hi","priority":"urgent"}`

	first := s.do(http.MethodPost, "/api/v1/emails", "application/json", body)
	second := s.do(http.MethodPost, "/api/v1/emails", "application/json", body)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("status = %d then %d", first.Code, second.Code)
	}
	if decode[emailResponse](t, second).ID != id {
		t.Errorf("second response names another record")
	}
	if len(s.transport.sent) != 1 {
		t.Errorf("sent = %d, want 1", len(s.transport.sent))
	}
}

func TestCreateEmail_RawMessage(t *testing.T) {
	s := newTestServer(t)
	raw := "From: \"Shop\" <shop@example.com>\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: Receipt\r\n" +
		"X-Priority: 1 (Highest)\r\n" +
		"\r\n" +
		"Thanks for your order.\r\n"

	rec := s.do(http.MethodPost, "/api/v1/emails", "message/rfc822", raw)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[emailResponse](t, rec)
	if resp.Priority != "urgent" || resp.Subject != "Receipt" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreateEmail_RawMessageInvalid(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/emails", "message/rfc822", "garbage")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetEmail(t *testing.T) {
	s := newTestServer(t)
	created := decode[emailResponse](t, s.do(http.MethodPost, "/api/v1/emails", "application/json",
		`{"to":["alice@example.com"],"text":"hello"}`))
	id := uuid.MustParse(created.ID)
	s.store.PutLog(storage.Log{Level: storage.LogLevelError, Message: "Failed to send: boom", EmailID: &id})

	rec := s.do(http.MethodGet, "/api/v1/emails/"+created.ID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[emailResponse](t, rec)
	if resp.ID != created.ID || len(resp.Logs) != 1 || resp.Logs[0].Level != "ERROR" {
		t.Errorf("response = %+v", resp)
	}

	if rec := s.do(http.MethodGet, "/api/v1/emails/"+uuid.NewString(), "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/emails/not-a-uuid", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/v1/emails", "application/json", `{"to":["a@example.com"],"text":"1"}`)
	s.do(http.MethodPost, "/api/v1/emails", "application/json", `{"to":["a@example.com"],"text":"2"}`)
	s.do(http.MethodPost, "/api/v1/emails", "application/json", `{"to":["a@example.com"],"text":"3","priority":"urgent"}`)

	rec := s.do(http.MethodGet, "/api/v1/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"by_status"`
	}](t, rec)
	if resp.Total != 3 || resp.ByStatus["in-queue"] != 2 || resp.ByStatus["sent"] != 1 {
		t.Errorf("stats = %+v", resp)
	}
	if _, ok := resp.ByStatus["sending-error"]; !ok {
		t.Errorf("every status must be listed, got %v", resp.ByStatus)
	}
}

func TestTemplatedEmail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/emails/types/welcome", "application/json",
		`{"params":{"to":"alice@example.com","name":"Alice"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	emails := s.store.Emails()
	if len(emails) != 1 || !strings.Contains(emails[0].Payload.HTMLBody, "Welcome Alice") {
		t.Errorf("stored = %+v", emails)
	}

	if rec := s.do(http.MethodPost, "/api/v1/emails/types/missing", "application/json", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown type status = %d, want 404", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/v1/emails/types/welcome", "application/json",
		`{"params":{"to":"alice@example.com","priority":"whenever"}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid param status = %d, want 400", rec.Code)
	}
}

func TestListEmailTypes(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/v1/emails/types", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"name":"welcome"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/healthz", "", "")
	rec := s.do(http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "emailer_api_requests_total") {
		t.Errorf("metrics output lacks emailer_api_requests_total")
	}
}
